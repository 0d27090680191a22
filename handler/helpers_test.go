package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"message_center/middleware"
	"message_center/service"
	"message_center/utils"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testJWTSecret = "handler-test-secret"

type testServer struct {
	router      *gin.Engine
	db          *gorm.DB
	templateSvc *service.TemplateService
	msgSvc      *service.MessageService
	scheduleSvc *service.ScheduleService
	hub         *Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.InitAuth(testJWTSecret)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), utils.NewGormConfig(logger))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, utils.Migrate(db))

	s := &testServer{db: db}
	s.templateSvc = service.NewTemplateService(db, logger)
	s.msgSvc = service.NewMessageService(db, s.templateSvc, logger)
	s.scheduleSvc = service.NewScheduleService(db)
	s.hub = NewHub(nil, s.msgSvc, logger)
	s.msgSvc.SetPushNotifier(s.hub)

	audit := service.NewLogAuditRecorder(logger)
	scheduleHandler := NewScheduleHandler(s.scheduleSvc, audit)
	msgHandler := NewMessageHandler(s.msgSvc, audit)
	templateHandler := NewTemplateHandler(s.templateSvc, audit)

	r := gin.New()
	r.Use(middleware.ErrorHandlerMiddleware(logger))
	r.GET("/ws", HandleWebSocket(s.hub))
	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware())
	api.POST("/schedules", scheduleHandler.AddSchedule)
	api.GET("/schedules", scheduleHandler.ListSchedules)
	api.GET("/schedules/:id", scheduleHandler.GetSchedule)
	api.DELETE("/schedules/:id", scheduleHandler.DeleteSchedule)
	api.POST("/messages", msgHandler.SendMessage)
	api.GET("/messages", msgHandler.ListMessages)
	api.PUT("/messages/:id", msgHandler.EditMessage)
	api.POST("/messages/:id/subscribe", msgHandler.Subscribe)
	api.GET("/messages/:id", msgHandler.GetMessage)
	api.DELETE("/messages/:id", msgHandler.DeleteMessage)
	api.POST("/pushes/:id/read", msgHandler.MarkRead)
	api.DELETE("/pushes/:id", msgHandler.CancelPush)
	api.GET("/scenes", templateHandler.ListScenes)
	api.POST("/scenes", templateHandler.CreateScene)
	api.POST("/templates", templateHandler.CreateTemplate)
	api.POST("/bindings", templateHandler.BindTemplate)
	api.DELETE("/bindings/:id", templateHandler.RemoveBinding)
	s.router = r
	return s
}

func generateToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		UserID:   userID,
		UserName: "tester",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do 发送请求并解析统一响应
func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) (int, apiResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+generateToken(t, userID))
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func createdID(t *testing.T, resp apiResponse) string {
	t.Helper()
	var data struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.NotEmpty(t, data.ID)
	return data.ID
}
