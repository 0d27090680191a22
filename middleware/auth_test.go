package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(userID string) Claims {
	return Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestValidateToken(t *testing.T) {
	InitAuth(testSecret)

	info, err := ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("u1")))
	require.NoError(t, err)
	assert.Equal(t, "u1", info.UserID)

	_, err = ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims("u1")))
	assert.Error(t, err)

	_, err = ValidateToken(signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims("u1")))
	assert.Error(t, err)

	expired := validClaims("u1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	_, err = ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired))
	assert.Error(t, err)

	_, err = ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("")))
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	InitAuth(testSecret)

	r := gin.New()
	r.GET("/me", AuthMiddleware(), func(c *gin.Context) {
		info, ok := GetLoginInfo(c)
		require.True(t, ok)
		c.String(http.StatusOK, info.UserID)
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Token abc", http.StatusUnauthorized},
		{"bad token", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("u1")), http.StatusOK},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "u1", w.Body.String())
			}
		})
	}
}
