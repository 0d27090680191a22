package handler

import (
	"encoding/json"
	"strconv"
	"time"

	"message_center/middleware"
	"message_center/model"
	"message_center/service"
	"message_center/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

const scheduleBusiness = "计划任务"

type ScheduleHandler struct {
	scheduleSvc *service.ScheduleService
	audit       service.AuditRecorder
}

func NewScheduleHandler(scheduleSvc *service.ScheduleService, audit service.AuditRecorder) *ScheduleHandler {
	return &ScheduleHandler{scheduleSvc: scheduleSvc, audit: audit}
}

type addScheduleRequest struct {
	Type     *model.TaskType `json:"type" binding:"required"`
	Method   string          `json:"method" binding:"required"`
	TaskTime *time.Time      `json:"task_time"` // 为空表示立即执行
	Content  json.RawMessage `json:"content" binding:"required"`
	Interval int             `json:"interval"`
}

// AddSchedule 新增计划任务
func (h *ScheduleHandler) AddSchedule(c *gin.Context) {
	info, _ := middleware.GetLoginInfo(c)

	var req addScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	task := &model.Schedule{
		Type:     *req.Type,
		Method:   req.Method,
		Content:  datatypes.JSON(req.Content),
		Interval: req.Interval,
	}
	if req.TaskTime != nil {
		task.TaskTime = *req.TaskTime
	}

	if err := h.scheduleSvc.Add(c.Request.Context(), task); err != nil {
		utils.FailWithError(c, err)
		return
	}

	h.audit.Record(c.Request.Context(), model.AuditEvent{
		Business: scheduleBusiness, Action: "INSERT", TargetID: task.ID, UserID: userIDOf(info), Detail: task,
	})
	utils.Created(c, task.ID)
}

// ListSchedules 获取计划任务列表
func (h *ScheduleHandler) ListSchedules(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	var taskType *model.TaskType
	if raw := c.Query("type"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || !model.TaskType(v).Valid() {
			utils.BadRequest(c, "invalid task type")
			return
		}
		t := model.TaskType(v)
		taskType = &t
	}

	tasks, total, err := h.scheduleSvc.List(c.Request.Context(), taskType, page, size)
	if err != nil {
		utils.FailWithError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"schedules": tasks, "total": total})
}

// GetSchedule 获取计划任务详情
func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	task, err := h.scheduleSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.FailWithError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"schedule": task})
}

// DeleteSchedule 删除计划任务（任务不存在也视为成功）
func (h *ScheduleHandler) DeleteSchedule(c *gin.Context) {
	info, _ := middleware.GetLoginInfo(c)
	id := c.Param("id")

	if err := h.scheduleSvc.Remove(c.Request.Context(), id); err != nil {
		utils.FailWithError(c, err)
		return
	}

	h.audit.Record(c.Request.Context(), model.AuditEvent{
		Business: scheduleBusiness, Action: "DELETE", TargetID: id, UserID: userIDOf(info),
	})
	utils.SuccessWithMessage(c, "schedule deleted", nil)
}

func userIDOf(info *middleware.LoginInfo) string {
	if info == nil {
		return ""
	}
	return info.UserID
}
