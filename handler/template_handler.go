package handler

import (
	"strconv"

	"message_center/middleware"
	"message_center/model"
	"message_center/service"
	"message_center/utils"

	"github.com/gin-gonic/gin"
)

const sceneBusiness = "消息场景管理"

type TemplateHandler struct {
	templateSvc *service.TemplateService
	audit       service.AuditRecorder
}

func NewTemplateHandler(templateSvc *service.TemplateService, audit service.AuditRecorder) *TemplateHandler {
	return &TemplateHandler{templateSvc: templateSvc, audit: audit}
}

// ListScenes 获取消息场景列表
func (h *TemplateHandler) ListScenes(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	scenes, total, err := h.templateSvc.ListScenes(c.Request.Context(), c.Query("keyword"), page, size)
	if err != nil {
		utils.FailWithError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"scenes": scenes, "total": total})
}

// CreateScene 新增消息场景
func (h *TemplateHandler) CreateScene(c *gin.Context) {
	info, exists := middleware.GetLoginInfo(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	var req model.Scene
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" || req.Name == "" {
		utils.BadRequest(c, "Invalid request")
		return
	}
	req.Creator = info.UserName
	req.CreatorID = info.UserID

	id, err := h.templateSvc.CreateScene(c.Request.Context(), &req)
	if err != nil {
		utils.FailWithError(c, err)
		return
	}

	h.audit.Record(c.Request.Context(), model.AuditEvent{
		Business: sceneBusiness, Action: "INSERT", TargetID: id, UserID: info.UserID, Detail: req,
	})
	utils.Created(c, id)
}

// CreateTemplate 新增消息模板
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	info, exists := middleware.GetLoginInfo(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	var req model.Template
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid request")
		return
	}
	req.Creator = info.UserName
	req.CreatorID = info.UserID

	id, err := h.templateSvc.CreateTemplate(c.Request.Context(), &req)
	if err != nil {
		utils.FailWithError(c, err)
		return
	}

	h.audit.Record(c.Request.Context(), model.AuditEvent{
		Business: sceneBusiness, Action: "INSERT", TargetID: id, UserID: info.UserID, Detail: req,
	})
	utils.Created(c, id)
}

// BindTemplate 添加场景渠道模板
func (h *TemplateHandler) BindTemplate(c *gin.Context) {
	info, exists := middleware.GetLoginInfo(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	var req model.SceneTemplate
	if err := c.ShouldBindJSON(&req); err != nil || req.SceneID == "" || req.AppID == "" || req.TemplateID == "" {
		utils.BadRequest(c, "Invalid request")
		return
	}
	req.Creator = info.UserName
	req.CreatorID = info.UserID

	id, err := h.templateSvc.BindTemplate(c.Request.Context(), &req)
	if err != nil {
		utils.FailWithError(c, err)
		return
	}

	h.audit.Record(c.Request.Context(), model.AuditEvent{
		Business: sceneBusiness, Action: "INSERT", TargetID: id, UserID: info.UserID, Detail: req,
	})
	utils.Created(c, id)
}

// RemoveBinding 移除场景渠道模板
func (h *TemplateHandler) RemoveBinding(c *gin.Context) {
	info, _ := middleware.GetLoginInfo(c)
	id := c.Param("id")

	if err := h.templateSvc.RemoveBinding(c.Request.Context(), id); err != nil {
		utils.FailWithError(c, err)
		return
	}

	h.audit.Record(c.Request.Context(), model.AuditEvent{
		Business: sceneBusiness, Action: "DELETE", TargetID: id, UserID: userIDOf(info),
	})
	utils.SuccessWithMessage(c, "binding removed", nil)
}
