package handler

import (
	"strconv"
	"time"

	"message_center/middleware"
	"message_center/model"
	"message_center/service"
	"message_center/utils"

	"github.com/gin-gonic/gin"
)

const messageBusiness = "消息管理"

type MessageHandler struct {
	msgSvc *service.MessageService
	audit  service.AuditRecorder
}

func NewMessageHandler(msgSvc *service.MessageService, audit service.AuditRecorder) *MessageHandler {
	return &MessageHandler{msgSvc: msgSvc, audit: audit}
}

// SendMessage 按场景模板立即发送消息
func (h *MessageHandler) SendMessage(c *gin.Context) {
	info, exists := middleware.GetLoginInfo(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	var req model.MessageTask
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid request")
		return
	}
	req.Creator = info.UserName
	req.CreatorID = info.UserID

	msg, err := h.msgSvc.SendFromTemplate(c.Request.Context(), &req)
	if err != nil {
		utils.FailWithError(c, err)
		return
	}

	h.audit.Record(c.Request.Context(), model.AuditEvent{
		Business: messageBusiness, Action: "INSERT", TargetID: msg.ID, UserID: info.UserID, Detail: msg,
	})
	utils.Created(c, msg.ID)
}

// GetMessage 获取消息详情及推送列表
func (h *MessageHandler) GetMessage(c *gin.Context) {
	msg, err := h.msgSvc.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.FailWithError(c, err)
		return
	}

	pushes, err := h.msgSvc.GetPushes(c.Request.Context(), msg.ID)
	if err != nil {
		utils.FailWithError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"message": msg, "pushes": pushes})
}

// EditMessageRequest 修改消息请求
type EditMessageRequest struct {
	AppID       string     `json:"app_id" binding:"required"`
	Tag         string     `json:"tag" binding:"required"`
	Type        int        `json:"type"`
	Receivers   []string   `json:"receivers"`
	Title       string     `json:"title"`
	Content     string     `json:"content" binding:"required"`
	ExpireDate  *time.Time `json:"expire_date"`
	IsBroadcast bool       `json:"is_broadcast"`
}

// EditMessage 修改消息，已生成的推送记录不变
func (h *MessageHandler) EditMessage(c *gin.Context) {
	info, _ := middleware.GetLoginInfo(c)

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid request")
		return
	}

	msg := &model.Message{
		ID:          c.Param("id"),
		AppID:       req.AppID,
		Tag:         req.Tag,
		Type:        req.Type,
		Receivers:   req.Receivers,
		Title:       req.Title,
		Content:     req.Content,
		ExpireDate:  req.ExpireDate,
		IsBroadcast: req.IsBroadcast,
	}
	if err := h.msgSvc.EditMessage(c.Request.Context(), msg); err != nil {
		utils.FailWithError(c, err)
		return
	}

	h.audit.Record(c.Request.Context(), model.AuditEvent{
		Business: messageBusiness, Action: "UPDATE", TargetID: msg.ID, UserID: userIDOf(info), Detail: req,
	})
	utils.SuccessWithMessage(c, "message updated", nil)
}

// ListMessages 按标签或标题关键字分页查询消息
func (h *MessageHandler) ListMessages(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	messages, total, err := h.msgSvc.ListMessages(c.Request.Context(), c.Query("keyword"), page, size)
	if err != nil {
		utils.FailWithError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"messages": messages, "total": total})
}

// Subscribe 当前用户订阅广播消息
func (h *MessageHandler) Subscribe(c *gin.Context) {
	info, exists := middleware.GetLoginInfo(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	if err := h.msgSvc.Subscribe(c.Request.Context(), info.UserID, c.Param("id")); err != nil {
		utils.FailWithError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "message subscribed", nil)
}

// DeleteMessage 删除消息
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	info, _ := middleware.GetLoginInfo(c)
	id := c.Param("id")

	if err := h.msgSvc.DeleteMessage(c.Request.Context(), id); err != nil {
		utils.FailWithError(c, err)
		return
	}

	h.audit.Record(c.Request.Context(), model.AuditEvent{
		Business: messageBusiness, Action: "DELETE", TargetID: id, UserID: userIDOf(info),
	})
	utils.SuccessWithMessage(c, "message deleted", nil)
}

// MarkRead 标记本人的推送为已读
func (h *MessageHandler) MarkRead(c *gin.Context) {
	info, exists := middleware.GetLoginInfo(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	if err := h.msgSvc.MarkRead(c.Request.Context(), info.UserID, c.Param("id")); err != nil {
		utils.FailWithError(c, err)
		return
	}

	utils.SuccessWithMessage(c, "push marked as read", nil)
}

// CancelPush 取消推送
func (h *MessageHandler) CancelPush(c *gin.Context) {
	info, _ := middleware.GetLoginInfo(c)
	id := c.Param("id")

	if err := h.msgSvc.CancelPush(c.Request.Context(), id); err != nil {
		utils.FailWithError(c, err)
		return
	}

	h.audit.Record(c.Request.Context(), model.AuditEvent{
		Business: messageBusiness, Action: "DELETE", TargetID: id, UserID: userIDOf(info),
	})
	utils.SuccessWithMessage(c, "push cancelled", nil)
}
