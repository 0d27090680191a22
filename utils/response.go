package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`           // 业务状态码（0表示成功）
	Message string      `json:"message"`        // 提示信息
	Data    interface{} `json:"data,omitempty"` // 响应数据
}

// SuccessResponse 成功响应（带数据）
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 成功响应（自定义消息）
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// Created 201 创建成功，返回新记录ID
func Created(c *gin.Context, id string) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "created",
		Data:    gin.H{"id": id},
	})
}

// ErrorResponse 错误响应，业务码与 HTTP 状态码一致
func ErrorResponse(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, Response{
		Code:    httpStatus,
		Message: message,
		Data:    nil,
	})
}

// FailWithError 按错误类型返回：不存在 404，冲突 409，参数错误 400，其余 500
func FailWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, ErrDuplicateKey):
		Conflict(c, err.Error())
	case errors.Is(err, ErrValidation):
		BadRequest(c, err.Error())
	default:
		InternalServerError(c, "internal server error")
	}
}

// 常用错误响应快捷方法

// BadRequest 400 错误请求
func BadRequest(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusBadRequest, message)
}

// Unauthorized 401 未授权
func Unauthorized(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, message)
}

// NotFound 404 资源不存在
func NotFound(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusNotFound, message)
}

// Conflict 409 冲突
func Conflict(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusConflict, message)
}

// InternalServerError 500 服务器错误
func InternalServerError(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, message)
}
