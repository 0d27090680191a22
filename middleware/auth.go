package middleware

import (
	"strings"

	"message_center/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var jwtSecret []byte

// InitAuth 初始化认证中间件
func InitAuth(secret string) {
	jwtSecret = []byte(secret)
}

// Claims JWT 声明
type Claims struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	jwt.RegisteredClaims
}

// LoginInfo 当前登录用户
type LoginInfo struct {
	UserID   string
	UserName string
}

// AuthMiddleware HTTP API 认证中间件
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		// Bearer token
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}

		info, err := ValidateToken(parts[1])
		if err != nil {
			utils.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		c.Set("login_info", info)
		c.Next()
	}
}

// ValidateToken 验证 JWT Token
func ValidateToken(tokenString string) (*LoginInfo, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return &LoginInfo{UserID: claims.UserID, UserName: claims.UserName}, nil
}

// GetLoginInfo 从上下文获取当前用户
func GetLoginInfo(c *gin.Context) (*LoginInfo, bool) {
	v, exists := c.Get("login_info")
	if !exists {
		return nil, false
	}
	info, ok := v.(*LoginInfo)
	return info, ok
}
