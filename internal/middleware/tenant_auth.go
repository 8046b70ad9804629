package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tenantgate-go/internal/auth"
)

// 上下文键
const (
	ContextTenantID  = "tenant_id"
	ContextJWTClaims = "jwt_claims"
)

// TenantAuthMiddleware 租户认证中间件
// 从JWT中提取租户身份，任何SQL验证都以这里设置的tenant_id为准，
// 绝不信任请求体或查询参数中的租户标识
type TenantAuthMiddleware struct {
	jwtService *auth.JWTService
	logger     *zap.Logger
}

// NewTenantAuthMiddleware 创建租户认证中间件实例
func NewTenantAuthMiddleware(jwtService *auth.JWTService, logger *zap.Logger) *TenantAuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantAuthMiddleware{
		jwtService: jwtService,
		logger:     logger,
	}
}

// TenantAuth 租户认证中间件函数
func (tm *TenantAuthMiddleware) TenantAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			tm.logger.Warn("缺少授权头",
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()))

			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "MISSING_AUTH_HEADER",
				"message": "缺少授权头",
			})
			c.Abort()
			return
		}

		claims, err := tm.jwtService.ValidateTokenFromRequest(authHeader)
		if err != nil {
			tm.logger.Warn("JWT验证失败",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()))

			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "INVALID_TOKEN",
				"message": "无效的访问令牌",
			})
			c.Abort()
			return
		}

		c.Set(ContextTenantID, claims.TenantID)
		c.Set(ContextJWTClaims, claims)

		tm.logger.Debug("租户认证成功",
			zap.String("tenant_id", claims.TenantID),
			zap.String("request_id", c.GetString("request_id")))

		c.Next()
	}
}

// TenantIDFromContext 从Gin上下文获取租户ID
func TenantIDFromContext(c *gin.Context) (string, bool) {
	tenantID, exists := c.Get(ContextTenantID)
	if !exists {
		return "", false
	}

	id, ok := tenantID.(string)
	return id, ok && id != ""
}

// ClaimsFromContext 从Gin上下文获取JWT Claims
func ClaimsFromContext(c *gin.Context) (*auth.TenantClaims, bool) {
	claims, exists := c.Get(ContextJWTClaims)
	if !exists {
		return nil, false
	}

	tenantClaims, ok := claims.(*auth.TenantClaims)
	return tenantClaims, ok
}
