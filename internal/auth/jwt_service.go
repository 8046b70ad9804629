// Package auth 租户身份认证
// 基于HS256的JWT Token管理，租户身份只从已验证的Token中取得
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWTService JWT认证服务
type JWTService struct {
	secret   []byte
	issuer   string
	audience string
	tokenTTL time.Duration
	logger   *zap.Logger
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret   string        `json:"-"`
	Issuer   string        `json:"issuer"`
	Audience string        `json:"audience"`
	TokenTTL time.Duration `json:"token_ttl"`
}

// DefaultJWTConfig 默认JWT配置
func DefaultJWTConfig(secret string) *JWTConfig {
	return &JWTConfig{
		Secret:   secret,
		Issuer:   "tenantgate-api",
		Audience: "tenantgate-clients",
		TokenTTL: time.Hour,
	}
}

// TenantClaims 租户JWT Claims
// TenantID 是整个闸门的信任锚点，下游所有租户过滤要求都以它为准
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	Subject  string `json:"sub_name,omitempty"` // 调用方标识，仅用于审计日志
	jwt.RegisteredClaims
}

// Validate 实现ClaimsValidator接口的验证方法
func (c TenantClaims) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return errors.New("tenant_id cannot be empty")
	}
	return nil
}

// NewJWTService 创建JWT服务实例
func NewJWTService(config *JWTConfig, logger *zap.Logger) (*JWTService, error) {
	if config == nil || config.Secret == "" {
		return nil, errors.New("JWT密钥不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = time.Hour
	}

	logger.Info("JWT服务初始化完成",
		zap.String("issuer", config.Issuer),
		zap.Duration("token_ttl", config.TokenTTL))

	return &JWTService{
		secret:   []byte(config.Secret),
		issuer:   config.Issuer,
		audience: config.Audience,
		tokenTTL: config.TokenTTL,
		logger:   logger,
	}, nil
}

// GenerateToken 为租户签发Token
func (j *JWTService) GenerateToken(tenantID, subject string) (string, error) {
	if strings.TrimSpace(tenantID) == "" {
		return "", errors.New("租户ID不能为空")
	}

	now := time.Now()
	claims := &TenantClaims{
		TenantID: tenantID,
		Subject:  subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   fmt.Sprintf("tenant:%s", tenantID),
			Audience:  jwt.ClaimStrings{j.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        generateJTI(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken 验证Token并提取租户Claims
func (j *JWTService) ValidateToken(tokenString string) (*TenantClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TenantClaims{}, func(token *jwt.Token) (any, error) {
		// 只接受HMAC签名，拒绝alg混淆
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	},
		jwt.WithIssuer(j.issuer),
		jwt.WithAudience(j.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	claims, ok := token.Claims.(*TenantClaims)
	if !ok {
		return nil, errors.New("invalid claims format")
	}
	return claims, nil
}

// ValidateTokenFromRequest 从Authorization头验证Token
// 支持 "Bearer <token>" 格式
func (j *JWTService) ValidateTokenFromRequest(authHeader string) (*TenantClaims, error) {
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return nil, errors.New("authorization header must use Bearer scheme")
	}

	tokenString := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if tokenString == "" {
		return nil, errors.New("empty bearer token")
	}

	return j.ValidateToken(tokenString)
}

// generateJTI 生成Token唯一标识
func generateJTI() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("jti-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
