// Package handler 安全闸门HTTP处理器
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tenantgate-go/internal/executor"
	"tenantgate-go/internal/gate"
	"tenantgate-go/internal/metrics"
	"tenantgate-go/internal/middleware"
	"tenantgate-go/internal/validator"
)

// ErrorResponse 统一错误响应结构
type ErrorResponse struct {
	Code    string `json:"code" example:"INVALID_REQUEST"`
	Message string `json:"message" example:"请求参数格式错误"`
}

// SecurityHandler 安全闸门处理器
// 处理提示词检查、SQL验证与受控执行
type SecurityHandler struct {
	gate     *gate.Gate
	executor *executor.ReadOnlyExecutor
	// 每个请求的验证选项以认证租户为准，列配置来自服务配置
	tenantColumn     string
	maxSubqueryDepth int
	strictMode       bool
	allowedTables    []string
	metrics          *metrics.GateMetrics
	logger           *zap.Logger
}

// SecurityHandlerConfig 处理器配置
type SecurityHandlerConfig struct {
	TenantColumn     string
	MaxSubqueryDepth int
	StrictMode       bool
	AllowedTables    []string
}

// NewSecurityHandler 创建安全闸门处理器实例
func NewSecurityHandler(g *gate.Gate, exec *executor.ReadOnlyExecutor, config *SecurityHandlerConfig, m *metrics.GateMetrics, logger *zap.Logger) *SecurityHandler {
	if config == nil {
		config = &SecurityHandlerConfig{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityHandler{
		gate:             g,
		executor:         exec,
		tenantColumn:     config.TenantColumn,
		maxSubqueryDepth: config.MaxSubqueryDepth,
		strictMode:       config.StrictMode,
		allowedTables:    config.AllowedTables,
		metrics:          m,
		logger:           logger,
	}
}

// CheckPromptRequest 提示词检查请求结构
type CheckPromptRequest struct {
	Message string `json:"message" binding:"required" example:"统计本月场馆营收"`
}

// ValidateSQLRequest SQL验证请求结构
type ValidateSQLRequest struct {
	SQL string `json:"sql" binding:"required" example:"SELECT * FROM bookings WHERE venue_id = 'v1'"`
}

// ExecuteSQLRequest SQL执行请求结构
type ExecuteSQLRequest struct {
	SQL string `json:"sql" binding:"required" example:"SELECT * FROM bookings WHERE venue_id = 'v1' LIMIT 10"`
}

// CheckPrompt 检查自然语言消息是否含提示词注入
// @Summary 提示词注入检查
// @Description 对用户自然语言消息执行双信号注入检测
// @Tags 安全闸门
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CheckPromptRequest true "提示词检查请求"
// @Success 200 {object} gate.PromptDecision "检查完成"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Router /api/v1/guard/check [post]
func (h *SecurityHandler) CheckPrompt(c *gin.Context) {
	var req CheckPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数格式错误",
		})
		return
	}

	decision := h.gate.CheckPrompt(req.Message)
	c.JSON(http.StatusOK, decision)
}

// ValidateSQL 对SQL执行租户隔离验证
// @Summary 租户隔离SQL验证
// @Description 基于AST证明SQL带有不可绕过的租户过滤条件
// @Tags 安全闸门
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ValidateSQLRequest true "SQL验证请求"
// @Success 200 {object} validator.AstValidationResult "验证完成"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 401 {object} ErrorResponse "未授权访问"
// @Router /api/v1/sql/validate [post]
func (h *SecurityHandler) ValidateSQL(c *gin.Context) {
	tenantID, ok := middleware.TenantIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    "UNAUTHORIZED",
			Message: "未授权访问",
		})
		return
	}

	var req ValidateSQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数格式错误",
		})
		return
	}

	result := h.gate.CheckSQL(req.SQL, h.optionsForTenant(tenantID))
	c.JSON(http.StatusOK, result)
}

// QuickValidateSQL 轻量SQL预检
// @Summary 轻量SQL预检
// @Description 只做语法与语句类型检查，不做租户隔离证明
// @Tags 安全闸门
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ValidateSQLRequest true "SQL预检请求"
// @Success 200 {object} validator.QuickValidationResult "预检完成"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Router /api/v1/sql/quick-validate [post]
func (h *SecurityHandler) QuickValidateSQL(c *gin.Context) {
	var req ValidateSQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数格式错误",
		})
		return
	}

	c.JSON(http.StatusOK, h.gate.QuickValidateSQL(req.SQL))
}

// ExecuteSQL 验证并执行SQL查询
// @Summary 验证并执行SQL查询
// @Description 先做租户隔离验证，验证失败直接拒绝，绝不执行
// @Tags 安全闸门
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ExecuteSQLRequest true "SQL执行请求"
// @Success 200 {object} executor.QueryResult "执行成功"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 401 {object} ErrorResponse "未授权访问"
// @Failure 403 {object} validator.AstValidationResult "验证失败，拒绝执行"
// @Failure 500 {object} ErrorResponse "执行失败"
// @Router /api/v1/sql/execute [post]
func (h *SecurityHandler) ExecuteSQL(c *gin.Context) {
	tenantID, ok := middleware.TenantIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    "UNAUTHORIZED",
			Message: "未授权访问",
		})
		return
	}

	var req ExecuteSQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数格式错误",
		})
		return
	}

	validation := h.gate.CheckSQL(req.SQL, h.optionsForTenant(tenantID))
	if !validation.Valid {
		h.logger.Warn("SQL执行请求被拒绝",
			zap.String("tenant_id", tenantID),
			zap.String("violation_type", string(validation.ViolationType)),
			zap.String("request_id", c.GetString("request_id")))
		if h.metrics != nil {
			h.metrics.RecordExecution("rejected")
		}
		c.JSON(http.StatusForbidden, validation)
		return
	}

	result, err := h.executor.Execute(c.Request.Context(), req.SQL, validation)
	if h.metrics != nil {
		h.metrics.RecordExecution(result.Status)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, result)
		return
	}

	c.JSON(http.StatusOK, result)
}

// optionsForTenant 构造当前租户的验证选项
func (h *SecurityHandler) optionsForTenant(tenantID string) *validator.ValidationOptions {
	return &validator.ValidationOptions{
		RequiredTenantID: tenantID,
		TenantColumn:     h.tenantColumn,
		AllowedTables:    h.allowedTables,
		MaxSubqueryDepth: h.maxSubqueryDepth,
		StrictMode:       h.strictMode,
	}
}
