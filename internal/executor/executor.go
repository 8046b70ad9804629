// Package executor 闸门之后的只读SQL执行层
// 基于pgxpool执行已通过租户验证的SELECT查询，支持超时控制和结果大小限制
package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tenantgate-go/internal/validator"
)

// ErrValidationRequired 未携带验证通过的结果时拒绝执行
var ErrValidationRequired = errors.New("SQL未通过租户隔离验证，拒绝执行")

// 执行状态
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// ReadOnlyExecutor 只读SQL执行器
// 执行入口强制要求携带验证通过的结果，没有绕过闸门的执行路径
type ReadOnlyExecutor struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	queryTimeout time.Duration
	maxRows      int32
	maxResultMB  int32
}

// ExecutorConfig 执行器配置
type ExecutorConfig struct {
	QueryTimeout time.Duration `json:"query_timeout"` // 查询超时时间，默认30秒
	MaxRows      int32         `json:"max_rows"`      // 最大返回行数，默认1000行
	MaxResultMB  int32         `json:"max_result_mb"` // 最大结果集大小，默认10MB
}

// QueryResult SQL查询结果
type QueryResult struct {
	Columns       []string         `json:"columns"`            // 列名
	Rows          []map[string]any `json:"rows"`               // 数据行
	RowCount      int32            `json:"row_count"`          // 行数
	ExecutionTime int32            `json:"execution_time"`     // 执行时间(毫秒)
	Status        string           `json:"status"`             // 执行状态
	Error         string           `json:"error,omitempty"`    // 错误信息
	Warnings      []string         `json:"warnings,omitempty"` // 警告信息
}

// NewReadOnlyExecutor 创建只读执行器
func NewReadOnlyExecutor(pool *pgxpool.Pool, config *ExecutorConfig, logger *zap.Logger) *ReadOnlyExecutor {
	if config == nil {
		config = &ExecutorConfig{}
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 30 * time.Second
	}
	if config.MaxRows <= 0 {
		config.MaxRows = 1000
	}
	if config.MaxResultMB <= 0 {
		config.MaxResultMB = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReadOnlyExecutor{
		pool:         pool,
		logger:       logger,
		queryTimeout: config.QueryTimeout,
		maxRows:      config.MaxRows,
		maxResultMB:  config.MaxResultMB,
	}
}

// Execute 执行已验证的SQL查询
// validation 必须是同一条SQL的验证结果且 Valid=true，否则直接拒绝
func (e *ReadOnlyExecutor) Execute(ctx context.Context, sql string, validation *validator.AstValidationResult) (*QueryResult, error) {
	if validation == nil || !validation.Valid {
		return &QueryResult{
			Status: StatusError,
			Error:  ErrValidationRequired.Error(),
		}, ErrValidationRequired
	}

	start := time.Now()

	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	result, err := e.executeOnPool(queryCtx, sql)
	result.ExecutionTime = int32(time.Since(start).Milliseconds())
	// 验证阶段的警告一并带回给调用方
	result.Warnings = append(validation.Warnings, result.Warnings...)

	if err != nil {
		if errors.Is(queryCtx.Err(), context.DeadlineExceeded) {
			result.Status = StatusTimeout
		}
		e.logger.Error("SQL查询执行失败",
			zap.Error(err),
			zap.Int32("execution_time", result.ExecutionTime))
		return result, err
	}

	e.logger.Info("SQL查询执行成功",
		zap.Int32("row_count", result.RowCount),
		zap.Int32("execution_time", result.ExecutionTime))

	return result, nil
}

func (e *ReadOnlyExecutor) executeOnPool(ctx context.Context, sql string) (*QueryResult, error) {
	result := &QueryResult{
		Columns:  []string{},
		Rows:     []map[string]any{},
		Status:   StatusSuccess,
		Warnings: []string{},
	}

	// 只读事务：即使有语句穿过验证层，数据库侧也拒绝写入
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		result.Status = StatusError
		result.Error = fmt.Sprintf("开启只读事务失败: %v", err)
		return result, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		result.Status = StatusError

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			result.Error = fmt.Sprintf("数据库错误 [%s]: %s", pgErr.Code, pgErr.Message)
		} else {
			result.Error = fmt.Sprintf("查询执行失败: %v", err)
		}

		return result, err
	}
	defer rows.Close()

	fieldDescriptions := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescriptions))
	for i, desc := range fieldDescriptions {
		columns[i] = string(desc.Name)
	}
	result.Columns = columns

	var rowCount int32 = 0
	var totalSizeBytes int64 = 0
	maxSizeBytes := int64(e.maxResultMB) * 1024 * 1024

	for rows.Next() {
		if rowCount >= e.maxRows {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("查询结果超过最大行数限制(%d行)，已截断显示", e.maxRows))
			break
		}

		values, err := rows.Values()
		if err != nil {
			result.Status = StatusError
			result.Error = fmt.Sprintf("读取查询结果失败: %v", err)
			return result, err
		}

		rowData := make(map[string]any)
		for i, value := range values {
			rowData[columns[i]] = convertValue(value)
		}

		// 估算行大小
		rowJSON, err := json.Marshal(rowData)
		if err != nil {
			result.Status = StatusError
			result.Error = fmt.Sprintf("JSON序列化失败: %v", err)
			return result, err
		}
		rowSize := int64(len(rowJSON))

		if totalSizeBytes+rowSize > maxSizeBytes {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("查询结果超过最大大小限制(%dMB)，已截断显示", e.maxResultMB))
			break
		}

		result.Rows = append(result.Rows, rowData)
		rowCount++
		totalSizeBytes += rowSize
	}

	result.RowCount = rowCount

	if err := rows.Err(); err != nil {
		result.Status = StatusError
		result.Error = fmt.Sprintf("读取查询结果时发生错误: %v", err)
		return result, err
	}

	return result, nil
}

// Ping 测试数据库连接
func (e *ReadOnlyExecutor) Ping(ctx context.Context) error {
	if err := e.pool.Ping(ctx); err != nil {
		return fmt.Errorf("数据库连接测试失败: %w", err)
	}
	return nil
}

// convertValue 转换数据库值为JSON友好的格式
func convertValue(value any) any {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case time.Time:
		return v.Format(time.RFC3339)
	case []byte:
		return fmt.Sprintf("base64:%s", base64.StdEncoding.EncodeToString(v))
	case json.Number:
		return v.String()
	default:
		return value
	}
}
