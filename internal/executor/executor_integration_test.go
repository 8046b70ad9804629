package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"tenantgate-go/internal/validator"
)

// 集成测试：通过testcontainers启动真实PostgreSQL，验证只读执行链路
// 使用 -short 标志可跳过
func TestExecutor_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过集成测试（使用 -short 标志）")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tenantgate_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "应该能够启动PostgreSQL容器")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err, "应该能够创建连接池")
	defer pool.Close()

	// 准备多租户测试数据
	_, err = pool.Exec(ctx, `
		CREATE TABLE bookings (
			id SERIAL PRIMARY KEY,
			venue_id VARCHAR(64) NOT NULL,
			amount NUMERIC(10,2) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	require.NoError(t, err, "应该能够创建测试表")

	for i := 0; i < 5; i++ {
		_, err = pool.Exec(ctx,
			"INSERT INTO bookings (venue_id, amount) VALUES ($1, $2), ($3, $4)",
			"v1", 100+i, "v2", 200+i)
		require.NoError(t, err)
	}

	tenantValidator := validator.NewTenantValidator(zap.NewNop())
	options := &validator.ValidationOptions{
		TenantColumn:     "venue_id",
		RequiredTenantID: "v1",
	}

	t.Run("执行已验证查询只返回本租户数据", func(t *testing.T) {
		sql := "SELECT id, venue_id, amount FROM bookings WHERE venue_id = 'v1'"
		validation := tenantValidator.ValidateQuery(sql, options)
		require.True(t, validation.Valid, "查询应该通过租户验证")

		exec := NewReadOnlyExecutor(pool, nil, zap.NewNop())
		result, err := exec.Execute(ctx, sql, validation)

		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, result.Status)
		assert.Equal(t, int32(5), result.RowCount)
		assert.Equal(t, []string{"id", "venue_id", "amount"}, result.Columns)
		for _, row := range result.Rows {
			assert.Equal(t, "v1", row["venue_id"], "结果中不应出现其他租户数据")
		}
	})

	t.Run("超过最大行数限制时截断并给出警告", func(t *testing.T) {
		sql := "SELECT id FROM bookings WHERE venue_id = 'v1'"
		validation := tenantValidator.ValidateQuery(sql, options)
		require.True(t, validation.Valid)

		exec := NewReadOnlyExecutor(pool, &ExecutorConfig{MaxRows: 2}, zap.NewNop())
		result, err := exec.Execute(ctx, sql, validation)

		require.NoError(t, err)
		assert.Equal(t, int32(2), result.RowCount)
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[len(result.Warnings)-1], "最大行数限制")
	})

	t.Run("数据库错误返回错误状态", func(t *testing.T) {
		sql := "SELECT missing_column FROM bookings WHERE venue_id = 'v1'"
		validation := tenantValidator.ValidateQuery(sql, options)
		require.True(t, validation.Valid, "列不存在只能在执行时发现")

		exec := NewReadOnlyExecutor(pool, nil, zap.NewNop())
		result, err := exec.Execute(ctx, sql, validation)

		require.Error(t, err)
		assert.Equal(t, StatusError, result.Status)
		assert.Contains(t, result.Error, "数据库错误")
	})

	t.Run("查询超时返回超时状态", func(t *testing.T) {
		sql := "SELECT id FROM bookings WHERE venue_id = 'v1' AND amount > 0"
		validation := tenantValidator.ValidateQuery(sql, options)
		require.True(t, validation.Valid)

		exec := NewReadOnlyExecutor(pool, &ExecutorConfig{QueryTimeout: time.Nanosecond}, zap.NewNop())
		result, err := exec.Execute(ctx, sql, validation)

		require.Error(t, err)
		assert.Equal(t, StatusTimeout, result.Status)
	})

	t.Run("只读事务在数据库侧拒绝写语句", func(t *testing.T) {
		// 人为构造通过的验证结果，证明数据库层的只读兜底独立生效
		forged := &validator.AstValidationResult{Valid: true}

		exec := NewReadOnlyExecutor(pool, nil, zap.NewNop())
		result, err := exec.Execute(ctx, "DELETE FROM bookings", forged)

		require.Error(t, err)
		assert.Equal(t, StatusError, result.Status)
		assert.Contains(t, result.Error, "数据库错误")

		var count int
		require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM bookings").Scan(&count))
		assert.Equal(t, 10, count, "数据不应被删除")
	})

	t.Run("Ping检查数据库连通性", func(t *testing.T) {
		exec := NewReadOnlyExecutor(pool, nil, zap.NewNop())
		assert.NoError(t, exec.Ping(ctx))
	})
}

// 验证阶段警告会透传到执行结果
func TestExecutor_Integration_WarningsPassthrough(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过集成测试（使用 -short 标志）")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tenantgate_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, `CREATE TABLE bookings (id SERIAL PRIMARY KEY, venue_id VARCHAR(64), status VARCHAR(16))`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "INSERT INTO bookings (venue_id, status) VALUES ('v1', 'paid')")
	require.NoError(t, err)

	// AND分支中嵌套OR：非严格模式下通过但带警告
	sql := "SELECT id FROM bookings WHERE venue_id = 'v1' AND (status = 'paid' OR status = 'pending')"
	tenantValidator := validator.NewTenantValidator(zap.NewNop())
	validation := tenantValidator.ValidateQuery(sql, &validator.ValidationOptions{
		TenantColumn:     "venue_id",
		RequiredTenantID: "v1",
	})
	require.True(t, validation.Valid)
	require.NotEmpty(t, validation.Warnings, fmt.Sprintf("OR分支应产生警告: %+v", validation))

	exec := NewReadOnlyExecutor(pool, nil, zap.NewNop())
	result, err := exec.Execute(ctx, sql, validation)

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Subset(t, result.Warnings, validation.Warnings, "验证警告应透传到执行结果")
}
