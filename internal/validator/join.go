package validator

import (
	"fmt"

	"github.com/pingcap/tidb/pkg/parser/ast"
)

// validateJoins 遍历JOIN树验证每个连接
// ON条件缺失的连接（含逗号连接和显式CROSS JOIN）直接拒绝；
// ON条件存在但不含租户条件时，内连接仅警告（外层WHERE可以补足约束），
// 外连接则硬性失败：未匹配行经NULL扩展后不受外层WHERE的租户过滤约束，
// 可能泄露另一侧表的表级元数据
func (v *TenantValidator) validateJoins(node ast.ResultSetNode, opts *ValidationOptions, result *AstValidationResult) {
	join, ok := node.(*ast.Join)
	if !ok {
		return
	}
	if join.Left != nil {
		v.validateJoins(join.Left, opts, result)
	}
	if join.Right == nil {
		return // 单表FROM，不构成连接
	}
	v.validateJoins(join.Right, opts, result)

	result.Details.HasJoins = true

	if join.On == nil {
		result.addError("JOIN缺少ON条件，笛卡尔积连接被拒绝", ViolationDangerousOperation)
		return
	}

	if !exprMentionsTenantColumn(join.On.Expr, opts.TenantColumn) {
		switch join.Tp {
		case ast.LeftJoin, ast.RightJoin:
			result.addError(
				fmt.Sprintf("外连接的ON条件缺少租户条件(%s)，NULL扩展行可绕过外层WHERE过滤", opts.TenantColumn),
				ViolationMissingTenantFilter)
		default:
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("JOIN的ON条件缺少租户条件(%s)，依赖外层WHERE约束", opts.TenantColumn))
		}
	}
}

// exprMentionsTenantColumn 检查表达式树中是否引用了租户标识列
func exprMentionsTenantColumn(expr ast.ExprNode, tenantColumn string) bool {
	if expr == nil {
		return false
	}
	finder := &columnFinder{target: normalizeColumn(tenantColumn)}
	expr.Accept(finder)
	return finder.found
}

// columnFinder 列引用访问器
type columnFinder struct {
	target string
	found  bool
}

func (f *columnFinder) Enter(n ast.Node) (ast.Node, bool) {
	if f.found {
		return n, true
	}
	if col, ok := n.(*ast.ColumnNameExpr); ok && col.Name != nil {
		if normalizeColumn(col.Name.Name.L) == f.target {
			f.found = true
			return n, true
		}
	}
	return n, false
}

func (f *columnFinder) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}
