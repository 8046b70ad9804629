package validator

import (
	"github.com/pingcap/tidb/pkg/parser/ast"
)

// subqueryCollector 子查询访问器
// 只收集第一层子查询并停止下降，更深层的嵌套由递归管线逐层处理，
// 深度计数因此始终由验证器显式控制
type subqueryCollector struct {
	subqueries []*ast.SelectStmt
}

// Enter 进入节点
func (c *subqueryCollector) Enter(n ast.Node) (ast.Node, bool) {
	if sub, ok := n.(*ast.SubqueryExpr); ok {
		if sel, ok := sub.Query.(*ast.SelectStmt); ok {
			c.subqueries = append(c.subqueries, sel)
		}
		return n, true // 不进入子查询内部
	}
	return n, false
}

// Leave 离开节点
func (c *subqueryCollector) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}

// collectExprSubqueries 收集表达式中的第一层子查询
func collectExprSubqueries(expr ast.ExprNode, into *subqueryCollector) {
	if expr == nil {
		return
	}
	expr.Accept(into)
}

// collectSubqueries 收集SELECT语句中FROM、SELECT列、WHERE、HAVING位置的第一层子查询
func collectSubqueries(sel *ast.SelectStmt) []*ast.SelectStmt {
	collector := &subqueryCollector{}

	// FROM位置的派生表
	if sel.From != nil && sel.From.TableRefs != nil {
		collectFromSubqueries(sel.From.TableRefs, collector)
	}

	// SELECT列位置的标量子查询
	if sel.Fields != nil {
		for _, field := range sel.Fields.Fields {
			if field.Expr != nil {
				collectExprSubqueries(field.Expr, collector)
			}
		}
	}

	// WHERE位置的子查询（IN、EXISTS、标量比较）
	collectExprSubqueries(sel.Where, collector)

	// HAVING同样可以藏子查询
	if sel.Having != nil {
		collectExprSubqueries(sel.Having.Expr, collector)
	}

	return collector.subqueries
}

// collectFromSubqueries 遍历JOIN树收集派生表子查询
func collectFromSubqueries(node ast.ResultSetNode, collector *subqueryCollector) {
	switch n := node.(type) {
	case *ast.Join:
		if n.Left != nil {
			collectFromSubqueries(n.Left, collector)
		}
		if n.Right != nil {
			collectFromSubqueries(n.Right, collector)
		}
		// JOIN的ON条件中也可能出现子查询
		if n.On != nil {
			collectExprSubqueries(n.On.Expr, collector)
		}
	case *ast.TableSource:
		switch src := n.Source.(type) {
		case *ast.SelectStmt:
			collector.subqueries = append(collector.subqueries, src)
		case *ast.Join:
			collectFromSubqueries(src, collector)
		}
	}
}
