package validator

import (
	"github.com/pingcap/tidb/pkg/parser/ast"
)

// tableCollector 表名访问器
// 遍历整棵语法树，FROM、WHERE、SELECT列位置可达的子查询中的表一并收集
type tableCollector struct {
	tables []string
	seen   map[string]bool
}

func newTableCollector() *tableCollector {
	return &tableCollector{
		tables: make([]string, 0),
		seen:   make(map[string]bool),
	}
}

// Enter 进入节点
func (c *tableCollector) Enter(n ast.Node) (ast.Node, bool) {
	if table, ok := n.(*ast.TableName); ok {
		name := table.Name.L
		if name != "" && !c.seen[name] {
			c.seen[name] = true
			c.tables = append(c.tables, table.Name.String())
		}
	}
	return n, false
}

// Leave 离开节点
func (c *tableCollector) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}

// collectTables 提取SELECT语句引用的全部表名（去重）
func collectTables(sel *ast.SelectStmt) []string {
	collector := newTableCollector()
	sel.Accept(collector)
	return collector.tables
}
