package plan

import (
	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/parser"
)

// Node is one operator of a query tree. Trees are left-deep:
// Scan -> Join -> Sort -> Project.
type Node interface {
	planNode()
}

// SeqScanNode reads a whole heap file and filters.
type SeqScanNode struct {
	Tab   *catalog.TabMeta
	Conds []common.Condition
}

// IndexScanNode reads the B+-tree range implied by IndexConds, then applies
// the residual filter.
type IndexScanNode struct {
	Tab        *catalog.TabMeta
	Index      *catalog.IndexMeta
	IndexConds []common.Condition // on index columns, literal rhs in column type
	Conds      []common.Condition // residual, includes IndexConds for recheck
}

// JoinNode combines two subtrees. Conds are normalized so LhsCol comes from
// the left tuple and RhsCol from the right.
type JoinNode struct {
	Left  Node
	Right Node
	Conds []common.Condition
}

type SortNode struct {
	Child  Node
	Orders []parser.OrderBy
}

type ProjectNode struct {
	Child    Node
	Cols     []common.TabCol
	Aggs     []common.AggFunc
	Limit    int
	HasLimit bool
}

func (*SeqScanNode) planNode()   {}
func (*IndexScanNode) planNode() {}
func (*JoinNode) planNode()      {}
func (*SortNode) planNode()      {}
func (*ProjectNode) planNode()   {}

// Plan is the planner's output: a DML tree, or the statement passed through
// for DDL and utility commands the executor layer runs directly.
type Plan interface {
	plan()
}

type SelectPlan struct {
	Root *ProjectNode
}

type InsertPlan struct {
	Tab    *catalog.TabMeta
	Values []common.Value
}

type DeletePlan struct {
	Tab  *catalog.TabMeta
	Scan Node
}

type UpdatePlan struct {
	Tab  *catalog.TabMeta
	Scan Node
	Sets []common.SetClause
}

// DDLPlan wraps CREATE/DROP statements.
type DDLPlan struct {
	Stmt parser.Stmt
}

// UtilityPlan wraps SHOW/DESC/HELP/EXIT and transaction control.
type UtilityPlan struct {
	Stmt parser.Stmt
}

func (*SelectPlan) plan()  {}
func (*InsertPlan) plan()  {}
func (*DeletePlan) plan()  {}
func (*UpdatePlan) plan()  {}
func (*DDLPlan) plan()     {}
func (*UtilityPlan) plan() {}

// Planner analyzes a parsed statement and builds its plan. Planning is
// cost-free: an index is used when WHERE conjuncts bind its leading column
// to a literal (the index with the longest bound prefix wins), and joins
// follow FROM order.
type Planner struct {
	sm *catalog.SmManager
}

func NewPlanner(sm *catalog.SmManager) *Planner {
	return &Planner{sm: sm}
}

func (p *Planner) Plan(stmt parser.Stmt) (Plan, error) {
	a := &analyzer{sm: p.sm}
	switch s := stmt.(type) {
	case *parser.SelectStmt:
		tabs, err := a.analyzeSelect(s)
		if err != nil {
			return nil, err
		}
		return p.planSelect(s, tabs), nil
	case *parser.InsertStmt:
		tab, err := a.analyzeInsert(s)
		if err != nil {
			return nil, err
		}
		return &InsertPlan{Tab: tab, Values: s.Values}, nil
	case *parser.DeleteStmt:
		tab, err := a.analyzeDelete(s)
		if err != nil {
			return nil, err
		}
		return &DeletePlan{Tab: tab, Scan: scanNode(tab, s.Conds)}, nil
	case *parser.UpdateStmt:
		tab, err := a.analyzeUpdate(s)
		if err != nil {
			return nil, err
		}
		return &UpdatePlan{Tab: tab, Scan: scanNode(tab, s.Conds), Sets: s.Sets}, nil
	case *parser.CreateTableStmt, *parser.DropTableStmt,
		*parser.CreateIndexStmt, *parser.DropIndexStmt:
		return &DDLPlan{Stmt: stmt}, nil
	default:
		return &UtilityPlan{Stmt: stmt}, nil
	}
}

func (p *Planner) planSelect(sel *parser.SelectStmt, tabs []*catalog.TabMeta) *SelectPlan {
	local := make(map[string][]common.Condition)
	var cross []common.Condition
	for _, cond := range sel.Conds {
		if cond.IsRhsVal || cond.LhsCol.TabName == cond.RhsCol.TabName {
			local[cond.LhsCol.TabName] = append(local[cond.LhsCol.TabName], cond)
		} else {
			cross = append(cross, cond)
		}
	}

	root := scanNode(tabs[0], local[tabs[0].Name])
	bound := map[string]bool{tabs[0].Name: true}
	for _, tab := range tabs[1:] {
		right := scanNode(tab, local[tab.Name])
		var joinConds []common.Condition
		rest := cross[:0]
		for _, cond := range cross {
			switch {
			case bound[cond.LhsCol.TabName] && cond.RhsCol.TabName == tab.Name:
				joinConds = append(joinConds, cond)
			case cond.LhsCol.TabName == tab.Name && bound[cond.RhsCol.TabName]:
				cond.LhsCol, cond.RhsCol = cond.RhsCol, cond.LhsCol
				cond.Op = cond.Op.Swap()
				joinConds = append(joinConds, cond)
			default:
				rest = append(rest, cond)
			}
		}
		cross = rest
		root = &JoinNode{Left: root, Right: right, Conds: joinConds}
		bound[tab.Name] = true
	}

	if len(sel.Orders) > 0 {
		root = &SortNode{Child: root, Orders: sel.Orders}
	}
	proj := &ProjectNode{
		Child: root, Cols: sel.Cols, Aggs: sel.Aggs,
		Limit: sel.Limit, HasLimit: sel.HasLimit,
	}
	return &SelectPlan{Root: proj}
}

// scanNode picks an access path for one table. An index is usable when a
// WHERE conjunct binds its leading column to an equality or range literal
// of the column's own type; among usable indexes the one with the longest
// bound column prefix wins. All conjuncts stay in the filter either way.
func scanNode(tab *catalog.TabMeta, conds []common.Condition) Node {
	var best *catalog.IndexMeta
	bestDepth := 0
	for _, ix := range tab.Indexes {
		depth := boundPrefix(ix, conds)
		if depth > bestDepth {
			best, bestDepth = ix, depth
		}
	}
	if best == nil {
		return &SeqScanNode{Tab: tab, Conds: conds}
	}
	var idxConds []common.Condition
	for _, c := range conds {
		if indexable(best, c) {
			idxConds = append(idxConds, c)
		}
	}
	return &IndexScanNode{Tab: tab, Index: best, IndexConds: idxConds, Conds: conds}
}

// boundPrefix counts the leading index columns that some conjunct binds.
func boundPrefix(ix *catalog.IndexMeta, conds []common.Condition) int {
	depth := 0
	for i := range ix.Cols {
		found := false
		for _, c := range conds {
			if c.IsRhsVal && c.Op != common.OpNe &&
				c.LhsCol.ColName == ix.Cols[i].Name && c.RhsVal.Type == ix.Cols[i].Type {
				found = true
				break
			}
		}
		if !found {
			break
		}
		depth = i + 1
	}
	return depth
}

// indexable reports whether a conjunct can shape the index key range.
func indexable(ix *catalog.IndexMeta, c common.Condition) bool {
	if !c.IsRhsVal || c.Op == common.OpNe {
		return false
	}
	for i := range ix.Cols {
		if c.LhsCol.ColName == ix.Cols[i].Name && c.RhsVal.Type == ix.Cols[i].Type {
			return true
		}
	}
	return false
}
