package executor

import (
	"sort"

	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/plan"
)

// SortExecutor materializes its child and emits tuples in ORDER BY
// order. Ties keep their arrival order.
type SortExecutor struct {
	ctx   *Context
	node  *plan.SortNode
	child Executor

	tuples []*Tuple
	pos    int
}

func NewSortExecutor(ctx *Context, node *plan.SortNode, child Executor) *SortExecutor {
	return &SortExecutor{ctx: ctx, node: node, child: child}
}

func (e *SortExecutor) Schema() []catalog.ColMeta {
	return e.child.Schema()
}

func (e *SortExecutor) Open() error {
	if err := e.child.Open(); err != nil {
		return err
	}
	e.tuples = nil
	e.pos = 0
	for {
		t, err := e.child.Next()
		if err != nil {
			return err
		}
		if t == nil {
			break
		}
		e.tuples = append(e.tuples, t)
	}

	schema := e.child.Schema()
	cols := make([]*catalog.ColMeta, len(e.node.Orders))
	for i := range e.node.Orders {
		col, err := findCol(schema, e.node.Orders[i].Col)
		if err != nil {
			return err
		}
		cols[i] = col
	}
	var sortErr error
	sort.SliceStable(e.tuples, func(i, j int) bool {
		for k, col := range cols {
			cmp, err := colValue(col, e.tuples[i].Data).Compare(colValue(col, e.tuples[j].Data))
			if err != nil {
				sortErr = err
				return false
			}
			if cmp == 0 {
				continue
			}
			if e.node.Orders[k].Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return sortErr
}

func (e *SortExecutor) Next() (*Tuple, error) {
	if e.pos >= len(e.tuples) {
		return nil, nil
	}
	t := e.tuples[e.pos]
	e.pos++
	return t, nil
}
