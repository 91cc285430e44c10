package executor

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/plan"
)

// ProjectionExecutor is the root of every SELECT tree. It renders the
// selected columns of each child tuple as display strings, or runs the
// single-pass aggregation when the select list is aggregates, and
// enforces LIMIT.
type ProjectionExecutor struct {
	ctx   *Context
	node  *plan.ProjectNode
	child Executor

	emitted int
	aggRow  []string
	aggDone bool
}

func NewProjectionExecutor(ctx *Context, node *plan.ProjectNode, child Executor) *ProjectionExecutor {
	return &ProjectionExecutor{ctx: ctx, node: node, child: child}
}

// Headers are the result-set column titles.
func (e *ProjectionExecutor) Headers() []string {
	if len(e.node.Aggs) > 0 {
		out := make([]string, len(e.node.Aggs))
		for i, agg := range e.node.Aggs {
			if agg.Alias != "" {
				out[i] = agg.Alias
			} else if agg.Func == "COUNT*" {
				out[i] = "COUNT(*)"
			} else {
				out[i] = agg.Func + "(" + agg.Col.ColName + ")"
			}
		}
		return out
	}
	out := make([]string, len(e.node.Cols))
	for i, tc := range e.node.Cols {
		out[i] = tc.ColName
	}
	return out
}

func (e *ProjectionExecutor) Open() error {
	e.emitted = 0
	e.aggRow = nil
	e.aggDone = false
	return e.child.Open()
}

// NextRow returns the next rendered result row, or nil at the end.
func (e *ProjectionExecutor) NextRow() ([]string, error) {
	if e.node.HasLimit && e.emitted >= e.node.Limit {
		return nil, nil
	}
	if len(e.node.Aggs) > 0 {
		if e.aggDone {
			return nil, nil
		}
		row, err := e.aggregate()
		if err != nil {
			return nil, err
		}
		e.aggDone = true
		e.emitted++
		return row, nil
	}

	t, err := e.child.Next()
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	schema := e.child.Schema()
	row := make([]string, len(e.node.Cols))
	for i, tc := range e.node.Cols {
		col, err := findCol(schema, tc)
		if err != nil {
			return nil, err
		}
		row[i] = colValue(col, t.Data).String()
	}
	e.emitted++
	return row, nil
}

// aggState accumulates one aggregate across the child stream. SUM uses a
// decimal accumulator so mixed-width integer sums stay exact.
type aggState struct {
	count int
	sum   decimal.Decimal
	best  common.Value
	seen  bool
}

func (e *ProjectionExecutor) aggregate() ([]string, error) {
	schema := e.child.Schema()
	cols := make([]*catalog.ColMeta, len(e.node.Aggs))
	for i, agg := range e.node.Aggs {
		if agg.Func == "COUNT*" {
			continue
		}
		col, err := findCol(schema, agg.Col)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}

	states := make([]aggState, len(e.node.Aggs))
	for {
		t, err := e.child.Next()
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		for i, agg := range e.node.Aggs {
			st := &states[i]
			st.count++
			if agg.Func == "COUNT*" || agg.Func == "COUNT" {
				continue
			}
			v := colValue(cols[i], t.Data)
			switch agg.Func {
			case "SUM":
				st.sum = st.sum.Add(decimalOf(v))
			case "MAX":
				if !st.seen {
					st.best, st.seen = v, true
				} else if cmp, err := v.Compare(st.best); err != nil {
					return nil, err
				} else if cmp > 0 {
					st.best = v
				}
			case "MIN":
				if !st.seen {
					st.best, st.seen = v, true
				} else if cmp, err := v.Compare(st.best); err != nil {
					return nil, err
				} else if cmp < 0 {
					st.best = v
				}
			}
		}
	}

	row := make([]string, len(e.node.Aggs))
	for i, agg := range e.node.Aggs {
		st := &states[i]
		switch agg.Func {
		case "COUNT*", "COUNT":
			row[i] = strconv.Itoa(st.count)
		case "SUM":
			if st.count == 0 {
				row[i] = ""
			} else {
				row[i] = st.sum.String()
			}
		case "MAX", "MIN":
			if !st.seen {
				row[i] = ""
			} else {
				row[i] = st.best.String()
			}
		}
	}
	return row, nil
}

func decimalOf(v common.Value) decimal.Decimal {
	switch v.Type {
	case common.TypeInt:
		return decimal.NewFromInt(int64(v.IntVal))
	case common.TypeBigInt:
		return decimal.NewFromInt(v.BigIntVal)
	case common.TypeFloat:
		return decimal.NewFromFloat32(v.FloatVal)
	}
	return decimal.Zero
}
