package executor

import (
	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/plan"
)

// joinBlockSize is how many left tuples a block buffers before sweeping
// the right side.
const joinBlockSize = 30000

// NestedLoopJoinExecutor is a block nested-loop join: it buffers a block
// of left tuples, sweeps the right child once per block, and emits every
// pair that satisfies the join conjuncts.
type NestedLoopJoinExecutor struct {
	ctx   *Context
	node  *plan.JoinNode
	left  Executor
	right Executor

	schema    []catalog.ColMeta
	leftWidth int

	block    []*Tuple
	blockIdx int
	curRight *Tuple
	done     bool
}

func NewNestedLoopJoinExecutor(ctx *Context, node *plan.JoinNode, left, right Executor) *NestedLoopJoinExecutor {
	e := &NestedLoopJoinExecutor{ctx: ctx, node: node, left: left, right: right}
	e.leftWidth = schemaWidth(left.Schema())
	e.schema = append(e.schema, left.Schema()...)
	for _, col := range right.Schema() {
		col.Offset += e.leftWidth
		e.schema = append(e.schema, col)
	}
	return e
}

func (e *NestedLoopJoinExecutor) Schema() []catalog.ColMeta {
	return e.schema
}

func (e *NestedLoopJoinExecutor) Open() error {
	e.block = nil
	e.blockIdx = 0
	e.curRight = nil
	e.done = false
	if err := e.left.Open(); err != nil {
		return err
	}
	if err := e.fillBlock(); err != nil {
		return err
	}
	return e.right.Open()
}

func (e *NestedLoopJoinExecutor) fillBlock() error {
	e.block = e.block[:0]
	for len(e.block) < joinBlockSize {
		t, err := e.left.Next()
		if err != nil {
			return err
		}
		if t == nil {
			break
		}
		e.block = append(e.block, t)
	}
	if len(e.block) == 0 {
		e.done = true
	}
	return nil
}

func (e *NestedLoopJoinExecutor) Next() (*Tuple, error) {
	for !e.done {
		if e.curRight == nil {
			rt, err := e.right.Next()
			if err != nil {
				return nil, err
			}
			if rt == nil {
				// Right side exhausted for this block: take the next
				// block and rescan the right child.
				if err := e.fillBlock(); err != nil {
					return nil, err
				}
				if e.done {
					return nil, nil
				}
				if err := e.right.Open(); err != nil {
					return nil, err
				}
				continue
			}
			e.curRight = rt
			e.blockIdx = 0
		}
		for e.blockIdx < len(e.block) {
			lt := e.block[e.blockIdx]
			e.blockIdx++
			match := true
			for i := range e.node.Conds {
				ok, err := evalJoinCond(e.left.Schema(), lt.Data,
					e.right.Schema(), e.curRight.Data, &e.node.Conds[i])
				if err != nil {
					return nil, err
				}
				if !ok {
					match = false
					break
				}
			}
			if match {
				data := make([]byte, 0, e.leftWidth+len(e.curRight.Data))
				data = append(data, lt.Data...)
				data = append(data, e.curRight.Data...)
				return &Tuple{Data: data}, nil
			}
		}
		e.curRight = nil
	}
	return nil, nil
}
