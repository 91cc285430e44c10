package executor

import (
	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/plan"
	"github.com/petreldb/petrel-server/server/storage/heap"
	"github.com/petreldb/petrel-server/server/storage/index"
)

// SeqScanExecutor walks a heap file front to back and filters.
type SeqScanExecutor struct {
	ctx  *Context
	node *plan.SeqScanNode
	fh   *heap.RmFileHandle
	scan *heap.RmScan
}

func NewSeqScanExecutor(ctx *Context, node *plan.SeqScanNode) *SeqScanExecutor {
	return &SeqScanExecutor{ctx: ctx, node: node}
}

func (e *SeqScanExecutor) Schema() []catalog.ColMeta {
	return e.node.Tab.Cols
}

func (e *SeqScanExecutor) Open() error {
	fh, err := e.ctx.Sm.FileHandle(e.node.Tab.Name)
	if err != nil {
		return err
	}
	e.fh = fh
	if e.ctx.Txn != nil {
		if err := e.ctx.Lock.LockSharedOnTable(e.ctx.Txn, fh.Fd()); err != nil {
			return err
		}
	}
	scan, err := heap.NewRmScan(fh)
	if err != nil {
		return err
	}
	e.scan = scan
	return nil
}

func (e *SeqScanExecutor) Next() (*Tuple, error) {
	for !e.scan.IsEnd() {
		rid := e.scan.Rid()
		rec, err := e.fh.GetRecord(rid)
		if err != nil {
			return nil, err
		}
		if err := e.scan.Next(); err != nil {
			return nil, err
		}
		ok, err := evalConds(e.Schema(), rec.Data, e.node.Conds)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Tuple{Data: rec.Data, Rid: rid}, nil
		}
	}
	return nil, nil
}

// IndexScanExecutor reads the key range implied by the plan's index
// conjuncts in key order, then applies the full filter.
type IndexScanExecutor struct {
	ctx   *Context
	node  *plan.IndexScanNode
	fh    *heap.RmFileHandle
	ih    *index.IxIndexHandle
	scan  *index.IxScan
	empty bool
}

func NewIndexScanExecutor(ctx *Context, node *plan.IndexScanNode) *IndexScanExecutor {
	return &IndexScanExecutor{ctx: ctx, node: node}
}

func (e *IndexScanExecutor) Schema() []catalog.ColMeta {
	return e.node.Tab.Cols
}

func (e *IndexScanExecutor) Open() error {
	fh, err := e.ctx.Sm.FileHandle(e.node.Tab.Name)
	if err != nil {
		return err
	}
	ih, err := e.ctx.Sm.IndexHandle(e.node.Tab.Name, e.node.Index.Name())
	if err != nil {
		return err
	}
	e.fh, e.ih = fh, ih
	if e.ctx.Txn != nil {
		if err := e.ctx.Lock.LockSharedOnTable(e.ctx.Txn, fh.Fd()); err != nil {
			return err
		}
	}

	low, high, err := keyRange(e.node.Index, e.node.IndexConds)
	if err != nil {
		return err
	}
	if common.CompareKeys(e.node.Index.ColTypes(), e.node.Index.ColLens(), low, high) > 0 {
		e.empty = true
		return nil
	}
	begin, err := e.ih.LowerBound(low)
	if err != nil {
		return err
	}
	end, err := e.ih.UpperBound(high)
	if err != nil {
		return err
	}
	e.empty = false
	e.scan = index.NewIxScan(e.ih, begin, end)
	return nil
}

// keyRange folds the index conjuncts into one inclusive [low, high]
// interval of concatenated keys. Per column the tightest equality or
// range literal wins; unbound columns pad with the type's minimum and
// maximum. Strict bounds widen to inclusive ones, the residual filter
// drops the boundary rows.
func keyRange(ix *catalog.IndexMeta, conds []common.Condition) (low, high []byte, err error) {
	low = make([]byte, 0, ix.ColTotLen)
	high = make([]byte, 0, ix.ColTotLen)
	for i := range ix.Cols {
		col := &ix.Cols[i]
		var lower, upper []byte
		for j := range conds {
			if conds[j].LhsCol.ColName != col.Name {
				continue
			}
			v := conds[j].RhsVal
			if err := v.InitRaw(col.Len); err != nil {
				return nil, nil, err
			}
			key := v.Raw
			switch conds[j].Op {
			case common.OpEq:
				if lower == nil || common.CompareCol(col.Type, key, lower) > 0 {
					lower = key
				}
				if upper == nil || common.CompareCol(col.Type, key, upper) < 0 {
					upper = key
				}
			case common.OpGt, common.OpGe:
				if lower == nil || common.CompareCol(col.Type, key, lower) > 0 {
					lower = key
				}
			case common.OpLt, common.OpLe:
				if upper == nil || common.CompareCol(col.Type, key, upper) < 0 {
					upper = key
				}
			}
		}
		if lower == nil {
			lower = common.MinColBytes(col.Type, col.Len)
		}
		if upper == nil {
			upper = common.MaxColBytes(col.Type, col.Len)
		}
		low = append(low, lower...)
		high = append(high, upper...)
	}
	return low, high, nil
}

func (e *IndexScanExecutor) Next() (*Tuple, error) {
	if e.empty {
		return nil, nil
	}
	for !e.scan.IsEnd() {
		rid, err := e.scan.Rid()
		if err != nil {
			return nil, err
		}
		rec, err := e.fh.GetRecord(rid)
		if err != nil {
			return nil, err
		}
		if err := e.scan.Next(); err != nil {
			return nil, err
		}
		ok, err := evalConds(e.Schema(), rec.Data, e.node.Conds)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Tuple{Data: rec.Data, Rid: rid}, nil
		}
	}
	return nil, nil
}
