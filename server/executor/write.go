package executor

import (
	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/plan"
	"github.com/petreldb/petrel-server/server/txn"
	"github.com/petreldb/petrel-server/server/wal"
)

// The write executors mutate the heap and indexes, append the matching
// log record, stamp the touched page's LSN and remember the change on
// the transaction's write set. Deletes and updates materialize their
// victims first so the mutation never races the scan that found them.

// InsertExecutor inserts one row.
type InsertExecutor struct {
	ctx  *Context
	plan *plan.InsertPlan
}

func NewInsertExecutor(ctx *Context, p *plan.InsertPlan) *InsertExecutor {
	return &InsertExecutor{ctx: ctx, plan: p}
}

func (e *InsertExecutor) Exec() (int, error) {
	tab := e.plan.Tab
	fh, err := e.ctx.Sm.FileHandle(tab.Name)
	if err != nil {
		return 0, err
	}
	data := make([]byte, tab.RecordSize())
	for i := range e.plan.Values {
		col := &tab.Cols[i]
		v := e.plan.Values[i]
		if err := v.InitRaw(col.Len); err != nil {
			return 0, err
		}
		copy(data[col.Offset:], v.Raw)
	}

	tr := e.ctx.Txn
	if err := e.ctx.Lock.LockIXOnTable(tr, fh.Fd()); err != nil {
		return 0, err
	}
	rid, err := fh.InsertRecord(data)
	if err != nil {
		return 0, err
	}
	if err := e.ctx.Lock.LockExclusiveOnRecord(tr, fh.Fd(), rid); err != nil {
		return 0, err
	}
	if err := e.ctx.Sm.InsertIndexEntries(tab.Name, data, rid); err != nil {
		fh.DeleteRecord(rid)
		return 0, err
	}
	lsn, err := e.ctx.Log.Append(&wal.LogRecord{
		Type: wal.LogInsert, TxnID: tr.ID, PrevLSN: tr.PrevLSN,
		TabName: tab.Name, Rid: rid, NewData: data,
	})
	if err != nil {
		return 0, err
	}
	tr.PrevLSN = lsn
	if err := fh.SetPageLSN(rid.PageNo, lsn); err != nil {
		return 0, err
	}
	tr.AppendWrite(txn.WriteInsert, tab.Name, rid, nil)
	return 1, nil
}

// victims drains a scan executor into a stable list of (rid, image)
// pairs before any mutation happens.
func victims(scan Executor) ([]common.Rid, [][]byte, error) {
	if err := scan.Open(); err != nil {
		return nil, nil, err
	}
	var rids []common.Rid
	var rows [][]byte
	for {
		t, err := scan.Next()
		if err != nil {
			return nil, nil, err
		}
		if t == nil {
			return rids, rows, nil
		}
		rids = append(rids, t.Rid)
		rows = append(rows, t.Data)
	}
}

// DeleteExecutor removes every row its scan produces.
type DeleteExecutor struct {
	ctx  *Context
	plan *plan.DeletePlan
	scan Executor
}

func NewDeleteExecutor(ctx *Context, p *plan.DeletePlan, scan Executor) *DeleteExecutor {
	return &DeleteExecutor{ctx: ctx, plan: p, scan: scan}
}

func (e *DeleteExecutor) Exec() (int, error) {
	tab := e.plan.Tab
	fh, err := e.ctx.Sm.FileHandle(tab.Name)
	if err != nil {
		return 0, err
	}
	tr := e.ctx.Txn
	if err := e.ctx.Lock.LockIXOnTable(tr, fh.Fd()); err != nil {
		return 0, err
	}
	rids, rows, err := victims(e.scan)
	if err != nil {
		return 0, err
	}
	for i, rid := range rids {
		if err := e.ctx.Lock.LockExclusiveOnRecord(tr, fh.Fd(), rid); err != nil {
			return i, err
		}
		if err := e.ctx.Sm.DeleteIndexEntries(tab.Name, rows[i]); err != nil {
			return i, err
		}
		if err := fh.DeleteRecord(rid); err != nil {
			return i, err
		}
		lsn, err := e.ctx.Log.Append(&wal.LogRecord{
			Type: wal.LogDelete, TxnID: tr.ID, PrevLSN: tr.PrevLSN,
			TabName: tab.Name, Rid: rid, OldData: rows[i],
		})
		if err != nil {
			return i, err
		}
		tr.PrevLSN = lsn
		if err := fh.SetPageLSN(rid.PageNo, lsn); err != nil {
			return i, err
		}
		tr.AppendWrite(txn.WriteDelete, tab.Name, rid, rows[i])
	}
	return len(rids), nil
}

// UpdateExecutor rewrites every row its scan produces.
type UpdateExecutor struct {
	ctx  *Context
	plan *plan.UpdatePlan
	scan Executor
}

func NewUpdateExecutor(ctx *Context, p *plan.UpdatePlan, scan Executor) *UpdateExecutor {
	return &UpdateExecutor{ctx: ctx, plan: p, scan: scan}
}

func (e *UpdateExecutor) Exec() (int, error) {
	tab := e.plan.Tab
	fh, err := e.ctx.Sm.FileHandle(tab.Name)
	if err != nil {
		return 0, err
	}
	tr := e.ctx.Txn
	if err := e.ctx.Lock.LockIXOnTable(tr, fh.Fd()); err != nil {
		return 0, err
	}
	rids, rows, err := victims(e.scan)
	if err != nil {
		return 0, err
	}
	for i, rid := range rids {
		if err := e.ctx.Lock.LockExclusiveOnRecord(tr, fh.Fd(), rid); err != nil {
			return i, err
		}
		old := rows[i]
		newData, err := applySets(tab, old, e.plan.Sets)
		if err != nil {
			return i, err
		}
		if err := e.ctx.Sm.DeleteIndexEntries(tab.Name, old); err != nil {
			return i, err
		}
		if err := fh.UpdateRecord(rid, newData); err != nil {
			return i, err
		}
		if err := e.ctx.Sm.InsertIndexEntries(tab.Name, newData, rid); err != nil {
			// Put the old image back so the constraint failure leaves
			// no trace.
			fh.UpdateRecord(rid, old)
			e.ctx.Sm.InsertIndexEntries(tab.Name, old, rid)
			return i, err
		}
		lsn, err := e.ctx.Log.Append(&wal.LogRecord{
			Type: wal.LogUpdate, TxnID: tr.ID, PrevLSN: tr.PrevLSN,
			TabName: tab.Name, Rid: rid, OldData: old, NewData: newData,
		})
		if err != nil {
			return i, err
		}
		tr.PrevLSN = lsn
		if err := fh.SetPageLSN(rid.PageNo, lsn); err != nil {
			return i, err
		}
		tr.AppendWrite(txn.WriteUpdate, tab.Name, rid, old)
	}
	return len(rids), nil
}

// applySets builds the post-image of one row.
func applySets(tab *catalog.TabMeta, old []byte, sets []common.SetClause) ([]byte, error) {
	newData := make([]byte, len(old))
	copy(newData, old)
	for _, set := range sets {
		col, ok := tab.Col(set.Lhs.ColName)
		if !ok {
			return nil, errors.Wrapf(common.ErrColumnNotFound, "%s", set.Lhs.ColName)
		}
		v := set.Rhs
		if set.IsIncr {
			cur := common.DecodeValue(col.Type, old[col.Offset:col.Offset+col.Len])
			switch col.Type {
			case common.TypeInt:
				v.SetInt(cur.IntVal + set.Rhs.IntVal)
			case common.TypeBigInt:
				v.SetBigInt(cur.BigIntVal + set.Rhs.BigIntVal)
			case common.TypeFloat:
				v.SetFloat(cur.FloatVal + set.Rhs.FloatVal)
			}
		}
		if err := v.InitRaw(col.Len); err != nil {
			return nil, err
		}
		copy(newData[col.Offset:], v.Raw)
	}
	return newData, nil
}
