package recovery

import (
	"github.com/petreldb/petrel-server/logger"
	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/txn"
	"github.com/petreldb/petrel-server/server/wal"
)

// RecoveryManager replays the write-ahead log at startup. One forward
// pass reconstructs per-transaction write sets and reapplies every
// logged change in order; transactions without a commit are then
// rolled back from their reconstructed write sets.
type RecoveryManager struct {
	sm  *catalog.SmManager
	log *wal.LogManager
	tm  *txn.TransactionManager
}

func NewRecoveryManager(sm *catalog.SmManager, log *wal.LogManager, tm *txn.TransactionManager) *RecoveryManager {
	return &RecoveryManager{sm: sm, log: log, tm: tm}
}

// Recover brings the database to the state of the last committed
// transaction.
func (rm *RecoveryManager) Recover() error {
	recs, err := rm.log.Records()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	active := make(map[int]*txn.Transaction)
	maxTxnID := 0
	redone, undone := 0, 0
	for _, rec := range recs {
		if rec.TxnID > maxTxnID {
			maxTxnID = rec.TxnID
		}
		switch rec.Type {
		case wal.LogBegin:
			active[rec.TxnID] = txn.NewTransaction(rec.TxnID)

		case wal.LogCommit:
			if t, ok := active[rec.TxnID]; ok {
				t.State = txn.TXN_COMMITTED
				t.WriteSet = nil
				delete(active, rec.TxnID)
			}

		case wal.LogAbort:
			// The rollback itself was not logged, so replay it from the
			// reconstructed write set before forgetting the transaction.
			if t, ok := active[rec.TxnID]; ok {
				n, err := rm.rollback(t)
				if err != nil {
					return err
				}
				undone += n
				t.State = txn.TXN_ABORTED
				delete(active, rec.TxnID)
			}

		case wal.LogInsert, wal.LogDelete, wal.LogUpdate:
			applied, err := rm.redo(rec)
			if err != nil {
				return err
			}
			if applied {
				redone++
			}
			if t, ok := active[rec.TxnID]; ok {
				t.WriteSet = append(t.WriteSet, writeRecord(rec))
			}
		}
	}

	for _, t := range active {
		n, err := rm.rollback(t)
		if err != nil {
			return err
		}
		undone += n
		t.State = txn.TXN_ABORTED
	}

	rm.tm.Advance(maxTxnID + 1)
	if err := rm.sm.FlushAll(); err != nil {
		return err
	}
	logger.Infof("recovery: %d log records, %d redone, %d undone, %d loser txns",
		len(recs), redone, undone, len(active))
	return nil
}

// redo reapplies one data record. Index pages carry no page_lsn, so
// replay never skips a record on the heap page's LSN: a heap page can
// reach disk ahead of its index pages, and skipping would lose the
// index half. The helpers tolerate effects that are already present,
// and replaying the whole log in order converges on the end-of-log
// state whatever subset of pages survived the crash.
func (rm *RecoveryManager) redo(rec *wal.LogRecord) (bool, error) {
	fh, err := rm.sm.FileHandle(rec.TabName)
	if err != nil {
		// The table was dropped after the record was written.
		return false, nil
	}
	switch rec.Type {
	case wal.LogInsert:
		err = rm.sm.RedoInsert(rec.TabName, rec.Rid, rec.NewData)
	case wal.LogDelete:
		err = rm.sm.RedoDelete(rec.TabName, rec.Rid, rec.OldData)
	case wal.LogUpdate:
		err = rm.sm.RedoUpdate(rec.TabName, rec.Rid, rec.OldData, rec.NewData)
	}
	if err != nil {
		return false, err
	}
	return true, fh.SetPageLSN(rec.Rid.PageNo, rec.LSN)
}

// rollback undoes a loser transaction's write set in reverse.
func (rm *RecoveryManager) rollback(t *txn.Transaction) (int, error) {
	for i := len(t.WriteSet) - 1; i >= 0; i-- {
		w := t.WriteSet[i]
		var err error
		switch w.Type {
		case txn.WriteInsert:
			err = rm.sm.RollbackInsert(w.TabName, w.Rid)
		case txn.WriteDelete:
			err = rm.sm.RollbackDelete(w.TabName, w.Rid, w.Record)
		case txn.WriteUpdate:
			err = rm.sm.RollbackUpdate(w.TabName, w.Rid, w.Record)
		}
		if err != nil {
			return 0, err
		}
	}
	n := len(t.WriteSet)
	t.WriteSet = nil
	return n, nil
}

func writeRecord(rec *wal.LogRecord) *txn.WriteRecord {
	w := &txn.WriteRecord{TabName: rec.TabName, Rid: rec.Rid}
	switch rec.Type {
	case wal.LogInsert:
		w.Type = txn.WriteInsert
	case wal.LogDelete:
		w.Type = txn.WriteDelete
		w.Record = rec.OldData
	case wal.LogUpdate:
		w.Type = txn.WriteUpdate
		w.Record = rec.OldData
	}
	return w
}
