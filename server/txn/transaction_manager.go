package txn

import (
	"sync"

	"github.com/petreldb/petrel-server/logger"
	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/wal"
)

// TransactionManager hands out transaction ids and drives commit and
// rollback. Strict two-phase locking: every lock is held until the
// transaction finishes one way or the other.
type TransactionManager struct {
	mu sync.Mutex

	nextTxnID int
	txns      map[int]*Transaction

	Lock *LockManager
	log  *wal.LogManager
	sm   *catalog.SmManager
}

func NewTransactionManager(lock *LockManager, log *wal.LogManager, sm *catalog.SmManager) *TransactionManager {
	return &TransactionManager{
		nextTxnID: 1,
		txns:      make(map[int]*Transaction),
		Lock:      lock,
		log:       log,
		sm:        sm,
	}
}

// Begin starts a transaction and logs its birth.
func (tm *TransactionManager) Begin() (*Transaction, error) {
	tm.mu.Lock()
	txn := NewTransaction(tm.nextTxnID)
	tm.nextTxnID++
	tm.txns[txn.ID] = txn
	tm.mu.Unlock()

	lsn, err := tm.log.Append(&wal.LogRecord{
		Type:    wal.LogBegin,
		TxnID:   txn.ID,
		PrevLSN: common.InvalidLSN,
	})
	if err != nil {
		return nil, err
	}
	txn.PrevLSN = lsn
	return txn, nil
}

// Txn looks up a live transaction by id.
func (tm *TransactionManager) Txn(id int) (*Transaction, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	t, ok := tm.txns[id]
	return t, ok
}

// Advance makes sure future ids do not collide with ids seen in the
// log during recovery.
func (tm *TransactionManager) Advance(nextID int) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if nextID > tm.nextTxnID {
		tm.nextTxnID = nextID
	}
}

// Commit makes the transaction durable and releases its locks.
func (tm *TransactionManager) Commit(txn *Transaction) error {
	lsn, err := tm.log.Append(&wal.LogRecord{
		Type:    wal.LogCommit,
		TxnID:   txn.ID,
		PrevLSN: txn.PrevLSN,
	})
	if err != nil {
		return err
	}
	txn.PrevLSN = lsn
	if err := tm.log.Flush(); err != nil {
		return err
	}
	tm.finish(txn, TXN_COMMITTED)
	return nil
}

// Abort rolls the write set back in reverse order, logs the abort and
// releases the locks.
func (tm *TransactionManager) Abort(txn *Transaction) error {
	for i := len(txn.WriteSet) - 1; i >= 0; i-- {
		w := txn.WriteSet[i]
		var err error
		switch w.Type {
		case WriteInsert:
			err = tm.sm.RollbackInsert(w.TabName, w.Rid)
		case WriteDelete:
			err = tm.sm.RollbackDelete(w.TabName, w.Rid, w.Record)
		case WriteUpdate:
			err = tm.sm.RollbackUpdate(w.TabName, w.Rid, w.Record)
		}
		if err != nil {
			logger.Errorf("txn %d rollback step %d failed: %v", txn.ID, i, err)
			return err
		}
	}
	lsn, err := tm.log.Append(&wal.LogRecord{
		Type:    wal.LogAbort,
		TxnID:   txn.ID,
		PrevLSN: txn.PrevLSN,
	})
	if err != nil {
		return err
	}
	txn.PrevLSN = lsn
	if err := tm.log.Flush(); err != nil {
		return err
	}
	tm.finish(txn, TXN_ABORTED)
	return nil
}

func (tm *TransactionManager) finish(txn *Transaction, state TxnState) {
	tm.Lock.ReleaseAll(txn)
	txn.State = state
	txn.WriteSet = nil
	tm.mu.Lock()
	delete(tm.txns, txn.ID)
	tm.mu.Unlock()
}
