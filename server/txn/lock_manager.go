package txn

import (
	"encoding/binary"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/common"
)

// LockMode is the multi-granularity lock alphabet.
type LockMode int

const (
	LOCK_IS LockMode = iota
	LOCK_IX
	LOCK_S
	LOCK_X
	LOCK_SIX
)

func (m LockMode) String() string {
	switch m {
	case LOCK_IS:
		return "IS"
	case LOCK_IX:
		return "IX"
	case LOCK_S:
		return "S"
	case LOCK_X:
		return "X"
	case LOCK_SIX:
		return "SIX"
	}
	return "?"
}

// LockDataType says whether a lock covers a whole table or one record.
type LockDataType int

const (
	LockTable LockDataType = iota
	LockRecord
)

// LockDataID names one lockable object.
type LockDataID struct {
	Fd   int
	Rid  common.Rid
	Type LockDataType
}

func tableID(fd int) LockDataID {
	return LockDataID{Fd: fd, Type: LockTable}
}

func recordID(fd int, rid common.Rid) LockDataID {
	return LockDataID{Fd: fd, Rid: rid, Type: LockRecord}
}

// compatible is the standard multi-granularity compatibility matrix.
func compatible(a, b LockMode) bool {
	switch a {
	case LOCK_IS:
		return b != LOCK_X
	case LOCK_IX:
		return b == LOCK_IS || b == LOCK_IX
	case LOCK_S:
		return b == LOCK_IS || b == LOCK_S
	case LOCK_SIX:
		return b == LOCK_IS
	case LOCK_X:
		return false
	}
	return false
}

// combine yields the weakest mode covering both held and wanted.
func combine(a, b LockMode) LockMode {
	if a == b {
		return a
	}
	if a == LOCK_X || b == LOCK_X {
		return LOCK_X
	}
	if a == LOCK_SIX || b == LOCK_SIX {
		return LOCK_SIX
	}
	if (a == LOCK_S && b == LOCK_IX) || (a == LOCK_IX && b == LOCK_S) {
		return LOCK_SIX
	}
	if a == LOCK_IS {
		return b
	}
	return a
}

type lockRequest struct {
	txnID   int
	mode    LockMode
	granted bool
}

type lockQueue struct {
	requests []*lockRequest
	cond     *sync.Cond
}

func (q *lockQueue) find(txnID int) *lockRequest {
	for _, r := range q.requests {
		if r.txnID == txnID {
			return r
		}
	}
	return nil
}

func (q *lockQueue) remove(txnID int) {
	for i, r := range q.requests {
		if r.txnID == txnID {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return
		}
	}
}

// grantable reports whether mode conflicts with no granted request of
// another transaction.
func (q *lockQueue) grantable(mode LockMode, txnID int) bool {
	for _, r := range q.requests {
		if r.txnID == txnID || !r.granted {
			continue
		}
		if !compatible(mode, r.mode) {
			return false
		}
	}
	return true
}

// olderHolderConflicts reports whether some conflicting granted holder
// is older than txnID. Under wait-die the younger requester must abort
// rather than wait behind it.
func (q *lockQueue) olderHolderConflicts(mode LockMode, txnID int) bool {
	for _, r := range q.requests {
		if r.txnID == txnID || !r.granted {
			continue
		}
		if !compatible(mode, r.mode) && r.txnID < txnID {
			return true
		}
	}
	return false
}

const lockShards = 16

type lockShard struct {
	mu     sync.Mutex
	queues map[LockDataID]*lockQueue
}

// LockManager implements strict two-phase locking with wait-die
// deadlock prevention. The lock table is sharded by a hash of the lock
// id so unrelated objects do not contend on one mutex.
type LockManager struct {
	shards [lockShards]*lockShard
}

func NewLockManager() *LockManager {
	lm := &LockManager{}
	for i := range lm.shards {
		lm.shards[i] = &lockShard{queues: make(map[LockDataID]*lockQueue)}
	}
	return lm
}

func (lm *LockManager) shard(id LockDataID) *lockShard {
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(id.Fd))
	binary.LittleEndian.PutUint32(buf[4:], uint32(id.Rid.PageNo))
	binary.LittleEndian.PutUint32(buf[8:], uint32(id.Rid.SlotNo))
	binary.LittleEndian.PutUint32(buf[12:], uint32(id.Type))
	return lm.shards[xxhash.Checksum64(buf[:])%lockShards]
}

func abortErr(txn *Transaction, reason common.AbortReason) error {
	return errors.WithStack(&common.TxnAbortError{TxnID: txn.ID, Reason: reason})
}

func (lm *LockManager) acquire(txn *Transaction, id LockDataID, mode LockMode) error {
	switch txn.State {
	case TXN_DEFAULT:
		txn.State = TXN_GROWING
	case TXN_GROWING:
	default:
		return abortErr(txn, common.AbortLockOnShrinking)
	}

	shard := lm.shard(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	q, ok := shard.queues[id]
	if !ok {
		q = &lockQueue{cond: sync.NewCond(&shard.mu)}
		shard.queues[id] = q
	}

	if held := q.find(txn.ID); held != nil {
		if held.mode == mode || held.mode == LOCK_X ||
			(held.mode == LOCK_SIX && mode != LOCK_X) {
			return nil
		}
		target := combine(held.mode, mode)
		for !q.grantable(target, txn.ID) {
			if q.olderHolderConflicts(target, txn.ID) {
				return abortErr(txn, common.AbortDeadlockPrevention)
			}
			q.cond.Wait()
		}
		held.mode = target
		return nil
	}

	req := &lockRequest{txnID: txn.ID, mode: mode}
	q.requests = append(q.requests, req)
	for !q.grantable(mode, txn.ID) {
		if q.olderHolderConflicts(mode, txn.ID) {
			q.remove(txn.ID)
			q.cond.Broadcast()
			return abortErr(txn, common.AbortDeadlockPrevention)
		}
		q.cond.Wait()
	}
	req.granted = true
	txn.LockSet[id] = struct{}{}
	return nil
}

// LockSharedOnRecord takes S on one record of a table.
func (lm *LockManager) LockSharedOnRecord(txn *Transaction, fd int, rid common.Rid) error {
	return lm.acquire(txn, recordID(fd, rid), LOCK_S)
}

// LockExclusiveOnRecord takes X on one record of a table.
func (lm *LockManager) LockExclusiveOnRecord(txn *Transaction, fd int, rid common.Rid) error {
	return lm.acquire(txn, recordID(fd, rid), LOCK_X)
}

// LockSharedOnTable takes S on a whole table.
func (lm *LockManager) LockSharedOnTable(txn *Transaction, fd int) error {
	return lm.acquire(txn, tableID(fd), LOCK_S)
}

// LockExclusiveOnTable takes X on a whole table.
func (lm *LockManager) LockExclusiveOnTable(txn *Transaction, fd int) error {
	return lm.acquire(txn, tableID(fd), LOCK_X)
}

// LockISOnTable announces record reads under a table.
func (lm *LockManager) LockISOnTable(txn *Transaction, fd int) error {
	return lm.acquire(txn, tableID(fd), LOCK_IS)
}

// LockIXOnTable announces record writes under a table.
func (lm *LockManager) LockIXOnTable(txn *Transaction, fd int) error {
	return lm.acquire(txn, tableID(fd), LOCK_IX)
}

// Unlock releases one lock and wakes the queue.
func (lm *LockManager) Unlock(txn *Transaction, id LockDataID) {
	shard := lm.shard(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if txn.State == TXN_GROWING {
		txn.State = TXN_SHRINKING
	}
	q, ok := shard.queues[id]
	if !ok {
		return
	}
	q.remove(txn.ID)
	delete(txn.LockSet, id)
	if len(q.requests) == 0 {
		delete(shard.queues, id)
		return
	}
	q.cond.Broadcast()
}

// ReleaseAll drops every lock the transaction holds.
func (lm *LockManager) ReleaseAll(txn *Transaction) {
	for id := range txn.LockSet {
		lm.Unlock(txn, id)
	}
}
