package txn

import (
	"github.com/petreldb/petrel-server/server/common"
)

// TxnState follows the two-phase locking life cycle.
type TxnState int

const (
	TXN_DEFAULT TxnState = iota
	TXN_GROWING
	TXN_SHRINKING
	TXN_COMMITTED
	TXN_ABORTED
)

func (s TxnState) String() string {
	switch s {
	case TXN_DEFAULT:
		return "DEFAULT"
	case TXN_GROWING:
		return "GROWING"
	case TXN_SHRINKING:
		return "SHRINKING"
	case TXN_COMMITTED:
		return "COMMITTED"
	case TXN_ABORTED:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// WriteType tags an entry of a transaction's write set.
type WriteType int

const (
	WriteInsert WriteType = iota
	WriteDelete
	WriteUpdate
)

// WriteRecord remembers one change so the transaction can be rolled
// back. Record holds the pre-image for deletes and updates.
type WriteRecord struct {
	Type    WriteType
	TabName string
	Rid     common.Rid
	Record  []byte
}

// Transaction tracks the state one client connection accumulates
// between BEGIN and COMMIT. Lower transaction ids are older, which is
// what the wait-die check compares.
type Transaction struct {
	ID      int
	State   TxnState
	PrevLSN int64

	WriteSet []*WriteRecord
	LockSet  map[LockDataID]struct{}
}

func NewTransaction(id int) *Transaction {
	return &Transaction{
		ID:      id,
		State:   TXN_DEFAULT,
		PrevLSN: common.InvalidLSN,
		LockSet: make(map[LockDataID]struct{}),
	}
}

// AppendWrite records a change for rollback.
func (t *Transaction) AppendWrite(wt WriteType, tabName string, rid common.Rid, record []byte) {
	t.WriteSet = append(t.WriteSet, &WriteRecord{
		Type:    wt,
		TabName: tabName,
		Rid:     rid,
		Record:  record,
	})
}
