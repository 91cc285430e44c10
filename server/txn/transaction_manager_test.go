package txn

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/storage/bufferpool"
	"github.com/petreldb/petrel-server/server/storage/disk"
	"github.com/petreldb/petrel-server/server/storage/heap"
	"github.com/petreldb/petrel-server/server/storage/index"
	"github.com/petreldb/petrel-server/server/wal"
)

func newTxnManager(t *testing.T) (*TransactionManager, *catalog.SmManager) {
	t.Helper()
	dm := disk.NewDiskManager()
	bpm := bufferpool.NewBufferPoolManager(256, dm)
	sm := catalog.NewSmManager(dm, bpm, heap.NewRmManager(dm, bpm), index.NewIxManager(dm, bpm))
	dir := filepath.Join(t.TempDir(), "db")
	require.NoError(t, sm.CreateDatabase(dir))
	require.NoError(t, sm.OpenDatabase(dir))

	lf, err := disk.OpenLogFile(filepath.Join(dir, "db.log"))
	require.NoError(t, err)
	t.Cleanup(func() { lf.Close() })
	lm, err := wal.NewLogManager(lf, 0)
	require.NoError(t, err)

	return NewTransactionManager(NewLockManager(), lm, sm), sm
}

func TestBeginAssignsIncreasingIDs(t *testing.T) {
	tm, _ := newTxnManager(t)
	t1, err := tm.Begin()
	require.NoError(t, err)
	t2, err := tm.Begin()
	require.NoError(t, err)
	require.Greater(t, t2.ID, t1.ID)
	require.NotEqual(t, int64(common.InvalidLSN), t1.PrevLSN)
}

func TestCommitReleasesLocks(t *testing.T) {
	tm, _ := newTxnManager(t)
	t1, err := tm.Begin()
	require.NoError(t, err)
	require.NoError(t, tm.Lock.LockExclusiveOnRecord(t1, 0, common.Rid{PageNo: 1, SlotNo: 0}))

	require.NoError(t, tm.Commit(t1))
	require.Equal(t, TXN_COMMITTED, t1.State)
	require.Empty(t, t1.LockSet)

	t2, err := tm.Begin()
	require.NoError(t, err)
	require.NoError(t, tm.Lock.LockExclusiveOnRecord(t2, 0, common.Rid{PageNo: 1, SlotNo: 0}))
}

func TestAbortUndoesWrites(t *testing.T) {
	tm, sm := newTxnManager(t)
	require.NoError(t, sm.CreateTable("t", []catalog.ColMeta{
		{Name: "id", Type: common.TypeInt, Len: common.IntLen},
	}))
	fh, err := sm.FileHandle("t")
	require.NoError(t, err)

	t1, err := tm.Begin()
	require.NoError(t, err)

	// Insert then update inside the transaction.
	var v common.Value
	v.SetInt(7)
	require.NoError(t, v.InitRaw(common.IntLen))
	rid, err := fh.InsertRecord(v.Raw)
	require.NoError(t, err)
	t1.AppendWrite(WriteInsert, "t", rid, nil)

	old, err := fh.GetRecord(rid)
	require.NoError(t, err)
	var v2 common.Value
	v2.SetInt(8)
	require.NoError(t, v2.InitRaw(common.IntLen))
	require.NoError(t, fh.UpdateRecord(rid, v2.Raw))
	t1.AppendWrite(WriteUpdate, "t", rid, old.Data)

	require.NoError(t, tm.Abort(t1))
	require.Equal(t, TXN_ABORTED, t1.State)
	_, err = fh.GetRecord(rid)
	require.ErrorIs(t, err, common.ErrRecordNotFound)
}

func TestAbortRestoresDelete(t *testing.T) {
	tm, sm := newTxnManager(t)
	require.NoError(t, sm.CreateTable("t", []catalog.ColMeta{
		{Name: "id", Type: common.TypeInt, Len: common.IntLen},
	}))
	fh, err := sm.FileHandle("t")
	require.NoError(t, err)

	var v common.Value
	v.SetInt(5)
	require.NoError(t, v.InitRaw(common.IntLen))
	rid, err := fh.InsertRecord(v.Raw)
	require.NoError(t, err)

	t1, err := tm.Begin()
	require.NoError(t, err)
	rec, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.NoError(t, fh.DeleteRecord(rid))
	t1.AppendWrite(WriteDelete, "t", rid, rec.Data)

	require.NoError(t, tm.Abort(t1))
	back, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.Equal(t, rec.Data, back.Data)
}
