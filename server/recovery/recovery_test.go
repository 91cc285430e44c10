package recovery

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
	"github.com/petreldb/petrel-server/server/txn"
	"github.com/petreldb/petrel-server/server/wal"
)

type harness struct {
	sm  *catalog.SmManager
	log *wal.LogManager
	tm  *txn.TransactionManager
	lf  *disk.LogFile
	dir string
}

func open(t *testing.T, dir string) *harness {
	t.Helper()
	dm := disk.NewDiskManager()
	bpm := bufferpool.NewBufferPoolManager(256, dm)
	sm := catalog.NewSmManager(dm, bpm, heap.NewRmManager(dm, bpm), index.NewIxManager(dm, bpm))
	if !catalog.IsDatabase(dir) {
		require.NoError(t, sm.CreateDatabase(dir))
	}
	require.NoError(t, sm.OpenDatabase(dir))
	lf, err := disk.OpenLogFile(filepath.Join(dir, "db.log"))
	require.NoError(t, err)
	log, err := wal.NewLogManager(lf, 0)
	require.NoError(t, err)
	tm := txn.NewTransactionManager(txn.NewLockManager(), log, sm)
	return &harness{sm: sm, log: log, tm: tm, lf: lf, dir: dir}
}

func encInt(t *testing.T, v int32) []byte {
	t.Helper()
	var val common.Value
	val.SetInt(v)
	require.NoError(t, val.InitRaw(common.IntLen))
	return val.Raw
}

// logged mirrors what the write executors do: mutate, log, remember.
func (h *harness) loggedInsert(t *testing.T, tr *txn.Transaction, tab string, data []byte) common.Rid {
	t.Helper()
	fh, err := h.sm.FileHandle(tab)
	require.NoError(t, err)
	rid, err := fh.InsertRecord(data)
	require.NoError(t, err)
	lsn, err := h.log.Append(&wal.LogRecord{
		Type: wal.LogInsert, TxnID: tr.ID, PrevLSN: tr.PrevLSN,
		TabName: tab, Rid: rid, NewData: data,
	})
	require.NoError(t, err)
	tr.PrevLSN = lsn
	require.NoError(t, fh.SetPageLSN(rid.PageNo, lsn))
	tr.AppendWrite(txn.WriteInsert, tab, rid, nil)
	return rid
}

func (h *harness) loggedUpdate(t *testing.T, tr *txn.Transaction, tab string, rid common.Rid, data []byte) {
	t.Helper()
	fh, err := h.sm.FileHandle(tab)
	require.NoError(t, err)
	old, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.NoError(t, fh.UpdateRecord(rid, data))
	lsn, err := h.log.Append(&wal.LogRecord{
		Type: wal.LogUpdate, TxnID: tr.ID, PrevLSN: tr.PrevLSN,
		TabName: tab, Rid: rid, OldData: old.Data, NewData: data,
	})
	require.NoError(t, err)
	tr.PrevLSN = lsn
	require.NoError(t, fh.SetPageLSN(rid.PageNo, lsn))
	tr.AppendWrite(txn.WriteUpdate, tab, rid, old.Data)
}

// crash abandons the harness without flushing data pages. Only the log
// and whatever the pool happened to evict are on disk.
func (h *harness) crash(t *testing.T) {
	t.Helper()
	require.NoError(t, h.lf.Close())
}

func TestRecoverRedoCommitted(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	h := open(t, dir)
	require.NoError(t, h.sm.CreateTable("t", []catalog.ColMeta{
		{Name: "id", Type: common.TypeInt, Len: common.IntLen},
	}))

	tr, err := h.tm.Begin()
	require.NoError(t, err)
	rid := h.loggedInsert(t, tr, "t", encInt(t, 7))
	require.NoError(t, h.tm.Commit(tr))
	h.crash(t)

	h2 := open(t, dir)
	defer h2.lf.Close()
	require.NoError(t, NewRecoveryManager(h2.sm, h2.log, h2.tm).Recover())

	fh, err := h2.sm.FileHandle("t")
	require.NoError(t, err)
	rec, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.Equal(t, encInt(t, 7), rec.Data)
}

func TestRecoverRestoresIndexEntries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	h := open(t, dir)
	require.NoError(t, h.sm.CreateTable("t", []catalog.ColMeta{
		{Name: "id", Type: common.TypeInt, Len: common.IntLen},
	}))
	require.NoError(t, h.sm.CreateIndex("t", []string{"id"}))

	// The heap half of the insert reaches disk stamped with its LSN;
	// the index entry is never written, as if its pages were lost.
	tr, err := h.tm.Begin()
	require.NoError(t, err)
	rid := h.loggedInsert(t, tr, "t", encInt(t, 8))
	require.NoError(t, h.tm.Commit(tr))
	require.NoError(t, h.sm.FlushAll())
	h.crash(t)

	h2 := open(t, dir)
	defer h2.lf.Close()
	require.NoError(t, NewRecoveryManager(h2.sm, h2.log, h2.tm).Recover())

	ih, err := h2.sm.IndexHandle("t", "id")
	require.NoError(t, err)
	got, ok, err := ih.GetValue(encInt(t, 8))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rid, got)
}

func TestRecoverUndoLoser(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	h := open(t, dir)
	require.NoError(t, h.sm.CreateTable("t", []catalog.ColMeta{
		{Name: "id", Type: common.TypeInt, Len: common.IntLen},
	}))

	// Committed baseline row.
	tr1, err := h.tm.Begin()
	require.NoError(t, err)
	keep := h.loggedInsert(t, tr1, "t", encInt(t, 1))
	require.NoError(t, h.tm.Commit(tr1))

	// Loser transaction: inserts and updates, never commits.
	tr2, err := h.tm.Begin()
	require.NoError(t, err)
	gone := h.loggedInsert(t, tr2, "t", encInt(t, 2))
	h.loggedUpdate(t, tr2, "t", keep, encInt(t, 99))
	require.NoError(t, h.log.Flush())
	h.crash(t)

	h2 := open(t, dir)
	defer h2.lf.Close()
	require.NoError(t, NewRecoveryManager(h2.sm, h2.log, h2.tm).Recover())

	fh, err := h2.sm.FileHandle("t")
	require.NoError(t, err)
	rec, err := fh.GetRecord(keep)
	require.NoError(t, err)
	require.Equal(t, encInt(t, 1), rec.Data)
	_, err = fh.GetRecord(gone)
	require.ErrorIs(t, err, common.ErrRecordNotFound)
}

func TestRecoverAbortedTxnStaysUndone(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	h := open(t, dir)
	require.NoError(t, h.sm.CreateTable("t", []catalog.ColMeta{
		{Name: "id", Type: common.TypeInt, Len: common.IntLen},
	}))

	tr, err := h.tm.Begin()
	require.NoError(t, err)
	rid := h.loggedInsert(t, tr, "t", encInt(t, 3))
	require.NoError(t, h.tm.Abort(tr))
	h.crash(t)

	h2 := open(t, dir)
	defer h2.lf.Close()
	require.NoError(t, NewRecoveryManager(h2.sm, h2.log, h2.tm).Recover())

	fh, err := h2.sm.FileHandle("t")
	require.NoError(t, err)
	_, err = fh.GetRecord(rid)
	require.ErrorIs(t, err, common.ErrRecordNotFound)
}

func TestRecoverIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	h := open(t, dir)
	require.NoError(t, h.sm.CreateTable("t", []catalog.ColMeta{
		{Name: "id", Type: common.TypeInt, Len: common.IntLen},
	}))
	tr, err := h.tm.Begin()
	require.NoError(t, err)
	rid := h.loggedInsert(t, tr, "t", encInt(t, 4))
	require.NoError(t, h.tm.Commit(tr))
	h.crash(t)

	h2 := open(t, dir)
	require.NoError(t, NewRecoveryManager(h2.sm, h2.log, h2.tm).Recover())
	require.NoError(t, h2.sm.CloseDatabase())
	require.NoError(t, h2.lf.Close())

	// A second crashless restart replays the same log without damage.
	h3 := open(t, dir)
	defer h3.lf.Close()
	require.NoError(t, NewRecoveryManager(h3.sm, h3.log, h3.tm).Recover())
	fh, err := h3.sm.FileHandle("t")
	require.NoError(t, err)
	rec, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.Equal(t, encInt(t, 4), rec.Data)
}
