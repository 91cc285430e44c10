package index

import (
	"encoding/binary"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/storage/bufferpool"
	"github.com/petreldb/petrel-server/server/storage/disk"
)

func testIndex(t *testing.T) (*IxManager, *IxIndexHandle) {
	t.Helper()
	dm := disk.NewDiskManager()
	bpm := bufferpool.NewBufferPoolManager(256, dm)
	ix := NewIxManager(dm, bpm)
	path := filepath.Join(t.TempDir(), "t.idx")
	require.NoError(t, ix.CreateFile(path, []common.ColType{common.TypeInt}, []int{common.IntLen}))
	ih, err := ix.OpenFile(path)
	require.NoError(t, err)
	return ix, ih
}

func ikey(v int32) []byte {
	b := make([]byte, common.IntLen)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func TestIndexInsertGet(t *testing.T) {
	_, ih := testIndex(t)

	for i := int32(0); i < 10; i++ {
		require.NoError(t, ih.InsertEntry(ikey(i), common.Rid{PageNo: 1, SlotNo: int(i)}))
	}
	for i := int32(0); i < 10; i++ {
		rid, ok, err := ih.GetValue(ikey(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int(i), rid.SlotNo)
	}
	_, ok, err := ih.GetValue(ikey(99))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIndexUnique(t *testing.T) {
	_, ih := testIndex(t)
	require.NoError(t, ih.InsertEntry(ikey(7), common.Rid{PageNo: 1, SlotNo: 0}))
	err := ih.InsertEntry(ikey(7), common.Rid{PageNo: 1, SlotNo: 1})
	require.ErrorIs(t, err, common.ErrUniqueConstraint)
}

func scanAll(t *testing.T, ih *IxIndexHandle) []common.Rid {
	t.Helper()
	end, err := ih.End()
	require.NoError(t, err)
	scan := NewIxScan(ih, ih.Begin(), end)
	var rids []common.Rid
	for !scan.IsEnd() {
		rid, err := scan.Rid()
		require.NoError(t, err)
		rids = append(rids, rid)
		require.NoError(t, scan.Next())
	}
	return rids
}

func TestIndexSplitAndOrder(t *testing.T) {
	_, ih := testIndex(t)
	const n = 5000

	perm := rand.New(rand.NewSource(1)).Perm(n)
	for _, v := range perm {
		require.NoError(t, ih.InsertEntry(ikey(int32(v)), common.Rid{PageNo: v / 100, SlotNo: v % 100}))
	}
	require.Greater(t, ih.Hdr().NumPages, 3)

	rids := scanAll(t, ih)
	require.Len(t, rids, n)
	for v, rid := range rids {
		require.Equal(t, common.Rid{PageNo: v / 100, SlotNo: v % 100}, rid)
	}
}

func TestIndexDeleteAndCoalesce(t *testing.T) {
	_, ih := testIndex(t)
	const n = 3000

	for v := 0; v < n; v++ {
		require.NoError(t, ih.InsertEntry(ikey(int32(v)), common.Rid{PageNo: 1, SlotNo: v}))
	}
	// Remove every other key, then the rest, shrinking back to a leaf root.
	for v := 0; v < n; v += 2 {
		require.NoError(t, ih.DeleteEntry(ikey(int32(v))))
	}
	rids := scanAll(t, ih)
	require.Len(t, rids, n/2)
	for i, rid := range rids {
		require.Equal(t, 2*i+1, rid.SlotNo)
	}
	for v := 1; v < n; v += 2 {
		require.NoError(t, ih.DeleteEntry(ikey(int32(v))))
	}
	require.Empty(t, scanAll(t, ih))
	require.ErrorIs(t, ih.DeleteEntry(ikey(1)), common.ErrIndexEntryNotFound)

	// The emptied tree accepts inserts again.
	require.NoError(t, ih.InsertEntry(ikey(42), common.Rid{PageNo: 1, SlotNo: 42}))
	rid, ok, err := ih.GetValue(ikey(42))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42, rid.SlotNo)
}

func TestIndexRangeBounds(t *testing.T) {
	_, ih := testIndex(t)
	for v := 0; v < 100; v += 2 {
		require.NoError(t, ih.InsertEntry(ikey(int32(v)), common.Rid{PageNo: 1, SlotNo: v}))
	}

	// [10, 20] -> keys 10,12,...,20
	lo, err := ih.LowerBound(ikey(10))
	require.NoError(t, err)
	hi, err := ih.UpperBound(ikey(20))
	require.NoError(t, err)
	scan := NewIxScan(ih, lo, hi)
	var got []int
	for !scan.IsEnd() {
		rid, err := scan.Rid()
		require.NoError(t, err)
		got = append(got, rid.SlotNo)
		require.NoError(t, scan.Next())
	}
	require.Equal(t, []int{10, 12, 14, 16, 18, 20}, got)

	// Bounds between keys land on the next key.
	lo, err = ih.LowerBound(ikey(11))
	require.NoError(t, err)
	rid, err := ih.GetRid(lo)
	require.NoError(t, err)
	require.Equal(t, 12, rid.SlotNo)
}

func TestIndexCompositeKeyOrder(t *testing.T) {
	dm := disk.NewDiskManager()
	bpm := bufferpool.NewBufferPoolManager(256, dm)
	ix := NewIxManager(dm, bpm)
	path := filepath.Join(t.TempDir(), "t.idx")
	types := []common.ColType{common.TypeInt, common.TypeString}
	lens := []int{common.IntLen, 4}
	require.NoError(t, ix.CreateFile(path, types, lens))
	ih, err := ix.OpenFile(path)
	require.NoError(t, err)

	key := func(a int32, b string) []byte {
		k := make([]byte, 8)
		binary.LittleEndian.PutUint32(k, uint32(a))
		copy(k[4:], b)
		return k
	}
	// Same leading column, distinct second column: both keys coexist and
	// order lexicographically.
	require.NoError(t, ih.InsertEntry(key(1, "bb"), common.Rid{PageNo: 1, SlotNo: 0}))
	require.NoError(t, ih.InsertEntry(key(1, "aa"), common.Rid{PageNo: 1, SlotNo: 1}))
	require.NoError(t, ih.InsertEntry(key(0, "zz"), common.Rid{PageNo: 1, SlotNo: 2}))
	require.NoError(t, ih.InsertEntry(key(2, "aa"), common.Rid{PageNo: 1, SlotNo: 3}))
	require.ErrorIs(t, ih.InsertEntry(key(1, "aa"), common.Rid{PageNo: 9, SlotNo: 9}),
		common.ErrUniqueConstraint)

	rids := scanAll(t, ih)
	slots := make([]int, len(rids))
	for i, rid := range rids {
		slots[i] = rid.SlotNo
	}
	require.Equal(t, []int{2, 1, 0, 3}, slots)

	// Prefix range over the leading column: pad the second column with
	// its extremes.
	lo, err := ih.LowerBound(key(1, "\x00\x00\x00\x00"))
	require.NoError(t, err)
	hi, err := ih.UpperBound(key(1, "\xff\xff\xff\xff"))
	require.NoError(t, err)
	scan := NewIxScan(ih, lo, hi)
	var got []int
	for !scan.IsEnd() {
		rid, err := scan.Rid()
		require.NoError(t, err)
		got = append(got, rid.SlotNo)
		require.NoError(t, scan.Next())
	}
	require.Equal(t, []int{1, 0}, got)
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	dm := disk.NewDiskManager()
	bpm := bufferpool.NewBufferPoolManager(256, dm)
	ix := NewIxManager(dm, bpm)
	path := filepath.Join(t.TempDir(), "t.idx")
	require.NoError(t, ix.CreateFile(path, []common.ColType{common.TypeInt}, []int{common.IntLen}))

	ih, err := ix.OpenFile(path)
	require.NoError(t, err)
	for v := 0; v < 2000; v++ {
		require.NoError(t, ih.InsertEntry(ikey(int32(v)), common.Rid{PageNo: 1, SlotNo: v}))
	}
	require.NoError(t, ix.CloseFile(ih))

	ih, err = ix.OpenFile(path)
	require.NoError(t, err)
	rids := scanAll(t, ih)
	require.Len(t, rids, 2000)
	rid, ok, err := ih.GetValue(ikey(1234))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1234, rid.SlotNo)
	require.NoError(t, ix.CloseFile(ih))
}
