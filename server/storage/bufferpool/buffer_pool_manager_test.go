package bufferpool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/storage/disk"
)

func openTestFile(t *testing.T) (*disk.DiskManager, int) {
	t.Helper()
	dm := disk.NewDiskManager()
	path := filepath.Join(t.TempDir(), "pool.db")
	require.NoError(t, dm.CreateFile(path))
	fd, err := dm.OpenFile(path)
	require.NoError(t, err)
	return dm, fd
}

func TestBufferPoolNewFetch(t *testing.T) {
	dm, fd := openTestFile(t)
	bpm := NewBufferPoolManager(8, dm)

	page, err := bpm.NewPage(fd)
	require.NoError(t, err)
	copy(page.Data, []byte("hello"))
	id := page.ID
	require.NoError(t, bpm.UnpinPage(id, true))

	again, err := bpm.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), again.Data[:5])
	require.NoError(t, bpm.UnpinPage(id, false))
}

func TestBufferPoolEviction(t *testing.T) {
	dm, fd := openTestFile(t)
	bpm := NewBufferPoolManager(4, dm)

	var ids []common.PageID
	for i := 0; i < 4; i++ {
		page, err := bpm.NewPage(fd)
		require.NoError(t, err)
		page.Data[0] = byte(i + 1)
		ids = append(ids, page.ID)
		require.NoError(t, bpm.UnpinPage(page.ID, true))
	}

	// A fifth page evicts the oldest and writes it back.
	extra, err := bpm.NewPage(fd)
	require.NoError(t, err)
	require.NoError(t, bpm.UnpinPage(extra.ID, false))

	page, err := bpm.FetchPage(ids[0])
	require.NoError(t, err)
	require.Equal(t, byte(1), page.Data[0])
	require.NoError(t, bpm.UnpinPage(ids[0], false))
}

func TestBufferPoolExhausted(t *testing.T) {
	dm, fd := openTestFile(t)
	bpm := NewBufferPoolManager(2, dm)

	for i := 0; i < 2; i++ {
		_, err := bpm.NewPage(fd)
		require.NoError(t, err)
	}
	// Both frames pinned.
	_, err := bpm.NewPage(fd)
	require.ErrorIs(t, err, common.ErrNoFreeFrame)
}

func TestBufferPoolFlushAll(t *testing.T) {
	dm, fd := openTestFile(t)
	bpm := NewBufferPoolManager(4, dm)

	page, err := bpm.NewPage(fd)
	require.NoError(t, err)
	copy(page.Data, []byte("persisted"))
	id := page.ID
	require.NoError(t, bpm.UnpinPage(id, true))
	require.NoError(t, bpm.FlushAllPages(fd))

	buf := make([]byte, common.PageSize)
	require.NoError(t, dm.ReadPage(fd, id.PageNo, buf))
	require.Equal(t, []byte("persisted"), buf[:9])
}

func TestBufferPoolFlushLogHook(t *testing.T) {
	dm, fd := openTestFile(t)
	bpm := NewBufferPoolManager(4, dm)
	calls := 0
	bpm.FlushLog = func() error {
		calls++
		return nil
	}

	page, err := bpm.NewPage(fd)
	require.NoError(t, err)
	require.NoError(t, bpm.UnpinPage(page.ID, true))
	require.NoError(t, bpm.FlushPage(page.ID))
	require.Equal(t, 1, calls)
}
