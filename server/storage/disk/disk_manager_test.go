package disk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petreldb/petrel-server/server/common"
)

func TestDiskManagerLifecycle(t *testing.T) {
	dm := NewDiskManager()
	path := filepath.Join(t.TempDir(), "t.db")

	require.NoError(t, dm.CreateFile(path))
	require.True(t, dm.IsFile(path))
	require.ErrorIs(t, dm.CreateFile(path), common.ErrFileExists)

	fd, err := dm.OpenFile(path)
	require.NoError(t, err)
	_, err = dm.OpenFile(path)
	require.ErrorIs(t, err, common.ErrFileNotClosed)
	require.ErrorIs(t, dm.DestroyFile(path), common.ErrFileNotClosed)

	require.NoError(t, dm.CloseFile(fd))
	require.ErrorIs(t, dm.CloseFile(fd), common.ErrFileNotOpen)
	require.NoError(t, dm.DestroyFile(path))
	require.False(t, dm.IsFile(path))
}

func TestDiskManagerReadWritePage(t *testing.T) {
	dm := NewDiskManager()
	path := filepath.Join(t.TempDir(), "t.db")
	require.NoError(t, dm.CreateFile(path))
	fd, err := dm.OpenFile(path)
	require.NoError(t, err)

	out := make([]byte, common.PageSize)
	copy(out, []byte("page two"))
	require.NoError(t, dm.WritePage(fd, 2, out))

	in := make([]byte, common.PageSize)
	require.NoError(t, dm.ReadPage(fd, 2, in))
	require.Equal(t, out, in)

	// Page 0 and 1 read back zero-filled.
	require.NoError(t, dm.ReadPage(fd, 0, in))
	require.Equal(t, make([]byte, common.PageSize), in)
}

func TestDiskManagerAllocatePage(t *testing.T) {
	dm := NewDiskManager()
	path := filepath.Join(t.TempDir(), "t.db")
	require.NoError(t, dm.CreateFile(path))
	fd, err := dm.OpenFile(path)
	require.NoError(t, err)

	p0, err := dm.AllocatePage(fd)
	require.NoError(t, err)
	require.Equal(t, 0, p0)
	p1, err := dm.AllocatePage(fd)
	require.NoError(t, err)
	require.Equal(t, 1, p1)

	// Reopen resumes allocation after the last written page.
	buf := make([]byte, common.PageSize)
	require.NoError(t, dm.WritePage(fd, 1, buf))
	require.NoError(t, dm.CloseFile(fd))
	fd, err = dm.OpenFile(path)
	require.NoError(t, err)
	p2, err := dm.AllocatePage(fd)
	require.NoError(t, err)
	require.Equal(t, 2, p2)
}

func TestLogFileAppendRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	lf, err := OpenLogFile(path)
	require.NoError(t, err)
	defer lf.Close()

	require.NoError(t, lf.Append([]byte("abc")))
	require.NoError(t, lf.Append([]byte("def")))

	size, err := lf.Size()
	require.NoError(t, err)
	require.Equal(t, int64(6), size)

	buf := make([]byte, 4)
	n, err := lf.ReadAt(buf, 2)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("cdef"), buf)
}
