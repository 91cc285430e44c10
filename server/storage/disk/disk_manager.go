package disk

import (
	"os"
	"sync"

	"github.com/juju/errors"

	"github.com/petreldb/petrel-server/logger"
	"github.com/petreldb/petrel-server/server/common"
)

// DiskManager owns the open file table. Every page read and write in the
// system funnels through here; fds handed out are keys into the table,
// not OS descriptors. Every OpenFile hands out a fresh fd, so reopening a
// file yields a different fd and a closed fd is never reused.
type DiskManager struct {
	mu sync.Mutex

	files    map[string]int // path -> fd of an opened file
	paths    map[int]string // fd -> path
	handles  map[int]*os.File
	nextPage map[int]int // fd -> next page number to allocate
	nextFd   int
}

func NewDiskManager() *DiskManager {
	return &DiskManager{
		files:    make(map[string]int),
		paths:    make(map[int]string),
		handles:  make(map[int]*os.File),
		nextPage: make(map[int]int),
	}
}

// IsFile reports whether path exists as a regular file.
func (dm *DiskManager) IsFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// CreateFile creates an empty file. The file is not opened.
func (dm *DiskManager) CreateFile(path string) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.IsFile(path) {
		return errors.Annotatef(common.ErrFileExists, "%s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return errors.Annotatef(common.ErrUnixError, "create %s: %v", path, err)
	}
	return f.Close()
}

// OpenFile opens path and returns its fd. Opening an already open file
// is an error.
func (dm *DiskManager) OpenFile(path string) (int, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if !dm.IsFile(path) {
		return -1, errors.Annotatef(common.ErrFileNotFound, "%s", path)
	}
	if _, ok := dm.files[path]; ok {
		return -1, errors.Annotatef(common.ErrFileNotClosed, "%s", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return -1, errors.Annotatef(common.ErrUnixError, "open %s: %v", path, err)
	}
	fd := dm.nextFd
	dm.nextFd++
	dm.files[path] = fd
	dm.paths[fd] = path
	dm.handles[fd] = f

	st, err := f.Stat()
	if err != nil {
		return -1, errors.Annotatef(common.ErrUnixError, "stat %s: %v", path, err)
	}
	dm.nextPage[fd] = int(st.Size() / common.PageSize)
	return fd, nil
}

// CloseFile closes an open fd.
func (dm *DiskManager) CloseFile(fd int) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	f, ok := dm.handles[fd]
	if !ok {
		return errors.Annotatef(common.ErrFileNotOpen, "fd %d", fd)
	}
	path := dm.paths[fd]
	delete(dm.files, path)
	delete(dm.paths, fd)
	delete(dm.handles, fd)
	delete(dm.nextPage, fd)
	if err := f.Close(); err != nil {
		return errors.Annotatef(common.ErrUnixError, "close %s: %v", path, err)
	}
	return nil
}

// DestroyFile removes path from disk. The file must be closed.
func (dm *DiskManager) DestroyFile(path string) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if !dm.IsFile(path) {
		return errors.Annotatef(common.ErrFileNotFound, "%s", path)
	}
	if _, ok := dm.files[path]; ok {
		return errors.Annotatef(common.ErrFileNotClosed, "%s", path)
	}
	if err := os.Remove(path); err != nil {
		return errors.Annotatef(common.ErrUnixError, "remove %s: %v", path, err)
	}
	return nil
}

// Path returns the path an fd was opened with.
func (dm *DiskManager) Path(fd int) (string, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	path, ok := dm.paths[fd]
	if !ok {
		return "", errors.Annotatef(common.ErrFileNotOpen, "fd %d", fd)
	}
	return path, nil
}

// Fd returns the fd a path is currently open under, if any.
func (dm *DiskManager) Fd(path string) (int, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	fd, ok := dm.files[path]
	return fd, ok
}

func (dm *DiskManager) handle(fd int) (*os.File, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	f, ok := dm.handles[fd]
	if !ok {
		return nil, errors.Annotatef(common.ErrFileNotOpen, "fd %d", fd)
	}
	return f, nil
}

// ReadPage reads page pageNo of fd into buf. buf must be PageSize long.
func (dm *DiskManager) ReadPage(fd, pageNo int, buf []byte) error {
	f, err := dm.handle(fd)
	if err != nil {
		return err
	}
	n, err := f.ReadAt(buf, int64(pageNo)*common.PageSize)
	if err != nil && n != len(buf) {
		return errors.Annotatef(common.ErrUnixError, "read page %d of fd %d: %v", pageNo, fd, err)
	}
	return nil
}

// WritePage writes buf as page pageNo of fd.
func (dm *DiskManager) WritePage(fd, pageNo int, buf []byte) error {
	f, err := dm.handle(fd)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(buf, int64(pageNo)*common.PageSize); err != nil {
		return errors.Annotatef(common.ErrUnixError, "write page %d of fd %d: %v", pageNo, fd, err)
	}
	return nil
}

// AllocatePage hands out the next unused page number of fd. The page
// materializes on disk at the first WritePage.
func (dm *DiskManager) AllocatePage(fd int) (int, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if _, ok := dm.handles[fd]; !ok {
		return -1, errors.Annotatef(common.ErrFileNotOpen, "fd %d", fd)
	}
	pageNo := dm.nextPage[fd]
	dm.nextPage[fd] = pageNo + 1
	return pageNo, nil
}

// SetNextPage bumps the allocation cursor of fd, used when a file header
// already records how many pages exist.
func (dm *DiskManager) SetNextPage(fd, numPages int) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if numPages > dm.nextPage[fd] {
		dm.nextPage[fd] = numPages
	}
}

// Sync flushes fd to stable storage.
func (dm *DiskManager) Sync(fd int) error {
	f, err := dm.handle(fd)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return errors.Annotatef(common.ErrUnixError, "sync fd %d: %v", fd, err)
	}
	return nil
}

// CloseAll closes every open fd without syncing it. Used on shutdown.
func (dm *DiskManager) CloseAll() {
	dm.mu.Lock()
	var fds []int
	for fd := range dm.handles {
		fds = append(fds, fd)
	}
	dm.mu.Unlock()
	for _, fd := range fds {
		if err := dm.CloseFile(fd); err != nil {
			logger.Warnf("close fd %d: %v", fd, err)
		}
	}
}
