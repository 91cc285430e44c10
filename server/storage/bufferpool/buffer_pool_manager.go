package bufferpool

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/storage/disk"
)

// BufferPoolManager caches file pages in a fixed set of frames. A single
// mutex guards the page table and the free list; page contents are
// protected by each Page's own latch.
type BufferPoolManager struct {
	mu sync.Mutex

	disk     *disk.DiskManager
	replacer *LRUReplacer

	frames    []*Page
	pageTable map[common.PageID]int // page id -> frame id
	freeList  []int

	// FlushLog, when set, runs before a dirty page goes to disk so the
	// log never lags the data it describes.
	FlushLog func() error
}

func NewBufferPoolManager(poolSize int, dm *disk.DiskManager) *BufferPoolManager {
	bpm := &BufferPoolManager{
		disk:      dm,
		replacer:  NewLRUReplacer(),
		frames:    make([]*Page, poolSize),
		pageTable: make(map[common.PageID]int, poolSize),
		freeList:  make([]int, 0, poolSize),
	}
	for i := range bpm.frames {
		bpm.frames[i] = newPage()
		bpm.freeList = append(bpm.freeList, i)
	}
	return bpm
}

// findVictim picks a frame from the free list, or evicts one. Caller
// holds bpm.mu. The evicted page, if dirty, is written out first.
func (bpm *BufferPoolManager) findVictim() (int, error) {
	if n := len(bpm.freeList); n > 0 {
		frameID := bpm.freeList[n-1]
		bpm.freeList = bpm.freeList[:n-1]
		return frameID, nil
	}
	frameID, ok := bpm.replacer.Victim()
	if !ok {
		return -1, errors.WithStack(common.ErrNoFreeFrame)
	}
	page := bpm.frames[frameID]
	if page.Dirty {
		if err := bpm.flushFrame(page); err != nil {
			return -1, err
		}
	}
	delete(bpm.pageTable, page.ID)
	page.reset()
	return frameID, nil
}

// flushFrame writes a frame's data to disk, honoring the log-first rule.
func (bpm *BufferPoolManager) flushFrame(page *Page) error {
	if bpm.FlushLog != nil {
		if err := bpm.FlushLog(); err != nil {
			return err
		}
	}
	if err := bpm.disk.WritePage(page.ID.Fd, page.ID.PageNo, page.Data); err != nil {
		return err
	}
	page.Dirty = false
	return nil
}

// FetchPage pins the named page, reading it from disk on a miss.
func (bpm *BufferPoolManager) FetchPage(id common.PageID) (*Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameID, ok := bpm.pageTable[id]; ok {
		page := bpm.frames[frameID]
		page.PinCount++
		bpm.replacer.Pin(frameID)
		return page, nil
	}

	frameID, err := bpm.findVictim()
	if err != nil {
		return nil, err
	}
	page := bpm.frames[frameID]
	if err := bpm.disk.ReadPage(id.Fd, id.PageNo, page.Data); err != nil {
		bpm.freeList = append(bpm.freeList, frameID)
		return nil, err
	}
	page.ID = id
	page.PinCount = 1
	bpm.pageTable[id] = frameID
	bpm.replacer.Pin(frameID)
	return page, nil
}

// NewPage allocates a fresh page in fd and pins it zero-filled.
func (bpm *BufferPoolManager) NewPage(fd int) (*Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, err := bpm.findVictim()
	if err != nil {
		return nil, err
	}
	pageNo, err := bpm.disk.AllocatePage(fd)
	if err != nil {
		bpm.freeList = append(bpm.freeList, frameID)
		return nil, err
	}
	page := bpm.frames[frameID]
	page.ID = common.PageID{Fd: fd, PageNo: pageNo}
	page.PinCount = 1
	page.Dirty = true
	bpm.pageTable[page.ID] = frameID
	bpm.replacer.Pin(frameID)
	return page, nil
}

// UnpinPage drops one pin, marking the page dirty when the caller
// modified it. The page becomes evictable at pin count zero.
func (bpm *BufferPoolManager) UnpinPage(id common.PageID, dirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[id]
	if !ok {
		return errors.Wrapf(common.ErrPageNotExist, "unpin fd %d page %d", id.Fd, id.PageNo)
	}
	page := bpm.frames[frameID]
	if page.PinCount <= 0 {
		return errors.Wrapf(common.ErrInternal, "unpin unpinned fd %d page %d", id.Fd, id.PageNo)
	}
	if dirty {
		page.Dirty = true
	}
	page.PinCount--
	if page.PinCount == 0 {
		bpm.replacer.Unpin(frameID)
	}
	return nil
}

// FlushPage writes the page to disk if it is resident.
func (bpm *BufferPoolManager) FlushPage(id common.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[id]
	if !ok {
		return errors.Wrapf(common.ErrPageNotExist, "flush fd %d page %d", id.Fd, id.PageNo)
	}
	return bpm.flushFrame(bpm.frames[frameID])
}

// FlushAllPages writes every resident page of fd to disk.
func (bpm *BufferPoolManager) FlushAllPages(fd int) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	for id, frameID := range bpm.pageTable {
		if id.Fd != fd {
			continue
		}
		if err := bpm.flushFrame(bpm.frames[frameID]); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage drops a page from the pool without writing it back. The
// page must be unpinned.
func (bpm *BufferPoolManager) DeletePage(id common.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[id]
	if !ok {
		return nil
	}
	page := bpm.frames[frameID]
	if page.PinCount > 0 {
		return errors.Wrapf(common.ErrInternal, "delete pinned fd %d page %d", id.Fd, id.PageNo)
	}
	bpm.replacer.Pin(frameID)
	delete(bpm.pageTable, id)
	page.reset()
	bpm.freeList = append(bpm.freeList, frameID)
	return nil
}
