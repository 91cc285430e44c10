package bufferpool

import (
	"sync"

	"github.com/petreldb/petrel-server/server/common"
)

// Page is one frame of the pool. Data stays PageSize long for the life of
// the frame; the identity fields change as the frame is recycled.
type Page struct {
	mu sync.RWMutex

	ID       common.PageID
	Data     []byte
	Dirty    bool
	PinCount int
}

func newPage() *Page {
	return &Page{
		ID:   common.PageID{Fd: -1, PageNo: common.InvalidPageID},
		Data: make([]byte, common.PageSize),
	}
}

func (p *Page) reset() {
	for i := range p.Data {
		p.Data[i] = 0
	}
	p.ID = common.PageID{Fd: -1, PageNo: common.InvalidPageID}
	p.Dirty = false
	p.PinCount = 0
}

// Lock takes the page latch for writing.
func (p *Page) Lock() { p.mu.Lock() }

// Unlock drops the write latch.
func (p *Page) Unlock() { p.mu.Unlock() }

// RLock takes the page latch for reading.
func (p *Page) RLock() { p.mu.RLock() }

// RUnlock drops the read latch.
func (p *Page) RUnlock() { p.mu.RUnlock() }
