package heap

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/storage/bufferpool"
	"github.com/petreldb/petrel-server/server/storage/disk"
	"github.com/petreldb/petrel-server/util"
)

// Record is one tuple read out of a record file.
type Record struct {
	Rid  common.Rid
	Data []byte
}

// RmFileHandle operates on one open record file. Pages with free slots
// form a singly linked list rooted at the file header so inserts never
// scan the file.
type RmFileHandle struct {
	mu sync.Mutex

	disk *disk.DiskManager
	bpm  *bufferpool.BufferPoolManager
	fd   int
	hdr  RmFileHdr
}

// Fd returns the file's descriptor in the open file table.
func (fh *RmFileHandle) Fd() int { return fh.fd }

// Hdr returns a copy of the file header.
func (fh *RmFileHandle) Hdr() RmFileHdr {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return fh.hdr
}

func (fh *RmFileHandle) fetchPage(pageNo int) (*pageHandle, error) {
	if pageNo < common.RmFirstRecordPage || pageNo >= fh.hdr.NumPages {
		return nil, errors.Wrapf(common.ErrPageNotExist, "page %d of %d", pageNo, fh.hdr.NumPages)
	}
	page, err := fh.bpm.FetchPage(common.PageID{Fd: fh.fd, PageNo: pageNo})
	if err != nil {
		return nil, err
	}
	return &pageHandle{fileHdr: &fh.hdr, page: page}, nil
}

func (fh *RmFileHandle) unpin(ph *pageHandle, dirty bool) {
	fh.bpm.UnpinPage(ph.page.ID, dirty)
}

// createNewPage appends a page to the file and links it at the head of
// the free list. Caller holds fh.mu.
func (fh *RmFileHandle) createNewPage() (*pageHandle, error) {
	page, err := fh.bpm.NewPage(fh.fd)
	if err != nil {
		return nil, err
	}
	ph := &pageHandle{fileHdr: &fh.hdr, page: page}
	util.BitmapInit(ph.bitmap())
	ph.setHdr(RmPageHdr{
		NextFreePageNo: fh.hdr.FirstFreePageNo,
		NumRecords:     0,
		PageLSN:        common.InvalidLSN,
	})
	fh.hdr.FirstFreePageNo = page.ID.PageNo
	fh.hdr.NumPages++
	return ph, nil
}

// freePage returns a pinned page with at least one empty slot.
func (fh *RmFileHandle) freePage() (*pageHandle, error) {
	if fh.hdr.FirstFreePageNo == common.RmNoPage {
		return fh.createNewPage()
	}
	return fh.fetchPage(fh.hdr.FirstFreePageNo)
}

// GetRecord copies the record at rid out of the file.
func (fh *RmFileHandle) GetRecord(rid common.Rid) (*Record, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	ph, err := fh.fetchPage(rid.PageNo)
	if err != nil {
		return nil, err
	}
	defer fh.unpin(ph, false)
	if !util.BitmapIsSet(ph.bitmap(), rid.SlotNo) {
		return nil, errors.Wrapf(common.ErrRecordNotFound, "rid (%d,%d)", rid.PageNo, rid.SlotNo)
	}
	data := make([]byte, fh.hdr.RecordSize)
	copy(data, ph.slot(rid.SlotNo))
	return &Record{Rid: rid, Data: data}, nil
}

// IsRecord reports whether a live record exists at rid.
func (fh *RmFileHandle) IsRecord(rid common.Rid) bool {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	ph, err := fh.fetchPage(rid.PageNo)
	if err != nil {
		return false
	}
	defer fh.unpin(ph, false)
	return util.BitmapIsSet(ph.bitmap(), rid.SlotNo)
}

// InsertRecord stores data in the first free slot and returns its rid.
func (fh *RmFileHandle) InsertRecord(data []byte) (common.Rid, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	ph, err := fh.freePage()
	if err != nil {
		return common.Rid{}, err
	}
	defer fh.unpin(ph, true)

	slot := util.BitmapFirstBit(false, ph.bitmap(), fh.hdr.NumRecordsPerPage)
	util.BitmapSet(ph.bitmap(), slot)
	copy(ph.slot(slot), data)

	hdr := ph.hdr()
	hdr.NumRecords++
	if hdr.NumRecords == fh.hdr.NumRecordsPerPage {
		fh.hdr.FirstFreePageNo = hdr.NextFreePageNo
		hdr.NextFreePageNo = common.RmNoPage
	}
	ph.setHdr(hdr)
	return common.Rid{PageNo: ph.page.ID.PageNo, SlotNo: slot}, nil
}

// InsertRecordAt stores data at an exact rid, growing the file as needed.
// Redo and undo use this to put a record back where it was.
func (fh *RmFileHandle) InsertRecordAt(rid common.Rid, data []byte) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	for rid.PageNo >= fh.hdr.NumPages {
		ph, err := fh.createNewPage()
		if err != nil {
			return err
		}
		fh.unpin(ph, true)
	}
	ph, err := fh.fetchPage(rid.PageNo)
	if err != nil {
		return err
	}
	defer fh.unpin(ph, true)

	if util.BitmapIsSet(ph.bitmap(), rid.SlotNo) {
		copy(ph.slot(rid.SlotNo), data)
		return nil
	}
	util.BitmapSet(ph.bitmap(), rid.SlotNo)
	copy(ph.slot(rid.SlotNo), data)

	hdr := ph.hdr()
	hdr.NumRecords++
	if hdr.NumRecords == fh.hdr.NumRecordsPerPage {
		fh.unlinkFreePage(rid.PageNo, &hdr)
	}
	ph.setHdr(hdr)
	return nil
}

// unlinkFreePage removes pageNo from the free list when it just filled
// up. Caller holds fh.mu and passes the page's current header.
func (fh *RmFileHandle) unlinkFreePage(pageNo int, hdr *RmPageHdr) {
	if fh.hdr.FirstFreePageNo == pageNo {
		fh.hdr.FirstFreePageNo = hdr.NextFreePageNo
		hdr.NextFreePageNo = common.RmNoPage
		return
	}
	// Walk the list to find the predecessor.
	prev := fh.hdr.FirstFreePageNo
	for prev != common.RmNoPage {
		pph, err := fh.fetchPage(prev)
		if err != nil {
			return
		}
		pphHdr := pph.hdr()
		if pphHdr.NextFreePageNo == pageNo {
			pphHdr.NextFreePageNo = hdr.NextFreePageNo
			pph.setHdr(pphHdr)
			fh.unpin(pph, true)
			hdr.NextFreePageNo = common.RmNoPage
			return
		}
		next := pphHdr.NextFreePageNo
		fh.unpin(pph, false)
		prev = next
	}
}

// DeleteRecord clears the slot at rid, relinking the page into the free
// list when it was full.
func (fh *RmFileHandle) DeleteRecord(rid common.Rid) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	ph, err := fh.fetchPage(rid.PageNo)
	if err != nil {
		return err
	}
	defer fh.unpin(ph, true)

	if !util.BitmapIsSet(ph.bitmap(), rid.SlotNo) {
		return errors.Wrapf(common.ErrRecordNotFound, "rid (%d,%d)", rid.PageNo, rid.SlotNo)
	}
	util.BitmapReset(ph.bitmap(), rid.SlotNo)

	hdr := ph.hdr()
	wasFull := hdr.NumRecords == fh.hdr.NumRecordsPerPage
	hdr.NumRecords--
	if wasFull {
		hdr.NextFreePageNo = fh.hdr.FirstFreePageNo
		fh.hdr.FirstFreePageNo = rid.PageNo
	}
	ph.setHdr(hdr)
	return nil
}

// UpdateRecord overwrites the record at rid in place.
func (fh *RmFileHandle) UpdateRecord(rid common.Rid, data []byte) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	ph, err := fh.fetchPage(rid.PageNo)
	if err != nil {
		return err
	}
	defer fh.unpin(ph, true)

	if !util.BitmapIsSet(ph.bitmap(), rid.SlotNo) {
		return errors.Wrapf(common.ErrRecordNotFound, "rid (%d,%d)", rid.PageNo, rid.SlotNo)
	}
	copy(ph.slot(rid.SlotNo), data)
	return nil
}

// PageLSN returns the recovery LSN of a page.
func (fh *RmFileHandle) PageLSN(pageNo int) (int64, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	ph, err := fh.fetchPage(pageNo)
	if err != nil {
		return common.InvalidLSN, err
	}
	defer fh.unpin(ph, false)
	return ph.hdr().PageLSN, nil
}

// SetPageLSN stamps a page with the LSN of the last logged change.
func (fh *RmFileHandle) SetPageLSN(pageNo int, lsn int64) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	ph, err := fh.fetchPage(pageNo)
	if err != nil {
		return err
	}
	defer fh.unpin(ph, true)
	hdr := ph.hdr()
	hdr.PageLSN = lsn
	ph.setHdr(hdr)
	return nil
}
