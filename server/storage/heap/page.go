package heap

import (
	"encoding/binary"

	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/storage/bufferpool"
)

// On-disk layout of a record page:
//
//	[ page header | slot bitmap | slot 0 | slot 1 | ... ]
//
// The page header is fixed width; the bitmap and slot count come from the
// file header computed at create time.
const (
	pageHdrSize = 16
	fileHdrSize = 20
)

// RmFileHdr lives on page 0 of every record file.
type RmFileHdr struct {
	RecordSize        int
	NumRecordsPerPage int
	BitmapSize        int
	NumPages          int // including the header page
	FirstFreePageNo   int
}

func (h *RmFileHdr) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(h.RecordSize))
	binary.LittleEndian.PutUint32(buf[4:], uint32(h.NumRecordsPerPage))
	binary.LittleEndian.PutUint32(buf[8:], uint32(h.BitmapSize))
	binary.LittleEndian.PutUint32(buf[12:], uint32(h.NumPages))
	binary.LittleEndian.PutUint32(buf[16:], uint32(h.FirstFreePageNo))
}

func (h *RmFileHdr) unmarshal(buf []byte) {
	h.RecordSize = int(int32(binary.LittleEndian.Uint32(buf[0:])))
	h.NumRecordsPerPage = int(int32(binary.LittleEndian.Uint32(buf[4:])))
	h.BitmapSize = int(int32(binary.LittleEndian.Uint32(buf[8:])))
	h.NumPages = int(int32(binary.LittleEndian.Uint32(buf[12:])))
	h.FirstFreePageNo = int(int32(binary.LittleEndian.Uint32(buf[16:])))
}

// recordsPerPage finds the largest slot count that fits a page together
// with the page header and the bitmap.
func recordsPerPage(recordSize int) int {
	n := (common.PageSize - pageHdrSize) * 8 / (recordSize*8 + 1)
	for n > 0 && pageHdrSize+(n+7)/8+n*recordSize > common.PageSize {
		n--
	}
	return n
}

// RmPageHdr heads every record page.
type RmPageHdr struct {
	NextFreePageNo int
	NumRecords     int
	PageLSN        int64
}

// pageHandle gives typed access to one pinned record page.
type pageHandle struct {
	fileHdr *RmFileHdr
	page    *bufferpool.Page
}

func (ph *pageHandle) hdr() RmPageHdr {
	return RmPageHdr{
		NextFreePageNo: int(int32(binary.LittleEndian.Uint32(ph.page.Data[0:]))),
		NumRecords:     int(int32(binary.LittleEndian.Uint32(ph.page.Data[4:]))),
		PageLSN:        int64(binary.LittleEndian.Uint64(ph.page.Data[8:])),
	}
}

func (ph *pageHandle) setHdr(h RmPageHdr) {
	binary.LittleEndian.PutUint32(ph.page.Data[0:], uint32(h.NextFreePageNo))
	binary.LittleEndian.PutUint32(ph.page.Data[4:], uint32(h.NumRecords))
	binary.LittleEndian.PutUint64(ph.page.Data[8:], uint64(h.PageLSN))
}

func (ph *pageHandle) bitmap() []byte {
	return ph.page.Data[pageHdrSize : pageHdrSize+ph.fileHdr.BitmapSize]
}

func (ph *pageHandle) slot(i int) []byte {
	off := pageHdrSize + ph.fileHdr.BitmapSize + i*ph.fileHdr.RecordSize
	return ph.page.Data[off : off+ph.fileHdr.RecordSize]
}
