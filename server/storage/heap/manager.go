package heap

import (
	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/storage/bufferpool"
	"github.com/petreldb/petrel-server/server/storage/disk"
)

// RmManager creates, opens and drops record files.
type RmManager struct {
	disk *disk.DiskManager
	bpm  *bufferpool.BufferPoolManager
}

func NewRmManager(dm *disk.DiskManager, bpm *bufferpool.BufferPoolManager) *RmManager {
	return &RmManager{disk: dm, bpm: bpm}
}

// CreateFile lays out an empty record file with fixed-width records.
func (rm *RmManager) CreateFile(path string, recordSize int) error {
	if recordSize <= 0 || recordSize > common.PageSize-pageHdrSize-1 {
		return errors.Wrapf(common.ErrInternal, "record size %d", recordSize)
	}
	if err := rm.disk.CreateFile(path); err != nil {
		return err
	}
	fd, err := rm.disk.OpenFile(path)
	if err != nil {
		return err
	}
	n := recordsPerPage(recordSize)
	hdr := RmFileHdr{
		RecordSize:        recordSize,
		NumRecordsPerPage: n,
		BitmapSize:        (n + 7) / 8,
		NumPages:          1,
		FirstFreePageNo:   common.RmNoPage,
	}
	buf := make([]byte, common.PageSize)
	hdr.marshal(buf)
	if err := rm.disk.WritePage(fd, common.RmFileHdrPage, buf); err != nil {
		return err
	}
	return rm.disk.CloseFile(fd)
}

// OpenFile opens a record file and reads its header.
func (rm *RmManager) OpenFile(path string) (*RmFileHandle, error) {
	fd, err := rm.disk.OpenFile(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, common.PageSize)
	if err := rm.disk.ReadPage(fd, common.RmFileHdrPage, buf); err != nil {
		return nil, err
	}
	fh := &RmFileHandle{disk: rm.disk, bpm: rm.bpm, fd: fd}
	fh.hdr.unmarshal(buf)
	rm.disk.SetNextPage(fd, fh.hdr.NumPages)
	return fh, nil
}

// CloseFile writes back the header and dirty pages, then closes the fd.
func (rm *RmManager) CloseFile(fh *RmFileHandle) error {
	buf := make([]byte, common.PageSize)
	fh.hdr.marshal(buf)
	if err := rm.disk.WritePage(fh.fd, common.RmFileHdrPage, buf); err != nil {
		return err
	}
	if err := rm.bpm.FlushAllPages(fh.fd); err != nil {
		return err
	}
	return rm.disk.CloseFile(fh.fd)
}

// DestroyFile removes a closed record file.
func (rm *RmManager) DestroyFile(path string) error {
	return rm.disk.DestroyFile(path)
}
