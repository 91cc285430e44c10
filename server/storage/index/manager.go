package index

import (
	"encoding/binary"

	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/storage/bufferpool"
	"github.com/petreldb/petrel-server/server/storage/disk"
)

// IxManager creates, opens and drops index files.
type IxManager struct {
	disk *disk.DiskManager
	bpm  *bufferpool.BufferPoolManager
}

func NewIxManager(dm *disk.DiskManager, bpm *bufferpool.BufferPoolManager) *IxManager {
	return &IxManager{disk: dm, bpm: bpm}
}

// CreateFile lays out an empty index over the given column list. Page 0
// is the file header, page 1 the leaf list sentinel, page 2 the root.
func (ix *IxManager) CreateFile(path string, colTypes []common.ColType, colLens []int) error {
	if err := ix.disk.CreateFile(path); err != nil {
		return err
	}
	fd, err := ix.disk.OpenFile(path)
	if err != nil {
		return err
	}
	totLen := 0
	for _, l := range colLens {
		totLen += l
	}
	hdr := IxFileHdr{
		ColTypes:   colTypes,
		ColLens:    colLens,
		ColTotLen:  totLen,
		BtreeOrder: btreeOrder(totLen),
		RootPage:   common.IxInitRootPage,
		FirstLeaf:  common.IxInitRootPage,
		LastLeaf:   common.IxInitRootPage,
		NumPages:   3,
	}
	buf := make([]byte, common.PageSize)
	hdr.marshal(buf)
	if err := ix.disk.WritePage(fd, common.IxFileHdrPage, buf); err != nil {
		return err
	}
	sentinel := make([]byte, common.PageSize)
	if err := ix.disk.WritePage(fd, common.IxLeafHeaderPage, sentinel); err != nil {
		return err
	}
	root := make([]byte, common.PageSize)
	invalidPageID := common.InvalidPageID
	binary.LittleEndian.PutUint32(root[0:], uint32(invalidPageID)) // parent
	binary.LittleEndian.PutUint32(root[8:], 1)                            // leaf
	binary.LittleEndian.PutUint32(root[12:], uint32(common.IxLeafHeaderPage))
	binary.LittleEndian.PutUint32(root[16:], uint32(common.IxLeafHeaderPage))
	if err := ix.disk.WritePage(fd, common.IxInitRootPage, root); err != nil {
		return err
	}
	return ix.disk.CloseFile(fd)
}

// OpenFile opens an index file and reads its header.
func (ix *IxManager) OpenFile(path string) (*IxIndexHandle, error) {
	fd, err := ix.disk.OpenFile(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, common.PageSize)
	if err := ix.disk.ReadPage(fd, common.IxFileHdrPage, buf); err != nil {
		return nil, err
	}
	ih := &IxIndexHandle{disk: ix.disk, bpm: ix.bpm, fd: fd}
	ih.hdr.unmarshal(buf)
	ix.disk.SetNextPage(fd, ih.hdr.NumPages)
	return ih, nil
}

// CloseFile writes back the header and dirty pages, then closes the fd.
func (ix *IxManager) CloseFile(ih *IxIndexHandle) error {
	buf := make([]byte, common.PageSize)
	ih.hdr.marshal(buf)
	if err := ix.disk.WritePage(ih.fd, common.IxFileHdrPage, buf); err != nil {
		return err
	}
	if err := ix.bpm.FlushAllPages(ih.fd); err != nil {
		return err
	}
	return ix.disk.CloseFile(ih.fd)
}

// DestroyFile removes a closed index file.
func (ix *IxManager) DestroyFile(path string) error {
	return ix.disk.DestroyFile(path)
}
