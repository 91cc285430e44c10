package heap

import (
	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/util"
)

// RmScan walks the live records of a file in rid order.
type RmScan struct {
	fh  *RmFileHandle
	rid common.Rid
}

// NewRmScan positions a scan on the first record of the file.
func NewRmScan(fh *RmFileHandle) (*RmScan, error) {
	s := &RmScan{
		fh:  fh,
		rid: common.Rid{PageNo: common.RmFirstRecordPage, SlotNo: -1},
	}
	if err := s.Next(); err != nil {
		return nil, err
	}
	return s, nil
}

// Rid returns the current position.
func (s *RmScan) Rid() common.Rid { return s.rid }

// IsEnd reports whether the scan has run off the file.
func (s *RmScan) IsEnd() bool {
	return s.rid.PageNo == common.RmNoPage
}

// Next moves to the following live record, or to the end position.
func (s *RmScan) Next() error {
	s.fh.mu.Lock()
	defer s.fh.mu.Unlock()

	n := s.fh.hdr.NumRecordsPerPage
	for s.rid.PageNo < s.fh.hdr.NumPages {
		ph, err := s.fh.fetchPage(s.rid.PageNo)
		if err != nil {
			return err
		}
		slot := util.BitmapNextBit(true, ph.bitmap(), n, s.rid.SlotNo)
		s.fh.unpin(ph, false)
		if slot < n {
			s.rid.SlotNo = slot
			return nil
		}
		s.rid.PageNo++
		s.rid.SlotNo = -1
	}
	s.rid = common.Rid{PageNo: common.RmNoPage, SlotNo: -1}
	return nil
}
