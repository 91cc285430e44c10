package index

import (
	"github.com/petreldb/petrel-server/server/common"
)

// IxScan walks leaf entries in key order over a half-open [begin, end)
// cursor range.
type IxScan struct {
	ih   *IxIndexHandle
	iid  common.Iid
	end  common.Iid
}

// NewIxScan builds a scan over [begin, end).
func NewIxScan(ih *IxIndexHandle, begin, end common.Iid) *IxScan {
	return &IxScan{ih: ih, iid: begin, end: end}
}

// Iid returns the current position.
func (s *IxScan) Iid() common.Iid { return s.iid }

// IsEnd reports whether the cursor reached end.
func (s *IxScan) IsEnd() bool { return s.iid == s.end }

// Rid reads the record id under the cursor.
func (s *IxScan) Rid() (common.Rid, error) {
	return s.ih.GetRid(s.iid)
}

// Next advances to the following entry, hopping leaves as needed.
func (s *IxScan) Next() error {
	if s.IsEnd() {
		return nil
	}
	s.ih.mu.Lock()
	defer s.ih.mu.Unlock()
	leaf, err := s.ih.fetchNode(s.iid.PageNo)
	if err != nil {
		return err
	}
	defer s.ih.unpin(leaf, false)
	s.iid.SlotNo++
	if s.iid.SlotNo >= leaf.numKey() && s.iid.PageNo != s.end.PageNo {
		s.iid = common.Iid{PageNo: leaf.nextLeaf(), SlotNo: 0}
	}
	return nil
}
