package index

import (
	"encoding/binary"

	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/storage/bufferpool"
)

// Node page layout:
//
//	[ node header | keys: order * colTotLen | rids: order * 8 ]
//
// Leaves pair key i with the rid of the indexed record. Internal nodes
// pair key i with child page i; key 0 is a guard that tracks the
// smallest key of the subtree.
const (
	nodeHdrSize = 20
	ridSize     = 8
)

// IxFileHdr lives on page 0 of every index file. Keys are the
// concatenation of the indexed columns in declared order; ColTotLen is
// their combined width.
type IxFileHdr struct {
	ColTypes   []common.ColType
	ColLens    []int
	ColTotLen  int
	BtreeOrder int
	RootPage   int
	FirstLeaf  int
	LastLeaf   int
	NumPages   int
}

// compare orders two keys lexicographically across the index columns.
func (h *IxFileHdr) compare(a, b []byte) int {
	return common.CompareKeys(h.ColTypes, h.ColLens, a, b)
}

func (h *IxFileHdr) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(h.ColTypes)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(h.ColTotLen))
	binary.LittleEndian.PutUint32(buf[8:], uint32(h.BtreeOrder))
	binary.LittleEndian.PutUint32(buf[12:], uint32(h.RootPage))
	binary.LittleEndian.PutUint32(buf[16:], uint32(h.FirstLeaf))
	binary.LittleEndian.PutUint32(buf[20:], uint32(h.LastLeaf))
	binary.LittleEndian.PutUint32(buf[24:], uint32(h.NumPages))
	off := 28
	for i := range h.ColTypes {
		binary.LittleEndian.PutUint32(buf[off:], uint32(h.ColTypes[i]))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(h.ColLens[i]))
		off += 8
	}
}

func (h *IxFileHdr) unmarshal(buf []byte) {
	numCols := int(int32(binary.LittleEndian.Uint32(buf[0:])))
	h.ColTotLen = int(int32(binary.LittleEndian.Uint32(buf[4:])))
	h.BtreeOrder = int(int32(binary.LittleEndian.Uint32(buf[8:])))
	h.RootPage = int(int32(binary.LittleEndian.Uint32(buf[12:])))
	h.FirstLeaf = int(int32(binary.LittleEndian.Uint32(buf[16:])))
	h.LastLeaf = int(int32(binary.LittleEndian.Uint32(buf[20:])))
	h.NumPages = int(int32(binary.LittleEndian.Uint32(buf[24:])))
	h.ColTypes = make([]common.ColType, numCols)
	h.ColLens = make([]int, numCols)
	off := 28
	for i := 0; i < numCols; i++ {
		h.ColTypes[i] = common.ColType(int32(binary.LittleEndian.Uint32(buf[off:])))
		h.ColLens[i] = int(int32(binary.LittleEndian.Uint32(buf[off+4:])))
		off += 8
	}
}

func btreeOrder(colTotLen int) int {
	return (common.PageSize-nodeHdrSize)/(colTotLen+ridSize) - 1
}

// nodeHandle gives typed access to one pinned node page.
type nodeHandle struct {
	hdr  *IxFileHdr
	page *bufferpool.Page
}

func (n *nodeHandle) pageNo() int { return n.page.ID.PageNo }

func (n *nodeHandle) parent() int {
	return int(int32(binary.LittleEndian.Uint32(n.page.Data[0:])))
}

func (n *nodeHandle) setParent(p int) {
	binary.LittleEndian.PutUint32(n.page.Data[0:], uint32(p))
}

func (n *nodeHandle) numKey() int {
	return int(int32(binary.LittleEndian.Uint32(n.page.Data[4:])))
}

func (n *nodeHandle) setNumKey(k int) {
	binary.LittleEndian.PutUint32(n.page.Data[4:], uint32(k))
}

func (n *nodeHandle) isLeaf() bool {
	return binary.LittleEndian.Uint32(n.page.Data[8:]) != 0
}

func (n *nodeHandle) setLeaf(leaf bool) {
	v := uint32(0)
	if leaf {
		v = 1
	}
	binary.LittleEndian.PutUint32(n.page.Data[8:], v)
}

func (n *nodeHandle) prevLeaf() int {
	return int(int32(binary.LittleEndian.Uint32(n.page.Data[12:])))
}

func (n *nodeHandle) setPrevLeaf(p int) {
	binary.LittleEndian.PutUint32(n.page.Data[12:], uint32(p))
}

func (n *nodeHandle) nextLeaf() int {
	return int(int32(binary.LittleEndian.Uint32(n.page.Data[16:])))
}

func (n *nodeHandle) setNextLeaf(p int) {
	binary.LittleEndian.PutUint32(n.page.Data[16:], uint32(p))
}

func (n *nodeHandle) key(i int) []byte {
	off := nodeHdrSize + i*n.hdr.ColTotLen
	return n.page.Data[off : off+n.hdr.ColTotLen]
}

func (n *nodeHandle) rid(i int) common.Rid {
	off := nodeHdrSize + n.hdr.BtreeOrder*n.hdr.ColTotLen + i*ridSize
	return common.Rid{
		PageNo: int(int32(binary.LittleEndian.Uint32(n.page.Data[off:]))),
		SlotNo: int(int32(binary.LittleEndian.Uint32(n.page.Data[off+4:]))),
	}
}

func (n *nodeHandle) setRid(i int, r common.Rid) {
	off := nodeHdrSize + n.hdr.BtreeOrder*n.hdr.ColTotLen + i*ridSize
	binary.LittleEndian.PutUint32(n.page.Data[off:], uint32(r.PageNo))
	binary.LittleEndian.PutUint32(n.page.Data[off+4:], uint32(r.SlotNo))
}

func (n *nodeHandle) setKey(i int, k []byte) {
	copy(n.key(i), k)
}

// child returns the page number of child i of an internal node.
func (n *nodeHandle) child(i int) int {
	return n.rid(i).PageNo
}

// lowerBound finds the first position in [0, numKey) whose key is not
// less than target.
func (n *nodeHandle) lowerBound(target []byte) int {
	lo, hi := 0, n.numKey()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.hdr.compare(n.key(mid), target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// upperBound finds the first position in [1, numKey) whose key is
// greater than target. Position 0 holds the guard key of an internal
// node, so the search skips it.
func (n *nodeHandle) upperBound(target []byte) int {
	lo, hi := 1, n.numKey()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.hdr.compare(n.key(mid), target) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// leafUpperBound finds the first position in [0, numKey) whose key is
// greater than target.
func (n *nodeHandle) leafUpperBound(target []byte) int {
	lo, hi := 0, n.numKey()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.hdr.compare(n.key(mid), target) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// leafLookup finds the rid stored under an exact key.
func (n *nodeHandle) leafLookup(target []byte) (common.Rid, bool) {
	pos := n.lowerBound(target)
	if pos == n.numKey() || n.hdr.compare(n.key(pos), target) != 0 {
		return common.Rid{}, false
	}
	return n.rid(pos), true
}

// internalLookup finds the child page covering target.
func (n *nodeHandle) internalLookup(target []byte) int {
	return n.child(n.upperBound(target) - 1)
}

// childIndex finds the position of a child page within an internal node.
func (n *nodeHandle) childIndex(pageNo int) int {
	for i := 0; i < n.numKey(); i++ {
		if n.child(i) == pageNo {
			return i
		}
	}
	return -1
}

// insertPairAt shifts pairs right and writes (key, rid) at pos.
func (n *nodeHandle) insertPairAt(pos int, key []byte, rid common.Rid) {
	num := n.numKey()
	for i := num; i > pos; i-- {
		n.setKey(i, n.key(i-1))
		n.setRid(i, n.rid(i-1))
	}
	n.setKey(pos, key)
	n.setRid(pos, rid)
	n.setNumKey(num + 1)
}

// erasePairAt removes the pair at pos, shifting the tail left.
func (n *nodeHandle) erasePairAt(pos int) {
	num := n.numKey()
	for i := pos; i < num-1; i++ {
		n.setKey(i, n.key(i+1))
		n.setRid(i, n.rid(i+1))
	}
	n.setNumKey(num - 1)
}

// insert places (key, rid) keeping the keys sorted. A duplicate key is
// left untouched. Returns the resulting pair count.
func (n *nodeHandle) insert(key []byte, rid common.Rid) int {
	pos := n.lowerBound(key)
	if pos < n.numKey() && n.hdr.compare(n.key(pos), key) == 0 {
		return n.numKey()
	}
	n.insertPairAt(pos, key, rid)
	return n.numKey()
}

// remove erases the pair under key if present. Returns the resulting
// pair count.
func (n *nodeHandle) remove(key []byte) int {
	pos := n.lowerBound(key)
	if pos < n.numKey() && n.hdr.compare(n.key(pos), key) == 0 {
		n.erasePairAt(pos)
	}
	return n.numKey()
}

func (n *nodeHandle) minSize() int {
	return n.hdr.BtreeOrder / 2
}
