package index

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"

	"github.com/petreldb/petrel-server/server/common"
	"github.com/petreldb/petrel-server/server/storage/bufferpool"
	"github.com/petreldb/petrel-server/server/storage/disk"
)

// IxIndexHandle operates on one open B+-tree. A single tree latch
// serializes structural changes; fine-grained crabbing is not worth it
// while the lock manager above already serializes conflicting
// transactions.
type IxIndexHandle struct {
	mu sync.Mutex

	disk *disk.DiskManager
	bpm  *bufferpool.BufferPoolManager
	fd   int
	hdr  IxFileHdr
}

// Fd returns the file's descriptor in the open file table.
func (ih *IxIndexHandle) Fd() int { return ih.fd }

// Hdr returns a copy of the file header.
func (ih *IxIndexHandle) Hdr() IxFileHdr {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.hdr
}

func (ih *IxIndexHandle) fetchNode(pageNo int) (*nodeHandle, error) {
	page, err := ih.bpm.FetchPage(common.PageID{Fd: ih.fd, PageNo: pageNo})
	if err != nil {
		return nil, err
	}
	return &nodeHandle{hdr: &ih.hdr, page: page}, nil
}

func (ih *IxIndexHandle) newNode() (*nodeHandle, error) {
	page, err := ih.bpm.NewPage(ih.fd)
	if err != nil {
		return nil, err
	}
	n := &nodeHandle{hdr: &ih.hdr, page: page}
	n.setParent(common.InvalidPageID)
	n.setNumKey(0)
	n.setLeaf(false)
	n.setPrevLeaf(common.IxLeafHeaderPage)
	n.setNextLeaf(common.IxLeafHeaderPage)
	ih.hdr.NumPages++
	return n, nil
}

func (ih *IxIndexHandle) unpin(n *nodeHandle, dirty bool) {
	ih.bpm.UnpinPage(n.page.ID, dirty)
}

// findLeaf descends from the root to the leaf covering key. The leaf
// comes back pinned.
func (ih *IxIndexHandle) findLeaf(key []byte) (*nodeHandle, error) {
	node, err := ih.fetchNode(ih.hdr.RootPage)
	if err != nil {
		return nil, err
	}
	for !node.isLeaf() {
		child := node.internalLookup(key)
		ih.unpin(node, false)
		if node, err = ih.fetchNode(child); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// GetValue looks up the rid stored under key.
func (ih *IxIndexHandle) GetValue(key []byte) (common.Rid, bool, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	leaf, err := ih.findLeaf(key)
	if err != nil {
		return common.Rid{}, false, err
	}
	defer ih.unpin(leaf, false)
	rid, ok := leaf.leafLookup(key)
	return rid, ok, nil
}

// InsertEntry adds (key, rid). Keys are unique; inserting a present key
// fails with ErrUniqueConstraint.
func (ih *IxIndexHandle) InsertEntry(key []byte, rid common.Rid) error {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	leaf, err := ih.findLeaf(key)
	if err != nil {
		return err
	}
	if _, ok := leaf.leafLookup(key); ok {
		ih.unpin(leaf, false)
		return errors.WithStack(common.ErrUniqueConstraint)
	}
	size := leaf.insert(key, rid)
	if size == ih.hdr.BtreeOrder {
		sib, err := ih.split(leaf)
		if err != nil {
			ih.unpin(leaf, true)
			return err
		}
		err = ih.insertIntoParent(leaf, sib.key(0), sib)
		ih.unpin(sib, true)
		ih.unpin(leaf, true)
		return err
	}
	ih.unpin(leaf, true)
	return nil
}

// split moves the upper half of node into a fresh sibling and returns
// the sibling pinned.
func (ih *IxIndexHandle) split(node *nodeHandle) (*nodeHandle, error) {
	sib, err := ih.newNode()
	if err != nil {
		return nil, err
	}
	num := node.numKey()
	mid := num / 2
	sib.setLeaf(node.isLeaf())
	sib.setParent(node.parent())
	for i := mid; i < num; i++ {
		sib.setKey(i-mid, node.key(i))
		sib.setRid(i-mid, node.rid(i))
	}
	sib.setNumKey(num - mid)
	node.setNumKey(mid)

	if node.isLeaf() {
		sib.setPrevLeaf(node.pageNo())
		sib.setNextLeaf(node.nextLeaf())
		if next := node.nextLeaf(); next == common.IxLeafHeaderPage {
			ih.hdr.LastLeaf = sib.pageNo()
		} else {
			nn, err := ih.fetchNode(next)
			if err != nil {
				return nil, err
			}
			nn.setPrevLeaf(sib.pageNo())
			ih.unpin(nn, true)
		}
		node.setNextLeaf(sib.pageNo())
	} else {
		for i := 0; i < sib.numKey(); i++ {
			if err := ih.maintainChild(sib, i); err != nil {
				return nil, err
			}
		}
	}
	return sib, nil
}

// insertIntoParent hangs a freshly split sibling next to its old node,
// growing a new root when the old node was the root.
func (ih *IxIndexHandle) insertIntoParent(old *nodeHandle, key []byte, sib *nodeHandle) error {
	if old.pageNo() == ih.hdr.RootPage {
		root, err := ih.newNode()
		if err != nil {
			return err
		}
		root.insertPairAt(0, old.key(0), common.Rid{PageNo: old.pageNo()})
		root.insertPairAt(1, key, common.Rid{PageNo: sib.pageNo()})
		old.setParent(root.pageNo())
		sib.setParent(root.pageNo())
		ih.hdr.RootPage = root.pageNo()
		ih.unpin(root, true)
		return nil
	}
	parent, err := ih.fetchNode(old.parent())
	if err != nil {
		return err
	}
	idx := parent.childIndex(old.pageNo())
	parent.insertPairAt(idx+1, key, common.Rid{PageNo: sib.pageNo()})
	sib.setParent(parent.pageNo())
	if parent.numKey() == ih.hdr.BtreeOrder {
		psib, err := ih.split(parent)
		if err != nil {
			ih.unpin(parent, true)
			return err
		}
		err = ih.insertIntoParent(parent, psib.key(0), psib)
		ih.unpin(psib, true)
		ih.unpin(parent, true)
		return err
	}
	ih.unpin(parent, true)
	return nil
}

// DeleteEntry removes the pair under key.
func (ih *IxIndexHandle) DeleteEntry(key []byte) error {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	leaf, err := ih.findLeaf(key)
	if err != nil {
		return err
	}
	before := leaf.numKey()
	if leaf.remove(key) == before {
		ih.unpin(leaf, false)
		return errors.WithStack(common.ErrIndexEntryNotFound)
	}
	// Takes ownership of the leaf's pin.
	return ih.coalesceOrRedistribute(leaf)
}

// coalesceOrRedistribute rebalances node after a removal. It owns
// node's pin and releases it.
func (ih *IxIndexHandle) coalesceOrRedistribute(node *nodeHandle) error {
	if node.pageNo() == ih.hdr.RootPage {
		return ih.adjustRoot(node)
	}
	if node.numKey() >= node.minSize() {
		err := ih.maintainParent(node)
		ih.unpin(node, true)
		return err
	}
	parent, err := ih.fetchNode(node.parent())
	if err != nil {
		ih.unpin(node, true)
		return err
	}
	idx := parent.childIndex(node.pageNo())
	var neighborPage int
	if idx == 0 {
		neighborPage = parent.child(1)
	} else {
		neighborPage = parent.child(idx - 1)
	}
	neighbor, err := ih.fetchNode(neighborPage)
	if err != nil {
		ih.unpin(parent, true)
		ih.unpin(node, true)
		return err
	}
	if neighbor.numKey()+node.numKey() >= 2*node.minSize() {
		err = ih.redistribute(neighbor, node, idx)
		ih.unpin(neighbor, true)
		ih.unpin(node, true)
		ih.unpin(parent, true)
		return err
	}
	return ih.coalesce(neighbor, node, parent, idx)
}

// redistribute moves one pair from neighbor into node. idx is node's
// position under their shared parent; 0 means neighbor sits to the
// right.
func (ih *IxIndexHandle) redistribute(neighbor, node *nodeHandle, idx int) error {
	if idx == 0 {
		node.insertPairAt(node.numKey(), neighbor.key(0), neighbor.rid(0))
		neighbor.erasePairAt(0)
		if !node.isLeaf() {
			if err := ih.maintainChild(node, node.numKey()-1); err != nil {
				return err
			}
		}
		return ih.maintainParent(neighbor)
	}
	last := neighbor.numKey() - 1
	node.insertPairAt(0, neighbor.key(last), neighbor.rid(last))
	neighbor.erasePairAt(last)
	if !node.isLeaf() {
		if err := ih.maintainChild(node, 0); err != nil {
			return err
		}
	}
	return ih.maintainParent(node)
}

// coalesce merges node into its left neighbor (swapping first when the
// neighbor sits to the right) and recurses up. Owns all three pins.
func (ih *IxIndexHandle) coalesce(neighbor, node *nodeHandle, parent *nodeHandle, idx int) error {
	if idx == 0 {
		neighbor, node = node, neighbor
		idx = 1
	}
	base := neighbor.numKey()
	for i := 0; i < node.numKey(); i++ {
		neighbor.setKey(base+i, node.key(i))
		neighbor.setRid(base+i, node.rid(i))
	}
	neighbor.setNumKey(base + node.numKey())
	if !node.isLeaf() {
		for i := base; i < neighbor.numKey(); i++ {
			if err := ih.maintainChild(neighbor, i); err != nil {
				ih.unpin(neighbor, true)
				ih.unpin(node, true)
				ih.unpin(parent, true)
				return err
			}
		}
	} else {
		if err := ih.eraseLeaf(node); err != nil {
			ih.unpin(neighbor, true)
			ih.unpin(node, true)
			ih.unpin(parent, true)
			return err
		}
	}
	nodeID := node.page.ID
	ih.unpin(node, true)
	ih.bpm.DeletePage(nodeID)
	ih.unpin(neighbor, true)

	parent.erasePairAt(idx)
	return ih.coalesceOrRedistribute(parent)
}

// eraseLeaf unlinks node from the leaf list.
func (ih *IxIndexHandle) eraseLeaf(node *nodeHandle) error {
	prev := node.prevLeaf()
	next := node.nextLeaf()
	if prev == common.IxLeafHeaderPage {
		ih.hdr.FirstLeaf = next
	} else {
		pn, err := ih.fetchNode(prev)
		if err != nil {
			return err
		}
		pn.setNextLeaf(next)
		ih.unpin(pn, true)
	}
	if next == common.IxLeafHeaderPage {
		ih.hdr.LastLeaf = prev
	} else {
		nn, err := ih.fetchNode(next)
		if err != nil {
			return err
		}
		nn.setPrevLeaf(prev)
		ih.unpin(nn, true)
	}
	return nil
}

// adjustRoot shrinks the tree when the root underflows. Owns root's pin.
func (ih *IxIndexHandle) adjustRoot(root *nodeHandle) error {
	if !root.isLeaf() && root.numKey() == 1 {
		child, err := ih.fetchNode(root.child(0))
		if err != nil {
			ih.unpin(root, true)
			return err
		}
		child.setParent(common.InvalidPageID)
		ih.hdr.RootPage = child.pageNo()
		ih.unpin(child, true)
		rootID := root.page.ID
		ih.unpin(root, true)
		ih.bpm.DeletePage(rootID)
		return nil
	}
	// An empty leaf root stays in place as the empty tree.
	ih.unpin(root, true)
	return nil
}

// maintainParent pushes node's first key up while ancestors still carry
// a stale copy.
func (ih *IxIndexHandle) maintainParent(node *nodeHandle) error {
	currPage := node.pageNo()
	currKey := make([]byte, ih.hdr.ColTotLen)
	copy(currKey, node.key(0))
	parentPage := node.parent()
	for parentPage != common.InvalidPageID {
		parent, err := ih.fetchNode(parentPage)
		if err != nil {
			return err
		}
		rank := parent.childIndex(currPage)
		if rank < 0 || bytes.Equal(parent.key(rank), currKey) {
			ih.unpin(parent, false)
			return nil
		}
		parent.setKey(rank, currKey)
		currPage = parent.pageNo()
		copy(currKey, parent.key(0))
		parentPage = parent.parent()
		ih.unpin(parent, true)
	}
	return nil
}

// maintainChild repoints child i of an internal node at node.
func (ih *IxIndexHandle) maintainChild(node *nodeHandle, i int) error {
	child, err := ih.fetchNode(node.child(i))
	if err != nil {
		return err
	}
	child.setParent(node.pageNo())
	ih.unpin(child, true)
	return nil
}

// LowerBound positions on the first entry whose key is >= key.
func (ih *IxIndexHandle) LowerBound(key []byte) (common.Iid, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.bound(key, false)
}

// UpperBound positions on the first entry whose key is > key.
func (ih *IxIndexHandle) UpperBound(key []byte) (common.Iid, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return ih.bound(key, true)
}

func (ih *IxIndexHandle) bound(key []byte, upper bool) (common.Iid, error) {
	leaf, err := ih.findLeaf(key)
	if err != nil {
		return common.Iid{}, err
	}
	defer ih.unpin(leaf, false)
	var pos int
	if upper {
		pos = leaf.leafUpperBound(key)
	} else {
		pos = leaf.lowerBound(key)
	}
	if pos == leaf.numKey() && leaf.nextLeaf() != common.IxLeafHeaderPage {
		return common.Iid{PageNo: leaf.nextLeaf(), SlotNo: 0}, nil
	}
	return common.Iid{PageNo: leaf.pageNo(), SlotNo: pos}, nil
}

// Begin positions on the smallest entry.
func (ih *IxIndexHandle) Begin() common.Iid {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	return common.Iid{PageNo: ih.hdr.FirstLeaf, SlotNo: 0}
}

// End positions one past the largest entry.
func (ih *IxIndexHandle) End() (common.Iid, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	leaf, err := ih.fetchNode(ih.hdr.LastLeaf)
	if err != nil {
		return common.Iid{}, err
	}
	defer ih.unpin(leaf, false)
	return common.Iid{PageNo: leaf.pageNo(), SlotNo: leaf.numKey()}, nil
}

// GetRid reads the rid stored at a cursor position.
func (ih *IxIndexHandle) GetRid(iid common.Iid) (common.Rid, error) {
	ih.mu.Lock()
	defer ih.mu.Unlock()
	leaf, err := ih.fetchNode(iid.PageNo)
	if err != nil {
		return common.Rid{}, err
	}
	defer ih.unpin(leaf, false)
	if iid.SlotNo >= leaf.numKey() {
		return common.Rid{}, errors.Wrapf(common.ErrIndexEntryNotFound, "iid (%d,%d)", iid.PageNo, iid.SlotNo)
	}
	return leaf.rid(iid.SlotNo), nil
}
