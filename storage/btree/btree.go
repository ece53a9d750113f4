package btree

import (
	"fmt"
	"sort"

	"pagestore/storage/buffer"
	"pagestore/storage/pager"
	"pagestore/storage/storageerr"
)

// BTree holds the root and first-leaf page numbers of a disk-resident B+
// tree index, plus the pager/buffer handles needed to read and write its
// nodes. The tree never touches a file directly — every node access goes
// through the buffer manager.
type BTree struct {
	bm        *buffer.BufferManager
	pg        *pager.Pager
	file      string
	root      uint64
	firstLeaf uint64
}

// New creates an empty tree: a single leaf page, marked root, becomes both
// the root and the first leaf.
func New(bm *buffer.BufferManager, pg *pager.Pager, file string) (*BTree, error) {
	pn, _, err := pg.GetNewPage()
	if err != nil {
		return nil, err
	}
	root := NewLeaf(pn, true, 0)
	if err := bm.WritePage(file, pn, root.Page); err != nil {
		return nil, err
	}
	return &BTree{bm: bm, pg: pg, file: file, root: pn, firstLeaf: pn}, nil
}

// Root returns the root page number.
func (t *BTree) Root() uint64 { return t.root }

// FirstLeaf returns the leftmost leaf's page number.
func (t *BTree) FirstLeaf() uint64 { return t.firstLeaf }

func (t *BTree) getNode(pageNum uint64) (*Node, error) {
	p, err := t.bm.GetPage(t.file, pageNum)
	if err != nil {
		return nil, err
	}
	return Load(p, pageNum)
}

func (t *BTree) putNode(n *Node) error {
	return t.bm.WritePage(t.file, n.PageNum, n.Page)
}

// descendForSearch walks from the root to the leaf that would hold key,
// following the first child whose separating key is >= key at each
// internal node. It does not widen any key — a node with no key >= key
// fails the descent outright, exactly mirroring the plain search
// contract's refusal to extend the tree's right spine.
func (t *BTree) descendForSearch(key string) (uint64, error) {
	pageNum := t.root
	for {
		n, err := t.getNode(pageNum)
		if err != nil {
			return 0, err
		}
		if n.Kind() == KindLeaf {
			return pageNum, nil
		}
		keys, err := n.Keys()
		if err != nil {
			return 0, err
		}
		children, err := n.Children()
		if err != nil {
			return 0, err
		}
		idx := indexOfFirstGE(keys, key)
		if idx < 0 {
			return 0, fmt.Errorf("btree: search %q: %w", key, storageerr.ErrKeyNotFound)
		}
		pageNum = PageNumFromOffset(children[idx])
	}
}

// descendForInsert is descendForSearch's sibling for the insert path: when
// no key at an internal node dominates the new key, it widens that node's
// rightmost key to the new key and descends into the last child, so the
// right spine of the tree always remains reachable for ever-increasing
// keys. It also returns the page numbers of every internal node visited,
// innermost last, for use as an explicit stack during split propagation.
func (t *BTree) descendForInsert(key string) (uint64, []uint64, error) {
	var path []uint64
	pageNum := t.root
	for {
		n, err := t.getNode(pageNum)
		if err != nil {
			return 0, nil, err
		}
		if n.Kind() == KindLeaf {
			return pageNum, path, nil
		}
		path = append(path, pageNum)

		keys, err := n.Keys()
		if err != nil {
			return 0, nil, err
		}
		children, err := n.Children()
		if err != nil {
			return 0, nil, err
		}
		idx := indexOfFirstGE(keys, key)
		if idx < 0 {
			last := len(keys) - 1
			if err := n.UpdateInternalKey(keys[last], key); err != nil {
				return 0, nil, err
			}
			if err := t.putNode(n); err != nil {
				return 0, nil, err
			}
			idx = len(children) - 1
		}
		pageNum = PageNumFromOffset(children[idx])
	}
}

func indexOfFirstGE(keys []string, key string) int {
	for i, k := range keys {
		if k >= key {
			return i
		}
	}
	return -1
}

// Search returns the pair stored under key, or ErrKeyNotFound.
func (t *BTree) Search(key string) (KeyValuePair, error) {
	leafPN, err := t.descendForSearch(key)
	if err != nil {
		return KeyValuePair{}, err
	}
	leaf, err := t.getNode(leafPN)
	if err != nil {
		return KeyValuePair{}, err
	}
	kv, ok, err := leaf.FindPair(key)
	if err != nil {
		return KeyValuePair{}, err
	}
	if !ok {
		return KeyValuePair{}, fmt.Errorf("btree: search %q: %w", key, storageerr.ErrKeyNotFound)
	}
	return kv, nil
}

// Insert adds kv to the tree, splitting nodes as needed. Fails with
// ErrKeyAlreadyExists if the key is already present; tree contents are left
// unchanged in that case.
func (t *BTree) Insert(kv KeyValuePair) error {
	leafPN, path, err := t.descendForInsert(kv.Key)
	if err != nil {
		return err
	}
	leaf, err := t.getNode(leafPN)
	if err != nil {
		return err
	}
	if _, ok, err := leaf.FindPair(kv.Key); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("btree: insert %q: %w", kv.Key, storageerr.ErrKeyAlreadyExists)
	}

	numPairs, err := leaf.NumPairs()
	if err != nil {
		return err
	}
	if numPairs < NodeKeysLimit {
		if err := leaf.AddPair(kv); err != nil {
			return err
		}
		return t.putNode(leaf)
	}
	return t.splitLeafAndInsert(leaf, kv, path)
}

// Update overwrites the value stored under kv.Key, failing with
// ErrKeyNotFound if absent.
func (t *BTree) Update(kv KeyValuePair) error {
	leafPN, err := t.descendForSearch(kv.Key)
	if err != nil {
		return err
	}
	leaf, err := t.getNode(leafPN)
	if err != nil {
		return err
	}
	if _, ok, err := leaf.FindPair(kv.Key); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("btree: update %q: %w", kv.Key, storageerr.ErrKeyNotFound)
	}
	if err := leaf.UpdateValue(kv); err != nil {
		return err
	}
	return t.putNode(leaf)
}

// Delete searches for key and, if present, invokes the leaf's (stubbed)
// delete operation. No rebalancing is implemented.
func (t *BTree) Delete(key string) error {
	leafPN, err := t.descendForSearch(key)
	if err != nil {
		return err
	}
	leaf, err := t.getNode(leafPN)
	if err != nil {
		return err
	}
	if _, ok, err := leaf.FindPair(key); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("btree: delete %q: %w", key, storageerr.ErrKeyNotFound)
	}
	return leaf.Delete(key)
}

// splitLeafAndInsert splits a full leaf (which cannot accept kv directly),
// distributing the old pairs plus kv across two freshly allocated leaves,
// relinking the sibling chain, and propagating the median key up through
// path.
func (t *BTree) splitLeafAndInsert(leaf *Node, kv KeyValuePair, path []uint64) error {
	pairs, err := leaf.Pairs()
	if err != nil {
		return err
	}
	pairs = append(pairs, kv)
	sortPairsByKey(pairs)

	mid := len(pairs) / 2
	leftPairs, rightPairs := pairs[:mid], pairs[mid:]
	medianKey := pairs[mid].Key

	leftPN, _, err := t.pg.GetNewPage()
	if err != nil {
		return err
	}
	rightPN, _, err := t.pg.GetNewPage()
	if err != nil {
		return err
	}

	childParentOffset := leaf.ParentOffset()
	if leaf.IsRoot() {
		childParentOffset = Offset(leaf.PageNum)
	}

	left := NewLeaf(leftPN, false, childParentOffset)
	right := NewLeaf(rightPN, false, childParentOffset)
	for _, p := range leftPairs {
		if err := left.AddPair(p); err != nil {
			return err
		}
	}
	for _, p := range rightPairs {
		if err := right.AddPair(p); err != nil {
			return err
		}
	}

	oldPrev, err := leaf.PrevLeafOffset()
	if err != nil {
		return err
	}
	oldNext, err := leaf.NextLeafOffset()
	if err != nil {
		return err
	}
	if err := left.SetPrevLeafOffset(oldPrev); err != nil {
		return err
	}
	if err := left.SetNextLeafOffset(Offset(rightPN)); err != nil {
		return err
	}
	if err := right.SetPrevLeafOffset(Offset(leftPN)); err != nil {
		return err
	}
	if err := right.SetNextLeafOffset(oldNext); err != nil {
		return err
	}
	if oldPrev != 0 {
		prevLeaf, err := t.getNode(PageNumFromOffset(oldPrev))
		if err != nil {
			return err
		}
		if err := prevLeaf.SetNextLeafOffset(Offset(leftPN)); err != nil {
			return err
		}
		if err := t.putNode(prevLeaf); err != nil {
			return err
		}
	}
	if oldNext != 0 {
		nextLeaf, err := t.getNode(PageNumFromOffset(oldNext))
		if err != nil {
			return err
		}
		if err := nextLeaf.SetPrevLeafOffset(Offset(rightPN)); err != nil {
			return err
		}
		if err := t.putNode(nextLeaf); err != nil {
			return err
		}
	}

	if t.firstLeaf == leaf.PageNum {
		t.firstLeaf = leftPN
	}

	if err := t.putNode(left); err != nil {
		return err
	}
	if err := t.putNode(right); err != nil {
		return err
	}

	return t.propagateSplit(leaf, path, medianKey, leftPN, rightPN)
}

// propagateSplit installs (medianKey, leftPN, rightPN) as the result of
// splitting the node at the top of path's frame (or, if path is empty,
// converts the tree's own root page in place into an internal node with
// those two children). It then checks whether that insertion overflowed
// the parent and, if so, recurses via splitInternal.
func (t *BTree) propagateSplit(split *Node, path []uint64, medianKey string, leftPN, rightPN uint64) error {
	if len(path) == 0 {
		newRoot := NewInternal(split.PageNum, true, 0)
		if err := newRoot.ResetAsSplitRoot(medianKey, Offset(leftPN), Offset(rightPN)); err != nil {
			return err
		}
		return t.putNode(newRoot)
	}

	parentPN := path[len(path)-1]
	parent, err := t.getNode(parentPN)
	if err != nil {
		return err
	}
	if err := parent.AddKeyAndLeftChild(medianKey, Offset(leftPN)); err != nil {
		return err
	}
	if err := parent.UpdateInternalValue(Offset(split.PageNum), Offset(rightPN)); err != nil {
		return err
	}
	if err := t.putNode(parent); err != nil {
		return err
	}

	numKeys, err := parent.NumKeys()
	if err != nil {
		return err
	}
	if numKeys <= MaxBranch {
		return nil
	}
	return t.splitInternal(parent, path[:len(path)-1])
}

// splitInternal splits an internal node that now holds MaxBranch+1 keys,
// distributing keys [0,mid) and children [0,mid] to the left half, keys
// (mid,n) and children [mid+1,n] to the right half, and promotes keys[mid]
// to the parent via propagateSplit.
func (t *BTree) splitInternal(n *Node, path []uint64) error {
	keys, err := n.Keys()
	if err != nil {
		return err
	}
	children, err := n.Children()
	if err != nil {
		return err
	}

	mid := len(keys) / 2
	medianKey := keys[mid]
	leftKeys, rightKeys := keys[:mid], keys[mid+1:]
	leftChildren, rightChildren := children[:mid+1], children[mid+1:]

	leftPN, _, err := t.pg.GetNewPage()
	if err != nil {
		return err
	}
	rightPN, _, err := t.pg.GetNewPage()
	if err != nil {
		return err
	}

	childParentOffset := n.ParentOffset()
	if n.IsRoot() {
		childParentOffset = Offset(n.PageNum)
	}

	left := NewInternal(leftPN, false, childParentOffset)
	right := NewInternal(rightPN, false, childParentOffset)
	for _, k := range leftKeys {
		if err := left.AppendKey(k); err != nil {
			return err
		}
	}
	for _, c := range leftChildren {
		if err := left.AppendChild(c); err != nil {
			return err
		}
	}
	for _, k := range rightKeys {
		if err := right.AppendKey(k); err != nil {
			return err
		}
	}
	for _, c := range rightChildren {
		if err := right.AppendChild(c); err != nil {
			return err
		}
	}

	if err := t.reparentChildren(leftChildren, Offset(leftPN)); err != nil {
		return err
	}
	if err := t.reparentChildren(rightChildren, Offset(rightPN)); err != nil {
		return err
	}
	if err := t.putNode(left); err != nil {
		return err
	}
	if err := t.putNode(right); err != nil {
		return err
	}

	return t.propagateSplit(n, path, medianKey, leftPN, rightPN)
}

func (t *BTree) reparentChildren(childOffsets []uint64, newParentOffset uint64) error {
	for _, off := range childOffsets {
		child, err := t.getNode(PageNumFromOffset(off))
		if err != nil {
			return err
		}
		child.SetParentOffset(newParentOffset)
		if err := t.putNode(child); err != nil {
			return err
		}
	}
	return nil
}

func sortPairsByKey(pairs []KeyValuePair) {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
}

// dropBelow filters out any leading pairs keyed below floor — needed
// because the leaf a left-bounded scan starts from may hold keys below the
// bound alongside keys at or above it.
func dropBelow(pairs []KeyValuePair, floor string) []KeyValuePair {
	out := pairs[:0:0]
	for _, p := range pairs {
		if p.Key >= floor {
			out = append(out, p)
		}
	}
	return out
}

// dropAbove is dropBelow's mirror for a right-bounded backward scan.
func dropAbove(pairs []KeyValuePair, ceiling string) []KeyValuePair {
	out := pairs[:0:0]
	for _, p := range pairs {
		if p.Key <= ceiling {
			out = append(out, p)
		}
	}
	return out
}

func reversePairs(pairs []KeyValuePair) {
	for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
		pairs[i], pairs[j] = pairs[j], pairs[i]
	}
}

// RangeScan implements the four bounded/unbounded scan cases: both bounds
// walk forward from the left key's leaf and stop once the right key is
// seen; a left-only bound walks forward to the end of the chain; a
// right-only bound walks backward from the right key's leaf to the start;
// no bounds walks forward from the tree's stored first leaf. A bounded scan
// whose anchor key (left, or right when it is the only bound) is absent
// fails with ErrKeyNotFound.
func (t *BTree) RangeScan(left, right *string) ([]KeyValuePair, error) {
	switch {
	case left != nil && right != nil:
		if _, err := t.Search(*left); err != nil {
			return nil, err
		}
		leafPN, err := t.descendForSearch(*left)
		if err != nil {
			return nil, err
		}
		return t.scanForwardUntil(leafPN, *left, *right)
	case left != nil:
		if _, err := t.Search(*left); err != nil {
			return nil, err
		}
		leafPN, err := t.descendForSearch(*left)
		if err != nil {
			return nil, err
		}
		all, err := t.scanForwardToEnd(leafPN)
		if err != nil {
			return nil, err
		}
		return dropBelow(all, *left), nil
	case right != nil:
		if _, err := t.Search(*right); err != nil {
			return nil, err
		}
		leafPN, err := t.descendForSearch(*right)
		if err != nil {
			return nil, err
		}
		all, err := t.scanBackwardToStart(leafPN)
		if err != nil {
			return nil, err
		}
		return dropAbove(all, *right), nil
	default:
		return t.scanForwardToEnd(t.firstLeaf)
	}
}

func (t *BTree) scanForwardToEnd(startPN uint64) ([]KeyValuePair, error) {
	var out []KeyValuePair
	for pn := startPN; pn != 0; {
		leaf, err := t.getNode(pn)
		if err != nil {
			return nil, err
		}
		pairs, err := leaf.Pairs()
		if err != nil {
			return nil, err
		}
		sortPairsByKey(pairs)
		out = append(out, pairs...)
		next, err := leaf.NextLeafOffset()
		if err != nil {
			return nil, err
		}
		pn = PageNumFromOffset(next)
	}
	return out, nil
}

// scanForwardUntil walks the sibling chain from startPN (the leaf
// descendForSearch(leftKey) landed on), emitting every pair with
// leftKey <= key <= rightKey. Only the first leaf visited can hold pairs
// below leftKey (earlier leaves in the chain are, by construction, entirely
// below it), so the lower bound is applied solely to that leaf; every
// subsequent leaf's pairs are emitted in full until the leaf holding
// rightKey is reached, which is then filtered to its upper bound.
func (t *BTree) scanForwardUntil(startPN uint64, leftKey, rightKey string) ([]KeyValuePair, error) {
	var out []KeyValuePair
	first := true
	for pn := startPN; pn != 0; {
		leaf, err := t.getNode(pn)
		if err != nil {
			return nil, err
		}
		pairs, err := leaf.Pairs()
		if err != nil {
			return nil, err
		}
		sortPairsByKey(pairs)

		hasRight := false
		for _, p := range pairs {
			if p.Key == rightKey {
				hasRight = true
				break
			}
		}
		if hasRight {
			for _, p := range pairs {
				if p.Key >= leftKey && p.Key <= rightKey {
					out = append(out, p)
				}
			}
			return out, nil
		}
		if first {
			for _, p := range pairs {
				if p.Key >= leftKey {
					out = append(out, p)
				}
			}
		} else {
			out = append(out, pairs...)
		}
		first = false

		next, err := leaf.NextLeafOffset()
		if err != nil {
			return nil, err
		}
		pn = PageNumFromOffset(next)
	}
	return out, nil
}

func (t *BTree) scanBackwardToStart(startPN uint64) ([]KeyValuePair, error) {
	var out []KeyValuePair
	for pn := startPN; pn != 0; {
		leaf, err := t.getNode(pn)
		if err != nil {
			return nil, err
		}
		pairs, err := leaf.Pairs()
		if err != nil {
			return nil, err
		}
		sortPairsByKey(pairs)
		reversePairs(pairs)
		out = append(out, pairs...)

		prev, err := leaf.PrevLeafOffset()
		if err != nil {
			return nil, err
		}
		pn = PageNumFromOffset(prev)
	}
	return out, nil
}
