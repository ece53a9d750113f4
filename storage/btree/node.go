// Package btree implements the disk-resident B+ tree index: Node is a
// transient view over one page's bytes, interpreting it as either an
// internal or leaf node; BTree drives search, insert, update and range
// scan using the pager/buffer stack for every node access.
package btree

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"pagestore/storage/page"
	"pagestore/storage/storageerr"
)

// Kind distinguishes the two node layouts sharing the common header.
type Kind uint8

const (
	KindInternal Kind = 1
	KindLeaf     Kind = 2
)

const (
	// KeySize is the fixed width of an on-page key, ASCII-padded with
	// trailing NULs.
	KeySize = 10

	// LeafMaxPairs is the number of (key, value) pairs a leaf holds
	// before it must split.
	LeafMaxPairs = 10

	// MaxBranch is the number of keys an internal node holds before it
	// must split (one more child than keys).
	MaxBranch = 200

	// NodeKeysLimit is the leaf pair-count ceiling used by Insert: a leaf
	// splits once it would hold NodeKeysLimit+1 pairs. Fixed at
	// LeafMaxPairs-1 rather than MaxBranch-1: the leaf and internal
	// capacities are independent constants, and using MAX_BRANCH here
	// (as an early draft of the source does) would let a leaf grow far
	// past LeafMaxPairs before splitting.
	NodeKeysLimit = LeafMaxPairs - 1

	// common header
	offIsRoot       = 0
	offNodeKind     = 1
	offParentOffset = 2
	commonHeaderLen = 10

	// leaf header (offsets are absolute within the page)
	offNumPairs    = 10
	offNextLeaf    = 18
	offPrevLeaf    = 26
	offPairsStart  = 34
	pairSize       = KeySize + page.PtrSize

	// internal header
	offNumChildren       = 10
	offNumKeys           = 18
	offChildOffsetsStart = 26
	// childSlots reserves one slot beyond the MAX_BRANCH+1 steady-state
	// child count: AddKeyAndLeftChild briefly grows numChildren to
	// MaxBranch+2 while propagating a split into an already-full parent,
	// one call before splitInternal fires and drains it back down. Sizing
	// the array for steady state only (MaxBranch+1) would let that write
	// land on offKeysStart and corrupt the first key.
	childSlots   = MaxBranch + 2
	offKeysStart = offChildOffsetsStart + childSlots*page.PtrSize
)

// KeyValuePair is a leaf's logical record: a trimmed key and its value.
type KeyValuePair struct {
	Key   string
	Value uint64
}

// Node is a transient, mutable view over one page's bytes. It holds no
// lifetime beyond the caller's use and no reference to sibling or parent
// nodes — those are named only by offset and reconstructed on demand via
// the pager.
type Node struct {
	Page         *page.Page
	PageNum      uint64
	kind         Kind
	isRoot       bool
	parentOffset uint64
}

// Offset encodes pageNum as the node-address form used by parent/child/
// sibling pointers on the page: page# * PAGE_SIZE. Zero denotes "no page".
func Offset(pageNum uint64) uint64 {
	if pageNum == 0 {
		return 0
	}
	return pageNum * page.Size
}

// PageNumFromOffset decodes a node-address back to a page number.
func PageNumFromOffset(offset uint64) uint64 {
	if offset == 0 {
		return 0
	}
	return offset / page.Size
}

// Load interprets p as a Node already written to pageNum, rejecting an
// unrecognized node kind byte.
func Load(p *page.Page, pageNum uint64) (*Node, error) {
	raw, err := p.ReadBytes(offNodeKind, 1)
	if err != nil {
		return nil, err
	}
	kind := Kind(raw[0])
	if kind != KindInternal && kind != KindLeaf {
		return nil, fmt.Errorf("btree: page %d has unknown node kind %d: %w", pageNum, raw[0], storageerr.ErrUnexpected)
	}
	rootByte, err := p.ReadBytes(offIsRoot, 1)
	if err != nil {
		return nil, err
	}
	parentOffset, err := p.ReadInt(offParentOffset)
	if err != nil {
		return nil, err
	}
	return &Node{Page: p, PageNum: pageNum, kind: kind, isRoot: rootByte[0] != 0, parentOffset: parentOffset}, nil
}

func newNode(pageNum uint64, kind Kind, isRoot bool, parentOffset uint64) *Node {
	n := &Node{Page: page.New(), PageNum: pageNum, kind: kind, isRoot: isRoot, parentOffset: parentOffset}
	n.writeHeader()
	return n
}

// NewLeaf constructs a blank leaf node bound to pageNum. All counters and
// sibling pointers start at zero courtesy of the page's zeroed backing
// buffer.
func NewLeaf(pageNum uint64, isRoot bool, parentOffset uint64) *Node {
	return newNode(pageNum, KindLeaf, isRoot, parentOffset)
}

// NewInternal constructs a blank internal node bound to pageNum.
func NewInternal(pageNum uint64, isRoot bool, parentOffset uint64) *Node {
	return newNode(pageNum, KindInternal, isRoot, parentOffset)
}

func (n *Node) writeHeader() {
	var rootByte byte
	if n.isRoot {
		rootByte = 1
	}
	_ = n.Page.WriteBytes(offIsRoot, []byte{rootByte}, 1)
	_ = n.Page.WriteBytes(offNodeKind, []byte{byte(n.kind)}, 1)
	_ = n.Page.WriteInt(offParentOffset, n.parentOffset)
}

// Kind reports whether this node is an internal or leaf node.
func (n *Node) Kind() Kind { return n.kind }

// IsRoot reports the node's root flag.
func (n *Node) IsRoot() bool { return n.isRoot }

// SetIsRoot updates the root flag.
func (n *Node) SetIsRoot(v bool) {
	n.isRoot = v
	n.writeHeader()
}

// ParentOffset returns this node's recorded parent address (0 if root).
func (n *Node) ParentOffset() uint64 { return n.parentOffset }

// SetParentOffset updates this node's recorded parent address.
func (n *Node) SetParentOffset(offset uint64) {
	n.parentOffset = offset
	n.writeHeader()
}

// SelfOffset is this node's own node-address, derived from its page number.
func (n *Node) SelfOffset() uint64 { return Offset(n.PageNum) }

func encodeKey(key string) ([KeySize]byte, error) {
	var buf [KeySize]byte
	if len(key) > KeySize {
		return buf, fmt.Errorf("btree: key %q longer than %d bytes: %w", key, KeySize, storageerr.ErrUnexpected)
	}
	copy(buf[:], key)
	return buf, nil
}

func decodeKey(b []byte) (string, error) {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	if !utf8.Valid(b[:end]) {
		return "", fmt.Errorf("btree: key bytes not valid utf8: %w", storageerr.ErrUTF8)
	}
	return string(b[:end]), nil
}

// --- leaf operations ---

func (n *Node) requireLeaf(op string) error {
	if n.kind != KindLeaf {
		return fmt.Errorf("btree: %s on non-leaf page %d: %w", op, n.PageNum, storageerr.ErrUnexpected)
	}
	return nil
}

func (n *Node) requireInternal(op string) error {
	if n.kind != KindInternal {
		return fmt.Errorf("btree: %s on non-internal page %d: %w", op, n.PageNum, storageerr.ErrUnexpected)
	}
	return nil
}

// NumPairs returns the number of (key, value) pairs stored in a leaf.
func (n *Node) NumPairs() (uint64, error) {
	if err := n.requireLeaf("num_pairs"); err != nil {
		return 0, err
	}
	return n.Page.ReadInt(offNumPairs)
}

func pairKeyOffset(i uint64) int { return offPairsStart + int(i)*pairSize }
func pairValOffset(i uint64) int { return offPairsStart + int(i)*pairSize + KeySize }

// Pairs returns every (key, value) pair in stored order.
func (n *Node) Pairs() ([]KeyValuePair, error) {
	if err := n.requireLeaf("pairs"); err != nil {
		return nil, err
	}
	num, err := n.NumPairs()
	if err != nil {
		return nil, err
	}
	out := make([]KeyValuePair, 0, num)
	for i := uint64(0); i < num; i++ {
		kb, err := n.Page.ReadBytes(pairKeyOffset(i), KeySize)
		if err != nil {
			return nil, err
		}
		key, err := decodeKey(kb)
		if err != nil {
			return nil, err
		}
		val, err := n.Page.ReadInt(pairValOffset(i))
		if err != nil {
			return nil, err
		}
		out = append(out, KeyValuePair{Key: key, Value: val})
	}
	return out, nil
}

// Keys returns every pair's key, in stored order.
func (n *Node) Keys() ([]string, error) {
	switch n.kind {
	case KindLeaf:
		pairs, err := n.Pairs()
		if err != nil {
			return nil, err
		}
		out := make([]string, len(pairs))
		for i, p := range pairs {
			out[i] = p.Key
		}
		return out, nil
	case KindInternal:
		return n.internalKeys()
	default:
		return nil, fmt.Errorf("btree: keys on unknown node: %w", storageerr.ErrUnexpected)
	}
}

// AddPair appends kv at the tail of the leaf's pair array. Fails once the
// leaf already holds LeafMaxPairs pairs — callers must split first.
func (n *Node) AddPair(kv KeyValuePair) error {
	if err := n.requireLeaf("add_pair"); err != nil {
		return err
	}
	num, err := n.NumPairs()
	if err != nil {
		return err
	}
	if num >= LeafMaxPairs {
		return fmt.Errorf("btree: leaf page %d is full: %w", n.PageNum, storageerr.ErrUnexpected)
	}
	kb, err := encodeKey(kv.Key)
	if err != nil {
		return err
	}
	if err := n.Page.WriteBytes(pairKeyOffset(num), kb[:], KeySize); err != nil {
		return err
	}
	if err := n.Page.WriteInt(pairValOffset(num), kv.Value); err != nil {
		return err
	}
	return n.Page.WriteInt(offNumPairs, num+1)
}

// FindPair linear-scans for key, returning ok=false if absent.
func (n *Node) FindPair(key string) (KeyValuePair, bool, error) {
	if err := n.requireLeaf("find_pair"); err != nil {
		return KeyValuePair{}, false, err
	}
	pairs, err := n.Pairs()
	if err != nil {
		return KeyValuePair{}, false, err
	}
	for _, p := range pairs {
		if p.Key == key {
			return p, true, nil
		}
	}
	return KeyValuePair{}, false, nil
}

// UpdateValue overwrites the value for an existing key. Fails with
// ErrKeyNotFound if the key is absent.
func (n *Node) UpdateValue(kv KeyValuePair) error {
	if err := n.requireLeaf("update_value"); err != nil {
		return err
	}
	num, err := n.NumPairs()
	if err != nil {
		return err
	}
	for i := uint64(0); i < num; i++ {
		kb, err := n.Page.ReadBytes(pairKeyOffset(i), KeySize)
		if err != nil {
			return err
		}
		key, err := decodeKey(kb)
		if err != nil {
			return err
		}
		if key == kv.Key {
			return n.Page.WriteInt(pairValOffset(i), kv.Value)
		}
	}
	return fmt.Errorf("btree: update_value %q: %w", kv.Key, storageerr.ErrKeyNotFound)
}

// NextLeafOffset / PrevLeafOffset / SetNextLeafOffset / SetPrevLeafOffset
// read and write the leaf sibling chain pointers (0 means no sibling).
func (n *Node) NextLeafOffset() (uint64, error) {
	if err := n.requireLeaf("next_leaf"); err != nil {
		return 0, err
	}
	return n.Page.ReadInt(offNextLeaf)
}

func (n *Node) PrevLeafOffset() (uint64, error) {
	if err := n.requireLeaf("prev_leaf"); err != nil {
		return 0, err
	}
	return n.Page.ReadInt(offPrevLeaf)
}

func (n *Node) SetNextLeafOffset(offset uint64) error {
	if err := n.requireLeaf("set_next_leaf"); err != nil {
		return err
	}
	return n.Page.WriteInt(offNextLeaf, offset)
}

func (n *Node) SetPrevLeafOffset(offset uint64) error {
	if err := n.requireLeaf("set_prev_leaf"); err != nil {
		return err
	}
	return n.Page.WriteInt(offPrevLeaf, offset)
}

// Delete is a stub: deletion and rebalancing are not implemented.
func (n *Node) Delete(key string) error {
	return fmt.Errorf("btree: delete is not implemented: %w", storageerr.ErrUnexpected)
}

// --- internal operations ---

// NumChildren returns the number of child offsets stored.
func (n *Node) NumChildren() (uint64, error) {
	if err := n.requireInternal("num_children"); err != nil {
		return 0, err
	}
	return n.Page.ReadInt(offNumChildren)
}

// NumKeys returns the number of keys stored.
func (n *Node) NumKeys() (uint64, error) {
	if err := n.requireInternal("num_keys"); err != nil {
		return 0, err
	}
	return n.Page.ReadInt(offNumKeys)
}

func childOffsetAt(i uint64) int { return offChildOffsetsStart + int(i)*page.PtrSize }
func keyAt(i uint64) int         { return offKeysStart + int(i)*KeySize }

// Children returns every child node-address, in stored order.
func (n *Node) Children() ([]uint64, error) {
	if err := n.requireInternal("children"); err != nil {
		return nil, err
	}
	num, err := n.NumChildren()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, num)
	for i := uint64(0); i < num; i++ {
		v, err := n.Page.ReadInt(childOffsetAt(i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (n *Node) internalKeys() ([]string, error) {
	num, err := n.NumKeys()
	if err != nil {
		return nil, err
	}
	out := make([]string, num)
	for i := uint64(0); i < num; i++ {
		kb, err := n.Page.ReadBytes(keyAt(i), KeySize)
		if err != nil {
			return nil, err
		}
		key, err := decodeKey(kb)
		if err != nil {
			return nil, err
		}
		out[i] = key
	}
	return out, nil
}

// AppendChild appends offset as the new last child. Used only to populate a
// freshly allocated internal node during a split, where entries are known
// to already be in final sorted order.
func (n *Node) AppendChild(offset uint64) error {
	if err := n.requireInternal("append_child"); err != nil {
		return err
	}
	num, err := n.NumChildren()
	if err != nil {
		return err
	}
	if err := n.Page.WriteInt(childOffsetAt(num), offset); err != nil {
		return err
	}
	return n.Page.WriteInt(offNumChildren, num+1)
}

// AppendKey appends key as the new last key. See AppendChild.
func (n *Node) AppendKey(key string) error {
	if err := n.requireInternal("append_key"); err != nil {
		return err
	}
	num, err := n.NumKeys()
	if err != nil {
		return err
	}
	kb, err := encodeKey(key)
	if err != nil {
		return err
	}
	if err := n.Page.WriteBytes(keyAt(num), kb[:], KeySize); err != nil {
		return err
	}
	return n.Page.WriteInt(offNumKeys, num+1)
}

// AddKeyAndLeftChild inserts key and leftChildOffset into the internal
// node's arrays, maintaining sorted order: it locates the first existing
// key strictly greater than key, shifts both arrays right from that
// position, and writes the new entries into the opened slot. Used during
// split propagation: the new left half's offset is inserted immediately
// before the slot of the node that was just split (which will in turn be
// repointed to the right half via UpdateInternalValue).
func (n *Node) AddKeyAndLeftChild(key string, leftChildOffset uint64) error {
	if err := n.requireInternal("add_key_and_left_child"); err != nil {
		return err
	}
	numKeys, err := n.NumKeys()
	if err != nil {
		return err
	}
	numChildren, err := n.NumChildren()
	if err != nil {
		return err
	}

	idx := uint64(0)
	for idx < numKeys {
		kb, err := n.Page.ReadBytes(keyAt(idx), KeySize)
		if err != nil {
			return err
		}
		existing, err := decodeKey(kb)
		if err != nil {
			return err
		}
		if existing > key {
			break
		}
		idx++
	}

	kb, err := encodeKey(key)
	if err != nil {
		return err
	}
	keysEnd := offKeysStart + int(numKeys)*KeySize
	if err := n.Page.InsertBytes(kb[:], keyAt(idx), keysEnd); err != nil {
		return err
	}

	var cb [page.PtrSize]byte
	binary.BigEndian.PutUint64(cb[:], leftChildOffset)
	childrenEnd := offChildOffsetsStart + int(numChildren)*page.PtrSize
	// The shifted region ends at the last live child byte (childrenEnd-1):
	// shifting through childrenEnd itself would copy a dead byte onto
	// offKeysStart once numChildren reaches childSlots-1.
	if err := n.Page.InsertBytes(cb[:], childOffsetAt(idx), childrenEnd-1); err != nil {
		return err
	}

	if err := n.Page.WriteInt(offNumKeys, numKeys+1); err != nil {
		return err
	}
	return n.Page.WriteInt(offNumChildren, numChildren+1)
}

// UpdateInternalKey overwrites an existing key in place (no re-sort).
func (n *Node) UpdateInternalKey(old, new string) error {
	if err := n.requireInternal("update_internal_key"); err != nil {
		return err
	}
	numKeys, err := n.NumKeys()
	if err != nil {
		return err
	}
	for i := uint64(0); i < numKeys; i++ {
		kb, err := n.Page.ReadBytes(keyAt(i), KeySize)
		if err != nil {
			return err
		}
		existing, err := decodeKey(kb)
		if err != nil {
			return err
		}
		if existing == old {
			nb, err := encodeKey(new)
			if err != nil {
				return err
			}
			return n.Page.WriteBytes(keyAt(i), nb[:], KeySize)
		}
	}
	return fmt.Errorf("btree: update_internal_key %q: %w", old, storageerr.ErrKeyNotFound)
}

// UpdateInternalValue linear-scans the child array for oldOffset and
// overwrites it with newOffset.
func (n *Node) UpdateInternalValue(oldOffset, newOffset uint64) error {
	if err := n.requireInternal("update_internal_value"); err != nil {
		return err
	}
	numChildren, err := n.NumChildren()
	if err != nil {
		return err
	}
	for i := uint64(0); i < numChildren; i++ {
		v, err := n.Page.ReadInt(childOffsetAt(i))
		if err != nil {
			return err
		}
		if v == oldOffset {
			return n.Page.WriteInt(childOffsetAt(i), newOffset)
		}
	}
	return fmt.Errorf("btree: update_internal_value %d: %w", oldOffset, storageerr.ErrKeyNotFound)
}

// ResetAsSplitRoot rewrites this node (kept as the root) to hold exactly
// two children and one key, as happens when the root itself splits: the
// root's page is reused rather than replaced so the tree's root page
// number never changes.
func (n *Node) ResetAsSplitRoot(medianKey string, leftOffset, rightOffset uint64) error {
	if err := n.requireInternal("reset_as_split_root"); err != nil {
		return err
	}
	if err := n.Page.WriteInt(offNumChildren, 2); err != nil {
		return err
	}
	if err := n.Page.WriteInt(offNumKeys, 1); err != nil {
		return err
	}
	if err := n.Page.WriteInt(childOffsetAt(0), leftOffset); err != nil {
		return err
	}
	if err := n.Page.WriteInt(childOffsetAt(1), rightOffset); err != nil {
		return err
	}
	kb, err := encodeKey(medianKey)
	if err != nil {
		return err
	}
	return n.Page.WriteBytes(keyAt(0), kb[:], KeySize)
}
