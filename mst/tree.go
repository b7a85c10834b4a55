// Package mst implements the merkle sorted tree: an authenticated,
// persistent, sparse index over a fixed numeric id space, backed by a
// content-addressed key-value store. Every versioned ledger dataset
// (accounts, contracts, roles, events) is built on one of these.
//
// The tree's shape is determined entirely by the ids it holds, never by
// insertion order: a node at (offset, step) covers the id range
// [offset, offset+step*degree), and slot i covers the step-wide span
// starting at offset+i*step. Writes stage in memory until Commit
// flushes dirty nodes bottom-up; Cancel discards them. The tree is a
// single-writer structure; callers serialize mutations externally.
package mst

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wujifengcn/jdchain-core/mst/codec"
	"github.com/wujifengcn/jdchain-core/mst/digest"
	"github.com/wujifengcn/jdchain-core/mst/kvstore"
)

// Tree is a merkle sorted tree over a kvstore.Store. Not safe for
// concurrent use.
type Tree struct {
	degree   int
	maxDepth int
	maxCount int64

	opts      TreeOptions
	keyPrefix []byte
	store     kvstore.Store
	registry  *digest.Registry
	alg       digest.Algorithm
	log       *slog.Logger

	// cache holds raw bytes of clean, already-persisted nodes keyed by
	// digest. Dirty nodes never enter it.
	cache *lru.Cache[string, []byte]

	root *pathNode
}

// NewEmpty creates an empty tree writing under keyPrefix in store.
func NewEmpty(opts TreeOptions, keyPrefix []byte, store kvstore.Store) (*Tree, error) {
	opts = opts.withDefaults()
	if !opts.Degree.Supported() {
		return nil, fmt.Errorf("%w: unsupported degree %d", ErrBadRoot, opts.Degree)
	}
	if opts.MaxDepth < 2 || opts.MaxDepth > opts.Degree.MaxDepth() {
		return nil, fmt.Errorf("%w: depth %d not in [2, %d] for degree %d",
			ErrBadRoot, opts.MaxDepth, opts.Degree.MaxDepth(), opts.Degree)
	}
	t, err := newTree(opts, keyPrefix, store)
	if err != nil {
		return nil, err
	}
	// The root spans the whole id space from the start; merges below it
	// grow subtrees upward toward it as distant ids appear.
	t.root = newPathNode(t, 0, t.maxCount/int64(t.degree))
	return t, nil
}

// Open loads the tree rooted at rootHash. The degree is inferred from
// the root's child arrays and the id space from its step; both must be
// consistent or Open fails with ErrBadRoot.
func Open(ctx context.Context, rootHash digest.Digest, opts TreeOptions, keyPrefix []byte, store kvstore.Store) (*Tree, error) {
	opts = opts.withDefaults()
	t, err := newTree(opts, keyPrefix, store)
	if err != nil {
		return nil, err
	}

	alg, err := rootHash.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRoot, err)
	}
	if alg != t.alg {
		return nil, fmt.Errorf("%w: root digest algorithm %d, tree configured for %d", ErrBadRoot, alg, t.alg)
	}

	data, err := t.loadNodeBytes(ctx, rootHash)
	if err != nil {
		return nil, err
	}
	entry, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRoot, err)
	}

	deg := TreeDegree(entry.Degree())
	if !deg.Supported() {
		return nil, fmt.Errorf("%w: degree %d", ErrBadRoot, entry.Degree())
	}
	t.degree = int(deg)

	// The root always covers the full id space, so its geometry fixes
	// the tree parameters: max count is step*degree and the depth is
	// the number of degree-factors in it.
	if entry.Offset != 0 || entry.Step < 1 {
		return nil, fmt.Errorf("%w: root offset=%d step=%d", ErrBadRoot, entry.Offset, entry.Step)
	}
	depth := 1
	span := int64(t.degree)
	for step := entry.Step; step > 1; step /= int64(t.degree) {
		if step%int64(t.degree) != 0 {
			return nil, fmt.Errorf("%w: root step %d is not a power of %d", ErrBadRoot, entry.Step, t.degree)
		}
		depth++
		span *= int64(t.degree)
	}
	t.maxDepth = depth
	t.maxCount = span
	if entry.Step == 1 {
		return nil, fmt.Errorf("%w: root step 1", ErrBadRoot)
	}

	t.root = pathNodeFromEntry(t, rootHash, entry)
	return t, nil
}

func newTree(opts TreeOptions, keyPrefix []byte, store kvstore.Store) (*Tree, error) {
	prefix := make([]byte, len(keyPrefix))
	copy(prefix, keyPrefix)
	t := &Tree{
		degree:    int(opts.Degree),
		maxDepth:  opts.MaxDepth,
		maxCount:  maxCountFor(int(opts.Degree), opts.MaxDepth),
		opts:      opts,
		keyPrefix: prefix,
		store:     store,
		registry:  opts.Registry,
		alg:       opts.HashAlgorithm,
		log:       opts.Logger,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, []byte](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		t.cache = cache
	}
	return t, nil
}

// Degree returns the tree's branching factor.
func (t *Tree) Degree() int { return t.degree }

// MaxCount returns the exclusive upper bound of the id space.
func (t *Tree) MaxCount() int64 { return t.maxCount }

// RootHash returns the root digest as of the last commit, or nil for an
// empty tree that has never been committed. Uncommitted changes do not
// move it.
func (t *Tree) RootHash() digest.Digest {
	return t.root.hash
}

// Count returns the number of populated ids as of the last commit.
func (t *Tree) Count() int64 {
	return t.root.sumCounts()
}

// IsUpdated reports whether the tree holds uncommitted changes.
func (t *Tree) IsUpdated() bool {
	return t.root.dirty
}

// Set stages value at id. Under the default policy a populated id is
// rejected with ErrDuplicateID; the tree is left unchanged on any
// error.
func (t *Tree) Set(ctx context.Context, id int64, value []byte) error {
	if t.opts.ReadOnly {
		return ErrReadOnly
	}
	if id < 0 || id >= t.maxCount {
		return fmt.Errorf("%w: id %d not in [0, %d)", ErrBadID, id, t.maxCount)
	}
	// The root spans the whole id space, so the merge never replaces
	// it; the general merge below still handles parent creation for the
	// sparse interior levels.
	merged, err := t.mergeData(ctx, t.root, id, value)
	if err != nil {
		return err
	}
	t.root = merged.(*pathNode)
	return nil
}

// Get returns the payload at id, or nil when id is unpopulated or out
// of range.
func (t *Tree) Get(ctx context.Context, id int64) ([]byte, error) {
	return t.seekData(ctx, t.root, id, nil)
}

// GetProof returns the digests on the path from the root to id's
// value, root first and value digest last, or nil when id is
// unpopulated. Proofs authenticate committed state: if the path holds
// uncommitted changes GetProof fails with ErrUncommitted.
func (t *Tree) GetProof(ctx context.Context, id int64) (*Proof, error) {
	if t.root.hash == nil {
		return nil, ErrUncommitted
	}
	sel := &proofSelector{}
	sel.acceptNode(t.root.hash)
	v, err := t.seekData(ctx, t.root, id, sel)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	if sel.sawDirty {
		return nil, ErrUncommitted
	}
	return &Proof{path: sel.path}, nil
}

// Iterator returns an in-order skipping iterator over the populated
// ids as of the last commit. Later changes to the tree are not
// observed. A root slot that holds uncommitted changes when the
// iterator is created has no digest, and walking into it fails with
// ErrUncommitted.
func (t *Tree) Iterator() SkippingIterator {
	counts := make([]int64, t.degree)
	copy(counts, t.root.counts)
	hashes := make([]digest.Digest, t.degree)
	copy(hashes, t.root.hashes)
	return newPathIterator(t, t.root.offset, t.root.step, hashes, counts)
}

// Commit persists every dirty node bottom-up and returns the new root
// hash. A failed commit leaves the staged state intact for retry or
// Cancel.
func (t *Tree) Commit(ctx context.Context) (digest.Digest, error) {
	if t.opts.ReadOnly {
		return nil, ErrReadOnly
	}
	h, err := t.root.commit(ctx)
	if err != nil {
		return nil, err
	}
	t.log.Debug("mst commit", "root", h.String(), "count", t.Count())
	return h, nil
}

// Cancel discards every uncommitted change, restoring the state of the
// last commit. No storage writes occur.
func (t *Tree) Cancel() error {
	if t.opts.ReadOnly {
		return ErrReadOnly
	}
	t.root.cancel()
	return nil
}

// alignedOffset returns the offset of the subtree with the given step
// that covers id.
func (t *Tree) alignedOffset(id, step int64) int64 {
	span := step * int64(t.degree)
	return id - id%span
}

// mergeData merges (id, value) into the subtree at n and returns the
// subtree's new root: n itself when id falls inside it, otherwise a
// fresh parent spanning both.
func (t *Tree) mergeData(ctx context.Context, n treeNode, id int64, value []byte) (treeNode, error) {
	nb := n.base()

	// Find the lowest common ancestor span of id and this subtree.
	step := nb.step
	dataOffset := t.alignedOffset(id, step)
	pathOffset := nb.offset
	for dataOffset != pathOffset {
		step *= int64(t.degree)
		if step >= t.maxCount {
			return nil, fmt.Errorf("mst: step overflow merging id %d", id)
		}
		dataOffset = t.alignedOffset(id, step)
		pathOffset = t.alignedOffset(nb.offset, step)
	}

	if step == nb.step && pathOffset == nb.offset {
		// id belongs inside n.
		idx := nb.slotOf(id)
		switch p := n.(type) {
		case *pathNode:
			if err := t.setDataChild(ctx, p, idx, id, value); err != nil {
				return nil, err
			}
			return p, nil
		case *leafNode:
			if err := t.setLeafData(ctx, p, idx, id, value); err != nil {
				return nil, err
			}
			return p, nil
		default:
			return nil, fmt.Errorf("mst: unknown node variant %T", n)
		}
	}

	// id lies outside n: create their common parent and hang both
	// under it.
	parent := newPathNode(t, pathOffset, step)
	if err := t.setDataChild(ctx, parent, parent.slotOf(id), id, value); err != nil {
		return nil, err
	}
	if err := t.setNodeChild(ctx, parent, parent.slotOf(nb.offset), nb.hash, n); err != nil {
		return nil, err
	}
	return parent, nil
}

// setDataChild places (id, value) under slot idx of p, creating a leaf
// subtree when the slot is empty and merging into the existing child
// otherwise.
func (t *Tree) setDataChild(ctx context.Context, p *pathNode, idx int, id int64, value []byte) error {
	orig, err := p.child(ctx, idx)
	if err != nil {
		return err
	}
	if orig == nil {
		leaf := newLeafNode(t, t.alignedOffset(id, 1))
		if err := t.setLeafData(ctx, leaf, leaf.slotOf(id), id, value); err != nil {
			return err
		}
		if leaf.values[leaf.slotOf(id)] == nil {
			// The update policy ignored the write; don't install an
			// empty leaf.
			return nil
		}
		return p.setChild(idx, nil, leaf)
	}
	merged, err := t.mergeData(ctx, orig, id, value)
	if err != nil {
		return err
	}
	return p.setChild(idx, nil, merged)
}

// setLeafData runs the duplicate policy and stages value at slot idx.
func (t *Tree) setLeafData(ctx context.Context, l *leafNode, idx int, id int64, value []byte) error {
	orig, err := l.value(ctx, idx)
	if err != nil {
		return err
	}
	next, err := t.opts.UpdateData(id, orig, value)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	l.setValue(idx, next)
	return nil
}

// setNodeChild hangs child under slot idx of p, merging with the
// occupant when the slot is taken.
func (t *Tree) setNodeChild(ctx context.Context, p *pathNode, idx int, childHash digest.Digest, child treeNode) error {
	orig, err := p.child(ctx, idx)
	if err != nil {
		return err
	}
	if orig == nil {
		return p.setChild(idx, childHash, child)
	}
	merged, err := t.mergeNodes(ctx, orig, child)
	if err != nil {
		return err
	}
	return p.setChild(idx, nil, merged)
}

// mergeNodes merges two sibling subtrees under their lowest common
// ancestor, reusing one of them as the parent when the other nests
// inside it.
func (t *Tree) mergeNodes(ctx context.Context, n1, n2 treeNode) (treeNode, error) {
	b1, b2 := n1.base(), n2.base()
	if b1.offset == b2.offset && b1.step == b2.step {
		return nil, fmt.Errorf("mst: cannot merge two nodes over the same range (offset=%d step=%d)", b1.offset, b1.step)
	}

	step := b1.step
	if b2.step > step {
		step = b2.step
	}
	offset1 := t.alignedOffset(b1.offset, step)
	offset2 := t.alignedOffset(b2.offset, step)
	for offset1 != offset2 {
		step *= int64(t.degree)
		if step >= t.maxCount {
			return nil, fmt.Errorf("mst: step overflow merging subtrees at %d and %d", b1.offset, b2.offset)
		}
		offset1 = t.alignedOffset(b1.offset, step)
		offset2 = t.alignedOffset(b2.offset, step)
	}

	if step == b1.step && offset1 == b1.offset {
		p, ok := n1.(*pathNode)
		if !ok {
			return nil, fmt.Errorf("%w: leaf node cannot contain a subtree", ErrBadChild)
		}
		if err := t.setNodeChild(ctx, p, p.slotOf(b2.offset), b2.hash, n2); err != nil {
			return nil, err
		}
		return p, nil
	}
	if step == b2.step && offset2 == b2.offset {
		p, ok := n2.(*pathNode)
		if !ok {
			return nil, fmt.Errorf("%w: leaf node cannot contain a subtree", ErrBadChild)
		}
		if err := t.setNodeChild(ctx, p, p.slotOf(b1.offset), b1.hash, n1); err != nil {
			return nil, err
		}
		return p, nil
	}

	parent := newPathNode(t, offset1, step)
	if err := parent.setChild(parent.slotOf(b1.offset), b1.hash, n1); err != nil {
		return nil, err
	}
	if err := parent.setChild(parent.slotOf(b2.offset), b2.hash, n2); err != nil {
		return nil, err
	}
	return parent, nil
}

// entrySelector observes the nodes a seek traverses; the proof builder
// is its only implementation.
type entrySelector interface {
	acceptNode(h digest.Digest)
	acceptValue(h digest.Digest, id int64, value []byte)
}

// seekData walks from n down to id, lazily loading children, and
// returns the payload or nil. sel, when non-nil, sees the hash of every
// node on the path below n plus the value digest.
func (t *Tree) seekData(ctx context.Context, n treeNode, id int64, sel entrySelector) ([]byte, error) {
	nb := n.base()
	idx := nb.slotOf(id)
	if idx < 0 {
		return nil, nil
	}

	switch p := n.(type) {
	case *pathNode:
		child, err := p.child(ctx, idx)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, nil
		}
		if sel != nil {
			sel.acceptNode(p.hashes[idx])
		}
		return t.seekData(ctx, child, id, sel)
	case *leafNode:
		v, err := p.value(ctx, idx)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		if sel != nil {
			sel.acceptValue(p.hashes[idx], id, v)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("mst: unknown node variant %T", n)
	}
}

// loadNode fetches and decodes the IndexEntry at h, wrapping it as the
// node variant its step dictates.
func (t *Tree) loadNode(ctx context.Context, h digest.Digest) (treeNode, error) {
	entry, err := t.loadIndexEntry(ctx, h)
	if err != nil {
		return nil, err
	}
	if entry.Degree() != t.degree {
		return nil, fmt.Errorf("%w: node %s has degree %d, tree has %d",
			ErrBadChild, h, entry.Degree(), t.degree)
	}
	if entry.Step > 1 {
		return pathNodeFromEntry(t, h, entry), nil
	}
	return leafNodeFromEntry(t, h, entry), nil
}

func (t *Tree) loadIndexEntry(ctx context.Context, h digest.Digest) (*codec.IndexEntry, error) {
	data, err := t.loadNodeBytes(ctx, h)
	if err != nil {
		return nil, err
	}
	return codec.Decode(data)
}

func (t *Tree) storageKey(h digest.Digest) []byte {
	key := make([]byte, 0, len(t.keyPrefix)+len(h))
	key = append(key, t.keyPrefix...)
	return append(key, h...)
}

// loadNodeBytes reads the bytes persisted under h, consulting the
// clean-node cache first and verifying the digest when configured.
func (t *Tree) loadNodeBytes(ctx context.Context, h digest.Digest) ([]byte, error) {
	if t.cache != nil {
		if data, ok := t.cache.Get(string(h)); ok {
			return data, nil
		}
	}
	data, err := t.store.Get(ctx, t.storageKey(h))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: node %s", ErrNotFound, h)
	}
	if t.opts.VerifyHashOnLoad {
		ok, err := t.registry.Verify(h, data)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: node %s", ErrHashMismatch, h)
		}
	}
	if t.cache != nil {
		t.cache.Add(string(h), data)
	}
	return data, nil
}

// saveNodeBytes hashes data, writes it under its prefixed digest with
// put-if-absent semantics, and returns the digest. An existing key is
// content-addressed idempotence unless duplicate reporting is on.
func (t *Tree) saveNodeBytes(ctx context.Context, data []byte) (digest.Digest, error) {
	h, err := t.registry.Hash(t.alg, data)
	if err != nil {
		return nil, err
	}
	written, err := t.store.PutIfAbsent(ctx, t.storageKey(h), data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !written && t.opts.ReportDuplicatedData {
		return nil, fmt.Errorf("%w: node %s", ErrDuplicatePut, h)
	}
	if t.cache != nil {
		t.cache.Add(string(h), data)
	}
	return h, nil
}
