package mst

import (
	"context"
	"fmt"

	"github.com/wujifengcn/jdchain-core/mst/codec"
	"github.com/wujifengcn/jdchain-core/mst/digest"
)

// treeNode is the in-memory form of one IndexEntry: a pathNode when
// step > 1, a leafNode at step == 1. Dispatch between the two variants
// is static per node.
type treeNode interface {
	base() *nodeBase
	commit(ctx context.Context) (digest.Digest, error)
	cancel()
}

// nodeBase carries the fields shared by both node variants: the
// IndexEntry data, the node's own hash as of its last commit (nil if it
// was never committed; staging a change does not clear it), and the
// snapshot of child hashes taken at construction that cancel restores.
type nodeBase struct {
	tree       *Tree
	offset     int64
	step       int64
	nextOffset int64

	hash       digest.Digest
	counts     []int64
	hashes     []digest.Digest
	origHashes []digest.Digest
	dirty      bool
}

func newNodeBase(t *Tree, hash digest.Digest, offset, step int64, counts []int64, hashes []digest.Digest) nodeBase {
	orig := make([]digest.Digest, len(hashes))
	copy(orig, hashes)
	return nodeBase{
		tree:       t,
		offset:     offset,
		step:       step,
		nextOffset: offset + step*int64(t.degree),
		hash:       hash,
		counts:     counts,
		hashes:     hashes,
		origHashes: orig,
		dirty:      hash == nil,
	}
}

// slotOf returns the slot covering id, or -1 when id falls outside this
// node's range.
func (n *nodeBase) slotOf(id int64) int {
	if id < n.offset || id >= n.nextOffset {
		return -1
	}
	return int((id - n.offset) / n.step)
}

func (n *nodeBase) sumCounts() int64 {
	var total int64
	for _, c := range n.counts {
		total += c
	}
	return total
}

func (n *nodeBase) toEntry() *codec.IndexEntry {
	return &codec.IndexEntry{
		Offset:      n.offset,
		Step:        n.step,
		ChildCounts: n.counts,
		ChildHashes: n.hashes,
	}
}

// restoreSlots implements the shared part of cancel: every slot whose
// hash diverged from the construction-time snapshot is reset, and the
// variant's drop callback releases the cached child.
func (n *nodeBase) restoreSlots(drop func(i int)) {
	for i := range n.hashes {
		if n.hashes[i] == nil || n.origHashes[i] == nil || !n.hashes[i].Equal(n.origHashes[i]) {
			drop(i)
		}
		n.hashes[i] = n.origHashes[i]
	}
	// hash is left alone: a non-nil hash is only ever written by a
	// completed commit, which also re-snapshots origHashes.
}

// pathNode is an internal node; its children are IndexEntries.
type pathNode struct {
	nodeBase
	children []treeNode
}

func newPathNode(t *Tree, offset, step int64) *pathNode {
	return &pathNode{
		nodeBase: newNodeBase(t, nil, offset, step,
			make([]int64, t.degree), make([]digest.Digest, t.degree)),
		children: make([]treeNode, t.degree),
	}
}

func pathNodeFromEntry(t *Tree, hash digest.Digest, e *codec.IndexEntry) *pathNode {
	return &pathNode{
		nodeBase: newNodeBase(t, hash, e.Offset, e.Step, e.ChildCounts, e.ChildHashes),
		children: make([]treeNode, t.degree),
	}
}

func (p *pathNode) base() *nodeBase { return &p.nodeBase }

// child resolves slot i, lazily loading it from storage when only its
// hash is known. Returns nil for an empty slot.
func (p *pathNode) child(ctx context.Context, i int) (treeNode, error) {
	if p.children[i] != nil {
		return p.children[i], nil
	}
	if p.hashes[i] == nil {
		return nil, nil
	}
	child, err := p.tree.loadNode(ctx, p.hashes[i])
	if err != nil {
		return nil, err
	}
	p.children[i] = child
	return child, nil
}

// setChild installs child at slot i. childHash is the child's known
// hash, or nil for a dirty child whose hash commit will compute.
func (p *pathNode) setChild(i int, childHash digest.Digest, child treeNode) error {
	cb := child.base()
	if cb.step >= p.step || cb.offset < p.offset || cb.offset >= p.nextOffset {
		return fmt.Errorf("%w: child (offset=%d step=%d) under parent (offset=%d step=%d)",
			ErrBadChild, cb.offset, cb.step, p.offset, p.step)
	}
	p.hashes[i] = childHash
	p.children[i] = child
	p.dirty = true
	return nil
}

func (p *pathNode) commit(ctx context.Context) (digest.Digest, error) {
	if !p.dirty {
		return p.hash, nil
	}
	for i, child := range p.children {
		if child == nil {
			continue
		}
		h, err := child.commit(ctx)
		if err != nil {
			return nil, err
		}
		p.hashes[i] = h
		p.counts[i] = child.base().sumCounts()
	}

	data, err := codec.Encode(p.toEntry())
	if err != nil {
		return nil, err
	}
	h, err := p.tree.saveNodeBytes(ctx, data)
	if err != nil {
		return nil, err
	}

	copy(p.origHashes, p.hashes)
	p.hash = h
	p.dirty = false
	return h, nil
}

func (p *pathNode) cancel() {
	p.restoreSlots(func(i int) {
		if p.children[i] != nil {
			child := p.children[i]
			p.children[i] = nil
			child.cancel()
		}
	})
	p.dirty = p.hash == nil
}

// leafNode is a node at step 1; its children are opaque payloads.
type leafNode struct {
	nodeBase
	values [][]byte
}

func newLeafNode(t *Tree, offset int64) *leafNode {
	return &leafNode{
		nodeBase: newNodeBase(t, nil, offset, 1,
			make([]int64, t.degree), make([]digest.Digest, t.degree)),
		values: make([][]byte, t.degree),
	}
}

func leafNodeFromEntry(t *Tree, hash digest.Digest, e *codec.IndexEntry) *leafNode {
	return &leafNode{
		nodeBase: newNodeBase(t, hash, e.Offset, e.Step, e.ChildCounts, e.ChildHashes),
		values:   make([][]byte, t.degree),
	}
}

func (l *leafNode) base() *nodeBase { return &l.nodeBase }

// value resolves the payload at slot i, lazily loading it from storage.
// Returns nil for an empty slot.
func (l *leafNode) value(ctx context.Context, i int) ([]byte, error) {
	if l.values[i] != nil {
		return l.values[i], nil
	}
	if l.hashes[i] == nil {
		return nil, nil
	}
	data, err := l.tree.loadNodeBytes(ctx, l.hashes[i])
	if err != nil {
		return nil, err
	}
	l.values[i] = data
	return data, nil
}

func (l *leafNode) setValue(i int, v []byte) {
	l.values[i] = v
	l.hashes[i] = nil
	l.dirty = true
}

func (l *leafNode) commit(ctx context.Context) (digest.Digest, error) {
	if !l.dirty {
		return l.hash, nil
	}
	for i, v := range l.values {
		if l.hashes[i] != nil || v == nil {
			continue
		}
		h, err := l.tree.saveNodeBytes(ctx, v)
		if err != nil {
			return nil, err
		}
		l.hashes[i] = h
		l.counts[i] = 1
	}

	data, err := codec.Encode(l.toEntry())
	if err != nil {
		return nil, err
	}
	h, err := l.tree.saveNodeBytes(ctx, data)
	if err != nil {
		return nil, err
	}

	copy(l.origHashes, l.hashes)
	l.hash = h
	l.dirty = false
	return h, nil
}

func (l *leafNode) cancel() {
	l.restoreSlots(func(i int) {
		l.values[i] = nil
	})
	l.dirty = l.hash == nil
}
