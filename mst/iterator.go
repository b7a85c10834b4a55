package mst

import (
	"context"
	"fmt"

	"github.com/wujifengcn/jdchain-core/mst/digest"
)

// ValueEntry is one populated id and its payload.
type ValueEntry struct {
	ID    int64
	Value []byte
}

// SkippingIterator walks populated ids in ascending order. Skip jumps
// over whole subtrees using the child-count prefix sums, so skipping
// past a region never loads it. The iterator snapshots its node at
// construction; later changes to the tree are not observed.
type SkippingIterator interface {
	// TotalCount is the number of entries the iterator covers.
	TotalCount() int64

	// Cursor is the index of the last returned entry, -1 initially.
	Cursor() int64

	HasNext() bool

	// Next returns the next populated entry, or nil at the end.
	Next(ctx context.Context) (*ValueEntry, error)

	// Skip advances past up to n entries without materializing them and
	// returns the number actually skipped; less than n only at the end.
	Skip(ctx context.Context, n int64) (int64, error)
}

// pathIterator iterates one node level, delegating to a lazily created
// child iterator for the slot under the cursor. Subtrees load on first
// visit and are released as the walk moves past them.
type pathIterator struct {
	tree   *Tree
	offset int64
	step   int64
	hashes []digest.Digest
	counts []int64

	totalCount int64
	childIdx   int
	cursor     int64
	childIt    SkippingIterator
}

func newPathIterator(t *Tree, offset, step int64, hashes []digest.Digest, counts []int64) *pathIterator {
	var total int64
	for _, c := range counts {
		total += c
	}
	return &pathIterator{
		tree:       t,
		offset:     offset,
		step:       step,
		hashes:     hashes,
		counts:     counts,
		totalCount: total,
		cursor:     -1,
	}
}

func (it *pathIterator) TotalCount() int64 { return it.totalCount }

func (it *pathIterator) Cursor() int64 { return it.cursor }

func (it *pathIterator) HasNext() bool { return it.cursor+1 < it.totalCount }

// sumTo returns the count of entries under slots [0, end).
func (it *pathIterator) sumTo(end int) int64 {
	var s int64
	for _, c := range it.counts[:end] {
		s += c
	}
	return s
}

func (it *pathIterator) Next(ctx context.Context) (*ValueEntry, error) {
	if !it.HasNext() {
		return nil, nil
	}

	s := it.sumTo(it.childIdx + 1)
	for it.cursor+1 >= s && it.childIdx < len(it.counts)-1 {
		it.childIdx++
		it.childIt = nil
		s += it.counts[it.childIdx]
	}

	if it.childIt == nil {
		child, err := it.createChildIterator(ctx, it.childIdx)
		if err != nil {
			return nil, err
		}
		it.childIt = child
	}
	it.cursor++
	return it.childIt.Next(ctx)
}

func (it *pathIterator) Skip(ctx context.Context, n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("mst: negative skip count %d", n)
	}
	if n == 0 || it.childIdx >= len(it.counts) {
		return 0, nil
	}

	// Entries left under the slot the cursor is in.
	currLeft := it.sumTo(it.childIdx+1) - it.cursor - 1
	if n < currLeft {
		if it.childIt == nil {
			child, err := it.createChildIterator(ctx, it.childIdx)
			if err != nil {
				return 0, err
			}
			it.childIt = child
		}
		sk, err := it.childIt.Skip(ctx, n)
		if err != nil {
			return 0, err
		}
		if sk != n {
			return 0, fmt.Errorf("mst: child iterator skipped %d of %d", sk, n)
		}
		it.cursor += n
		return n, nil
	}

	// Jump whole slots using the counts alone.
	it.childIt = nil
	skipped := currLeft
	it.childIdx++
	for it.childIdx < len(it.counts) && skipped+it.counts[it.childIdx] <= n {
		skipped += it.counts[it.childIdx]
		it.childIdx++
	}
	if it.childIdx < len(it.counts) {
		rest := n - skipped
		child, err := it.createChildIterator(ctx, it.childIdx)
		if err != nil {
			return 0, err
		}
		it.childIt = child
		sk, err := child.Skip(ctx, rest)
		if err != nil {
			return 0, err
		}
		if sk != rest {
			return 0, fmt.Errorf("mst: child iterator skipped %d of %d", sk, rest)
		}
		skipped = n
	}
	it.cursor += skipped
	return skipped, nil
}

func (it *pathIterator) createChildIterator(ctx context.Context, idx int) (SkippingIterator, error) {
	h := it.hashes[idx]
	if h == nil {
		// A populated slot always carries a hash; empty slots have
		// count 0 and are skipped before reaching here.
		return nil, fmt.Errorf("%w: slot %d of node at offset %d", ErrUncommitted, idx, it.offset)
	}
	if it.step > 1 {
		entry, err := it.tree.loadIndexEntry(ctx, h)
		if err != nil {
			return nil, err
		}
		return newPathIterator(it.tree, entry.Offset, entry.Step, entry.ChildHashes, entry.ChildCounts), nil
	}
	data, err := it.tree.loadNodeBytes(ctx, h)
	if err != nil {
		return nil, err
	}
	return &valueIterator{entry: ValueEntry{ID: it.offset + int64(idx), Value: data}, cursor: -1}, nil
}

// valueIterator yields a single already-loaded entry.
type valueIterator struct {
	entry  ValueEntry
	cursor int64
}

func (it *valueIterator) TotalCount() int64 { return 1 }

func (it *valueIterator) Cursor() int64 { return it.cursor }

func (it *valueIterator) HasNext() bool { return it.cursor < 0 }

func (it *valueIterator) Next(ctx context.Context) (*ValueEntry, error) {
	if !it.HasNext() {
		return nil, nil
	}
	it.cursor++
	return &it.entry, nil
}

func (it *valueIterator) Skip(ctx context.Context, n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("mst: negative skip count %d", n)
	}
	if n == 0 || !it.HasNext() {
		return 0, nil
	}
	it.cursor++
	return 1, nil
}
