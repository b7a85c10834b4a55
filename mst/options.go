package mst

import (
	"fmt"
	"log/slog"

	"github.com/wujifengcn/jdchain-core/mst/digest"
)

// TreeDegree is the branching factor of every node in a tree.
type TreeDegree int

const (
	Degree4  TreeDegree = 4
	Degree8  TreeDegree = 8
	Degree16 TreeDegree = 16
)

// degreeDepths maps each supported degree to the depth at which
// degree^depth reaches 2^60, keeping every legal id well inside the
// positive int64 range.
var degreeDepths = map[TreeDegree]int{
	Degree4:  30,
	Degree8:  20,
	Degree16: 15,
}

// Supported reports whether d is one of the degrees a tree can carry.
func (d TreeDegree) Supported() bool {
	_, ok := degreeDepths[d]
	return ok
}

// MaxDepth returns the default number of levels from root to the leaf
// layer for d.
func (d TreeDegree) MaxDepth() int {
	return degreeDepths[d]
}

// MaxCount returns the exclusive id bound degree^MaxDepth. All
// supported degrees share 2^60.
func (d TreeDegree) MaxCount() int64 {
	return maxCountFor(int(d), d.MaxDepth())
}

func maxCountFor(degree, depth int) int64 {
	n := int64(1)
	for i := 0; i < depth; i++ {
		n *= int64(degree)
	}
	return n
}

// UpdateDataFunc decides what happens when Set targets an id. orig is
// nil for a fresh id. Returning a nil value ignores the write; an error
// aborts it with the tree unchanged.
type UpdateDataFunc func(id int64, orig, data []byte) ([]byte, error)

// RejectDuplicates is the default update policy: writing a second value
// to a populated id fails with ErrDuplicateID.
func RejectDuplicates(id int64, orig, data []byte) ([]byte, error) {
	if orig != nil {
		return nil, fmt.Errorf("%w: id %d", ErrDuplicateID, id)
	}
	return data, nil
}

// TreeOptions carries the immutable parameters of a tree.
type TreeOptions struct {
	// Degree is the branching factor; defaults to Degree4.
	Degree TreeDegree

	// MaxDepth overrides the degree's default depth when non-zero.
	// Degree^MaxDepth is the exclusive bound on ids; small depths make
	// compact trees for tests and fixtures.
	MaxDepth int

	// HashAlgorithm selects the digest algorithm for every node under
	// the root. Defaults to SHA2-256.
	HashAlgorithm digest.Algorithm

	// VerifyHashOnLoad re-hashes loaded node bytes against the
	// requested digest and fails with ErrHashMismatch on disagreement.
	VerifyHashOnLoad bool

	// ReportDuplicatedData turns a put-if-absent collision during
	// commit into ErrDuplicatePut instead of treating it as
	// content-addressed idempotence.
	ReportDuplicatedData bool

	// ReadOnly rejects Set, Commit and Cancel with ErrReadOnly.
	ReadOnly bool

	// UpdateData is the duplicate policy hook; defaults to
	// RejectDuplicates.
	UpdateData UpdateDataFunc

	// Registry resolves hash algorithms; defaults to a fresh registry
	// with SHA2-256 installed.
	Registry *digest.Registry

	// CacheSize bounds the per-tree LRU of clean node bytes. Zero picks
	// a default; negative disables caching.
	CacheSize int

	// Logger receives debug-level commit events; defaults to
	// slog.Default.
	Logger *slog.Logger
}

// DefaultOptions returns the options an empty ledger dataset tree uses:
// degree 4, SHA2-256, load verification on, duplicate reporting off.
func DefaultOptions() TreeOptions {
	return TreeOptions{
		Degree:           Degree4,
		HashAlgorithm:    digest.SHA2_256,
		VerifyHashOnLoad: true,
	}
}

const defaultCacheSize = 1024

func (o TreeOptions) withDefaults() TreeOptions {
	if o.Degree == 0 {
		o.Degree = Degree4
	}
	if o.MaxDepth == 0 {
		o.MaxDepth = o.Degree.MaxDepth()
	}
	if o.HashAlgorithm == 0 {
		o.HashAlgorithm = digest.SHA2_256
	}
	if o.UpdateData == nil {
		o.UpdateData = RejectDuplicates
	}
	if o.Registry == nil {
		o.Registry = digest.NewRegistry()
	}
	if o.CacheSize == 0 {
		o.CacheSize = defaultCacheSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
