package mst

import "errors"

var (
	// ErrBadID marks an id outside [0, MaxCount).
	ErrBadID = errors.New("mst: id out of bounds")

	// ErrDuplicateID marks a write to an already populated id under the
	// default reject policy.
	ErrDuplicateID = errors.New("mst: id already populated")

	// ErrReadOnly marks a mutating call on a read-only tree.
	ErrReadOnly = errors.New("mst: tree is read-only")

	// ErrNotFound marks a node whose hash is referenced but whose bytes
	// are missing from storage.
	ErrNotFound = errors.New("mst: node not found")

	// ErrHashMismatch marks stored node bytes that fail verification
	// against their requested digest.
	ErrHashMismatch = errors.New("mst: node hash verification failed")

	// ErrBadChild marks an attempt to install a child whose offset or
	// step does not fit its parent.
	ErrBadChild = errors.New("mst: child does not belong to node")

	// ErrBadRoot marks a loaded root with an unsupported degree or a
	// malformed encoding.
	ErrBadRoot = errors.New("mst: bad root node")

	// ErrDuplicatePut marks a put-if-absent collision while duplicate
	// reporting is enabled.
	ErrDuplicatePut = errors.New("mst: node already persisted")

	// ErrStorage wraps I/O failures from the underlying store.
	ErrStorage = errors.New("mst: storage failure")

	// ErrUncommitted marks a proof request or an iterator walk over a
	// path that still holds uncommitted changes; proofs authenticate
	// committed state only.
	ErrUncommitted = errors.New("mst: tree has uncommitted changes")
)
