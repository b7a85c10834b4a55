package digest

import (
	"fmt"

	sha256 "github.com/minio/sha256-simd"
	mh "github.com/multiformats/go-multihash"
)

// HashFunc computes the raw (non-multihash) digest bytes of data.
type HashFunc func(data []byte) []byte

type algEntry struct {
	name string
	hash HashFunc
}

// Registry maps an Algorithm to its hash implementation, providing
// hashing and verification over raw node bytes.
type Registry struct {
	algorithms map[Algorithm]algEntry
}

// NewRegistry returns a registry pre-populated with SHA2-256, backed by
// minio/sha256-simd.
func NewRegistry() *Registry {
	r := &Registry{algorithms: map[Algorithm]algEntry{}}
	r.Register(SHA2_256, "sha2-256", func(data []byte) []byte {
		sum := sha256.Sum256(data)
		return sum[:]
	})
	return r
}

// Register installs a named hash function under alg, overriding any
// previous registration.
func (r *Registry) Register(alg Algorithm, name string, h HashFunc) {
	r.algorithms[alg] = algEntry{name: name, hash: h}
}

// Hash returns the self-describing digest of data under alg.
func (r *Registry) Hash(alg Algorithm, data []byte) (Digest, error) {
	e, ok := r.algorithms[alg]
	if !ok {
		return nil, fmt.Errorf("digest: unregistered algorithm %d", alg)
	}
	raw := e.hash(data)
	sum, err := mh.Encode(raw, uint64(alg))
	if err != nil {
		return nil, fmt.Errorf("digest: encode: %w", err)
	}
	return Digest(sum), nil
}

// Verify re-hashes data under d's own algorithm and compares against d.
func (r *Registry) Verify(d Digest, data []byte) (bool, error) {
	alg, err := d.Algorithm()
	if err != nil {
		return false, err
	}
	want, err := r.Hash(alg, data)
	if err != nil {
		return false, err
	}
	return want.Equal(d), nil
}
