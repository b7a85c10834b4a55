// Package digest implements the hash function registry and the
// self-describing digest type the merkle sorted tree addresses its
// nodes with.
package digest

import (
	"fmt"

	"github.com/mr-tron/base58"
	mh "github.com/multiformats/go-multihash"
)

// Digest is a self-describing content hash: algorithm-tag, length and
// raw hash bytes, encoded as a multiformats multihash. Mixing algorithms
// under one root is forbidden; every node under a root shares the
// algorithm of the root's own digest.
type Digest []byte

// Algorithm identifies a hash function by its multicodec code.
type Algorithm uint64

// SHA2_256 is the default algorithm, backed by minio/sha256-simd.
const SHA2_256 Algorithm = Algorithm(mh.SHA2_256)

// Equal reports whether two digests are byte-identical. A nil receiver or
// argument is only equal to another nil/empty digest.
func (d Digest) Equal(other Digest) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if d[i] != other[i] {
			return false
		}
	}
	return true
}

// Algorithm returns the multicodec algorithm tag encoded in d.
func (d Digest) Algorithm() (Algorithm, error) {
	dec, err := mh.Decode(d)
	if err != nil {
		return 0, fmt.Errorf("digest: decode: %w", err)
	}
	return Algorithm(dec.Code), nil
}

// String renders the digest as a base58 string, the way the rest of the
// IPFS/atproto ecosystem prints its multihash-backed identifiers.
func (d Digest) String() string {
	if len(d) == 0 {
		return ""
	}
	return base58.Encode(d)
}

// Bytes returns the raw wire bytes of the digest.
func (d Digest) Bytes() []byte {
	return []byte(d)
}

// FromBytes wraps raw bytes as a Digest, validating multihash framing.
// An empty slice decodes to a nil Digest (an unpopulated slot).
func FromBytes(b []byte) (Digest, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if _, err := mh.Decode(b); err != nil {
		return nil, fmt.Errorf("digest: invalid encoding: %w", err)
	}
	return Digest(b), nil
}
