package mst

import (
	"strings"

	"github.com/wujifengcn/jdchain-core/mst/digest"
)

// Proof authenticates one populated id against the root hash: the
// ordered digests of every index node on the path from the root down,
// ending with the digest of the value bytes. Each digest resolves (via
// the same key prefix) to stored node bytes that contain the next
// digest in the sequence.
type Proof struct {
	path []digest.Digest
}

// Len returns the number of digests in the proof.
func (p *Proof) Len() int { return len(p.path) }

// Digests returns the proof path, root hash first.
func (p *Proof) Digests() []digest.Digest {
	out := make([]digest.Digest, len(p.path))
	copy(out, p.path)
	return out
}

// RootHash returns the first digest of the path.
func (p *Proof) RootHash() digest.Digest { return p.path[0] }

// ValueHash returns the last digest of the path: the digest of the
// value bytes themselves.
func (p *Proof) ValueHash() digest.Digest { return p.path[len(p.path)-1] }

func (p *Proof) String() string {
	parts := make([]string, len(p.path))
	for i, h := range p.path {
		parts[i] = h.String()
	}
	return strings.Join(parts, "/")
}

// proofSelector collects path digests during a seek. A nil digest means
// the path crosses uncommitted state and no proof can be issued.
type proofSelector struct {
	path     []digest.Digest
	sawDirty bool
}

func (s *proofSelector) acceptNode(h digest.Digest) {
	if h == nil {
		s.sawDirty = true
		return
	}
	s.path = append(s.path, h)
}

func (s *proofSelector) acceptValue(h digest.Digest, id int64, value []byte) {
	if h == nil {
		s.sawDirty = true
		return
	}
	s.path = append(s.path, h)
}
