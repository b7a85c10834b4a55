// Package codec implements the stable binary wire format of merkle
// sorted tree index nodes. The encoding is deterministic: fields in a
// fixed order, child arrays in slot order including empty slots, so
// that two nodes with the same content always serialize to the same
// bytes and therefore the same content hash.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wujifengcn/jdchain-core/mst/digest"
)

// SchemaCode tags every serialized IndexEntry so index records can be
// told apart from opaque leaf payloads, which carry no framing at all.
const SchemaCode uint16 = 0x4D49

// ErrMalformed is returned when bytes do not decode as an IndexEntry.
var ErrMalformed = errors.New("codec: malformed index entry")

// IndexEntry is the persisted form of every non-leaf position in the
// tree. Slot i covers ids [Offset + i*Step, Offset + (i+1)*Step); the
// branching degree is implied by the length of the child arrays.
type IndexEntry struct {
	Offset      int64
	Step        int64
	ChildCounts []int64
	ChildHashes []digest.Digest
}

// Degree returns the branching factor implied by the child arrays.
func (e *IndexEntry) Degree() int {
	return len(e.ChildCounts)
}

// Encode serializes e. Empty hash slots are written as a zero length.
func Encode(e *IndexEntry) ([]byte, error) {
	if len(e.ChildCounts) != len(e.ChildHashes) {
		return nil, fmt.Errorf("%w: child array lengths differ (%d counts, %d hashes)",
			ErrMalformed, len(e.ChildCounts), len(e.ChildHashes))
	}
	degree := len(e.ChildCounts)

	size := 2 + 8 + 8 + 4 + 8*degree + 4
	for _, h := range e.ChildHashes {
		size += 4 + len(h)
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint16(buf, SchemaCode)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.Offset))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.Step))
	buf = binary.BigEndian.AppendUint32(buf, uint32(degree))
	for _, c := range e.ChildCounts {
		buf = binary.BigEndian.AppendUint64(buf, uint64(c))
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(degree))
	for _, h := range e.ChildHashes {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(h)))
		buf = append(buf, h...)
	}
	return buf, nil
}

// Decode parses bytes produced by Encode. It validates framing and the
// structural invariant that a slot has a hash exactly when its count is
// non-zero.
func Decode(b []byte) (*IndexEntry, error) {
	r := reader{buf: b}

	schema, err := r.uint16()
	if err != nil {
		return nil, err
	}
	if schema != SchemaCode {
		return nil, fmt.Errorf("%w: schema code %#04x", ErrMalformed, schema)
	}

	offset, err := r.int64()
	if err != nil {
		return nil, err
	}
	step, err := r.int64()
	if err != nil {
		return nil, err
	}
	if offset < 0 || step < 1 {
		return nil, fmt.Errorf("%w: offset=%d step=%d", ErrMalformed, offset, step)
	}

	countsLen, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if countsLen == 0 || countsLen > 1024 {
		return nil, fmt.Errorf("%w: implausible degree %d", ErrMalformed, countsLen)
	}
	counts := make([]int64, countsLen)
	for i := range counts {
		c, err := r.int64()
		if err != nil {
			return nil, err
		}
		if c < 0 {
			return nil, fmt.Errorf("%w: negative child count at slot %d", ErrMalformed, i)
		}
		counts[i] = c
	}

	hashesLen, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if hashesLen != countsLen {
		return nil, fmt.Errorf("%w: %d counts but %d hashes", ErrMalformed, countsLen, hashesLen)
	}
	hashes := make([]digest.Digest, hashesLen)
	for i := range hashes {
		hlen, err := r.uint32()
		if err != nil {
			return nil, err
		}
		if hlen == 0 {
			continue
		}
		raw, err := r.take(int(hlen))
		if err != nil {
			return nil, err
		}
		d, err := digest.FromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: slot %d: %v", ErrMalformed, i, err)
		}
		hashes[i] = d
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.remaining())
	}

	for i := range counts {
		if (counts[i] == 0) != (hashes[i] == nil) {
			return nil, fmt.Errorf("%w: slot %d count/hash disagree", ErrMalformed, i)
		}
	}

	return &IndexEntry{
		Offset:      offset,
		Step:        step,
		ChildCounts: counts,
		ChildHashes: hashes,
	}, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) take(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("%w: truncated at byte %d", ErrMalformed, r.pos)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

func (r *reader) uint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, fmt.Errorf("%w: truncated at byte %d", ErrMalformed, r.pos)
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("%w: truncated at byte %d", ErrMalformed, r.pos)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) int64() (int64, error) {
	if r.remaining() < 8 {
		return 0, fmt.Errorf("%w: truncated at byte %d", ErrMalformed, r.pos)
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return int64(v), nil
}
