package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wujifengcn/jdchain-core/mst/digest"
)

func testEntry(t *testing.T) *IndexEntry {
	t.Helper()
	reg := digest.NewRegistry()
	h, err := reg.Hash(digest.SHA2_256, []byte("child"))
	require.NoError(t, err)

	return &IndexEntry{
		Offset:      16,
		Step:        4,
		ChildCounts: []int64{0, 3, 0, 1},
		ChildHashes: []digest.Digest{nil, h, nil, h},
	}
}

func TestRoundTrip(t *testing.T) {
	entry := testEntry(t)

	data, err := Encode(entry)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, entry.Offset, decoded.Offset)
	assert.Equal(t, entry.Step, decoded.Step)
	assert.Equal(t, entry.ChildCounts, decoded.ChildCounts)
	assert.Equal(t, entry.ChildHashes, decoded.ChildHashes)
	assert.Equal(t, 4, decoded.Degree())

	// Deterministic: same entry, same bytes.
	data2, err := Encode(entry)
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestDecodeRejectsLeafPayload(t *testing.T) {
	_, err := Decode([]byte("just some opaque value bytes"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	data, err := Encode(testEntry(t))
	require.NoError(t, err)

	for _, cut := range []int{1, 2, 10, len(data) - 1} {
		_, err := Decode(data[:cut])
		assert.ErrorIs(t, err, ErrMalformed, "cut at %d", cut)
	}

	_, err = Decode(append(data, 0))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsCountHashDisagreement(t *testing.T) {
	entry := testEntry(t)
	entry.ChildCounts[0] = 7 // slot 0 has no hash

	data, err := Encode(entry)
	require.NoError(t, err)
	_, err = Decode(data)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeRejectsSkewedArrays(t *testing.T) {
	entry := testEntry(t)
	entry.ChildHashes = entry.ChildHashes[:3]

	_, err := Encode(entry)
	require.ErrorIs(t, err, ErrMalformed)
}
