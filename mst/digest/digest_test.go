package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	reg := NewRegistry()

	d, err := reg.Hash(SHA2_256, []byte("hello"))
	require.NoError(t, err)
	require.NotEmpty(t, d)

	alg, err := d.Algorithm()
	require.NoError(t, err)
	assert.Equal(t, SHA2_256, alg)

	ok, err := reg.Verify(d, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Verify(d, []byte("hellx"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnregisteredAlgorithm(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Hash(Algorithm(0xffff), []byte("x"))
	require.Error(t, err)
}

func TestFromBytes(t *testing.T) {
	reg := NewRegistry()
	d, err := reg.Hash(SHA2_256, []byte("payload"))
	require.NoError(t, err)

	back, err := FromBytes(d.Bytes())
	require.NoError(t, err)
	assert.True(t, d.Equal(back))

	empty, err := FromBytes(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = FromBytes([]byte{0xff})
	require.Error(t, err)
}

func TestString(t *testing.T) {
	reg := NewRegistry()
	d, err := reg.Hash(SHA2_256, []byte("printable"))
	require.NoError(t, err)
	assert.NotEmpty(t, d.String())
	assert.Empty(t, Digest(nil).String())
}

func TestEqual(t *testing.T) {
	reg := NewRegistry()
	a, err := reg.Hash(SHA2_256, []byte("a"))
	require.NoError(t, err)
	b, err := reg.Hash(SHA2_256, []byte("b"))
	require.NoError(t, err)

	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(nil))
	assert.True(t, Digest(nil).Equal(nil))
}
