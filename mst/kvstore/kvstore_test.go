package kvstore

import (
	"context"
	"testing"

	"github.com/ipfs/go-datastore"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wujifengcn/jdchain-core/mst/digest"
)

func TestMemStorePutIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	v, err := store.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Nil(t, v)

	ok, err := store.PutIfAbsent(ctx, []byte("k"), []byte("v1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.PutIfAbsent(ctx, []byte("k"), []byte("v2"))
	require.NoError(t, err)
	assert.False(t, ok)

	v, err = store.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
	assert.Equal(t, 1, store.Len())
}

func TestBlockStore(t *testing.T) {
	ctx := context.Background()
	prefix := []byte("LDG/MST/")
	bs := NewBlockStore(blockstore.NewBlockstore(datastore.NewMapDatastore()), prefix)

	// Keys are prefix plus the multihash of the value, which is exactly
	// how the tree addresses its nodes.
	reg := digest.NewRegistry()
	value := []byte("node bytes")
	h, err := reg.Hash(digest.SHA2_256, value)
	require.NoError(t, err)
	key := append(append([]byte{}, prefix...), h...)

	v, err := bs.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, v)

	ok, err := bs.PutIfAbsent(ctx, key, value)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = bs.PutIfAbsent(ctx, key, value)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err = bs.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, v)

	// Keys that do not fit the prefix-plus-multihash shape are refused.
	_, err = bs.Get(ctx, []byte("unprefixed"))
	require.Error(t, err)

	_, err = bs.Get(ctx, append(append([]byte{}, prefix...), 0xff))
	require.Error(t, err)
}
