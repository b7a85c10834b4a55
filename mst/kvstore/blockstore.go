package kvstore

import (
	"bytes"
	"context"
	"fmt"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	mh "github.com/multiformats/go-multihash"
)

// BlockStore adapts an IPFS blockstore to the Store contract.
//
// A blockstore is already content-addressed: blocks are keyed by the
// multihash of their bytes. The tree's keys are prefix-plus-multihash,
// so the adapter is constructed with the same prefix the tree uses,
// strips it, and addresses blocks by raw-codec CIDs built from the
// remaining multihash. Keys that do not carry the prefix or a valid
// multihash are rejected.
type BlockStore struct {
	bs     blockstore.Blockstore
	prefix []byte
}

// NewBlockStore wraps bs for a tree writing under keyPrefix.
func NewBlockStore(bs blockstore.Blockstore, keyPrefix []byte) *BlockStore {
	prefix := make([]byte, len(keyPrefix))
	copy(prefix, keyPrefix)
	return &BlockStore{bs: bs, prefix: prefix}
}

func (b *BlockStore) keyToCid(key []byte) (cid.Cid, error) {
	if !bytes.HasPrefix(key, b.prefix) {
		return cid.Undef, fmt.Errorf("blockstore: key lacks prefix %x", b.prefix)
	}
	h, err := mh.Cast(key[len(b.prefix):])
	if err != nil {
		return cid.Undef, fmt.Errorf("blockstore: key is not a multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, h), nil
}

func (b *BlockStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	c, err := b.keyToCid(key)
	if err != nil {
		return nil, err
	}
	has, err := b.bs.Has(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("blockstore has: %w", err)
	}
	if !has {
		return nil, nil
	}
	blk, err := b.bs.Get(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("blockstore get: %w", err)
	}
	return blk.RawData(), nil
}

func (b *BlockStore) PutIfAbsent(ctx context.Context, key []byte, value []byte) (bool, error) {
	c, err := b.keyToCid(key)
	if err != nil {
		return false, err
	}
	has, err := b.bs.Has(ctx, c)
	if err != nil {
		return false, fmt.Errorf("blockstore has: %w", err)
	}
	if has {
		return false, nil
	}
	blk, err := blocks.NewBlockWithCid(value, c)
	if err != nil {
		return false, fmt.Errorf("blockstore: %w", err)
	}
	if err := b.bs.Put(ctx, blk); err != nil {
		return false, fmt.Errorf("blockstore put: %w", err)
	}
	return true, nil
}
