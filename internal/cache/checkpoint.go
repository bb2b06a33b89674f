package cache

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/kaspalytics/kaspalytics-go/internal/checkpoint"
	"github.com/kaspalytics/kaspalytics-go/internal/kaspahash"
	"github.com/kaspalytics/kaspalytics-go/internal/model"
)

// StoreState serializes the cache's four maps and its
// last_known_chain_block/tip_timestamp scalars into the checkpoint store
// rooted at dir, as five (six, including the two scalar values under one
// key each) opaque blobs.
func (c *Cache) StoreState(dir string) error {
	store, err := checkpoint.Open(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	lastKnown, lastKnownSet := c.LastKnownChainBlock()

	if err := putGob(store, checkpoint.KeyLastKnownChainBlock, lastKnownScalar{lastKnown, lastKnownSet}); err != nil {
		return err
	}
	if err := putGob(store, checkpoint.KeyTipTimestamp, c.TipTimestamp()); err != nil {
		return err
	}
	if err := putGob(store, checkpoint.KeyBlocks, c.blocks.Snapshot()); err != nil {
		return err
	}
	if err := putGob(store, checkpoint.KeyTransactions, c.transactions.Snapshot()); err != nil {
		return err
	}
	if err := putGob(store, checkpoint.KeyAcceptingBlockTransactions, c.accepting.Snapshot()); err != nil {
		return err
	}
	if err := putGob(store, checkpoint.KeySeconds, c.seconds.Snapshot()); err != nil {
		return err
	}

	return nil
}

// LoadState deserializes a Cache from the checkpoint store rooted at
// dir. The returned cache always has Synced() == false: recent metrics
// are recomputed from the node rather than trusted from disk. A
// missing key surfaces checkpoint.ErrMissingKey; any deserialization
// error is returned as a typed error, leaving the caller (the daemon's
// init state) to start fresh from the node's pruning point.
func LoadState(dir string, blockRetentionSeconds, secondMetricsRetentionSeconds int64) (*Cache, error) {
	store, err := checkpoint.Open(dir)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	var lastKnown lastKnownScalar
	if err := getGob(store, checkpoint.KeyLastKnownChainBlock, &lastKnown); err != nil {
		return nil, err
	}
	var tipTimestamp int64
	if err := getGob(store, checkpoint.KeyTipTimestamp, &tipTimestamp); err != nil {
		return nil, err
	}
	blocks := make(map[kaspahash.BlockHash]*model.CacheBlock)
	if err := getGob(store, checkpoint.KeyBlocks, &blocks); err != nil {
		return nil, err
	}
	transactions := make(map[kaspahash.TxId]*model.CacheTransaction)
	if err := getGob(store, checkpoint.KeyTransactions, &transactions); err != nil {
		return nil, err
	}
	accepting := make(map[kaspahash.BlockHash]*model.AcceptingBlockTransactions)
	if err := getGob(store, checkpoint.KeyAcceptingBlockTransactions, &accepting); err != nil {
		return nil, err
	}
	seconds := make(map[int64]*model.SecondMetrics)
	if err := getGob(store, checkpoint.KeySeconds, &seconds); err != nil {
		return nil, err
	}

	c := New(blockRetentionSeconds, secondMetricsRetentionSeconds)
	c.lastKnownChainBlock = lastKnown.Hash
	c.lastKnownSet = lastKnown.Set
	c.tipTimestampMs = tipTimestamp
	c.synced = 0

	for k, v := range blocks {
		c.blocks.Set(k, v)
	}
	for k, v := range transactions {
		c.transactions.Set(k, v)
	}
	for k, v := range accepting {
		c.accepting.Set(k, v)
	}
	for k, v := range seconds {
		c.seconds.Set(k, v)
	}

	return c, nil
}

type lastKnownScalar struct {
	Hash kaspahash.BlockHash
	Set  bool
}

func putGob(store *checkpoint.Store, key string, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return errors.Wrapf(err, "encoding checkpoint key %s", key)
	}
	return store.Put(key, buf.Bytes())
}

func getGob(store *checkpoint.Store, key string, out interface{}) error {
	raw, err := store.Get(key)
	if err != nil {
		return err
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding checkpoint key %s", key)
	}
	return nil
}
