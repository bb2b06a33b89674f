// Package cache implements the DAG cache: a concurrent
// in-memory model of blocks, transactions, chain-acceptance state, and
// per-second metrics, with an eviction protocol that preserves
// transactions referenced by multiple unpruned blocks.
package cache

import (
	"encoding/binary"
	"hash/maphash"
	"sync"
	"sync/atomic"

	"github.com/kaspalytics/kaspalytics-go/internal/kaspahash"
	"github.com/kaspalytics/kaspalytics-go/internal/logger"
	"github.com/kaspalytics/kaspalytics-go/internal/model"
)

var log, _ = logger.Get(logger.SubsystemTags.CACH)

func hashHash(seed maphash.Seed, h kaspahash.Hash) uint64 {
	return maphash.Bytes(seed, h[:])
}

func hashInt64(seed maphash.Seed, n int64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(n))
	return maphash.Bytes(seed, b[:])
}

// Cache is the concurrent store of recent DAG state and per-second
// metrics. It exclusively owns four maps; readers borrow snapshots of
// individual entries, and no mutation path locks the whole cache.
type Cache struct {
	blocks       *shardedMap[kaspahash.BlockHash, *model.CacheBlock]
	transactions *shardedMap[kaspahash.TxId, *model.CacheTransaction]
	accepting    *shardedMap[kaspahash.BlockHash, *model.AcceptingBlockTransactions]
	seconds      *shardedMap[int64, *model.SecondMetrics]

	lastKnownMu         sync.RWMutex
	lastKnownChainBlock kaspahash.BlockHash
	lastKnownSet        bool

	tipTimestampMs int64 // atomic
	synced         int32 // atomic, 0/1

	blockRetentionSeconds  int64
	secondMetricsRetention int64
}

// New constructs an empty Cache. blockRetentionSeconds and
// secondMetricsRetentionSeconds configure Prune (60s / 1.1*24h by
// default; both configurable).
func New(blockRetentionSeconds, secondMetricsRetentionSeconds int64) *Cache {
	return &Cache{
		blocks:                 newShardedMap[kaspahash.BlockHash, *model.CacheBlock](hashHash),
		transactions:           newShardedMap[kaspahash.TxId, *model.CacheTransaction](hashHash),
		accepting:              newShardedMap[kaspahash.BlockHash, *model.AcceptingBlockTransactions](hashHash),
		seconds:                newShardedMap[int64, *model.SecondMetrics](hashInt64),
		blockRetentionSeconds:  blockRetentionSeconds,
		secondMetricsRetention: secondMetricsRetentionSeconds,
	}
}

// --- Writer surface -------------------------------------------------

// SetLastKnownChainBlock records the most recently processed
// chain-acceptance block hash.
func (c *Cache) SetLastKnownChainBlock(hash kaspahash.BlockHash) {
	c.lastKnownMu.Lock()
	defer c.lastKnownMu.Unlock()
	c.lastKnownChainBlock = hash
	c.lastKnownSet = true
}

// SetTipTimestamp records the wall-clock-anchoring timestamp of the
// latest observed block.
func (c *Cache) SetTipTimestamp(ms int64) {
	atomic.StoreInt64(&c.tipTimestampMs, ms)
}

// SetSynced records whether ingest has caught the cache up to the
// node's tip.
func (c *Cache) SetSynced(synced bool) {
	var v int32
	if synced {
		v = 1
	}
	atomic.StoreInt32(&c.synced, v)
}

// --- Reader surface --------------------------------------------------

// LastKnownChainBlock returns the most recently processed
// chain-acceptance block hash and whether one has ever been set.
func (c *Cache) LastKnownChainBlock() (kaspahash.BlockHash, bool) {
	c.lastKnownMu.RLock()
	defer c.lastKnownMu.RUnlock()
	return c.lastKnownChainBlock, c.lastKnownSet
}

// TipTimestamp returns the most recently recorded tip timestamp, in ms.
func (c *Cache) TipTimestamp() int64 {
	return atomic.LoadInt64(&c.tipTimestampMs)
}

// Synced reports whether ingest considers the cache caught up.
func (c *Cache) Synced() bool {
	return atomic.LoadInt32(&c.synced) == 1
}

// GetBlock returns a snapshot of the block with the given hash. The
// returned value is a clone taken under the entry's lock: pipeline
// mutations to the live entry do not race with the caller.
func (c *Cache) GetBlock(hash kaspahash.BlockHash) (*model.CacheBlock, bool) {
	var out *model.CacheBlock
	c.blocks.View(hash, func(b *model.CacheBlock, ok bool) {
		if ok {
			out = b.Clone()
		}
	})
	return out, out != nil
}

// GetTransaction returns a snapshot of the transaction with the given id.
func (c *Cache) GetTransaction(id kaspahash.TxId) (*model.CacheTransaction, bool) {
	var out *model.CacheTransaction
	c.transactions.View(id, func(tx *model.CacheTransaction, ok bool) {
		if ok {
			out = tx.Clone()
		}
	})
	return out, out != nil
}

// ContainsBlock reports whether hash is present in the cache.
func (c *Cache) ContainsBlock(hash kaspahash.BlockHash) bool {
	return c.blocks.Has(hash)
}

// GetAcceptingBlockTransactions returns the accepted-tx-id list recorded
// for the given chain-block hash.
func (c *Cache) GetAcceptingBlockTransactions(hash kaspahash.BlockHash) (*model.AcceptingBlockTransactions, bool) {
	return c.accepting.Get(hash)
}

// GetSecondMetrics returns a snapshot of the metrics bucket for the
// given second.
func (c *Cache) GetSecondMetrics(second int64) (*model.SecondMetrics, bool) {
	var out *model.SecondMetrics
	c.seconds.View(second, func(m *model.SecondMetrics, ok bool) {
		if ok {
			out = m.Clone()
		}
	})
	return out, out != nil
}

// IterBlocks calls fn with a snapshot of each block present at some
// point during the call (weakly consistent). Returning false from fn
// stops iteration early.
func (c *Cache) IterBlocks(fn func(*model.CacheBlock) bool) {
	c.blocks.EachWith((*model.CacheBlock).Clone, func(_ kaspahash.BlockHash, b *model.CacheBlock) bool {
		return fn(b)
	})
}

// IterSeconds calls fn with a snapshot of each SecondMetrics bucket
// present at some point during the call.
func (c *Cache) IterSeconds(fn func(*model.SecondMetrics) bool) {
	c.seconds.EachWith((*model.SecondMetrics).Clone, func(_ int64, m *model.SecondMetrics) bool {
		return fn(m)
	})
}

// BlockCount returns the approximate number of cached blocks, used by
// the periodic cache-size log task.
func (c *Cache) BlockCount() int { return c.blocks.Len() }

// TransactionCount returns the approximate number of cached transactions.
func (c *Cache) TransactionCount() int { return c.transactions.Len() }

// --- internal accessors used by internal/pipeline and internal/checkpoint ---

// Blocks exposes the raw block map for package-internal collaborators
// (pipeline mutations, checkpoint serialization). Not part of the public
// Reader/Writer surface.
func (c *Cache) Blocks() *shardedMap[kaspahash.BlockHash, *model.CacheBlock] { return c.blocks }

// Transactions exposes the raw transaction map for package-internal
// collaborators.
func (c *Cache) Transactions() *shardedMap[kaspahash.TxId, *model.CacheTransaction] {
	return c.transactions
}

// Accepting exposes the raw accepting-block map for package-internal
// collaborators.
func (c *Cache) Accepting() *shardedMap[kaspahash.BlockHash, *model.AcceptingBlockTransactions] {
	return c.accepting
}

// Seconds exposes the raw per-second metrics map for package-internal
// collaborators.
func (c *Cache) Seconds() *shardedMap[int64, *model.SecondMetrics] { return c.seconds }

// BlockRetentionSeconds returns the configured block retention window.
func (c *Cache) BlockRetentionSeconds() int64 { return c.blockRetentionSeconds }

// --- Eviction ----------------------------------------------------------

// Prune evicts every block whose timestamp falls strictly below the
// prune horizon (tip_timestamp - blockRetentionSeconds), emitting a
// PrunedBlock per evicted block with clones of its transactions taken at
// the moment of eviction.
//
// It additionally drops SecondMetrics buckets older than the configured
// metrics retention window so memory stays bounded even when no blocks
// are arriving.
func (c *Cache) Prune() []*model.PrunedBlock {
	tip := c.TipTimestamp()
	horizonMs := tip - c.blockRetentionSeconds*1000

	var toEvict []kaspahash.BlockHash
	c.blocks.Each(func(hash kaspahash.BlockHash, b *model.CacheBlock) bool {
		if b.TimestampMs < horizonMs {
			toEvict = append(toEvict, hash)
		}
		return true
	})

	pruned := make([]*model.PrunedBlock, 0, len(toEvict))
	for _, hash := range toEvict {
		pb := c.evictBlock(hash)
		if pb != nil {
			pruned = append(pruned, pb)
		}
	}

	c.pruneSecondMetrics(tip)

	return pruned
}

func (c *Cache) evictBlock(hash kaspahash.BlockHash) *model.PrunedBlock {
	block, ok := c.blocks.Get(hash)
	if !ok {
		// Every block in the blocks map stays there until this
		// function removes it, so this shouldn't happen; a concurrent
		// eviction of the same hash is the only benign path here, so
		// this is a warning, not a panic.
		log.Warnf("prune: block %s not in cache at eviction time", hash)
		return nil
	}
	c.blocks.Delete(hash)

	clonedTxs := make([]*model.CacheTransaction, 0, len(block.Transactions))
	for _, txId := range block.Transactions {
		c.transactions.WithLock(txId, func(tx *model.CacheTransaction, ok bool) (*model.CacheTransaction, bool) {
			if !ok {
				log.Warnf("prune: transaction %s referenced by block %s not in cache", txId, hash)
				return nil, false
			}
			clonedTxs = append(clonedTxs, tx.Clone())

			remaining := tx.Blocks[:0]
			for _, bh := range tx.Blocks {
				if bh != hash {
					remaining = append(remaining, bh)
				}
			}
			tx.Blocks = remaining

			if len(tx.Blocks) == 0 {
				return tx, false // delete
			}
			return tx, true
		})
	}

	c.accepting.Delete(hash)

	return &model.PrunedBlock{
		Hash:                 hash,
		TimestampMs:          block.TimestampMs,
		DAAScore:             block.DAAScore,
		Transactions:         clonedTxs,
		Version:              block.Version,
		ParentHashes:         append([]kaspahash.BlockHash(nil), block.ParentHashes...),
		HashMerkleRoot:       block.HashMerkleRoot,
		AcceptedIDMerkleRoot: block.AcceptedIDMerkleRoot,
		UTXOCommitment:       block.UTXOCommitment,
		Bits:                 block.Bits,
		Nonce:                block.Nonce,
		BlueWork:             append([]byte(nil), block.BlueWork...),
		BlueScore:            block.BlueScore,
		PruningPoint:         block.PruningPoint,
		Difficulty:           block.Difficulty,
		SelectedParentHash:   block.SelectedParentHash,
		IsChainBlock:         block.IsChainBlock,
	}
}

func (c *Cache) pruneSecondMetrics(tipMs int64) {
	if c.secondMetricsRetention <= 0 {
		return
	}
	cutoff := tipMs/1000 - c.secondMetricsRetention

	var stale []int64
	c.seconds.Each(func(second int64, _ *model.SecondMetrics) bool {
		if second < cutoff {
			stale = append(stale, second)
		}
		return true
	})
	for _, second := range stale {
		c.seconds.Delete(second)
	}
}

// SecondBucket returns the per-second key a timestamp in milliseconds
// belongs to.
func SecondBucket(timestampMs int64) int64 {
	return timestampMs / 1000
}
