package cache_test

import (
	"testing"

	"github.com/kaspalytics/kaspalytics-go/internal/cache"
	"github.com/kaspalytics/kaspalytics-go/internal/kaspahash"
	"github.com/kaspalytics/kaspalytics-go/internal/model"
)

func mustHash(t *testing.T, b byte) kaspahash.Hash {
	t.Helper()
	raw := make([]byte, kaspahash.Size)
	for i := range raw {
		raw[i] = b
	}
	h, err := kaspahash.NewFromSlice(raw)
	if err != nil {
		t.Fatalf("NewFromSlice: %s", err)
	}
	return h
}

func putBlock(c *cache.Cache, hash kaspahash.BlockHash, timestampMs int64, txIds ...kaspahash.TxId) {
	c.Blocks().Set(hash, &model.CacheBlock{
		Hash:         hash,
		TimestampMs:  timestampMs,
		Transactions: txIds,
	})
}

func putTx(c *cache.Cache, id kaspahash.TxId, blocks ...kaspahash.BlockHash) {
	c.Transactions().Set(id, &model.CacheTransaction{
		Id:     id,
		Blocks: blocks,
	})
}

func TestPruneEvictsBlocksStrictlyBelowHorizon(t *testing.T) {
	c := cache.New(60, 100000)
	c.SetTipTimestamp(100_000)

	oldBlock := mustHash(t, 1)
	horizonBlock := mustHash(t, 2)
	freshBlock := mustHash(t, 3)

	putBlock(c, oldBlock, 100_000-60_000-1) // strictly below horizon: evicted
	putBlock(c, horizonBlock, 100_000-60_000) // exactly at horizon: kept
	putBlock(c, freshBlock, 100_000)          // fresh: kept

	pruned := c.Prune()

	if len(pruned) != 1 || pruned[0].Hash != oldBlock {
		t.Fatalf("expected only %s to be pruned, got %v", oldBlock, pruned)
	}
	if c.ContainsBlock(oldBlock) {
		t.Error("pruned block should be removed from the cache")
	}
	if !c.ContainsBlock(horizonBlock) || !c.ContainsBlock(freshBlock) {
		t.Error("blocks at or above the horizon should survive")
	}
}

func TestPruneIsIdempotentOnEmptyCache(t *testing.T) {
	c := cache.New(60, 100000)
	c.SetTipTimestamp(0)

	if pruned := c.Prune(); len(pruned) != 0 {
		t.Errorf("pruning an empty cache should yield nothing, got %v", pruned)
	}
	if pruned := c.Prune(); len(pruned) != 0 {
		t.Errorf("a second prune of an empty cache should still yield nothing, got %v", pruned)
	}
}

func TestPruneDoubleCallIsIdempotent(t *testing.T) {
	c := cache.New(60, 100000)
	c.SetTipTimestamp(100_000)

	oldBlock := mustHash(t, 1)
	putBlock(c, oldBlock, 0)

	first := c.Prune()
	if len(first) != 1 {
		t.Fatalf("expected one pruned block, got %d", len(first))
	}
	second := c.Prune()
	if len(second) != 0 {
		t.Errorf("re-pruning should not re-emit an already-evicted block, got %v", second)
	}
}

func TestPruneSharedTransactionSurvivesPartialEviction(t *testing.T) {
	c := cache.New(60, 100000)
	c.SetTipTimestamp(100_000)

	oldBlock := mustHash(t, 1)
	freshBlock := mustHash(t, 2)
	sharedTx := mustHash(t, 3)

	putBlock(c, oldBlock, 0, sharedTx)
	putBlock(c, freshBlock, 100_000, sharedTx)
	putTx(c, sharedTx, oldBlock, freshBlock)

	pruned := c.Prune()
	if len(pruned) != 1 || pruned[0].Hash != oldBlock {
		t.Fatalf("expected only oldBlock pruned, got %v", pruned)
	}

	tx, ok := c.GetTransaction(sharedTx)
	if !ok {
		t.Fatal("transaction referenced by a surviving block should remain in the cache")
	}
	if len(tx.Blocks) != 1 || tx.Blocks[0] != freshBlock {
		t.Errorf("transaction's Blocks should now list only freshBlock, got %v", tx.Blocks)
	}
}

func TestPruneDeletesTransactionWithNoRemainingBlocks(t *testing.T) {
	c := cache.New(60, 100000)
	c.SetTipTimestamp(100_000)

	oldBlock := mustHash(t, 1)
	onlyTx := mustHash(t, 2)

	putBlock(c, oldBlock, 0, onlyTx)
	putTx(c, onlyTx, oldBlock)

	c.Prune()

	if _, ok := c.GetTransaction(onlyTx); ok {
		t.Error("a transaction with no remaining referencing blocks should be removed from the cache")
	}
}

func TestPruneClearsAcceptingEntryForEvictedBlock(t *testing.T) {
	c := cache.New(60, 100000)
	c.SetTipTimestamp(100_000)

	oldBlock := mustHash(t, 1)
	putBlock(c, oldBlock, 0)
	c.Accepting().Set(oldBlock, &model.AcceptingBlockTransactions{AcceptingBlockHash: oldBlock})

	c.Prune()

	if _, ok := c.GetAcceptingBlockTransactions(oldBlock); ok {
		t.Error("accepting entry for an evicted block should be removed")
	}
}

func TestSetLastKnownChainBlockAndTipTimestamp(t *testing.T) {
	c := cache.New(60, 100000)

	if _, set := c.LastKnownChainBlock(); set {
		t.Error("a fresh cache should report no last known chain block")
	}

	h := mustHash(t, 7)
	c.SetLastKnownChainBlock(h)
	got, set := c.LastKnownChainBlock()
	if !set || got != h {
		t.Errorf("got (%s, %v), want (%s, true)", got, set, h)
	}

	c.SetTipTimestamp(555)
	if c.TipTimestamp() != 555 {
		t.Errorf("TipTimestamp: got %d, want 555", c.TipTimestamp())
	}
}

func TestSyncedFlag(t *testing.T) {
	c := cache.New(60, 100000)
	if c.Synced() {
		t.Error("a fresh cache should not report Synced")
	}
	c.SetSynced(true)
	if !c.Synced() {
		t.Error("SetSynced(true) should make Synced report true")
	}
	c.SetSynced(false)
	if c.Synced() {
		t.Error("SetSynced(false) should make Synced report false")
	}
}

func TestBlockAndTransactionCounts(t *testing.T) {
	c := cache.New(60, 100000)
	putBlock(c, mustHash(t, 1), 0)
	putBlock(c, mustHash(t, 2), 0)
	putTx(c, mustHash(t, 3))

	if c.BlockCount() != 2 {
		t.Errorf("BlockCount: got %d, want 2", c.BlockCount())
	}
	if c.TransactionCount() != 1 {
		t.Errorf("TransactionCount: got %d, want 1", c.TransactionCount())
	}
}
