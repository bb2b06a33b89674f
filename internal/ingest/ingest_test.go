package ingest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/kaspalytics/kaspalytics-go/internal/cache"
	"github.com/kaspalytics/kaspalytics-go/internal/ingest"
	"github.com/kaspalytics/kaspalytics-go/internal/kaspahash"
	"github.com/kaspalytics/kaspalytics-go/internal/model"
	"github.com/kaspalytics/kaspalytics-go/internal/nodeclient"
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

func ingestedBlock(hash kaspahash.BlockHash, timestampMs int64, txIds ...kaspahash.TxId) nodeclient.IngestedBlock {
	txs := make([]*model.CacheTransaction, len(txIds))
	for i, id := range txIds {
		txs[i] = &model.CacheTransaction{Id: id}
	}
	return nodeclient.IngestedBlock{
		Block:        &model.CacheBlock{Hash: hash, TimestampMs: timestampMs},
		Transactions: txs,
	}
}

// fakeNode scripts the upstream node's responses for one catch-up run.
type fakeNode struct {
	mu sync.Mutex

	dagInfo   *nodeclient.BlockDAGInfo
	onDAGInfo func()

	blocks    []nodeclient.IngestedBlock
	blocksErr error

	chain *nodeclient.VirtualChainResult

	handlerCh chan nodeclient.BlockAddedHandler
}

func (f *fakeNode) GetBlockDAGInfo(ctx context.Context) (*nodeclient.BlockDAGInfo, error) {
	f.mu.Lock()
	cb := f.onDAGInfo
	info := f.dagInfo
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
	return info, nil
}

func (f *fakeNode) GetBlocks(ctx context.Context, lowHash kaspahash.BlockHash, includeBlocks, includeTransactions bool) ([]nodeclient.IngestedBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocksErr != nil {
		return nil, f.blocksErr
	}
	return f.blocks, nil
}

func (f *fakeNode) GetVirtualChainFromBlock(ctx context.Context, lowHash kaspahash.BlockHash, includeAcceptedTransactionIds bool) (*nodeclient.VirtualChainResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chain == nil {
		return &nodeclient.VirtualChainResult{}, nil
	}
	return f.chain, nil
}

func (f *fakeNode) RegisterBlockAddedHandler(ctx context.Context, handler nodeclient.BlockAddedHandler) (func(), error) {
	if f.handlerCh != nil {
		f.handlerCh <- handler
	}
	return func() {}, nil
}

func (f *fakeNode) GetSinkBlueScore(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeNode) GetCoinSupply(ctx context.Context) (uint64, error)   { return 0, nil }
func (f *fakeNode) GetBalanceByAddress(ctx context.Context, address string) (uint64, error) {
	return 0, nil
}
func (f *fakeNode) GetUTXOsByAddresses(ctx context.Context, addresses []string) ([]nodeclient.UTXOEntry, error) {
	return nil, nil
}
func (f *fakeNode) GetDAAScoreTimestampEstimate(ctx context.Context, daaScores []uint64) ([]int64, error) {
	return nil, nil
}

func TestInitCacheFallsBackToPruningPoint(t *testing.T) {
	pruningPoint := mustHash(t, 1)
	fake := &fakeNode{dagInfo: &nodeclient.BlockDAGInfo{PruningPointHash: pruningPoint}}

	c, err := ingest.InitCache(context.Background(), fake, t.TempDir(), 60, 100000)
	if err != nil {
		t.Fatalf("InitCache: %s", err)
	}

	lastKnown, set := c.LastKnownChainBlock()
	if !set || lastKnown != pruningPoint {
		t.Errorf("LastKnownChainBlock: got (%s, %v), want (%s, true)", lastKnown, set, pruningPoint)
	}
	if c.Synced() {
		t.Error("a freshly initialized cache should not report Synced")
	}
}

func TestRunCatchupAppliesBlocksAndStopsAtUnknownAcceptingBlock(t *testing.T) {
	b1 := mustHash(t, 1)
	b2 := mustHash(t, 2)
	missing := mustHash(t, 3)
	txX := mustHash(t, 4)
	txY := mustHash(t, 5)

	shutdownCh := make(chan struct{})
	var shutdownOnce sync.Once

	fake := &fakeNode{
		blocks: []nodeclient.IngestedBlock{
			ingestedBlock(b1, 1_000, txX),
			ingestedBlock(b2, 2_000),
		},
		chain: &nodeclient.VirtualChainResult{
			AcceptedTransactions: []nodeclient.AcceptedTransactions{
				{AcceptingBlockHash: b1, TransactionIds: []kaspahash.TxId{txX}},
				// Accepting block the block query hasn't returned yet: the
				// acceptance loop must stop here, leaving txY untouched.
				{AcceptingBlockHash: missing, TransactionIds: []kaspahash.TxId{txY}},
			},
		},
		dagInfo: &nodeclient.BlockDAGInfo{TipHashes: []kaspahash.BlockHash{b2}},
	}
	// The synced check at the end of the iteration doubles as the
	// shutdown trigger so Run returns instead of entering SUBSCRIBE.
	fake.onDAGInfo = func() { shutdownOnce.Do(func() { close(shutdownCh) }) }

	c := cache.New(60, 100000)
	writerCh := make(chan []*model.PrunedBlock, 10)
	checkpointDir := t.TempDir()
	g := ingest.New(fake, c, writerCh, checkpointDir, shutdownCh)

	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %s", err)
	}

	if !c.ContainsBlock(b1) || !c.ContainsBlock(b2) {
		t.Fatal("both catch-up blocks should be in the cache")
	}
	if c.TipTimestamp() != 2_000 {
		t.Errorf("TipTimestamp: got %d, want 2000", c.TipTimestamp())
	}
	if !c.Synced() {
		t.Error("Run should mark the cache synced once a node tip is present")
	}

	tx, ok := c.GetTransaction(txX)
	if !ok {
		t.Fatal("txX should be in the cache")
	}
	if tx.AcceptingBlockHash == nil || *tx.AcceptingBlockHash != b1 {
		t.Error("txX should be accepted by b1")
	}

	lastKnown, _ := c.LastKnownChainBlock()
	if lastKnown != b1 {
		t.Errorf("LastKnownChainBlock: got %s, want %s (acceptance loop must stop at the unknown accepting block)", lastKnown, b1)
	}
	if _, ok := c.GetTransaction(txY); ok {
		t.Error("txY's acceptance lies past the unknown accepting block and must not have been applied")
	}

	// STORE_STATE ran on the way out: a fresh cache must load from it.
	loaded, err := cache.LoadState(checkpointDir, 60, 100000)
	if err != nil {
		t.Fatalf("LoadState after Run: %s", err)
	}
	if !loaded.ContainsBlock(b1) || !loaded.ContainsBlock(b2) {
		t.Error("checkpointed state should contain the catch-up blocks")
	}
}

func TestRunCatchupRPCErrorIsFatal(t *testing.T) {
	fake := &fakeNode{
		blocksErr: errors.New("node unreachable"),
		dagInfo:   &nodeclient.BlockDAGInfo{},
	}

	c := cache.New(60, 100000)
	writerCh := make(chan []*model.PrunedBlock, 1)
	g := ingest.New(fake, c, writerCh, t.TempDir(), make(chan struct{}))

	if err := g.Run(context.Background()); err == nil {
		t.Fatal("an RPC error during catch-up must abort Run")
	}
}

func TestRunSubscribeFeedsNotificationsIntoCache(t *testing.T) {
	b1 := mustHash(t, 1)
	pushed := mustHash(t, 2)

	shutdownCh := make(chan struct{})
	handlerCh := make(chan nodeclient.BlockAddedHandler, 1)

	fake := &fakeNode{
		blocks:    []nodeclient.IngestedBlock{ingestedBlock(b1, 1_000)},
		dagInfo:   &nodeclient.BlockDAGInfo{TipHashes: []kaspahash.BlockHash{b1}},
		handlerCh: handlerCh,
	}

	c := cache.New(60, 100000)
	writerCh := make(chan []*model.PrunedBlock, 10)
	g := ingest.New(fake, c, writerCh, t.TempDir(), shutdownCh)

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	var handler nodeclient.BlockAddedHandler
	select {
	case handler = <-handlerCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the BlockAdded handler registration")
	}

	handler(ingestedBlock(pushed, 3_000))

	if !c.ContainsBlock(pushed) {
		t.Error("a pushed block should be in the cache once the handler returns")
	}
	if c.TipTimestamp() != 3_000 {
		t.Errorf("TipTimestamp: got %d, want 3000", c.TipTimestamp())
	}

	close(shutdownCh)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %s", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to return after shutdown")
	}
}
