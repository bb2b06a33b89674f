package cache_test

import (
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/kaspalytics/kaspalytics-go/internal/cache"
	"github.com/kaspalytics/kaspalytics-go/internal/kaspahash"
	"github.com/kaspalytics/kaspalytics-go/internal/model"
)

func TestStoreStateLoadStateRoundTrip(t *testing.T) {
	dir := t.TempDir()

	c := cache.New(60, 100000)
	blockHash := mustHash(t, 1)
	txId := mustHash(t, 2)

	putBlock(c, blockHash, 1_000, txId)
	putTx(c, txId, blockHash)
	c.SetLastKnownChainBlock(blockHash)
	c.SetTipTimestamp(1_000)
	c.SetSynced(true)
	c.Accepting().Set(blockHash, &model.AcceptingBlockTransactions{
		AcceptingBlockHash: blockHash,
		TransactionIds:     []kaspahash.TxId{txId},
	})
	c.Seconds().Set(1, model.NewSecondMetrics(1))

	if err := c.StoreState(dir); err != nil {
		t.Fatalf("StoreState: %s", err)
	}

	loaded, err := cache.LoadState(dir, 60, 100000)
	if err != nil {
		t.Fatalf("LoadState: %s", err)
	}

	if loaded.Synced() {
		t.Error("a loaded cache should always report Synced() == false")
	}

	gotBlock, ok := loaded.GetBlock(blockHash)
	if !ok {
		t.Fatal("loaded cache is missing the stored block")
	}
	wantBlock, _ := c.GetBlock(blockHash)
	if !reflect.DeepEqual(gotBlock, wantBlock) {
		t.Errorf("block mismatch:\ngot:  %s\nwant: %s", spew.Sdump(gotBlock), spew.Sdump(wantBlock))
	}

	gotTx, ok := loaded.GetTransaction(txId)
	if !ok {
		t.Fatal("loaded cache is missing the stored transaction")
	}
	wantTx, _ := c.GetTransaction(txId)
	if !reflect.DeepEqual(gotTx, wantTx) {
		t.Errorf("transaction mismatch:\ngot:  %s\nwant: %s", spew.Sdump(gotTx), spew.Sdump(wantTx))
	}

	lastKnown, set := loaded.LastKnownChainBlock()
	if !set || lastKnown != blockHash {
		t.Errorf("LastKnownChainBlock: got (%s, %v), want (%s, true)", lastKnown, set, blockHash)
	}

	if loaded.TipTimestamp() != 1_000 {
		t.Errorf("TipTimestamp: got %d, want 1000", loaded.TipTimestamp())
	}

	if _, ok := loaded.GetAcceptingBlockTransactions(blockHash); !ok {
		t.Error("loaded cache is missing the stored accepting-block entry")
	}
	if _, ok := loaded.GetSecondMetrics(1); !ok {
		t.Error("loaded cache is missing the stored second-metrics bucket")
	}
}

func TestLoadStateMissingDirectoryDataReturnsError(t *testing.T) {
	dir := t.TempDir()

	// An empty checkpoint store has never had any key written to it.
	loaded, err := cache.LoadState(dir, 60, 100000)
	if err == nil {
		t.Fatal("expected an error loading state from an empty checkpoint store")
	}
	if loaded != nil {
		t.Error("expected a nil cache alongside the error")
	}
}
