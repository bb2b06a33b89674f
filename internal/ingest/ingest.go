// Package ingest implements the daemon's init/CATCHUP/SUBSCRIBE/DRAIN/
// STORE_STATE state machine, the sole writer of cache
// state: it is the only caller of internal/pipeline's mutators.
package ingest

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kaspalytics/kaspalytics-go/internal/cache"
	"github.com/kaspalytics/kaspalytics-go/internal/kaspahash"
	"github.com/kaspalytics/kaspalytics-go/internal/logger"
	"github.com/kaspalytics/kaspalytics-go/internal/model"
	"github.com/kaspalytics/kaspalytics-go/internal/nodeclient"
	"github.com/kaspalytics/kaspalytics-go/internal/pipeline"
)

var log, _ = logger.Get(logger.SubsystemTags.INGS)

const (
	pruneInterval        = 10 * time.Second
	cacheSizeLogInterval = 30 * time.Second
)

// Ingest drives a Cache forward from an upstream NodeClient: polling
// catch-up queries until the cache reaches the node's tip, then a live
// push subscription, shutting down cooperatively and checkpointing on
// the way out.
type Ingest struct {
	client        nodeclient.NodeClient
	cache         *cache.Cache
	writerCh      chan<- []*model.PrunedBlock
	checkpointDir string

	shutdownCh <-chan struct{}
}

// New constructs an Ingest. shutdownCh is polled at loop boundaries;
// writerCh receives pruned batches in cache-emission order. Ingest
// never closes writerCh itself: the caller closes it only after Run
// has returned, guaranteeing every prune batch Ingest sent is drained
// before the writer sees the channel close.
func New(client nodeclient.NodeClient, c *cache.Cache, writerCh chan<- []*model.PrunedBlock, checkpointDir string, shutdownCh <-chan struct{}) *Ingest {
	return &Ingest{
		client:        client,
		cache:         c,
		writerCh:      writerCh,
		checkpointDir: checkpointDir,
		shutdownCh:    shutdownCh,
	}
}

// Cache returns the Cache this Ingest drives, for readers and the daemon
// entry point to share.
func (g *Ingest) Cache() *cache.Cache { return g.cache }

func (g *Ingest) shuttingDown() bool {
	select {
	case <-g.shutdownCh:
		return true
	default:
		return false
	}
}

// Run executes the CATCHUP/SUBSCRIBE/DRAIN/STORE_STATE portion of the
// state machine until shutdown is signalled, returning only once
// STORE_STATE has completed (or failed). The cache passed to New must
// already reflect the "[init]" step (see InitCache).
func (g *Ingest) Run(ctx context.Context) error {
	for !g.shuttingDown() {
		synced, err := g.catchupIteration(ctx)
		if err != nil {
			// The upstream node is a hard dependency during CATCHUP;
			// an RPC error here aborts the daemon rather than retrying
			// forever against a node that may be gone.
			return err
		}
		if synced {
			break
		}
	}

	if g.shuttingDown() {
		// DRAIN: ship whatever the final iteration left prunable before
		// checkpointing, so the writer's view of prunes stays contiguous.
		if err := g.pruneAndShip(ctx); err != nil {
			return err
		}
		return g.storeState()
	}

	if err := g.subscribe(ctx); err != nil {
		return err
	}

	return g.storeState()
}

// InitCache implements the init step of the state machine: it loads a
// checkpointed cache if one exists, falling back to an empty cache
// seeded with the node's current pruning point. The returned cache's
// pointer identity is stable for the lifetime of the daemon, so callers
// should construct it once, here, before wiring it into pipeline,
// writer, and reader consumers.
func InitCache(ctx context.Context, client nodeclient.NodeClient, checkpointDir string, blockRetentionSeconds, secondMetricsRetentionSeconds int64) (*cache.Cache, error) {
	loaded, err := cache.LoadState(checkpointDir, blockRetentionSeconds, secondMetricsRetentionSeconds)
	if err == nil {
		log.Infof("loaded checkpointed cache state from %s", checkpointDir)
		return loaded, nil
	}
	log.Infof("no usable checkpoint at %s (%s), starting from the node's pruning point", checkpointDir, err)

	info, err := client.GetBlockDAGInfo(ctx)
	if err != nil {
		return nil, err
	}
	c := cache.New(blockRetentionSeconds, secondMetricsRetentionSeconds)
	c.SetLastKnownChainBlock(info.PruningPointHash)
	return c, nil
}

// catchupIteration runs one CATCHUP step, returning synced=true once
// the node's current tip is already present in the cache.
func (g *Ingest) catchupIteration(ctx context.Context) (bool, error) {
	lastKnown, _ := g.cache.LastKnownChainBlock()

	var blocks []nodeclient.IngestedBlock
	var chain *nodeclient.VirtualChainResult

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		b, err := g.client.GetBlocks(grpCtx, lastKnown, true, true)
		if err != nil {
			return err
		}
		blocks = b
		return nil
	})
	grp.Go(func() error {
		c, err := g.client.GetVirtualChainFromBlock(grpCtx, lastKnown, true)
		if err != nil {
			return err
		}
		chain = c
		return nil
	})
	if err := grp.Wait(); err != nil {
		return false, err
	}

	if len(blocks) > 0 {
		g.cache.SetTipTimestamp(blocks[len(blocks)-1].Block.TimestampMs)
	}

	for _, b := range blocks {
		pipeline.BlockAdd(g.cache, b.Block, b.Transactions)
	}

	for _, hash := range chain.RemovedChainBlockHashes {
		pipeline.ChainBlockRemoved(g.cache, hash)
	}

	for _, accepted := range chain.AcceptedTransactions {
		if !g.cache.ContainsBlock(accepted.AcceptingBlockHash) {
			// We have outrun the block query; the next iteration picks
			// up the missing block.
			break
		}
		g.cache.SetLastKnownChainBlock(accepted.AcceptingBlockHash)
		pipeline.ChainBlockAdded(g.cache, &model.AcceptingBlockTransactions{
			AcceptingBlockHash: accepted.AcceptingBlockHash,
			TransactionIds:     accepted.TransactionIds,
		})
	}

	if err := g.pruneAndShip(ctx); err != nil {
		return false, err
	}

	info, err := g.client.GetBlockDAGInfo(ctx)
	if err != nil {
		return false, err
	}
	synced := tipPresent(g.cache, info.TipHashes)
	g.cache.SetSynced(synced)
	return synced, nil
}

func tipPresent(c *cache.Cache, tipHashes []kaspahash.BlockHash) bool {
	for _, h := range tipHashes {
		if c.ContainsBlock(h) {
			return true
		}
	}
	return false
}

// subscribe registers a BlockAdded listener and runs the periodic
// prune/cache-size-log tasks until shutdown is signalled, then does one
// final prune-and-ship before returning.
func (g *Ingest) subscribe(ctx context.Context) error {
	var mu sync.Mutex // serializes pipeline mutation against periodic prune
	unregister, err := g.client.RegisterBlockAddedHandler(ctx, func(b nodeclient.IngestedBlock) {
		mu.Lock()
		defer mu.Unlock()
		g.cache.SetTipTimestamp(b.Block.TimestampMs)
		pipeline.BlockAdd(g.cache, b.Block, b.Transactions)
	})
	if err != nil {
		return err
	}
	defer unregister()

	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()
	sizeLogTicker := time.NewTicker(cacheSizeLogInterval)
	defer sizeLogTicker.Stop()

	for {
		select {
		case <-g.shutdownCh:
			mu.Lock()
			err := g.pruneAndShip(ctx)
			mu.Unlock()
			return err

		case <-pruneTicker.C:
			mu.Lock()
			err := g.pruneAndShip(ctx)
			mu.Unlock()
			if err != nil {
				return err
			}

		case <-sizeLogTicker.C:
			log.Infof("cache size: %d blocks, %d transactions, synced=%t",
				g.cache.BlockCount(), g.cache.TransactionCount(), g.cache.Synced())
		}
	}
}

// pruneAndShip runs Cache.Prune and ships any evicted blocks to the
// writer, awaiting the channel if it is full: that wait is the
// backpressure mechanism keeping memory bounded under writer slowdown.
func (g *Ingest) pruneAndShip(ctx context.Context) error {
	pruned := g.cache.Prune()
	if len(pruned) == 0 {
		return nil
	}
	select {
	case g.writerCh <- pruned:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Ingest) storeState() error {
	if err := g.cache.StoreState(g.checkpointDir); err != nil {
		return err
	}
	log.Infof("checkpointed cache state to %s", g.checkpointDir)
	return nil
}
