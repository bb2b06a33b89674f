// Package nodeclient defines the daemon's view of the upstream kaspad
// node RPC surface. The node is treated as an opaque API
// surface; internal/ingest and internal/pipeline depend
// only on the NodeClient interface below, never on the underlying gRPC
// client, so they can be tested against a fake without a live node.
package nodeclient

import (
	"context"

	"github.com/kaspalytics/kaspalytics-go/internal/kaspahash"
	"github.com/kaspalytics/kaspalytics-go/internal/model"
)

// BlockDAGInfo is the relevant subset of get_block_dag_info's response.
type BlockDAGInfo struct {
	PruningPointHash kaspahash.BlockHash
	TipHashes        []kaspahash.BlockHash
	VirtualDAAScore  uint64
}

// IngestedBlock is the canonical, already-converted shape of a block as
// returned by the node: NodeClient performs the RPC-to-cache-model
// conversion once, at this boundary, so the rest of the daemon only
// ever sees model.CacheBlock/model.CacheTransaction.
type IngestedBlock struct {
	Block        *model.CacheBlock
	Transactions []*model.CacheTransaction
}

// AcceptedTransactions pairs an accepting chain block with the
// transaction ids it accepts, as returned by
// get_virtual_chain_from_block.
type AcceptedTransactions struct {
	AcceptingBlockHash kaspahash.BlockHash
	TransactionIds     []kaspahash.TxId
}

// VirtualChainResult is the relevant subset of
// get_virtual_chain_from_block's response.
type VirtualChainResult struct {
	RemovedChainBlockHashes []kaspahash.BlockHash
	AddedChainBlockHashes   []kaspahash.BlockHash
	AcceptedTransactions    []AcceptedTransactions
}

// BlockAddedHandler is invoked for every block the node pushes once the
// daemon has subscribed.
type BlockAddedHandler func(IngestedBlock)

// NodeClient is the daemon's RPC surface onto the upstream node.
type NodeClient interface {
	// GetBlockDAGInfo returns the node's current DAG summary.
	GetBlockDAGInfo(ctx context.Context) (*BlockDAGInfo, error)

	// GetBlocks returns every block strictly after lowHash, in the
	// node's order, with bodies/transactions attached as requested.
	GetBlocks(ctx context.Context, lowHash kaspahash.BlockHash, includeBlocks, includeTransactions bool) ([]IngestedBlock, error)

	// GetVirtualChainFromBlock returns the chain-acceptance delta
	// since lowHash.
	GetVirtualChainFromBlock(ctx context.Context, lowHash kaspahash.BlockHash, includeAcceptedTransactionIds bool) (*VirtualChainResult, error)

	// RegisterBlockAddedHandler subscribes to BlockAdded push
	// notifications. The returned unregister function tears the
	// subscription down; the connection's notification scope is
	// re-registered transparently by the implementation on reconnect.
	RegisterBlockAddedHandler(ctx context.Context, handler BlockAddedHandler) (unregister func(), err error)

	// The remaining methods are used by readers/offline jobs; they are
	// part of the node's RPC surface but outside the core
	// Ingest-Cache-Writer pipeline.
	GetSinkBlueScore(ctx context.Context) (uint64, error)
	GetCoinSupply(ctx context.Context) (uint64, error)
	GetBalanceByAddress(ctx context.Context, address string) (uint64, error)
	GetUTXOsByAddresses(ctx context.Context, addresses []string) ([]UTXOEntry, error)
	GetDAAScoreTimestampEstimate(ctx context.Context, daaScores []uint64) ([]int64, error)
}

// UTXOEntry is a minimal UTXO shape for GetUTXOsByAddresses, sufficient
// for the offline jobs that consume it.
type UTXOEntry struct {
	Address         string
	TransactionId   kaspahash.TxId
	Index           uint32
	Amount          uint64
	ScriptPublicKey []byte
	BlockDAAScore   uint64
}
