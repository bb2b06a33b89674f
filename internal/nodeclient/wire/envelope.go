// Package wire defines the request/response envelope exchanged with the
// upstream node over a single bidirectional gRPC stream: every RPC and
// every push notification rides over one generic message envelope
// rather than per-call unary RPCs, the same shape the node's own
// internal gRPC transport uses for its P2P and notification traffic.
//
// Envelope round-trips through encoding/gob behind the grpc codec in
// codec.go rather than generated protobuf bindings; swapping in
// generated bindings later only touches this package.
package wire

import "github.com/kaspalytics/kaspalytics-go/internal/kaspahash"

// Kind identifies which request or response field of Envelope is populated.
type Kind int

const (
	KindGetBlockDAGInfoRequest Kind = iota
	KindGetBlockDAGInfoResponse
	KindGetBlocksRequest
	KindGetBlocksResponse
	KindGetVirtualChainFromBlockRequest
	KindGetVirtualChainFromBlockResponse
	KindNotifyBlockAddedRequest
	KindNotifyBlockAddedResponse
	KindBlockAddedNotification
	KindGetSinkBlueScoreRequest
	KindGetSinkBlueScoreResponse
	KindGetCoinSupplyRequest
	KindGetCoinSupplyResponse
	KindGetBalanceByAddressRequest
	KindGetBalanceByAddressResponse
	KindGetUTXOsByAddressesRequest
	KindGetUTXOsByAddressesResponse
	KindGetDAAScoreTimestampEstimateRequest
	KindGetDAAScoreTimestampEstimateResponse
	KindErrorResponse
)

// Envelope is the single message type carried over the stream. RequestId
// correlates a response (or an error) to the request that triggered it;
// push notifications (KindBlockAddedNotification) carry RequestId 0.
type Envelope struct {
	Kind      Kind
	RequestId uint64

	GetBlockDAGInfoRequest  *GetBlockDAGInfoRequest
	GetBlockDAGInfoResponse *GetBlockDAGInfoResponse

	GetBlocksRequest  *GetBlocksRequest
	GetBlocksResponse *GetBlocksResponse

	GetVirtualChainFromBlockRequest  *GetVirtualChainFromBlockRequest
	GetVirtualChainFromBlockResponse *GetVirtualChainFromBlockResponse

	NotifyBlockAddedRequest  *NotifyBlockAddedRequest
	NotifyBlockAddedResponse *NotifyBlockAddedResponse
	BlockAddedNotification   *BlockAddedNotification

	GetSinkBlueScoreResponse *GetSinkBlueScoreResponse
	GetCoinSupplyResponse    *GetCoinSupplyResponse

	GetBalanceByAddressRequest  *GetBalanceByAddressRequest
	GetBalanceByAddressResponse *GetBalanceByAddressResponse

	GetUTXOsByAddressesRequest  *GetUTXOsByAddressesRequest
	GetUTXOsByAddressesResponse *GetUTXOsByAddressesResponse

	GetDAAScoreTimestampEstimateRequest  *GetDAAScoreTimestampEstimateRequest
	GetDAAScoreTimestampEstimateResponse *GetDAAScoreTimestampEstimateResponse

	ErrorMessage string
}

type GetBlockDAGInfoRequest struct{}

type GetBlockDAGInfoResponse struct {
	PruningPointHash string
	TipHashes        []string
	VirtualDAAScore  uint64
}

type GetBlocksRequest struct {
	LowHash             string
	IncludeBlocks       bool
	IncludeTransactions bool
}

type RawOutpoint struct {
	TransactionId string
	Index         uint32
}

type RawInput struct {
	PreviousOutpoint RawOutpoint
	SignatureScript  []byte
	Sequence         uint64
}

type RawOutput struct {
	Value           uint64
	ScriptPublicKey []byte
}

type RawTransaction struct {
	Id           string
	Inputs       []RawInput
	Outputs      []RawOutput
	Version      uint16
	LockTime     uint64
	SubnetworkId [20]byte
	Gas          uint64
	Payload      []byte
	Mass         uint64
	ComputeMass  uint64
}

type RawBlock struct {
	Hash                 string
	Version              uint16
	ParentHashes         []string
	HashMerkleRoot       string
	AcceptedIDMerkleRoot string
	UTXOCommitment       string
	TimestampMs          int64
	Bits                 uint32
	Nonce                uint64
	DAAScore             uint64
	BlueWork             []byte
	BlueScore            uint64
	PruningPoint         string
	Difficulty           float64
	SelectedParentHash   string
	Transactions         []RawTransaction
}

type GetBlocksResponse struct {
	Blocks []RawBlock
}

type GetVirtualChainFromBlockRequest struct {
	LowHash                       string
	IncludeAcceptedTransactionIds bool
}

type RawAcceptedTransactions struct {
	AcceptingBlockHash string
	TransactionIds     []string
}

type GetVirtualChainFromBlockResponse struct {
	RemovedChainBlockHashes []string
	AddedChainBlockHashes   []string
	AcceptedTransactions    []RawAcceptedTransactions
}

type NotifyBlockAddedRequest struct{}
type NotifyBlockAddedResponse struct{}

type BlockAddedNotification struct {
	Block RawBlock
}

type GetSinkBlueScoreResponse struct {
	BlueScore uint64
}

type GetCoinSupplyResponse struct {
	CirculatingSompi uint64
}

type GetBalanceByAddressRequest struct {
	Address string
}

type GetBalanceByAddressResponse struct {
	Balance uint64
}

type GetUTXOsByAddressesRequest struct {
	Addresses []string
}

type RawUTXOEntry struct {
	Address         string
	TransactionId   string
	Index           uint32
	Amount          uint64
	ScriptPublicKey []byte
	BlockDAAScore   uint64
}

type GetUTXOsByAddressesResponse struct {
	Entries []RawUTXOEntry
}

type GetDAAScoreTimestampEstimateRequest struct {
	DAAScores []uint64
}

type GetDAAScoreTimestampEstimateResponse struct {
	Timestamps []int64
}

// MustHash panics on a malformed hash string; used only for hashes that
// the node itself produced and that must therefore already be well formed.
func MustHash(s string) kaspahash.BlockHash {
	h, err := kaspahash.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return h
}
