package nodeclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kaspalytics/kaspalytics-go/internal/kaspahash"
	"github.com/kaspalytics/kaspalytics-go/internal/logger"
	"github.com/kaspalytics/kaspalytics-go/internal/model"
	"github.com/kaspalytics/kaspalytics-go/internal/nodeclient/wire"
)

var log, _ = logger.Get(logger.SubsystemTags.RPCC)

const messageStreamMethod = "/kaspalytics.nodeclient.NodeRPC/MessageStream"

// reconnectBackoff bounds how long GRPCClient waits between reconnect
// attempts after the stream to the node drops.
const (
	reconnectInitialBackoff = 500 * time.Millisecond
	reconnectMaxBackoff     = 30 * time.Second
)

type grpcStream interface {
	grpc.ClientStream
	Send(*wire.Envelope) error
	Recv() (*wire.Envelope, error)
}

// envelopeStream adapts a raw grpc.ClientStream to typed Envelope
// send/receive, the same way generated stream bindings wrap
// SendMsg/RecvMsg.
type envelopeStream struct {
	grpc.ClientStream
}

func (s envelopeStream) Send(env *wire.Envelope) error {
	return s.SendMsg(env)
}

func (s envelopeStream) Recv() (*wire.Envelope, error) {
	env := new(wire.Envelope)
	if err := s.RecvMsg(env); err != nil {
		return nil, err
	}
	return env, nil
}

// GRPCClient is the concrete NodeClient backed by a single bidirectional
// gRPC stream to the upstream node: one generic message stream
// multiplexing every request, response, and push notification, guarded
// by an RWMutex so concurrent send/receive don't race with reconnect.
type GRPCClient struct {
	address string

	connMu sync.RWMutex
	conn   *grpc.ClientConn
	stream grpcStream

	// sendMu serializes Send calls: a grpc stream does not allow
	// concurrent SendMsg from several goroutines.
	sendMu sync.Mutex

	nextRequestId uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan *wire.Envelope

	handlersMu    sync.Mutex
	handlers      map[uint64]BlockAddedHandler
	nextHandlerId uint64

	closed int32
	stopCh chan struct{}
}

// Dial connects to the node at address and starts its receive loop.
func Dial(ctx context.Context, address string) (*GRPCClient, error) {
	c := &GRPCClient{
		address:  address,
		pending:  make(map[uint64]chan *wire.Envelope),
		handlers: make(map[uint64]BlockAddedHandler),
		stopCh:   make(chan struct{}),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	go c.receiveLoop()
	return c, nil
}

func (c *GRPCClient) connect(ctx context.Context) error {
	conn, err := grpc.DialContext(ctx, c.address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
	)
	if err != nil {
		return errors.Wrap(err, "dialing node")
	}

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    "MessageStream",
		ServerStreams: true,
		ClientStreams: true,
	}, messageStreamMethod)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "opening message stream")
	}

	c.connMu.Lock()
	old := c.conn
	c.conn = conn
	c.stream = envelopeStream{stream}
	c.connMu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Close tears down the connection and stops the receive loop.
func (c *GRPCClient) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	close(c.stopCh)
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// receiveLoop reads every Envelope off the stream, routing responses to
// their waiting caller and notifications to every registered handler.
// On a stream error it reconnects with backoff and re-registers the
// BlockAdded subscription for every still-active handler, since the
// node's notification scopes live only as long as the connection that
// requested them.
func (c *GRPCClient) receiveLoop() {
	backoff := reconnectInitialBackoff
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		c.connMu.RLock()
		stream := c.stream
		c.connMu.RUnlock()

		env, err := stream.Recv()
		if err != nil {
			log.Warnf("node stream receive error: %s, reconnecting", err)
			c.failPending(err)
			if !c.reconnectWithBackoff(&backoff) {
				return
			}
			continue
		}
		backoff = reconnectInitialBackoff

		switch env.Kind {
		case wire.KindBlockAddedNotification:
			c.dispatchBlockAdded(env.BlockAddedNotification)
		default:
			c.deliverResponse(env)
		}
	}
}

func (c *GRPCClient) reconnectWithBackoff(backoff *time.Duration) bool {
	for {
		select {
		case <-c.stopCh:
			return false
		case <-time.After(*backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.connect(ctx)
		cancel()
		if err == nil {
			c.resubscribe()
			return true
		}

		log.Warnf("reconnect to node failed: %s", err)
		*backoff *= 2
		if *backoff > reconnectMaxBackoff {
			*backoff = reconnectMaxBackoff
		}
	}
}

func (c *GRPCClient) resubscribe() {
	c.handlersMu.Lock()
	n := len(c.handlers)
	c.handlersMu.Unlock()
	if n == 0 {
		return
	}
	if _, err := c.call(context.Background(), &wire.Envelope{Kind: wire.KindNotifyBlockAddedRequest, NotifyBlockAddedRequest: &wire.NotifyBlockAddedRequest{}}); err != nil {
		log.Errorf("failed to re-register BlockAdded subscription after reconnect: %s", err)
	}
}

func (c *GRPCClient) dispatchBlockAdded(n *wire.BlockAddedNotification) {
	if n == nil {
		return
	}
	ingested := convertRawBlock(n.Block)
	c.handlersMu.Lock()
	handlers := make([]BlockAddedHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.handlersMu.Unlock()
	for _, h := range handlers {
		h(ingested)
	}
}

func (c *GRPCClient) deliverResponse(env *wire.Envelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.RequestId]
	if ok {
		delete(c.pending, env.RequestId)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- env
	}
}

func (c *GRPCClient) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- &wire.Envelope{Kind: wire.KindErrorResponse, ErrorMessage: err.Error()}
		delete(c.pending, id)
	}
}

// call sends req, assigning it a fresh request id, and blocks for the
// matching response.
func (c *GRPCClient) call(ctx context.Context, req *wire.Envelope) (*wire.Envelope, error) {
	id := atomic.AddUint64(&c.nextRequestId, 1)
	req.RequestId = id

	respCh := make(chan *wire.Envelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	c.connMu.RLock()
	stream := c.stream
	c.connMu.RUnlock()

	c.sendMu.Lock()
	err := stream.Send(req)
	c.sendMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, errors.Wrap(err, "sending request to node")
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case resp := <-respCh:
		if resp.Kind == wire.KindErrorResponse {
			return nil, errors.New(resp.ErrorMessage)
		}
		return resp, nil
	}
}

func (c *GRPCClient) GetBlockDAGInfo(ctx context.Context) (*BlockDAGInfo, error) {
	resp, err := c.call(ctx, &wire.Envelope{Kind: wire.KindGetBlockDAGInfoRequest, GetBlockDAGInfoRequest: &wire.GetBlockDAGInfoRequest{}})
	if err != nil {
		return nil, err
	}
	r := resp.GetBlockDAGInfoResponse
	tips := make([]kaspahash.BlockHash, len(r.TipHashes))
	for i, h := range r.TipHashes {
		tips[i] = wire.MustHash(h)
	}
	return &BlockDAGInfo{
		PruningPointHash: wire.MustHash(r.PruningPointHash),
		TipHashes:        tips,
		VirtualDAAScore:  r.VirtualDAAScore,
	}, nil
}

func (c *GRPCClient) GetBlocks(ctx context.Context, lowHash kaspahash.BlockHash, includeBlocks, includeTransactions bool) ([]IngestedBlock, error) {
	resp, err := c.call(ctx, &wire.Envelope{
		Kind: wire.KindGetBlocksRequest,
		GetBlocksRequest: &wire.GetBlocksRequest{
			LowHash:             lowHash.String(),
			IncludeBlocks:       includeBlocks,
			IncludeTransactions: includeTransactions,
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]IngestedBlock, len(resp.GetBlocksResponse.Blocks))
	for i, raw := range resp.GetBlocksResponse.Blocks {
		out[i] = convertRawBlock(raw)
	}
	return out, nil
}

func (c *GRPCClient) GetVirtualChainFromBlock(ctx context.Context, lowHash kaspahash.BlockHash, includeAcceptedTransactionIds bool) (*VirtualChainResult, error) {
	resp, err := c.call(ctx, &wire.Envelope{
		Kind: wire.KindGetVirtualChainFromBlockRequest,
		GetVirtualChainFromBlockRequest: &wire.GetVirtualChainFromBlockRequest{
			LowHash:                       lowHash.String(),
			IncludeAcceptedTransactionIds: includeAcceptedTransactionIds,
		},
	})
	if err != nil {
		return nil, err
	}
	r := resp.GetVirtualChainFromBlockResponse

	removed := make([]kaspahash.BlockHash, len(r.RemovedChainBlockHashes))
	for i, h := range r.RemovedChainBlockHashes {
		removed[i] = wire.MustHash(h)
	}
	added := make([]kaspahash.BlockHash, len(r.AddedChainBlockHashes))
	for i, h := range r.AddedChainBlockHashes {
		added[i] = wire.MustHash(h)
	}
	accepted := make([]AcceptedTransactions, len(r.AcceptedTransactions))
	for i, a := range r.AcceptedTransactions {
		ids := make([]kaspahash.TxId, len(a.TransactionIds))
		for j, id := range a.TransactionIds {
			ids[j] = wire.MustHash(id)
		}
		accepted[i] = AcceptedTransactions{
			AcceptingBlockHash: wire.MustHash(a.AcceptingBlockHash),
			TransactionIds:     ids,
		}
	}

	return &VirtualChainResult{
		RemovedChainBlockHashes: removed,
		AddedChainBlockHashes:   added,
		AcceptedTransactions:    accepted,
	}, nil
}

func (c *GRPCClient) RegisterBlockAddedHandler(ctx context.Context, handler BlockAddedHandler) (func(), error) {
	c.handlersMu.Lock()
	id := c.nextHandlerId
	c.nextHandlerId++
	firstHandler := len(c.handlers) == 0
	c.handlers[id] = handler
	c.handlersMu.Unlock()

	if firstHandler {
		if _, err := c.call(ctx, &wire.Envelope{Kind: wire.KindNotifyBlockAddedRequest, NotifyBlockAddedRequest: &wire.NotifyBlockAddedRequest{}}); err != nil {
			c.handlersMu.Lock()
			delete(c.handlers, id)
			c.handlersMu.Unlock()
			return nil, err
		}
	}

	unregister := func() {
		c.handlersMu.Lock()
		delete(c.handlers, id)
		c.handlersMu.Unlock()
	}
	return unregister, nil
}

func (c *GRPCClient) GetSinkBlueScore(ctx context.Context) (uint64, error) {
	resp, err := c.call(ctx, &wire.Envelope{Kind: wire.KindGetSinkBlueScoreRequest})
	if err != nil {
		return 0, err
	}
	return resp.GetSinkBlueScoreResponse.BlueScore, nil
}

func (c *GRPCClient) GetCoinSupply(ctx context.Context) (uint64, error) {
	resp, err := c.call(ctx, &wire.Envelope{Kind: wire.KindGetCoinSupplyRequest})
	if err != nil {
		return 0, err
	}
	return resp.GetCoinSupplyResponse.CirculatingSompi, nil
}

func (c *GRPCClient) GetBalanceByAddress(ctx context.Context, address string) (uint64, error) {
	resp, err := c.call(ctx, &wire.Envelope{
		Kind:                       wire.KindGetBalanceByAddressRequest,
		GetBalanceByAddressRequest: &wire.GetBalanceByAddressRequest{Address: address},
	})
	if err != nil {
		return 0, err
	}
	return resp.GetBalanceByAddressResponse.Balance, nil
}

func (c *GRPCClient) GetUTXOsByAddresses(ctx context.Context, addresses []string) ([]UTXOEntry, error) {
	resp, err := c.call(ctx, &wire.Envelope{
		Kind:                        wire.KindGetUTXOsByAddressesRequest,
		GetUTXOsByAddressesRequest: &wire.GetUTXOsByAddressesRequest{Addresses: addresses},
	})
	if err != nil {
		return nil, err
	}
	out := make([]UTXOEntry, len(resp.GetUTXOsByAddressesResponse.Entries))
	for i, e := range resp.GetUTXOsByAddressesResponse.Entries {
		out[i] = UTXOEntry{
			Address:         e.Address,
			TransactionId:   wire.MustHash(e.TransactionId),
			Index:           e.Index,
			Amount:          e.Amount,
			ScriptPublicKey: e.ScriptPublicKey,
			BlockDAAScore:   e.BlockDAAScore,
		}
	}
	return out, nil
}

func (c *GRPCClient) GetDAAScoreTimestampEstimate(ctx context.Context, daaScores []uint64) ([]int64, error) {
	resp, err := c.call(ctx, &wire.Envelope{
		Kind: wire.KindGetDAAScoreTimestampEstimateRequest,
		GetDAAScoreTimestampEstimateRequest: &wire.GetDAAScoreTimestampEstimateRequest{DAAScores: daaScores},
	})
	if err != nil {
		return nil, err
	}
	return resp.GetDAAScoreTimestampEstimateResponse.Timestamps, nil
}

// convertRawBlock performs the wire.RawBlock -> model.CacheBlock/
// CacheTransaction conversion once, at the ingest boundary.
func convertRawBlock(raw wire.RawBlock) IngestedBlock {
	parents := make([]kaspahash.BlockHash, len(raw.ParentHashes))
	for i, p := range raw.ParentHashes {
		parents[i] = wire.MustHash(p)
	}

	block := &model.CacheBlock{
		Hash:                 wire.MustHash(raw.Hash),
		Version:              raw.Version,
		ParentHashes:         parents,
		HashMerkleRoot:       wire.MustHash(raw.HashMerkleRoot),
		AcceptedIDMerkleRoot: wire.MustHash(raw.AcceptedIDMerkleRoot),
		UTXOCommitment:       wire.MustHash(raw.UTXOCommitment),
		TimestampMs:          raw.TimestampMs,
		Bits:                 raw.Bits,
		Nonce:                raw.Nonce,
		DAAScore:             raw.DAAScore,
		BlueWork:             raw.BlueWork,
		BlueScore:            raw.BlueScore,
		Difficulty:           raw.Difficulty,
		SeenAt:               time.Now(),
	}
	if raw.PruningPoint != "" {
		block.PruningPoint = wire.MustHash(raw.PruningPoint)
	}
	if raw.SelectedParentHash != "" {
		block.SelectedParentHash = wire.MustHash(raw.SelectedParentHash)
	}

	transactions := make([]*model.CacheTransaction, len(raw.Transactions))
	for i, rt := range raw.Transactions {
		inputs := make([]model.TransactionInput, len(rt.Inputs))
		for j, ri := range rt.Inputs {
			inputs[j] = model.TransactionInput{
				PreviousOutpointTxId:  wire.MustHash(ri.PreviousOutpoint.TransactionId),
				PreviousOutpointIndex: ri.PreviousOutpoint.Index,
				SignatureScript:       ri.SignatureScript,
				Sequence:              ri.Sequence,
			}
		}
		outputs := make([]model.TransactionOutput, len(rt.Outputs))
		for j, ro := range rt.Outputs {
			outputs[j] = model.TransactionOutput{Value: ro.Value, ScriptPublicKey: ro.ScriptPublicKey}
		}
		transactions[i] = &model.CacheTransaction{
			Id:           wire.MustHash(rt.Id),
			Inputs:       inputs,
			Outputs:      outputs,
			Version:      rt.Version,
			LockTime:     rt.LockTime,
			SubnetworkId: rt.SubnetworkId,
			Gas:          rt.Gas,
			Payload:      rt.Payload,
			Mass:         rt.Mass,
			ComputeMass:  rt.ComputeMass,
		}
	}

	return IngestedBlock{Block: block, Transactions: transactions}
}
