// Package pipeline implements the three cache mutators that translate
// upstream DAG events into cache state transitions:
// BlockAdd, ChainBlockAdded, ChainBlockRemoved (TransactionAdd is
// internal, reachable only from BlockAdd).
//
// Every exported function here is synchronous on the calling goroutine
// and takes only per-entry locks; none of them suspend on I/O.
package pipeline

import (
	"strings"
	"time"

	"github.com/kaspalytics/kaspalytics-go/internal/cache"
	"github.com/kaspalytics/kaspalytics-go/internal/kaspahash"
	"github.com/kaspalytics/kaspalytics-go/internal/logger"
	"github.com/kaspalytics/kaspalytics-go/internal/model"
	"github.com/kaspalytics/kaspalytics-go/internal/pipeline/coinbase"
	"github.com/kaspalytics/kaspalytics-go/internal/pipeline/inscription"
)

var log, _ = logger.Get(logger.SubsystemTags.PIPE)

// nowFunc is overridable in tests.
var nowFunc = time.Now

// kasiaMarker is the ASCII substring identifying a Kasia-inscribed
// transaction payload.
const kasiaMarker = "ciph_msg"

// krcMarkers are the OP_PUSH data values that retroactively tag the
// previous transaction as KRC.
var krcMarkers = map[string]bool{"kasplex": true, "kspr": true}

const knsMarker = "kns"

// BlockAdd inserts block into the cache and fans out to TransactionAdd
// for each of its transactions. Idempotent: re-delivery
// of an already-cached block is a no-op.
//
// transactions must be given in the same order as block.Transactions and
// must include the block's coinbase transaction first, matching how the
// upstream node orders a block's transaction list.
func BlockAdd(c *cache.Cache, block *model.CacheBlock, transactions []*model.CacheTransaction) {
	if c.Blocks().Has(block.Hash) {
		return // idempotent re-delivery
	}

	txIds := make([]kaspahash.TxId, len(transactions))
	for i, tx := range transactions {
		txIds[i] = tx.Id
	}
	stored := block.Clone()
	stored.Transactions = txIds
	stored.IsChainBlock = false
	c.Blocks().Set(stored.Hash, stored)

	second := cache.SecondBucket(block.TimestampMs)

	var coinbaseTx *model.CacheTransaction
	for _, tx := range transactions {
		if tx.IsCoinbase() {
			coinbaseTx = tx
			break
		}
	}

	withSecond(c, second, func(m *model.SecondMetrics) {
		m.BlockCount++
		if coinbaseTx != nil {
			version, err := coinbase.ParseMiningNodeVersion(coinbaseTx.Payload)
			if err != nil {
				log.Warnf("block %s: could not parse mining node version: %s", block.Hash, err)
			} else {
				m.MiningNodeVersionBlockCounts[version]++
			}
		}
	})

	for _, tx := range transactions {
		transactionAdd(c, block.Hash, block.TimestampMs, tx)
	}
}

// transactionAdd is callable only from BlockAdd.
func transactionAdd(c *cache.Cache, blockHash kaspahash.BlockHash, blockTimestampMs int64, tx *model.CacheTransaction) {
	second := cache.SecondBucket(blockTimestampMs)

	if c.Transactions().Has(tx.Id) {
		c.Transactions().WithLock(tx.Id, func(current *model.CacheTransaction, ok bool) (*model.CacheTransaction, bool) {
			if !ok {
				return current, ok
			}
			current.Blocks = append(current.Blocks, blockHash)
			return current, true
		})
		withSecond(c, second, func(m *model.SecondMetrics) {
			m.TotalTransactions++
		})
		return
	}

	stored := tx.Clone()
	stored.Blocks = []kaspahash.BlockHash{blockHash}
	stored.BlockTimeMs = blockTimestampMs

	if stored.IsCoinbase() {
		withSecond(c, second, func(m *model.SecondMetrics) {
			m.CoinbaseSeen++
		})
	} else {
		withSecond(c, second, func(m *model.SecondMetrics) {
			m.UniqueTransactionSeen++
		})
		detectProtocol(c, stored)
	}

	c.Transactions().Set(stored.Id, stored)

	withSecond(c, second, func(m *model.SecondMetrics) {
		m.TotalTransactions++
	})
}

// detectProtocol implements the Kasia/KRC/KNS detection rules, mutating
// stored.Protocol in place and retroactively tagging a referenced
// previous transaction when an inscription marker is found.
func detectProtocol(c *cache.Cache, stored *model.CacheTransaction) {
	if strings.Contains(string(stored.Payload), kasiaMarker) {
		stored.Protocol = model.ProtocolKasia
		return
	}

	for _, input := range stored.Inputs {
		ops := inscription.Parse(input.SignatureScript)
		for _, pushed := range inscription.PushedStrings(ops) {
			var tag model.Protocol
			switch {
			case krcMarkers[pushed]:
				tag = model.ProtocolKRC
			case pushed == knsMarker:
				tag = model.ProtocolKNS
			default:
				continue
			}

			tagPreviousTransaction(c, input.PreviousOutpointTxId, tag)
			stored.Protocol = tag
			return
		}
	}
}

func tagPreviousTransaction(c *cache.Cache, prevId kaspahash.TxId, tag model.Protocol) {
	found := true
	c.Transactions().WithLock(prevId, func(prev *model.CacheTransaction, ok bool) (*model.CacheTransaction, bool) {
		if !ok {
			found = false
			return prev, ok
		}
		prev.Protocol = tag
		if prev.AcceptingBlockHash != nil {
			second := cache.SecondBucket(prev.BlockTimeMs)
			withSecond(c, second, func(m *model.SecondMetrics) {
				m.ProtocolAccepted[tag]++
			})
		}
		return prev, true
	})
	if !found {
		log.Warnf("protocol tagging: previous transaction %s not in cache", prevId)
	}
}

// ChainBlockAdded records chain acceptance for a block and its
// transactions.
func ChainBlockAdded(c *cache.Cache, acceptance *model.AcceptingBlockTransactions) {
	c.Blocks().WithLock(acceptance.AcceptingBlockHash, func(b *model.CacheBlock, ok bool) (*model.CacheBlock, bool) {
		if !ok {
			return b, ok
		}
		b.IsChainBlock = true
		return b, true
	})

	c.Accepting().Set(acceptance.AcceptingBlockHash, acceptance)

	for _, txId := range acceptance.TransactionIds {
		applyAcceptance(c, acceptance.AcceptingBlockHash, txId, +1)
	}
}

// ChainBlockRemoved revokes a prior chain acceptance (reorg),
// mirroring ChainBlockAdded's increments as saturating decrements.
func ChainBlockRemoved(c *cache.Cache, hash kaspahash.BlockHash) {
	block, ok := c.Blocks().Get(hash)
	if !ok {
		log.Warnf("chain_block_removed: block %s not in cache", hash)
		return
	}

	if block.TimestampMs > c.TipTimestamp() {
		log.Warnf("chain_block_removed: block %s timestamp exceeds tip timestamp, possible upstream reordering", hash)
	}

	c.Blocks().WithLock(hash, func(b *model.CacheBlock, ok bool) (*model.CacheBlock, bool) {
		if !ok {
			return b, ok
		}
		b.IsChainBlock = false
		return b, true
	})

	acceptance, ok := c.Accepting().Get(hash)
	if !ok {
		log.Warnf("chain_block_removed: block %s has no accepting entry, below cache horizon", hash)
		return
	}
	c.Accepting().Delete(hash)

	for _, txId := range acceptance.TransactionIds {
		applyAcceptance(c, hash, txId, -1)
	}
}

// applyAcceptance applies (sign=+1) or revokes (sign=-1) acceptance of
// txId by acceptingBlockHash, updating the transaction's
// AcceptingBlockHash and the matching per-second counters. Revocation
// uses saturating arithmetic so counters never go negative.
func applyAcceptance(c *cache.Cache, acceptingBlockHash kaspahash.BlockHash, txId kaspahash.TxId, sign int) {
	var txSnapshot *model.CacheTransaction
	found := true
	c.Transactions().WithLock(txId, func(tx *model.CacheTransaction, ok bool) (*model.CacheTransaction, bool) {
		if !ok {
			found = false
			return tx, ok
		}
		if sign > 0 {
			h := acceptingBlockHash
			tx.AcceptingBlockHash = &h
		} else {
			tx.AcceptingBlockHash = nil
		}
		txSnapshot = tx
		return tx, true
	})
	if !found {
		log.Warnf("acceptance update: transaction %s not in cache", txId)
		return
	}

	second := cache.SecondBucket(txSnapshot.BlockTimeMs)
	withSecond(c, second, func(m *model.SecondMetrics) {
		if txSnapshot.IsCoinbase() {
			if sign > 0 {
				m.CoinbaseAccepted++
			} else {
				model.SaturatingDecrement(&m.CoinbaseAccepted, 1)
			}
			return
		}

		if sign > 0 {
			m.UniqueTransactionAccepted++
		} else {
			model.SaturatingDecrement(&m.UniqueTransactionAccepted, 1)
		}

		switch txSnapshot.Protocol {
		case model.ProtocolKasia, model.ProtocolKRC, model.ProtocolKNS:
			if sign > 0 {
				m.ProtocolAccepted[txSnapshot.Protocol]++
			} else {
				current := m.ProtocolAccepted[txSnapshot.Protocol]
				model.SaturatingDecrement(&current, 1)
				m.ProtocolAccepted[txSnapshot.Protocol] = current
			}
		}
	})
}

// withSecond runs fn against the SecondMetrics bucket for second,
// creating it on first use.
func withSecond(c *cache.Cache, second int64, fn func(*model.SecondMetrics)) {
	c.Seconds().WithLock(second, func(m *model.SecondMetrics, ok bool) (*model.SecondMetrics, bool) {
		if !ok {
			m = model.NewSecondMetrics(second)
		}
		fn(m)
		m.UpdatedAt = nowFunc()
		return m, true
	})
}
