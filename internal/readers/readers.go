// Package readers implements pure, read-only metric functions over the
// cache: rolling counts, fee statistics, and protocol/version shares.
// Every function takes a threshold or bucket size and returns a value
// computed from a single weakly consistent pass over the cache; none of
// them mutate it.
package readers

import (
	"sort"

	"github.com/kaspalytics/kaspalytics-go/internal/cache"
	"github.com/kaspalytics/kaspalytics-go/internal/model"
)

// TransactionCount sums SecondMetrics.TotalTransactions for every second
// at or after threshold (unix seconds).
func TransactionCount(c *cache.Cache, threshold int64) int64 {
	var total int64
	c.IterSeconds(func(m *model.SecondMetrics) bool {
		if m.Second >= threshold {
			total += m.TotalTransactions
		}
		return true
	})
	return total
}

// HourBucket is one hour's worth of accepted-transaction counts.
type HourBucket struct {
	HourStart int64 // unix seconds, floor to the hour
	Accepted  int64
}

// AcceptedCountPerHour24h buckets the last 24 full hours of SecondMetrics
// by hour, summing accepted-coinbase + accepted-unique, relative to
// nowUnix (the caller's wall-clock reference point).
func AcceptedCountPerHour24h(c *cache.Cache, nowUnix int64) []HourBucket {
	const hourSeconds = 3600
	const hours = 24

	currentHourStart := nowUnix - nowUnix%hourSeconds
	windowStart := currentHourStart - hours*hourSeconds

	counts := make(map[int64]int64, hours)
	c.IterSeconds(func(m *model.SecondMetrics) bool {
		if m.Second < windowStart || m.Second >= currentHourStart {
			return true
		}
		hourStart := m.Second - m.Second%hourSeconds
		counts[hourStart] += m.CoinbaseAccepted + m.UniqueTransactionAccepted
		return true
	})

	out := make([]HourBucket, 0, hours)
	for h := windowStart; h < currentHourStart; h += hourSeconds {
		out = append(out, HourBucket{HourStart: h, Accepted: counts[h]})
	}
	return out
}

// MiningNodeVersionShare60m unions every mining-node-version block count
// within the trailing 60-minute window ending at nowUnix, normalized to
// a percentage share per version. Empty windows yield an empty map, not
// an error.
func MiningNodeVersionShare60m(c *cache.Cache, nowUnix int64) map[string]float64 {
	const windowSeconds = 60 * 60
	threshold := nowUnix - windowSeconds

	counts := make(map[string]int64)
	var total int64
	c.IterSeconds(func(m *model.SecondMetrics) bool {
		if m.Second < threshold {
			return true
		}
		for version, n := range m.MiningNodeVersionBlockCounts {
			counts[version] += n
			total += n
		}
		return true
	})

	shares := make(map[string]float64, len(counts))
	if total == 0 {
		return shares
	}
	for version, n := range counts {
		shares[version] = float64(n) / float64(total) * 100
	}
	return shares
}

// FeeBucket is the average fee over one bucket of the timeline.
type FeeBucket struct {
	BucketStart int64
	AverageFee  float64
}

// AverageFeeByBucket sums TotalFees and UniqueTransactionAccepted per
// bucket of bucketSecs width over the trailing lookbackSecs window
// ending at nowUnix, emitting (bucket_start, avg) pairs sorted by
// bucket_start. A bucket with no accepted transactions still emits a
// zero average rather than being omitted: empty windows yield zero, not
// error.
func AverageFeeByBucket(c *cache.Cache, nowUnix, bucketSecs, lookbackSecs int64) []FeeBucket {
	if bucketSecs <= 0 {
		return nil
	}
	threshold := nowUnix - lookbackSecs

	type accum struct {
		fees     uint64
		accepted int64
	}
	buckets := make(map[int64]*accum)

	c.IterSeconds(func(m *model.SecondMetrics) bool {
		if m.Second < threshold {
			return true
		}
		bucketStart := m.Second - (m.Second % bucketSecs)
		a, ok := buckets[bucketStart]
		if !ok {
			a = &accum{}
			buckets[bucketStart] = a
		}
		a.fees += m.TotalFees
		a.accepted += m.UniqueTransactionAccepted
		return true
	})

	out := make([]FeeBucket, 0, len(buckets))
	for start, a := range buckets {
		var avg float64
		if a.accepted > 0 {
			avg = float64(a.fees) / float64(a.accepted)
		}
		out = append(out, FeeBucket{
			BucketStart: start,
			AverageFee:  avg,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart < out[j].BucketStart })
	return out
}
