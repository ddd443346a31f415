package metrics

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	numShards = 32

	// Latencies are tracked in microseconds from 1µs up to 60s.
	histLowest  = 1
	histHighest = 60_000_000
	histSigFigs = 2
)

// bucket accumulates one stream of outcomes. Counters, sums and extremes are
// exact; samples are exact up to capacity and a uniform reservoir after.
type bucket struct {
	successes int64
	failures  int64
	sum       time.Duration
	min       time.Duration
	max       time.Duration
	errors    map[Class]int64

	samples  []time.Duration
	capacity int // 0 means unbounded
	seen     int64
	lossy    bool

	hist *hdrhistogram.Histogram
}

func newBucket(capacity int) *bucket {
	return &bucket{
		errors:   make(map[Class]int64),
		capacity: capacity,
		hist:     hdrhistogram.New(histLowest, histHighest, histSigFigs),
	}
}

func (b *bucket) record(o Outcome, rnd func(n int64) int64) {
	if o.Success {
		b.successes++
	} else {
		b.failures++
		b.errors[o.Class]++
	}

	lat := o.Latency
	if lat < 0 {
		lat = 0
	}
	b.sum += lat
	if b.seen == 0 || lat < b.min {
		b.min = lat
	}
	if lat > b.max {
		b.max = lat
	}

	b.seen++
	switch {
	case b.capacity == 0 || len(b.samples) < b.capacity:
		b.samples = append(b.samples, lat)
	default:
		// Algorithm R: keep the new sample with probability capacity/seen.
		if j := rnd(b.seen); j < int64(b.capacity) {
			b.samples[j] = lat
		}
	}

	us := lat.Microseconds()
	if us < histLowest {
		us = histLowest
	}
	if us > histHighest {
		us = histHighest
	}
	_ = b.hist.RecordValue(us)
}

func (b *bucket) approximate() bool {
	return b.lossy || (b.capacity > 0 && b.seen > int64(b.capacity))
}

// merge folds b into dst. Samples are appended, so dst grows to the union.
func (dst *bucket) merge(b *bucket) {
	if b.seen == 0 {
		return
	}
	if b.approximate() {
		dst.lossy = true
	}
	if dst.seen == 0 || b.min < dst.min {
		dst.min = b.min
	}
	if b.max > dst.max {
		dst.max = b.max
	}
	dst.successes += b.successes
	dst.failures += b.failures
	dst.sum += b.sum
	dst.seen += b.seen
	for k, v := range b.errors {
		dst.errors[k] += v
	}
	dst.samples = append(dst.samples, b.samples...)
	dst.hist.Merge(b.hist)
}

type shard struct {
	mu        sync.Mutex
	rnd       *rand.Rand
	bucket    *bucket
	endpoints map[string]*bucket
}

type shardedStats struct {
	shards   [numShards]*shard
	capacity int
}

// newShardedStats spreads maxSamples evenly across shards; 0 keeps every
// sample.
func newShardedStats(maxSamples int) *shardedStats {
	perShard := 0
	if maxSamples > 0 {
		perShard = (maxSamples + numShards - 1) / numShards
	}
	s := &shardedStats{capacity: perShard}
	for i := range s.shards {
		s.shards[i] = &shard{
			rnd:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
			bucket:    newBucket(perShard),
			endpoints: make(map[string]*bucket),
		}
	}
	return s
}

func (s *shardedStats) record(o Outcome) {
	sh := s.shards[rand.IntN(numShards)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.bucket.record(o, sh.rnd.Int64N)
	ep, ok := sh.endpoints[o.Endpoint]
	if !ok {
		ep = newBucket(s.capacity)
		sh.endpoints[o.Endpoint] = ep
	}
	ep.record(o, sh.rnd.Int64N)
}

// merged holds the union of every shard.
type merged struct {
	global    *bucket
	endpoints map[string]*bucket
}

// collect merges all shards. withSamples=false skips copying latency samples
// for cheap snapshots.
func (s *shardedStats) collect(withSamples bool) merged {
	m := merged{global: newBucket(0), endpoints: make(map[string]*bucket)}
	for _, sh := range s.shards {
		sh.mu.Lock()
		s.mergeInto(m.global, sh.bucket, withSamples)
		for name, b := range sh.endpoints {
			dst, ok := m.endpoints[name]
			if !ok {
				dst = newBucket(0)
				m.endpoints[name] = dst
			}
			s.mergeInto(dst, b, withSamples)
		}
		sh.mu.Unlock()
	}
	return m
}

func (s *shardedStats) mergeInto(dst, src *bucket, withSamples bool) {
	if withSamples {
		dst.merge(src)
		return
	}
	samples := src.samples
	src.samples = nil
	dst.merge(src)
	src.samples = samples
}
