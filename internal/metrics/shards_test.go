package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestShardedStats_Initialization(t *testing.T) {
	s := newShardedStats(64)
	for i, shard := range s.shards {
		if shard == nil {
			t.Fatalf("shard %d is nil", i)
		}
		if shard.bucket == nil || shard.bucket.hist == nil {
			t.Errorf("shard %d bucket is not initialized", i)
		}
		if shard.bucket.capacity != 2 {
			t.Errorf("shard %d capacity = %d, want 2", i, shard.bucket.capacity)
		}
	}
	if newShardedStats(0).capacity != 0 {
		t.Error("expected unbounded capacity for 0 samples")
	}
}

func TestShardedStats_Distribution(t *testing.T) {
	s := newShardedStats(0)
	totalRequests := 10000

	for i := 0; i < totalRequests; i++ {
		s.record(Succeeded("a", time.Millisecond, 200))
	}

	emptyShards := 0
	var totalRecorded int64
	for _, shard := range s.shards {
		shard.mu.Lock()
		count := shard.bucket.successes + shard.bucket.failures
		shard.mu.Unlock()

		totalRecorded += count
		if count == 0 {
			emptyShards++
		}
	}

	if totalRecorded != int64(totalRequests) {
		t.Errorf("expected %d total requests recorded, got %d", totalRequests, totalRecorded)
	}
	// With 10000 items and 32 shards an empty shard is vanishingly unlikely.
	if emptyShards > 0 {
		t.Logf("warning: %d shards were empty", emptyShards)
	}
}

func TestShardedStats_Aggregation(t *testing.T) {
	s := newShardedStats(0)
	rnd := func(int64) int64 { return 0 }

	s.shards[0].mu.Lock()
	s.shards[0].bucket.record(Succeeded("a", 10*time.Millisecond, 200), rnd)
	s.shards[0].mu.Unlock()

	s.shards[1].mu.Lock()
	s.shards[1].bucket.record(Failed("a", 20*time.Millisecond, HTTPError(500), 500), rnd)
	s.shards[1].mu.Unlock()

	m := s.collect(true)
	stats := summarize(m.global, time.Second, true)

	if stats.Total != 2 {
		t.Errorf("expected total 2, got %d", stats.Total)
	}
	if stats.Successes != 1 || stats.Failures != 1 {
		t.Errorf("expected 1/1, got %d/%d", stats.Successes, stats.Failures)
	}
	if stats.MinLatency != 10*time.Millisecond {
		t.Errorf("expected min 10ms, got %v", stats.MinLatency)
	}
	if stats.MaxLatency != 20*time.Millisecond {
		t.Errorf("expected max 20ms, got %v", stats.MaxLatency)
	}
	if stats.Errors["http_error_500"] != 1 {
		t.Errorf("expected http_error_500 count 1, got %d", stats.Errors["http_error_500"])
	}
}

func TestBucket_ReservoirKeepsCapacity(t *testing.T) {
	b := newBucket(4)
	calls := 0
	rnd := func(n int64) int64 {
		calls++
		return n - 1 // never below capacity once past it: samples stay put
	}
	for i := 1; i <= 10; i++ {
		b.record(Succeeded("a", time.Duration(i)*time.Millisecond, 200), rnd)
	}
	if len(b.samples) != 4 {
		t.Fatalf("retained %d samples, want 4", len(b.samples))
	}
	if calls != 6 {
		t.Errorf("reservoir consulted %d times, want 6", calls)
	}
	if b.samples[3] != 4*time.Millisecond {
		t.Errorf("reservoir replaced a sample it should have skipped")
	}
	if !b.approximate() {
		t.Error("expected approximate after overflow")
	}

	b.record(Succeeded("a", 99*time.Millisecond, 200), func(int64) int64 { return 1 })
	if b.samples[1] != 99*time.Millisecond {
		t.Errorf("reservoir did not replace slot 1: %v", b.samples)
	}
}

func TestShardedStats_SnapshotSkipsSamples(t *testing.T) {
	s := newShardedStats(0)
	for i := 0; i < 100; i++ {
		s.record(Succeeded("a", time.Millisecond, 200))
	}
	m := s.collect(false)
	if len(m.global.samples) != 0 {
		t.Errorf("cheap collect copied %d samples", len(m.global.samples))
	}
	full := s.collect(true)
	if len(full.global.samples) != 100 || len(full.endpoints["a"].samples) != 100 {
		t.Errorf("full collect lost samples")
	}
}

func TestShardedStats_ConcurrentAccess(t *testing.T) {
	s := newShardedStats(128)
	var wg sync.WaitGroup
	workers := 50
	requestsPerWorker := 100

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < requestsPerWorker; j++ {
				s.record(Succeeded("a", time.Millisecond, 200))
			}
		}()
	}

	done := make(chan bool)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				s.collect(false)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	wg.Wait()
	close(done)

	m := s.collect(true)
	expectedTotal := int64(workers * requestsPerWorker)
	if got := m.global.successes + m.global.failures; got != expectedTotal {
		t.Errorf("expected total %d, got %d", expectedTotal, got)
	}
}
