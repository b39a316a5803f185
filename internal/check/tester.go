// Package check runs one-shot reachability tests against a list of hosts.
package check

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"pingcounter/internal/echo"
	"pingcounter/internal/storage"
	"pingcounter/internal/storage/models"
)

// RecordCounter is the counter name check results are stored under.
const RecordCounter = "check"

// Result holds the outcome for a single address.
type Result struct {
	Address  string
	Strategy string
	Outcome  echo.Outcome
	TestedAt time.Time
}

// BatchResult holds the outcome of testing multiple addresses.
type BatchResult struct {
	Results   []*Result
	Tested    int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// ProgressFunc is called each time a single test completes during batch testing.
type ProgressFunc func(result *Result, current, total int)

// TesterConfig holds configuration for the Tester.
type TesterConfig struct {
	Workers  int64
	Timeout  time.Duration
	Strategy Strategy
}

// Tester orchestrates reachability tests.
type Tester struct {
	storage storage.Storage
	config  TesterConfig
}

// NewTester creates a new Tester. store may be nil, in which case results
// are not recorded.
func NewTester(store storage.Storage, cfg TesterConfig) *Tester {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Tester{
		storage: store,
		config:  cfg,
	}
}

// TestSingle tests a single address and records the result.
func (t *Tester) TestSingle(ctx context.Context, address string) *Result {
	testCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	result := &Result{
		Address:  address,
		Strategy: t.config.Strategy.Name(),
		Outcome:  t.config.Strategy.Probe(testCtx, address),
		TestedAt: time.Now(),
	}

	if t.storage != nil {
		rec := &models.ProbeRecord{
			Counter:  RecordCounter,
			Address:  address,
			Kind:     result.Outcome.Kind.String(),
			Reason:   result.Outcome.Reason,
			ProbedAt: result.TestedAt,
		}
		if result.Outcome.OK() {
			us := result.Outcome.RTT.Microseconds()
			rec.RTTMicros = &us
		}
		// Best-effort
		t.storage.RecordProbe(ctx, rec)
	}

	return result
}

// TestBatch tests multiple addresses concurrently using a semaphore-based worker pool.
func (t *Tester) TestBatch(ctx context.Context, addresses []string, progress ProgressFunc) *BatchResult {
	startTime := time.Now()

	batch := &BatchResult{}
	results := make([]*Result, len(addresses))
	var mu sync.Mutex
	var completed int

	sem := semaphore.NewWeighted(t.config.Workers)
	var wg sync.WaitGroup

	for i, address := range addresses {
		wg.Add(1)
		go func(idx int, addr string) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			result := t.TestSingle(ctx, addr)
			results[idx] = result

			mu.Lock()
			completed++
			current := completed
			if result.Outcome.OK() {
				batch.Succeeded++
			} else {
				batch.Failed++
			}
			mu.Unlock()

			if progress != nil {
				progress(result, current, len(addresses))
			}
		}(i, address)
	}

	wg.Wait()

	for _, r := range results {
		if r != nil {
			batch.Results = append(batch.Results, r)
			batch.Tested++
		}
	}

	// Successful by RTT ascending, failures at the end in input order.
	sort.SliceStable(batch.Results, func(i, j int) bool {
		oi, oj := batch.Results[i].Outcome, batch.Results[j].Outcome
		if oi.OK() != oj.OK() {
			return oi.OK()
		}
		if oi.OK() {
			return oi.RTT < oj.RTT
		}
		return false
	})

	batch.Duration = time.Since(startTime)
	return batch
}
