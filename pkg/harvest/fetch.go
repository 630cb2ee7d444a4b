package harvest

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/subnetx/pkg/dataset"
	"github.com/canopy-network/subnetx/pkg/metrics"
	"github.com/canopy-network/subnetx/pkg/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Entry is one subnet's row for a fetched block.
type Entry struct {
	Netuid uint64
	Row    dataset.Row
}

// Result is the outcome of fetching one block. Either Err is set and Entries
// is empty, or Err is nil and Entries holds one entry per subnet.
type Result struct {
	Height  uint64
	Entries []Entry
	Err     error
}

// Skipped reports whether the block produced no data in this run.
func (r Result) Skipped() bool { return r.Err != nil }

// Fetcher fetches blocks through a fixed-size worker pool. The pool is the
// admission gate: at most concurrency blocks are in flight, across all batches.
type Fetcher struct {
	client  rpc.Client
	pool    pond.Pool
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewFetcher(client rpc.Client, logger *zap.Logger, m *metrics.Metrics, concurrency int, timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:  client,
		pool:    pond.NewPool(concurrency),
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

// Close waits for running fetches and stops the pool.
func (f *Fetcher) Close() {
	f.pool.StopAndWait()
}

// FetchBatch submits every height before waiting on any of them and returns
// one Result per height. results[i] always belongs to heights[i], whatever
// the completion order was.
func (f *Fetcher) FetchBatch(ctx context.Context, heights []uint64) []Result {
	results := make([]Result, len(heights))
	tasks := make([]pond.Task, len(heights))
	for i, h := range heights {
		tasks[i] = f.pool.Submit(func() {
			results[i] = f.Fetch(ctx, h)
		})
	}
	for i, t := range tasks {
		// a task that panicked never wrote its result
		if err := t.Wait(); err != nil {
			f.logger.Warn("Skipping block due to fetch error", zap.Uint64("height", heights[i]), zap.Error(err))
			results[i] = Result{Height: heights[i], Err: err}
		}
	}
	return results
}

// Fetch reads the timestamp and the subnet states of height concurrently.
// Any failure, including the per-fetch timeout, is logged and returned as a
// skipped Result; nothing partial is kept.
func (f *Fetcher) Fetch(ctx context.Context, height uint64) Result {
	done := f.metrics.FetchStarted()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var (
		ts      time.Time
		subnets []*rpc.Subnet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ts, err = f.client.BlockTimestamp(gctx, height)
		return err
	})
	g.Go(func() error {
		var err error
		subnets, err = f.client.SubnetsByHeight(gctx, height)
		return err
	})
	if err := g.Wait(); err != nil {
		f.logger.Warn("Skipping block due to fetch error", zap.Uint64("height", height), zap.Error(err))
		done(false)
		return Result{Height: height, Err: err}
	}

	entries := make([]Entry, 0, len(subnets))
	for _, s := range subnets {
		if s == nil {
			continue
		}
		entries = append(entries, Entry{Netuid: s.Netuid, Row: dataset.NewRow(height, ts, s)})
	}
	done(true)
	return Result{Height: height, Entries: entries}
}
