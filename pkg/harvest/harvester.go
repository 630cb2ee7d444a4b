// Package harvest downloads per-block subnet state from the ledger into
// append-only per-subnet datasets. Runs are resumable: blocks already present
// in the datasets are not fetched again, and blocks whose fetch failed are
// picked up by the next run.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/canopy-network/subnetx/pkg/dataset"
	"github.com/canopy-network/subnetx/pkg/metrics"
	"github.com/canopy-network/subnetx/pkg/rpc"
	"github.com/canopy-network/subnetx/pkg/utils"
	"go.uber.org/zap"
)

// BatchWrittenChannel is the pub/sub channel batch events are published on.
const BatchWrittenChannel = "subnetx:batch.written"

var (
	ErrInvalidLogger    = errors.New("invalid logger: must not be nil")
	ErrInvalidClient    = errors.New("invalid client: must not be nil")
	ErrInvalidStore     = errors.New("invalid store: must not be nil")
	ErrInvalidBatchSize = errors.New("invalid batch size: must be greater than 0")
)

// Config bounds a run.
type Config struct {
	// BatchSize is both the number of blocks in flight and the batch length.
	BatchSize int
	// FetchTimeout bounds one block's fetch. Zero disables it.
	FetchTimeout time.Duration
	// MinHeight is the lowest block enumerated. Zero means 1.
	MinHeight uint64
}

// Publisher receives batch events. redis.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any)
}

// BatchEvent is published after each batch has been written.
type BatchEvent struct {
	Event       string    `json:"event"`
	Batch       int       `json:"batch"`
	FirstHeight uint64    `json:"firstHeight"`
	LastHeight  uint64    `json:"lastHeight"`
	Rows        int       `json:"rows"`
	Skipped     int       `json:"skipped"`
	Remaining   int       `json:"remaining"`
	ElapsedMs   int64     `json:"elapsedMs"`
	Timestamp   time.Time `json:"timestamp"`
}

// Summary describes a finished run.
type Summary struct {
	Head    uint64
	Missing int
	Batches int
	Written int
	Skipped int
	Elapsed time.Duration
}

type Option func(*Harvester)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Harvester) { h.metrics = m }
}

func WithPublisher(p Publisher) Option {
	return func(h *Harvester) { h.publisher = p }
}

type Harvester struct {
	logger    *zap.Logger
	client    rpc.Client
	store     dataset.Store
	cfg       Config
	metrics   *metrics.Metrics
	publisher Publisher
}

func New(logger *zap.Logger, client rpc.Client, store dataset.Store, cfg Config, opts ...Option) (*Harvester, error) {
	if logger == nil {
		return nil, ErrInvalidLogger
	}
	if client == nil {
		return nil, ErrInvalidClient
	}
	if store == nil {
		return nil, ErrInvalidStore
	}
	if cfg.BatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if cfg.MinHeight == 0 {
		cfg.MinHeight = 1
	}
	h := &Harvester{logger: logger, client: client, store: store, cfg: cfg}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Run harvests every block from the current head down to MinHeight that is
// not yet checkpointed. Per-block failures are skipped; the returned error is
// reserved for run-level failures such as an unreachable ledger or an
// unwritable dataset.
func (h *Harvester) Run(ctx context.Context) (sum Summary, err error) {
	start := time.Now()
	defer func() { sum.Elapsed = time.Since(start) }()

	h.logger.Info("Scanning existing datasets")
	cp, err := Discover(h.store)
	if err != nil {
		return sum, fmt.Errorf("discover checkpoints: %w", err)
	}
	h.logger.Info("Checkpoints loaded", zap.Int("netuids", cp.Netuids()), zap.Int("rows", cp.Len()))

	head, err := h.client.ChainHead(ctx)
	if err != nil {
		return sum, fmt.Errorf("get chain head: %w", err)
	}
	sum.Head = head
	h.metrics.SetHead(head)
	h.logger.Info("Current head block", zap.Uint64("head", head))

	missing := cp.Missing(head, h.cfg.MinHeight)
	sum.Missing = len(missing)
	h.metrics.SetMissing(len(missing))
	if len(missing) == 0 {
		h.logger.Info("No block to download")
		return sum, nil
	}
	h.logger.Info("Total missing blocks to fetch", zap.Int("missing", len(missing)))

	fetcher := NewFetcher(h.client, h.logger, h.metrics, h.cfg.BatchSize, h.cfg.FetchTimeout)
	defer fetcher.Close()
	writer := NewWriter(h.store, cp, h.logger)
	defer func() {
		if cerr := writer.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	for i := 0; i < len(missing); i += h.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		batch := missing[i:min(i+h.cfg.BatchSize, len(missing))]
		num := i/h.cfg.BatchSize + 1
		h.logger.Info("Processing batch",
			zap.Int("batch", num),
			zap.Uint64("from", batch[0]),
			zap.Uint64("to", batch[len(batch)-1]))

		bstart := time.Now()
		results := fetcher.FetchBatch(ctx, batch)
		elapsed := time.Since(bstart)

		written, werr := writer.Write(results)
		skipped := 0
		for _, r := range results {
			if r.Skipped() {
				skipped++
			}
		}
		sum.Batches++
		sum.Written += written
		sum.Skipped += skipped
		if werr != nil {
			return sum, fmt.Errorf("write batch %d: %w", num, werr)
		}

		remaining := len(missing) - i - len(batch)
		h.metrics.BatchDone(elapsed, written, remaining)
		h.logger.Info("Batch written",
			zap.Int("batch", num),
			zap.Int("rows", written),
			zap.Int("skipped", skipped),
			zap.String("elapsed", utils.FormatSeconds(elapsed.Seconds())),
			zap.Float64("rowsPerSec", throughput(written, elapsed)),
			zap.Int("remaining", remaining))

		h.publish(ctx, BatchEvent{
			Event:       "batch.written",
			Batch:       num,
			FirstHeight: batch[0],
			LastHeight:  batch[len(batch)-1],
			Rows:        written,
			Skipped:     skipped,
			Remaining:   remaining,
			ElapsedMs:   elapsed.Milliseconds(),
			Timestamp:   time.Now().UTC(),
		})
	}

	h.logger.Info("Data update complete",
		zap.Int("rows", sum.Written),
		zap.Int("skipped", sum.Skipped),
		zap.Int("batches", sum.Batches))
	return sum, nil
}

func (h *Harvester) publish(ctx context.Context, ev BatchEvent) {
	if h.publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("Failed to encode batch event", zap.Error(err))
		return
	}
	h.publisher.Publish(ctx, BatchWrittenChannel, payload)
}

func throughput(rows int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return math.Inf(1)
	}
	return float64(rows) / elapsed.Seconds()
}
