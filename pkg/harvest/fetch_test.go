package harvest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/subnetx/pkg/metrics"
)

func TestFetcher_FetchBatchKeepsInputOrder(t *testing.T) {
	ledger := newFakeLedger(100, 0, 3)
	f := NewFetcher(ledger, zaptest.NewLogger(t), nil, 4, time.Second)
	defer f.Close()

	heights := []uint64{50, 49, 48, 47, 46, 45}
	results := f.FetchBatch(context.Background(), heights)

	require.Len(t, results, len(heights))
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, heights[i], r.Height)
		require.Len(t, r.Entries, 2)
		assert.Equal(t, uint64(0), r.Entries[0].Netuid)
		assert.Equal(t, uint64(3), r.Entries[1].Netuid)
		for _, e := range r.Entries {
			assert.Equal(t, heights[i], e.Row.Block)
			assert.Equal(t, blockTime(heights[i]), e.Row.Timestamp)
		}
		assert.Equal(t, "2", r.Entries[0].Row.Price.String())
	}
}

func TestFetcher_FailureYieldsEmptyResult(t *testing.T) {
	ledger := newFakeLedger(100, 1, 2)
	ledger.setFailing(20)
	ledger.failTS[18] = true

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	f := NewFetcher(ledger, zaptest.NewLogger(t), m, 2, time.Second)
	defer f.Close()

	results := f.FetchBatch(context.Background(), []uint64{20, 19, 18})
	require.Len(t, results, 3)

	assert.True(t, results[0].Skipped())
	assert.Empty(t, results[0].Entries)
	assert.ErrorContains(t, results[0].Err, "state pruned at 20")

	assert.False(t, results[1].Skipped())
	assert.Len(t, results[1].Entries, 2)

	assert.True(t, results[2].Skipped())
	assert.Empty(t, results[2].Entries)
	assert.ErrorContains(t, results[2].Err, "timestamp unavailable at 18")

	expected := `
# HELP subnetx_blocks_fetched_total Blocks fetched successfully
# TYPE subnetx_blocks_fetched_total counter
subnetx_blocks_fetched_total 1
# HELP subnetx_blocks_skipped_total Blocks skipped because a fetch failed or timed out
# TYPE subnetx_blocks_skipped_total counter
subnetx_blocks_skipped_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"subnetx_blocks_fetched_total", "subnetx_blocks_skipped_total"))
}

func TestFetcher_TimeoutIsAFailure(t *testing.T) {
	ledger := newFakeLedger(100, 1)
	ledger.hang[7] = true
	f := NewFetcher(ledger, zaptest.NewLogger(t), nil, 2, 50*time.Millisecond)
	defer f.Close()

	start := time.Now()
	results := f.FetchBatch(context.Background(), []uint64{8, 7})
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.False(t, results[0].Skipped())
	assert.True(t, results[1].Skipped())
	assert.ErrorIs(t, results[1].Err, context.DeadlineExceeded)
	assert.Empty(t, results[1].Entries)
}

func TestFetcher_RespectsConcurrencyBound(t *testing.T) {
	const bound = 3
	ledger := newFakeLedger(100, 1)
	ledger.delay = 20 * time.Millisecond

	f := NewFetcher(ledger, zaptest.NewLogger(t), nil, bound, time.Second)
	defer f.Close()

	heights := make([]uint64, 0, 12)
	for h := uint64(30); h > 18; h-- {
		heights = append(heights, h)
	}
	// submit more than one batch worth at once; the pool still admits only bound
	results := f.FetchBatch(context.Background(), heights)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}

	assert.LessOrEqual(t, ledger.peak(), bound)
	assert.Greater(t, ledger.peak(), 1)
	assert.Equal(t, int32(12), ledger.subnetCalls.Load())
	assert.Equal(t, int32(12), ledger.tsCalls.Load())
}

func TestFetcher_CancelledContext(t *testing.T) {
	ledger := newFakeLedger(100, 1)
	ledger.delay = time.Second
	f := NewFetcher(ledger, zaptest.NewLogger(t), nil, 2, 0)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := f.FetchBatch(ctx, []uint64{3, 2, 1})
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}
