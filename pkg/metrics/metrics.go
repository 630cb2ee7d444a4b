package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "subnetx"

// Metrics tracks harvester progress. A nil *Metrics is valid and records nothing.
type Metrics struct {
	head          prometheus.Gauge
	missingBlocks prometheus.Gauge
	blocksFetched prometheus.Counter
	blocksSkipped prometheus.Counter
	rowsWritten   prometheus.Counter
	batches       prometheus.Counter
	fetchInFlight prometheus.Gauge
	fetchDuration prometheus.Histogram
	batchDuration prometheus.Histogram
}

// New creates the harvester metrics and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, errors.New("registerer is required")
	}
	m := &Metrics{
		head: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "chain_head",
			Help:      "Head height snapshotted at the start of the last run",
		}),
		missingBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "missing_blocks",
			Help:      "Blocks not yet harvested in the current run",
		}),
		blocksFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "blocks_fetched_total",
			Help:      "Blocks fetched successfully",
		}),
		blocksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "blocks_skipped_total",
			Help:      "Blocks skipped because a fetch failed or timed out",
		}),
		rowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rows_written_total",
			Help:      "Dataset rows appended",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batches_total",
			Help:      "Batches processed",
		}),
		fetchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "fetch_in_flight",
			Help:      "Block fetches currently holding an admission slot",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time to fetch one block's timestamp and subnet states",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time to fetch a full batch",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.head, m.missingBlocks, m.blocksFetched, m.blocksSkipped, m.rowsWritten,
		m.batches, m.fetchInFlight, m.fetchDuration, m.batchDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) SetHead(h uint64) {
	if m == nil {
		return
	}
	m.head.Set(float64(h))
}

func (m *Metrics) SetMissing(n int) {
	if m == nil {
		return
	}
	m.missingBlocks.Set(float64(n))
}

// FetchStarted marks a fetch as admitted. The returned func records its outcome.
func (m *Metrics) FetchStarted() func(ok bool) {
	if m == nil {
		return func(bool) {}
	}
	start := time.Now()
	m.fetchInFlight.Inc()
	return func(ok bool) {
		m.fetchInFlight.Dec()
		m.fetchDuration.Observe(time.Since(start).Seconds())
		if ok {
			m.blocksFetched.Inc()
		} else {
			m.blocksSkipped.Inc()
		}
	}
}

func (m *Metrics) BatchDone(elapsed time.Duration, rows, remaining int) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.batchDuration.Observe(elapsed.Seconds())
	m.rowsWritten.Add(float64(rows))
	m.missingBlocks.Set(float64(remaining))
}
