package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.SetHead(500)
	m.SetMissing(10)
	done := m.FetchStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchInFlight))
	done(true)
	m.FetchStarted()(false)
	m.BatchDone(time.Second, 7, 8)

	assert.Equal(t, 500.0, testutil.ToFloat64(m.head))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.missingBlocks))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.fetchInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blocksFetched))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blocksSkipped))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.rowsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches))

	_, err = New(reg)
	assert.Error(t, err, "duplicate registration")
	_, err = New(nil)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.SetHead(1)
	m.SetMissing(1)
	m.FetchStarted()(true)
	m.BatchDone(time.Second, 1, 1)
}

func TestServer_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.SetHead(42)

	s := NewServer(":0", reg)
	do := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, do("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do("/readyz").Code)
	s.SetReady(true)
	assert.Equal(t, http.StatusOK, do("/readyz").Code)

	rec := do("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "subnetx_chain_head 42"))
}

func TestServer_ReadinessChecks(t *testing.T) {
	s := NewServer(":0", prometheus.NewRegistry())
	var failing atomic.Bool
	s.AddReadinessCheck(func(context.Context) error {
		if failing.Load() {
			return errors.New("redis: connection refused")
		}
		return nil
	})
	s.SetReady(true)

	readyz := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec
	}
	assert.Equal(t, http.StatusOK, readyz().Code)

	failing.Store(true)
	rec := readyz()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
