package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck reports whether a dependency can currently serve requests.
type ReadinessCheck func(ctx context.Context) error

// Server exposes /metrics, /healthz and /readyz.
type Server struct {
	httpServer *http.Server
	ready      atomic.Bool
	checks     []ReadinessCheck
}

// NewServer creates a metrics server listening on addr (e.g. ":3010").
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	s := &Server{}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !s.ready.Load() {
			w.WriteHeader(503)
			return
		}
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		for _, check := range s.checks {
			if err := check(ctx); err != nil {
				http.Error(w, err.Error(), 503)
				return
			}
		}
		w.WriteHeader(200)
	})).Methods("GET")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// AddReadinessCheck makes /readyz fail while check fails. Call it before Start.
func (s *Server) AddReadinessCheck(check ReadinessCheck) {
	s.checks = append(s.checks, check)
}

// SetReady flips the /readyz answer.
func (s *Server) SetReady(v bool) { s.ready.Store(v) }

// Start serves in the background. The channel receives a listen error, if any, and is closed on exit.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
