package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/subnetx/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HTTPClient talks to one or more ledger gateways over HTTP JSON.
// Requests share a token-bucket, and each endpoint has its own circuit-breaker.
type HTTPClient struct {
	endpoints []string
	client    *http.Client

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options shared by both transports.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
	// Logger receives websocket reconnect attempts. Nil discards them.
	Logger *zap.Logger
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 200
	}
	if o.Burst <= 0 {
		o.Burst = 400
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	c := &HTTPClient{
		endpoints:        utils.Dedup(o.Endpoints),
		client:           client,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

// acquire takes a token from the bucket, waiting until one is available or ctx is done.
func (c *HTTPClient) acquire(ctx context.Context) error {
	for {
		c.refill()
		if atomic.AddInt64(&c.tokens, -1) >= 0 {
			return nil
		}
		atomic.AddInt64(&c.tokens, 1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.refillEvery / 2):
		}
	}
}

// isOpen reports whether the endpoint's breaker is OPEN. An expired breaker is reset.
func (c *HTTPClient) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

func (c *HTTPClient) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

func (c *HTTPClient) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

// doJSON sends payload to each configured endpoint in turn until one answers with a 2xx,
// and decodes the body into out when it is non-nil. Endpoints with an OPEN breaker are skipped.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}

	var b []byte
	if payload != nil {
		var err error
		if b, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	lastErr := fmt.Errorf("all endpoints unavailable")
	for _, ep := range c.endpoints {
		if c.isOpen(ep) {
			continue
		}
		if err := c.acquire(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, ep+path, bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.noteFailure(ep)
			if ctx.Err() != nil {
				return lastErr
			}
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server %d", resp.StatusCode)
			c.noteFailure(ep)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("http %d", resp.StatusCode)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				_ = utils.DrainAndClose(resp.Body)
				lastErr = fmt.Errorf("decode %s: %w", path, err)
				continue
			}
		}

		c.noteSuccess(ep)
		return utils.DrainAndClose(resp.Body)
	}

	return lastErr
}

// pageResp is the response for a paged query.
type pageResp[T any] struct {
	PageNumber int `json:"pageNumber"`
	PerPage    int `json:"perPage"`
	Results    []T `json:"results"`
	Count      int `json:"count"`
	TotalPages int `json:"totalPages"`
	TotalCount int `json:"totalCount"`
}

// ListPaged reads the first page of path, then the remaining pages concurrently.
// Results keep page order.
func ListPaged[T any](ctx context.Context, c *HTTPClient, path string, args QueryByHeightRequest) ([]T, error) {
	var first pageResp[T]
	if err := c.doJSON(ctx, http.MethodPost, path, args, &first); err != nil {
		return nil, err
	}
	if first.TotalPages <= 1 {
		return first.Results, nil
	}

	pages := make([][]T, first.TotalPages-1)
	g, gctx := errgroup.WithContext(ctx)
	for p := 2; p <= first.TotalPages; p++ {
		g.Go(func() error {
			payload := QueryByHeightRequest{}
			for k, v := range args {
				payload[k] = v
			}
			payload["pageNumber"] = p
			var pr pageResp[T]
			if err := c.doJSON(gctx, http.MethodPost, path, payload, &pr); err != nil {
				return fmt.Errorf("page %d: %w", p, err)
			}
			pages[p-2] = pr.Results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([]T, 0, max(first.TotalCount, len(first.Results)))
	all = append(all, first.Results...)
	for _, items := range pages {
		all = append(all, items...)
	}
	return all, nil
}
