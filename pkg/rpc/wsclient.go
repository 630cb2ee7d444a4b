package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/subnetx/pkg/retry"
	"github.com/canopy-network/subnetx/pkg/utils"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// ErrClosed is returned for calls made on, or pending when, the connection closed.
var ErrClosed = errors.New("rpc: connection closed")

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *WSError        `json:"error"`
}

// WSError is an error object returned by the remote node.
type WSError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *WSError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// wsConn is one websocket session. Once done is closed it is never reused.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending *xsync.Map[uint64, chan wsResponse]

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// WSClient is a JSON-RPC 2.0 client over a websocket connection.
// Calls are safe for concurrent use; responses are matched to callers by request id.
// A dropped connection is redialed by the next call; calls pending on it fail with ErrClosed.
type WSClient struct {
	endpoint string
	timeout  time.Duration
	logger   *zap.Logger
	nextID   atomic.Uint64

	mu     sync.Mutex
	cur    *wsConn
	closed bool
}

// DialWS connects to a ws:// or wss:// endpoint.
func DialWS(ctx context.Context, endpoint string, o Opts) (*WSClient, error) {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	c := &WSClient{endpoint: endpoint, timeout: o.Timeout, logger: o.Logger}
	wc, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.cur = wc
	return c, nil
}

func (c *WSClient) dial(ctx context.Context) (*wsConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, resp, err := dialer.DialContext(ctx, c.endpoint, nil)
	if resp != nil {
		_ = utils.DrainAndClose(resp.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	wc := &wsConn{
		conn:    conn,
		pending: xsync.NewMap[uint64, chan wsResponse](),
		done:    make(chan struct{}),
	}
	go wc.readLoop()
	return wc, nil
}

// conn returns the live session, redialing when the previous one has dropped.
// Concurrent callers wait for a single redial.
func (c *WSClient) conn(ctx context.Context) (*wsConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	select {
	case <-c.cur.done:
	default:
		return c.cur, nil
	}

	c.logger.Warn("Websocket connection lost, redialing",
		zap.String("endpoint", c.endpoint),
		zap.NamedError("cause", c.cur.closeErr))
	err := retry.WithBackoff(ctx, retry.ReconnectConfig(), c.logger, "redial "+c.endpoint, func(ctx context.Context) error {
		wc, err := c.dial(ctx)
		if err != nil {
			return err
		}
		c.cur = wc
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	c.logger.Info("Websocket connection restored", zap.String("endpoint", c.endpoint))
	return c.cur, nil
}

func (wc *wsConn) readLoop() {
	for {
		var resp wsResponse
		if err := wc.conn.ReadJSON(&resp); err != nil {
			wc.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		if ch, ok := wc.pending.LoadAndDelete(resp.ID); ok {
			ch <- resp
		}
	}
}

// shutdown closes the session once and releases every waiting caller.
func (wc *wsConn) shutdown(cause error) {
	wc.closeOnce.Do(func() {
		wc.closeErr = cause
		close(wc.done)
		_ = wc.conn.Close()
	})
}

// Close closes the connection for good. Pending and later calls fail with ErrClosed.
func (c *WSClient) Close() error {
	c.mu.Lock()
	c.closed = true
	wc := c.cur
	c.mu.Unlock()

	wc.writeMu.Lock()
	_ = wc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	wc.writeMu.Unlock()
	wc.shutdown(ErrClosed)
	return nil
}

func (c *WSClient) call(ctx context.Context, method string, out any, params ...any) error {
	wc, err := c.conn(ctx)
	if err != nil {
		return err
	}

	id := c.nextID.Add(1)
	ch := make(chan wsResponse, 1)
	wc.pending.Store(id, ch)
	defer wc.pending.Delete(id)

	if params == nil {
		params = []any{}
	}
	wc.writeMu.Lock()
	_ = wc.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	err = wc.conn.WriteJSON(wsRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	wc.writeMu.Unlock()
	if err != nil {
		wc.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
		return fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wc.done:
		return wc.closeErr
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s: %w", method, err)
		}
		return nil
	}
}

func (c *WSClient) ChainHead(ctx context.Context) (uint64, error) {
	var h uint64
	if err := c.call(ctx, methodHead, &h); err != nil {
		return 0, fmt.Errorf("cannot probe head: %w", err)
	}
	if h == 0 {
		return 0, fmt.Errorf("cannot probe head: empty chain")
	}
	return h, nil
}

func (c *WSClient) BlockTimestamp(ctx context.Context, h uint64) (time.Time, error) {
	var ms int64
	if err := c.call(ctx, methodTimestamp, &ms, h); err != nil {
		return time.Time{}, fmt.Errorf("fetch timestamp at %d: %w", h, err)
	}
	if ms <= 0 {
		return time.Time{}, fmt.Errorf("missing timestamp at %d", h)
	}
	return BlockTime{Timestamp: ms}.Time(), nil
}

func (c *WSClient) SubnetsByHeight(ctx context.Context, h uint64) ([]*Subnet, error) {
	var subnets []*Subnet
	if err := c.call(ctx, methodSubnets, &subnets, h); err != nil {
		return nil, fmt.Errorf("fetch subnets at %d: %w", h, err)
	}
	return subnets, nil
}
