package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ChainHead returns the height of the chain head.
func (c *HTTPClient) ChainHead(ctx context.Context) (uint64, error) {
	var resp HeadBlock
	if err := c.doJSON(ctx, http.MethodPost, headPath, map[string]any{}, &resp); err != nil {
		return 0, fmt.Errorf("cannot probe head: %w", err)
	}
	if resp.Height == 0 {
		return 0, fmt.Errorf("cannot probe head: empty chain")
	}
	return resp.Height, nil
}

// BlockTimestamp returns the timestamp recorded in the block at height h.
func (c *HTTPClient) BlockTimestamp(ctx context.Context, h uint64) (time.Time, error) {
	var resp BlockTime
	if err := c.doJSON(ctx, http.MethodPost, timestampPath, NewQueryByHeightRequest(h), &resp); err != nil {
		return time.Time{}, fmt.Errorf("fetch timestamp at %d: %w", h, err)
	}
	if resp.Timestamp <= 0 {
		return time.Time{}, fmt.Errorf("missing timestamp at %d", h)
	}
	return resp.Time(), nil
}
