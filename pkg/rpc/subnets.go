package rpc

import (
	"context"
	"fmt"
)

// SubnetsByHeight returns every subnet's pool state at height h, across all pages.
func (c *HTTPClient) SubnetsByHeight(ctx context.Context, h uint64) ([]*Subnet, error) {
	subnets, err := ListPaged[*Subnet](ctx, c, subnetsPath, NewQueryByHeightRequest(h))
	if err != nil {
		return nil, fmt.Errorf("fetch subnets at %d: %w", h, err)
	}
	return subnets, nil
}
