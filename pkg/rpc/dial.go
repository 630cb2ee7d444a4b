package rpc

import (
	"context"
	"fmt"
	"net/url"

	"github.com/canopy-network/subnetx/pkg/utils"
)

// Dial returns a Client for the given endpoint list. The scheme of the first
// endpoint selects the transport: ws/wss use WSClient on that endpoint only,
// http/https use HTTPClient across all of them.
func Dial(ctx context.Context, endpoints string, o Opts) (Client, error) {
	eps := utils.SplitList(endpoints)
	if len(eps) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}
	u, err := url.Parse(eps[0])
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", eps[0], err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return DialWS(ctx, eps[0], o)
	case "http", "https":
		o.Endpoints = eps
		return NewHTTPWithOpts(o), nil
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}
