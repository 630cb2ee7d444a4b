package rpc

import (
	"context"
	"time"
)

// Client captures the ledger calls the harvester makes.
// Heights are block numbers; amounts come back in rao and are converted at the dataset layer.
type Client interface {
	ChainHead(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, height uint64) (time.Time, error)
	SubnetsByHeight(ctx context.Context, height uint64) ([]*Subnet, error)
	Close() error
}
