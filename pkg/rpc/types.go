package rpc

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RaoDecimals is the number of decimal places between rao and tao.
const RaoDecimals = 9

// Balance is an amount in rao. The gateway encodes it either as a JSON number
// or as a quoted string, since values can exceed 2^53.
type Balance uint64

func (b *Balance) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*b = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("balance %q: %w", s, err)
	}
	*b = Balance(v)
	return nil
}

// Tao returns the balance as a decimal token amount.
func (b Balance) Tao() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(b)), -RaoDecimals)
}

// Subnet is the dynamic pool state of one subnet at a height.
type Subnet struct {
	Netuid       uint64  `json:"netuid"`
	AlphaIn      Balance `json:"alpha_in"`
	AlphaOut     Balance `json:"alpha_out"`
	TaoIn        Balance `json:"tao_in"`
	Price        Balance `json:"price"`
	SubnetVolume Balance `json:"subnet_volume"`
}

// HeadBlock is the response of the head query.
type HeadBlock struct {
	Height uint64 `json:"height"`
}

// BlockTime is the response of the timestamp query, in unix milliseconds.
type BlockTime struct {
	Timestamp int64 `json:"timestamp"`
}

func (bt BlockTime) Time() time.Time {
	return time.UnixMilli(bt.Timestamp).UTC()
}

// QueryByHeightRequest is the body of every height-scoped query.
type QueryByHeightRequest map[string]any

func NewQueryByHeightRequest(height uint64) QueryByHeightRequest {
	return QueryByHeightRequest{"height": height}
}
