package dataset

import (
	"strconv"
	"time"

	"github.com/canopy-network/subnetx/pkg/rpc"
	"github.com/shopspring/decimal"
)

// Columns is the header of every dataset file, in write order.
var Columns = []string{"timestamp", "block", "alpha_in", "alpha_out", "tao_in", "price", "subnet_volume"}

const blockColumn = "block"

// Timestamps match existing datasets: numeric UTC offset, and microseconds
// only when non-zero.
const (
	timeLayout      = "2006-01-02T15:04:05-07:00"
	timeLayoutMicro = "2006-01-02T15:04:05.000000-07:00"
)

// FormatTime renders t in the dataset timestamp format.
func FormatTime(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/int(time.Microsecond) == 0 {
		return t.Format(timeLayout)
	}
	return t.Format(timeLayoutMicro)
}

// Row is one subnet's state at one block, amounts in tao.
type Row struct {
	Timestamp    time.Time
	Block        uint64
	AlphaIn      decimal.Decimal
	AlphaOut     decimal.Decimal
	TaoIn        decimal.Decimal
	Price        decimal.Decimal
	SubnetVolume decimal.Decimal
}

// NewRow converts a subnet's rao balances at block into a Row.
func NewRow(block uint64, ts time.Time, s *rpc.Subnet) Row {
	return Row{
		Timestamp:    ts.UTC(),
		Block:        block,
		AlphaIn:      s.AlphaIn.Tao(),
		AlphaOut:     s.AlphaOut.Tao(),
		TaoIn:        s.TaoIn.Tao(),
		Price:        s.Price.Tao(),
		SubnetVolume: s.SubnetVolume.Tao(),
	}
}

// Record renders the row in Columns order.
func (r Row) Record() []string {
	return []string{
		FormatTime(r.Timestamp),
		strconv.FormatUint(r.Block, 10),
		r.AlphaIn.String(),
		r.AlphaOut.String(),
		r.TaoIn.String(),
		r.Price.String(),
		r.SubnetVolume.String(),
	}
}
