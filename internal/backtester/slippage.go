package backtester

import (
	"github.com/quantdesk/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// SlippageModel adjusts an execution price to account for slippage.
type SlippageModel interface {
	Adjust(side types.Side, price decimal.Decimal) decimal.Decimal
}

// FixedSlippage worsens the execution price by a fixed number of basis
// points: buys fill higher, sells fill lower. Zero basis points leaves
// prices untouched, which is the engine default.
type FixedSlippage struct {
	bps decimal.Decimal
}

// NewFixedSlippage creates a fixed slippage model.
func NewFixedSlippage(bps decimal.Decimal) *FixedSlippage {
	return &FixedSlippage{bps: bps}
}

// Adjust returns the slippage-adjusted execution price.
func (f *FixedSlippage) Adjust(side types.Side, price decimal.Decimal) decimal.Decimal {
	if f.bps.IsZero() {
		return price
	}
	frac := f.bps.Div(decimal.NewFromInt(10000))
	if side == types.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(frac))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(frac))
}
