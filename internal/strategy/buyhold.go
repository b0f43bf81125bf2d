package strategy

import (
	"fmt"

	"github.com/quantdesk/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// BuyHold opens one long position per symbol on the first bar it sees,
// sized as a fixed fraction of current equity, and never trades again.
type BuyHold struct {
	fraction decimal.Decimal
	opened   map[string]bool
}

// NewBuyHold creates a buy-and-hold strategy. Parameters:
//
//	fraction: equity fraction for the initial position (default 0.95)
func NewBuyHold(params map[string]any) (*BuyHold, error) {
	fraction, err := floatParam(params, "fraction", 0.95)
	if err != nil {
		return nil, err
	}
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("parameter \"fraction\": must be in (0, 1], got %v", fraction)
	}
	return &BuyHold{
		fraction: decimal.NewFromFloat(fraction),
		opened:   make(map[string]bool),
	}, nil
}

func (s *BuyHold) Name() string { return "buyhold" }

func (s *BuyHold) OnBar(symbol string, bar types.OHLCV) ([]types.OrderIntent, error) {
	if s.opened[symbol] {
		return nil, nil
	}
	s.opened[symbol] = true
	return []types.OrderIntent{{
		Symbol: symbol,
		Side:   types.SideBuy,
		Size:   s.fraction,
		Sizing: types.SizingFraction,
	}}, nil
}

func (s *BuyHold) Reset() {
	s.opened = make(map[string]bool)
}
