package strategy

import (
	"fmt"

	"github.com/quantdesk/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// EMACross trades the crossover of two exponential moving averages of
// the close price: a BUY when the fast average crosses above the slow
// one, a close when it crosses back below. Indicator state is kept per
// symbol.
type EMACross struct {
	fastPeriod int
	slowPeriod int
	fraction   decimal.Decimal
	state      map[string]*emaState
}

type emaState struct {
	fast *ema
	slow *ema
	// prevDiff is fast minus slow on the previous bar, valid only once
	// both averages are seeded.
	prevDiff  float64
	prevValid bool
	inLong    bool
}

// NewEMACross creates a dual moving-average crossover strategy.
// Parameters:
//
//	fast_period: fast EMA period (default 12)
//	slow_period: slow EMA period (default 26), must exceed fast_period
//	fraction:    equity fraction per entry (default 0.95)
func NewEMACross(params map[string]any) (*EMACross, error) {
	fast, err := intParam(params, "fast_period", 12)
	if err != nil {
		return nil, err
	}
	slow, err := intParam(params, "slow_period", 26)
	if err != nil {
		return nil, err
	}
	fraction, err := floatParam(params, "fraction", 0.95)
	if err != nil {
		return nil, err
	}
	if fast < 1 {
		return nil, fmt.Errorf("parameter \"fast_period\": must be at least 1, got %d", fast)
	}
	if slow <= fast {
		return nil, fmt.Errorf("parameter \"slow_period\": must exceed fast_period %d, got %d", fast, slow)
	}
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("parameter \"fraction\": must be in (0, 1], got %v", fraction)
	}
	return &EMACross{
		fastPeriod: fast,
		slowPeriod: slow,
		fraction:   decimal.NewFromFloat(fraction),
		state:      make(map[string]*emaState),
	}, nil
}

func (s *EMACross) Name() string { return "emacross" }

func (s *EMACross) OnBar(symbol string, bar types.OHLCV) ([]types.OrderIntent, error) {
	st, ok := s.state[symbol]
	if !ok {
		st = &emaState{fast: newEMA(s.fastPeriod), slow: newEMA(s.slowPeriod)}
		s.state[symbol] = st
	}

	close, _ := bar.Close.Float64()
	fast, fastOK := st.fast.update(close)
	slow, slowOK := st.slow.update(close)
	if !fastOK || !slowOK {
		return nil, nil
	}

	diff := fast - slow
	defer func() {
		st.prevDiff = diff
		st.prevValid = true
	}()

	if !st.prevValid {
		return nil, nil
	}

	switch {
	case st.prevDiff <= 0 && diff > 0 && !st.inLong:
		st.inLong = true
		return []types.OrderIntent{{
			Symbol: symbol,
			Side:   types.SideBuy,
			Size:   s.fraction,
			Sizing: types.SizingFraction,
		}}, nil
	case st.prevDiff >= 0 && diff < 0 && st.inLong:
		st.inLong = false
		return []types.OrderIntent{{
			Symbol: symbol,
			Side:   types.SideSell,
			Sizing: types.SizingClose,
		}}, nil
	}

	return nil, nil
}

func (s *EMACross) Reset() {
	s.state = make(map[string]*emaState)
}

// ema is a running exponential moving average with standard 2/(p+1)
// smoothing, seeded with the simple average of the first p samples.
type ema struct {
	period int
	k      float64
	count  int
	sum    float64
	value  float64
}

func newEMA(period int) *ema {
	return &ema{period: period, k: 2.0 / float64(period+1)}
}

// update feeds one sample and returns the current average. The second
// return is false until the warmup window is full.
func (e *ema) update(x float64) (float64, bool) {
	e.count++
	switch {
	case e.count < e.period:
		e.sum += x
		return 0, false
	case e.count == e.period:
		e.sum += x
		e.value = e.sum / float64(e.period)
	default:
		e.value = (x-e.value)*e.k + e.value
	}
	return e.value, true
}
