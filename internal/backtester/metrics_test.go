package backtester_test

import (
	"testing"
	"time"

	"github.com/quantdesk/trading-engine/internal/backtester"
	"github.com/quantdesk/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func snapshotSeries(start time.Time, values ...string) []types.Snapshot {
	snaps := make([]types.Snapshot, len(values))
	for i, v := range values {
		snaps[i] = types.Snapshot{
			Timestamp:  start.Add(time.Duration(i) * time.Hour),
			TotalValue: d(v),
		}
	}
	return snaps
}

func closedTrade(pnl string) types.Trade {
	return types.Trade{
		Symbol:      "BTC/USDT",
		Side:        types.SideSell,
		Size:        d("1"),
		Price:       d("100"),
		RealizedPnL: d(pnl),
	}
}

func TestSummarizeEmptyInputs(t *testing.T) {
	calc := backtester.NewCalculator()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	s := calc.Summarize(nil, nil, d("10000"), types.Interval1h, start, start.AddDate(0, 0, 30))

	if !s.FinalValue.Equal(d("10000")) {
		t.Errorf("final value = %s, want 10000", s.FinalValue)
	}
	if !s.TotalReturnPct.IsZero() {
		t.Errorf("total return = %s, want 0", s.TotalReturnPct)
	}
	if !s.SharpeRatio.IsZero() {
		t.Errorf("sharpe = %s, want 0", s.SharpeRatio)
	}
	if !s.WinRatePct.IsZero() {
		t.Errorf("win rate = %s, want 0", s.WinRatePct)
	}
	if !s.ProfitFactor.IsZero() {
		t.Errorf("profit factor = %s, want 0", s.ProfitFactor)
	}
	if !s.MaxDrawdownPct.IsZero() {
		t.Errorf("max drawdown = %s, want 0", s.MaxDrawdownPct)
	}
	if s.BacktestDays != 30 {
		t.Errorf("backtest days = %d, want 30", s.BacktestDays)
	}
}

func TestSummarizeFlatEquitySharpeIsZero(t *testing.T) {
	calc := backtester.NewCalculator()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := snapshotSeries(start, "10000", "10000", "10000", "10000", "10000")

	s := calc.Summarize(snaps, nil, d("10000"), types.Interval1h, start, start.AddDate(0, 0, 7))

	if !s.SharpeRatio.IsZero() {
		t.Errorf("sharpe for zero-variance series = %s, want exactly 0", s.SharpeRatio)
	}
	if !s.TotalReturnPct.IsZero() {
		t.Errorf("total return = %s, want 0", s.TotalReturnPct)
	}
}

func TestSummarizeProfitFactor(t *testing.T) {
	calc := backtester.NewCalculator()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 10)

	t.Run("wins only is capped", func(t *testing.T) {
		trades := []types.Trade{closedTrade("50"), closedTrade("30")}
		s := calc.Summarize(nil, trades, d("10000"), types.Interval1h, start, end)
		if !s.ProfitFactor.Equal(d("9999")) {
			t.Errorf("profit factor = %s, want 9999", s.ProfitFactor)
		}
	})

	t.Run("losses only is zero", func(t *testing.T) {
		trades := []types.Trade{closedTrade("-50")}
		s := calc.Summarize(nil, trades, d("10000"), types.Interval1h, start, end)
		if !s.ProfitFactor.IsZero() {
			t.Errorf("profit factor = %s, want 0", s.ProfitFactor)
		}
	})

	t.Run("mixed is exact ratio", func(t *testing.T) {
		trades := []types.Trade{closedTrade("100"), closedTrade("-40")}
		s := calc.Summarize(nil, trades, d("10000"), types.Interval1h, start, end)
		if !s.ProfitFactor.Equal(d("2.5")) {
			t.Errorf("profit factor = %s, want 2.5", s.ProfitFactor)
		}
	})
}

func TestSummarizeWinRateIgnoresOpens(t *testing.T) {
	calc := backtester.NewCalculator()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// Two winners, one loser, one opening trade with zero P&L.
	trades := []types.Trade{
		closedTrade("10"),
		closedTrade("5"),
		closedTrade("-3"),
		closedTrade("0"),
	}
	s := calc.Summarize(nil, trades, d("10000"), types.Interval1h, start, start.AddDate(0, 0, 10))

	if s.WinningTrades != 2 || s.LosingTrades != 1 {
		t.Errorf("wins/losses = %d/%d, want 2/1", s.WinningTrades, s.LosingTrades)
	}
	if got := s.WinRatePct.StringFixed(2); got != "66.67" {
		t.Errorf("win rate = %s, want 66.67", got)
	}
	if s.TotalTrades != 4 {
		t.Errorf("total trades = %d, want 4", s.TotalTrades)
	}
}

func TestSummarizeMaxDrawdown(t *testing.T) {
	calc := backtester.NewCalculator()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := snapshotSeries(start, "100", "120", "90", "110")

	s := calc.Summarize(snaps, nil, d("100"), types.Interval1h, start, start.AddDate(0, 0, 1))

	// Peak 120, trough 90: 25% over one bar.
	if !s.MaxDrawdownPct.Equal(d("25")) {
		t.Errorf("max drawdown = %s, want 25", s.MaxDrawdownPct)
	}
	if s.MaxDrawdownBars != 1 {
		t.Errorf("drawdown bars = %d, want 1", s.MaxDrawdownBars)
	}
}

func TestSummarizeTotalReturnExact(t *testing.T) {
	calc := backtester.NewCalculator()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := snapshotSeries(start, "10000", "10500")

	s := calc.Summarize(snaps, nil, d("10000"), types.Interval1d, start, start.AddDate(0, 0, 365))

	if !s.TotalReturnPct.Equal(d("5")) {
		t.Errorf("total return = %s, want 5", s.TotalReturnPct)
	}
	// One full year: annualized equals total.
	ann, _ := s.AnnualizedReturnPct.Float64()
	if ann < 4.99 || ann > 5.01 {
		t.Errorf("annualized return = %v, want ~5", ann)
	}
}

func TestFixedSlippageAdjust(t *testing.T) {
	model := backtester.NewFixedSlippage(d("10")) // 10 bps

	if got := model.Adjust(types.SideBuy, d("10000")); !got.Equal(d("10010")) {
		t.Errorf("buy fill = %s, want 10010", got)
	}
	if got := model.Adjust(types.SideSell, d("10000")); !got.Equal(d("9990")) {
		t.Errorf("sell fill = %s, want 9990", got)
	}

	zero := backtester.NewFixedSlippage(decimal.Zero)
	if got := zero.Adjust(types.SideBuy, d("123.45")); !got.Equal(d("123.45")) {
		t.Errorf("zero-bps fill = %s, want passthrough", got)
	}
}
