package backtester

import (
	"math"
	"time"

	"github.com/quantdesk/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// profitFactorCap bounds the profit factor when there are gross wins
// and zero gross losses. The ratio is mathematically unbounded there;
// callers get a large finite value instead of an infinity.
const profitFactorCap = 9999

// Calculator derives performance statistics from a snapshot history
// and a trade ledger. All methods are pure; every percentage metric is
// defined for degenerate inputs (empty ledger, single snapshot,
// all-winning or all-losing trade sets).
type Calculator struct{}

// NewCalculator creates a metrics calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Summarize computes the full performance summary for one run.
func (c *Calculator) Summarize(
	snapshots []types.Snapshot,
	trades []types.Trade,
	initialCapital decimal.Decimal,
	interval types.Interval,
	start, end time.Time,
) types.PerformanceSummary {
	summary := types.PerformanceSummary{
		InitialCapital: initialCapital,
		FinalValue:     initialCapital,
		TotalTrades:    len(trades),
		BacktestDays:   calendarDays(start, end),
	}

	if n := len(snapshots); n > 0 {
		summary.FinalValue = snapshots[n-1].TotalValue
	}

	if !initialCapital.IsZero() {
		summary.TotalReturnPct = summary.FinalValue.
			Sub(initialCapital).
			Div(initialCapital).
			Mul(decimal.NewFromInt(100))
	}

	summary.AnnualizedReturnPct = annualize(summary.TotalReturnPct, summary.BacktestDays)
	summary.SharpeRatio = sharpe(periodicReturns(snapshots), interval.PeriodsPerYear())
	summary.MaxDrawdownPct, summary.MaxDrawdownBars = maxDrawdown(snapshots)

	wins, losses, grossWins, grossLosses := tallyTrades(trades)
	summary.WinningTrades = wins
	summary.LosingTrades = losses

	if closed := wins + losses; closed > 0 {
		summary.WinRatePct = decimal.NewFromInt(int64(wins)).
			Div(decimal.NewFromInt(int64(closed))).
			Mul(decimal.NewFromInt(100))
	}

	switch {
	case grossLosses.GreaterThan(decimal.Zero):
		summary.ProfitFactor = grossWins.Div(grossLosses)
	case grossWins.GreaterThan(decimal.Zero):
		summary.ProfitFactor = decimal.NewFromInt(profitFactorCap)
	}

	return summary
}

// tallyTrades counts winners and losers and sums gross wins and gross
// losses (losses as positive magnitude). Trades with zero realized
// P&L are opening trades and do not count as closed.
func tallyTrades(trades []types.Trade) (wins, losses int, grossWins, grossLosses decimal.Decimal) {
	for _, t := range trades {
		switch t.RealizedPnL.Sign() {
		case 1:
			wins++
			grossWins = grossWins.Add(t.RealizedPnL)
		case -1:
			losses++
			grossLosses = grossLosses.Add(t.RealizedPnL.Abs())
		}
	}
	return wins, losses, grossWins, grossLosses
}

// periodicReturns converts the snapshot value series into per-bar
// fractional returns. Zero-value predecessors are skipped.
func periodicReturns(snapshots []types.Snapshot) []float64 {
	if len(snapshots) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].TotalValue
		if prev.IsZero() {
			continue
		}
		r, _ := snapshots[i].TotalValue.Sub(prev).Div(prev).Float64()
		returns = append(returns, r)
	}
	return returns
}

// sharpe computes the annualized Sharpe ratio at a zero risk-free
// rate. A zero-variance series returns exactly zero instead of
// dividing by zero.
func sharpe(returns []float64, periodsPerYear float64) decimal.Decimal {
	if len(returns) < 2 {
		return decimal.Zero
	}
	sd := stdDev(returns)
	if sd == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(mean(returns) / sd * math.Sqrt(periodsPerYear))
}

// maxDrawdown returns the largest peak-to-trough decline in the
// snapshot value series as a percentage, and the number of bars from
// that peak to the trough.
func maxDrawdown(snapshots []types.Snapshot) (decimal.Decimal, int) {
	if len(snapshots) == 0 {
		return decimal.Zero, 0
	}

	peak := snapshots[0].TotalValue
	peakIdx := 0
	maxDD := decimal.Zero
	maxDDBars := 0

	for i, s := range snapshots {
		if s.TotalValue.GreaterThan(peak) {
			peak = s.TotalValue
			peakIdx = i
			continue
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(s.TotalValue).Div(peak).Mul(decimal.NewFromInt(100))
		if dd.GreaterThan(maxDD) {
			maxDD = dd
			maxDDBars = i - peakIdx
		}
	}

	return maxDD, maxDDBars
}

// annualize extrapolates a total return percentage over elapsed
// calendar days to a 365-day year, compounding.
func annualize(totalReturnPct decimal.Decimal, days int) decimal.Decimal {
	if days <= 0 {
		return decimal.Zero
	}
	r, _ := totalReturnPct.Float64()
	growth := 1 + r/100
	if growth <= 0 {
		// Total loss or worse; annualizing has no meaningful value.
		return decimal.NewFromInt(-100)
	}
	ann := math.Pow(growth, 365/float64(days)) - 1
	return decimal.NewFromFloat(ann * 100)
}

// calendarDays returns the elapsed calendar days between start and
// end, never less than one.
func calendarDays(start, end time.Time) int {
	days := int(math.Ceil(end.Sub(start).Hours() / 24))
	if days < 1 {
		days = 1
	}
	return days
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}
