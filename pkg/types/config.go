package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BacktestConfig describes one backtest run. Field names form the data
// contract with the enclosing web API and must not change. The config
// is treated as immutable once a run begins.
type BacktestConfig struct {
	ID             string          `json:"id,omitempty"`
	StrategyName   string          `json:"strategy_name"`
	StrategyParams map[string]any  `json:"strategy_params"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	Symbols        []string        `json:"symbols"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Interval       Interval        `json:"interval,omitempty"`
	SlippageBps    decimal.Decimal `json:"slippage_bps,omitempty"`
}

// ValidationError carries every constraint violated by a config, not
// just the first one found.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid backtest config: %s", strings.Join(e.Violations, "; "))
}

// Violations returns every constraint the config violates. An empty
// slice means the config is valid.
func (c *BacktestConfig) Violations() []string {
	var v []string

	if c.StrategyName == "" {
		v = append(v, "strategy_name must not be empty")
	}
	if !c.EndDate.After(c.StartDate) {
		v = append(v, fmt.Sprintf("end_date %s must be strictly after start_date %s",
			c.EndDate.Format(time.RFC3339), c.StartDate.Format(time.RFC3339)))
	}
	if len(c.Symbols) == 0 {
		v = append(v, "symbols must not be empty")
	}
	for i, s := range c.Symbols {
		if s == "" {
			v = append(v, fmt.Sprintf("symbols[%d] must not be empty", i))
		}
	}
	if !c.InitialCapital.GreaterThan(decimal.Zero) {
		v = append(v, fmt.Sprintf("initial_capital must be positive, got %s", c.InitialCapital))
	}
	if c.CommissionRate.LessThan(decimal.Zero) {
		v = append(v, fmt.Sprintf("commission_rate must not be negative, got %s", c.CommissionRate))
	}
	if c.Interval != "" && !c.Interval.Valid() {
		v = append(v, fmt.Sprintf("interval %q is not supported", c.Interval))
	}
	if c.SlippageBps.LessThan(decimal.Zero) {
		v = append(v, fmt.Sprintf("slippage_bps must not be negative, got %s", c.SlippageBps))
	}

	return v
}

// Validate returns a *ValidationError enumerating every violated
// constraint, or nil when the config is valid.
func (c *BacktestConfig) Validate() error {
	if v := c.Violations(); len(v) > 0 {
		return &ValidationError{Violations: v}
	}
	return nil
}

// PerformanceSummary holds the derived metrics of a completed run.
// Percentage metrics are always defined, never NaN or infinite, even
// for degenerate inputs (empty ledger, flat equity, all-winning sets).
type PerformanceSummary struct {
	InitialCapital      decimal.Decimal `json:"initial_capital"`
	FinalValue          decimal.Decimal `json:"final_value"`
	TotalReturnPct      decimal.Decimal `json:"total_return_pct"`
	AnnualizedReturnPct decimal.Decimal `json:"annualized_return_pct"`
	SharpeRatio         decimal.Decimal `json:"sharpe_ratio"`
	MaxDrawdownPct      decimal.Decimal `json:"max_drawdown_pct"`
	MaxDrawdownBars     int             `json:"max_drawdown_bars"`
	WinRatePct          decimal.Decimal `json:"win_rate_pct"`
	TotalTrades         int             `json:"total_trades"`
	WinningTrades       int             `json:"winning_trades"`
	LosingTrades        int             `json:"losing_trades"`
	ProfitFactor        decimal.Decimal `json:"profit_factor"`
	BacktestDays        int             `json:"backtest_days"`
}

// Diagnostic records a non-fatal incident during a run (a skipped bar,
// a degraded data fetch).
type Diagnostic struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol,omitempty"`
	Message   string    `json:"message"`
}

// BacktestResult is produced once at run completion and owned by the
// caller afterwards; the engine retains no reference to it.
type BacktestResult struct {
	ID           string `json:"id"`
	StrategyName string `json:"strategy_name"`
	PerformanceSummary
	Trades      []Trade       `json:"trades"`
	Snapshots   []Snapshot    `json:"snapshots"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}
