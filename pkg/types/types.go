// Package types provides shared type definitions for the trading engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Interval represents a bar interval.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// Duration returns the wall-clock length of one bar.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// PeriodsPerYear returns the number of bars in a 365-day year,
// used for annualizing periodic return statistics.
func (i Interval) PeriodsPerYear() float64 {
	return float64(365*24*time.Hour) / float64(i.Duration())
}

// Valid reports whether the interval is one of the supported values.
func (i Interval) Valid() bool {
	switch i {
	case Interval1m, Interval5m, Interval15m, Interval1h, Interval4h, Interval1d:
		return true
	}
	return false
}

// OHLCV represents a single candlestick.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Position represents an open position. Size is signed: positive is
// long, negative is short. A position with zero size is never kept in
// the wallet's open set.
type Position struct {
	Symbol     string          `json:"symbol"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	OpenedAt   time.Time       `json:"opened_at"`
	Trades     int             `json:"trades"`
}

// Trade represents an executed trade. Size is always a positive
// magnitude; direction is carried by Side. RealizedPnL is zero for
// trades that only open or extend a position and carries the
// average-cost P&L of the closed portion otherwise. Immutable once
// appended to the ledger.
type Trade struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Size        decimal.Decimal `json:"size"`
	Price       decimal.Decimal `json:"price"`
	Commission  decimal.Decimal `json:"commission"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Snapshot is a point-in-time portfolio valuation, recorded once per
// simulated bar.
type Snapshot struct {
	Timestamp      time.Time       `json:"timestamp"`
	TotalValue     decimal.Decimal `json:"total_value"`
	Cash           decimal.Decimal `json:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
}

// SizingMode selects how an order intent's Size field is interpreted.
type SizingMode string

const (
	// SizingFraction sizes the order as a fraction of current equity.
	SizingFraction SizingMode = "fraction"
	// SizingAbsolute sizes the order as an absolute quantity.
	SizingAbsolute SizingMode = "absolute"
	// SizingClose closes the full open position; Size is ignored.
	SizingClose SizingMode = "close"
)

// OrderIntent is a strategy's requested trade before wallet execution.
type OrderIntent struct {
	Symbol string          `json:"symbol"`
	Side   Side            `json:"side"`
	Size   decimal.Decimal `json:"size"`
	Sizing SizingMode      `json:"sizing"`
}

// TradingState is the live-trading governor state.
type TradingState string

const (
	StateActive        TradingState = "ACTIVE"
	StateSuspended     TradingState = "SUSPENDED"
	StateEmergencyStop TradingState = "EMERGENCY_STOP"
	StateMaintenance   TradingState = "MAINTENANCE"
)

// DailyPnL aggregates live P&L for one UTC calendar day. The current
// day's record is mutated in place on every equity sample and moved to
// history when a new calendar date is first observed.
type DailyPnL struct {
	Date           string          `json:"date"` // YYYY-MM-DD, UTC
	StartingEquity decimal.Decimal `json:"starting_equity"`
	CurrentEquity  decimal.Decimal `json:"current_equity"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	MaxEquity      decimal.Decimal `json:"max_equity"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`
	TradeCount     int             `json:"trade_count"`
	WinCount       int             `json:"win_count"`
	LossCount      int             `json:"loss_count"`
	LargestWin     decimal.Decimal `json:"largest_win"`
	LargestLoss    decimal.Decimal `json:"largest_loss"`
}

// TotalPnL returns realized plus unrealized P&L for the day.
func (d *DailyPnL) TotalPnL() decimal.Decimal {
	return d.RealizedPnL.Add(d.UnrealizedPnL)
}

// TotalPnLPct returns the day's total P&L as a fraction of starting
// equity, or zero if starting equity is zero.
func (d *DailyPnL) TotalPnLPct() decimal.Decimal {
	if d.StartingEquity.IsZero() {
		return decimal.Zero
	}
	return d.TotalPnL().Div(d.StartingEquity)
}
