// Package backtester provides the simulated wallet and the bar-replay
// backtesting engine.
package backtester

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantdesk/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Wallet simulates a trading account: cash balance, open positions,
// an append-only trade ledger and per-bar portfolio snapshots. All
// monetary math is decimal; no binary floating point touches a balance.
//
// The wallet is exclusively owned by one engine run. Cash flow is
// strictly side-determined: a BUY debits notional plus commission, a
// SELL credits notional minus commission, regardless of whether the
// trade opens, extends, reduces or flips a position. P&L attribution
// on closing portions uses the position's average entry cost.
type Wallet struct {
	mu             sync.RWMutex
	logger         *zap.Logger
	cash           decimal.Decimal
	initialCapital decimal.Decimal
	commissionRate decimal.Decimal
	positions      map[string]*types.Position
	trades         []types.Trade
	snapshots      []types.Snapshot
	realizedPnL    decimal.Decimal
}

// NewWallet creates a wallet with the given starting cash and
// fractional commission rate.
func NewWallet(logger *zap.Logger, initialCapital, commissionRate decimal.Decimal) *Wallet {
	return &Wallet{
		logger:         logger.Named("wallet"),
		cash:           initialCapital,
		initialCapital: initialCapital,
		commissionRate: commissionRate,
		positions:      make(map[string]*types.Position),
	}
}

// ExecuteTrade applies one trade to the wallet and returns the ledger
// entry, or nil if the trade is rejected. Invalid parameters (size or
// price not strictly positive) reject without mutating any state;
// callers must check the return value.
func (w *Wallet) ExecuteTrade(symbol string, side types.Side, size, price decimal.Decimal, ts time.Time) *types.Trade {
	if size.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		w.logger.Debug("trade rejected",
			zap.String("symbol", symbol),
			zap.String("size", size.String()),
			zap.String("price", price.String()))
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	commission := size.Mul(price).Mul(w.commissionRate)
	notional := size.Mul(price)

	signed := size
	if side == types.SideSell {
		signed = size.Neg()
	}

	realized := decimal.Zero
	pos := w.positions[symbol]

	switch {
	case pos == nil:
		w.positions[symbol] = &types.Position{
			Symbol:     symbol,
			Size:       signed,
			EntryPrice: price,
			OpenedAt:   ts,
			Trades:     1,
		}

	case pos.Size.Sign() == signed.Sign():
		// Same direction: extend with weighted-average-cost blending.
		newSize := pos.Size.Add(signed)
		totalCost := pos.Size.Abs().Mul(pos.EntryPrice).Add(size.Mul(price))
		pos.EntryPrice = totalCost.Div(newSize.Abs())
		pos.Size = newSize
		pos.Trades++

	default:
		// Opposing direction: offset the existing position first, then
		// flip any excess into a fresh position at the execution price.
		closed := decimal.Min(size, pos.Size.Abs())
		if pos.Size.Sign() > 0 {
			realized = price.Sub(pos.EntryPrice).Mul(closed)
		} else {
			realized = pos.EntryPrice.Sub(price).Mul(closed)
		}

		remaining := pos.Size.Abs().Sub(closed)
		excess := size.Sub(closed)

		switch {
		case excess.GreaterThan(decimal.Zero):
			flipped := excess
			if side == types.SideSell {
				flipped = excess.Neg()
			}
			pos.Size = flipped
			pos.EntryPrice = price
			pos.OpenedAt = ts
			pos.Trades++
		case remaining.IsZero():
			delete(w.positions, symbol)
		default:
			if pos.Size.Sign() > 0 {
				pos.Size = remaining
			} else {
				pos.Size = remaining.Neg()
			}
			pos.Trades++
		}
	}

	if side == types.SideBuy {
		w.cash = w.cash.Sub(notional).Sub(commission)
	} else {
		w.cash = w.cash.Add(notional).Sub(commission)
	}
	w.realizedPnL = w.realizedPnL.Add(realized)

	trade := types.Trade{
		ID:          uuid.New().String(),
		Symbol:      symbol,
		Side:        side,
		Size:        size,
		Price:       price,
		Commission:  commission,
		RealizedPnL: realized,
		Timestamp:   ts,
	}
	w.trades = append(w.trades, trade)

	return &trade
}

// PortfolioValue returns cash plus the mark-to-market value of all
// open positions. Symbols missing from the price map are valued at
// their average entry price rather than silently at zero.
func (w *Wallet) PortfolioValue(prices map[string]decimal.Decimal) decimal.Decimal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cash.Add(w.positionsValue(prices))
}

// positionsValue must be called with the lock held.
func (w *Wallet) positionsValue(prices map[string]decimal.Decimal) decimal.Decimal {
	value := decimal.Zero
	for sym, pos := range w.positions {
		mark, ok := prices[sym]
		if !ok {
			mark = pos.EntryPrice
		}
		value = value.Add(pos.Size.Mul(mark))
	}
	return value
}

// RecordSnapshot appends a portfolio snapshot valued at the given
// prices. No other wallet state is mutated.
func (w *Wallet) RecordSnapshot(prices map[string]decimal.Decimal, ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	positionsValue := w.positionsValue(prices)
	unrealized := decimal.Zero
	for sym, pos := range w.positions {
		mark, ok := prices[sym]
		if !ok {
			mark = pos.EntryPrice
		}
		unrealized = unrealized.Add(pos.Size.Mul(mark.Sub(pos.EntryPrice)))
	}

	w.snapshots = append(w.snapshots, types.Snapshot{
		Timestamp:      ts,
		TotalValue:     w.cash.Add(positionsValue),
		Cash:           w.cash,
		PositionsValue: positionsValue,
		UnrealizedPnL:  unrealized,
		RealizedPnL:    w.realizedPnL,
	})
}

// Cash returns the current cash balance.
func (w *Wallet) Cash() decimal.Decimal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cash
}

// Position returns a copy of the open position for a symbol, or nil.
func (w *Wallet) Position(symbol string) *types.Position {
	w.mu.RLock()
	defer w.mu.RUnlock()
	pos, ok := w.positions[symbol]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// Positions returns copies of all open positions keyed by symbol.
func (w *Wallet) Positions() map[string]types.Position {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]types.Position, len(w.positions))
	for sym, pos := range w.positions {
		out[sym] = *pos
	}
	return out
}

// Trades returns a copy of the trade ledger in execution order.
func (w *Wallet) Trades() []types.Trade {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]types.Trade, len(w.trades))
	copy(out, w.trades)
	return out
}

// Snapshots returns a copy of the snapshot history in record order.
func (w *Wallet) Snapshots() []types.Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]types.Snapshot, len(w.snapshots))
	copy(out, w.snapshots)
	return out
}

// WalletSummary is a read-only digest of wallet state.
type WalletSummary struct {
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalValue     decimal.Decimal `json:"final_value"`
	TotalReturnPct decimal.Decimal `json:"total_return_pct"`
	TotalTrades    int             `json:"total_trades"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	OpenPositions  int             `json:"open_positions"`
}

// PerformanceSummary derives a digest from the latest snapshot and the
// trade ledger. It has no side effects.
func (w *Wallet) PerformanceSummary() WalletSummary {
	w.mu.RLock()
	defer w.mu.RUnlock()

	final := w.initialCapital
	if n := len(w.snapshots); n > 0 {
		final = w.snapshots[n-1].TotalValue
	}

	ret := decimal.Zero
	if !w.initialCapital.IsZero() {
		ret = final.Sub(w.initialCapital).Div(w.initialCapital).Mul(decimal.NewFromInt(100))
	}

	return WalletSummary{
		InitialCapital: w.initialCapital,
		FinalValue:     final,
		TotalReturnPct: ret,
		TotalTrades:    len(w.trades),
		RealizedPnL:    w.realizedPnL,
		OpenPositions:  len(w.positions),
	}
}
