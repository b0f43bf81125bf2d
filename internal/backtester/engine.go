package backtester

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quantdesk/trading-engine/internal/data"
	"github.com/quantdesk/trading-engine/internal/metrics"
	"github.com/quantdesk/trading-engine/internal/strategy"
	"github.com/quantdesk/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// defaultInterval is used when a config leaves the bar interval empty.
const defaultInterval = types.Interval1h

// progressGranularity caps how many progress updates one run emits.
const progressGranularity = 100

// ProgressFunc receives fire-and-forget progress updates. A slow or
// panicking callback delays or loses reporting only, never the run.
type ProgressFunc func(runID string, percent float64, message string)

// Engine drives a deterministic bar-by-bar replay: bars feed the
// strategy, resulting order intents are sized and executed against the
// wallet, a snapshot is recorded per time step, and the calculator
// derives the final metrics. Given the same config and data the engine
// produces bit-identical trade and snapshot sequences.
type Engine struct {
	logger     *zap.Logger
	provider   data.Provider
	strategies *strategy.Registry
	running    atomic.Bool
}

// NewEngine creates a backtesting engine.
func NewEngine(logger *zap.Logger, provider data.Provider, strategies *strategy.Registry) *Engine {
	return &Engine{
		logger:     logger.Named("backtester"),
		provider:   provider,
		strategies: strategies,
	}
}

// Run executes one backtest. The config is validated before any
// simulation work begins; validation failures enumerate every violated
// constraint. progressFn may be nil.
func (e *Engine) Run(ctx context.Context, config types.BacktestConfig, progressFn ProgressFunc) (*types.BacktestResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("backtest already running")
	}
	defer e.running.Store(false)

	violations := config.Violations()
	if config.StrategyName != "" && !e.strategies.Has(config.StrategyName) {
		violations = append(violations, fmt.Sprintf("strategy_name %q is not registered", config.StrategyName))
	}
	if len(violations) > 0 {
		metrics.BacktestsTotal.WithLabelValues("invalid").Inc()
		return nil, &types.ValidationError{Violations: violations}
	}

	strat, err := e.strategies.Create(config.StrategyName, config.StrategyParams)
	if err != nil {
		metrics.BacktestsTotal.WithLabelValues("invalid").Inc()
		return nil, &types.ValidationError{Violations: []string{err.Error()}}
	}

	if config.Interval == "" {
		config.Interval = defaultInterval
	}
	runID := config.ID
	if runID == "" {
		runID = uuid.New().String()
	}

	startedAt := time.Now()
	wallet := NewWallet(e.logger, config.InitialCapital, config.CommissionRate)
	slippage := NewFixedSlippage(config.SlippageBps)
	reporter := newProgressReporter(e.logger, runID, progressFn)
	defer reporter.close()

	var diagnostics []types.Diagnostic

	e.logger.Info("starting backtest",
		zap.String("id", runID),
		zap.String("strategy", config.StrategyName),
		zap.Strings("symbols", config.Symbols),
		zap.String("interval", string(config.Interval)))

	series, fetchDiags, err := e.fetchSeries(ctx, config)
	if err != nil {
		metrics.BacktestsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	diagnostics = append(diagnostics, fetchDiags...)

	timeline := mergeTimeline(series)
	if len(timeline) == 0 {
		metrics.BacktestsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("no historical data available for any of %v", config.Symbols)
	}

	// Deterministic symbol order within each time step.
	symbols := append([]string(nil), config.Symbols...)
	sort.Strings(symbols)

	cursor := make(map[string]int, len(symbols))
	lastPrices := make(map[string]decimal.Decimal, len(symbols))
	progressEvery := len(timeline) / progressGranularity
	if progressEvery == 0 {
		progressEvery = 1
	}

	for step, ts := range timeline {
		if err := ctx.Err(); err != nil {
			metrics.BacktestsTotal.WithLabelValues("cancelled").Inc()
			return nil, err
		}

		for _, sym := range symbols {
			bars := series[sym]
			i := cursor[sym]
			if i >= len(bars) || !bars[i].Timestamp.Equal(ts) {
				continue
			}
			cursor[sym] = i + 1
			bar := bars[i]
			lastPrices[sym] = bar.Close
			metrics.BarsProcessed.Inc()

			intents, err := evalStrategy(strat, sym, bar)
			if err != nil {
				metrics.StrategyErrors.Inc()
				diagnostics = append(diagnostics, types.Diagnostic{
					Timestamp: ts,
					Symbol:    sym,
					Message:   fmt.Sprintf("strategy error, bar skipped: %v", err),
				})
				e.logger.Warn("strategy error, bar skipped",
					zap.String("symbol", sym),
					zap.Time("bar", ts),
					zap.Error(err))
				continue
			}

			for _, intent := range intents {
				if diag := e.applyIntent(wallet, slippage, lastPrices, intent, ts); diag != "" {
					diagnostics = append(diagnostics, types.Diagnostic{
						Timestamp: ts,
						Symbol:    intent.Symbol,
						Message:   diag,
					})
				}
			}
		}

		wallet.RecordSnapshot(lastPrices, ts)

		if (step+1)%progressEvery == 0 || step == len(timeline)-1 {
			pct := float64(step+1) / float64(len(timeline)) * 100
			reporter.report(pct, fmt.Sprintf("processed %d/%d bars", step+1, len(timeline)))
		}
	}

	calc := NewCalculator()
	summary := calc.Summarize(wallet.Snapshots(), wallet.Trades(), config.InitialCapital,
		config.Interval, config.StartDate, config.EndDate)

	result := &types.BacktestResult{
		ID:                 runID,
		StrategyName:       config.StrategyName,
		PerformanceSummary: summary,
		Trades:             wallet.Trades(),
		Snapshots:          wallet.Snapshots(),
		Diagnostics:        diagnostics,
		StartedAt:          startedAt,
		CompletedAt:        time.Now(),
	}
	result.Duration = result.CompletedAt.Sub(startedAt)

	metrics.BacktestsTotal.WithLabelValues("completed").Inc()
	e.logger.Info("backtest completed",
		zap.String("id", runID),
		zap.Duration("duration", result.Duration),
		zap.Int("trades", summary.TotalTrades),
		zap.String("total_return_pct", summary.TotalReturnPct.String()))

	return result, nil
}

// fetchSeries loads bars for every symbol. Fetches run concurrently;
// results are keyed by symbol so the replay order stays deterministic.
// A failed symbol is degraded by the provider, not fatal here; only a
// cancelled context aborts.
func (e *Engine) fetchSeries(ctx context.Context, config types.BacktestConfig) (map[string][]types.OHLCV, []types.Diagnostic, error) {
	var (
		mu          sync.Mutex
		wg          sync.WaitGroup
		series      = make(map[string][]types.OHLCV, len(config.Symbols))
		diagnostics []types.Diagnostic
		fetchErr    error
	)

	for _, sym := range config.Symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			bars, err := e.provider.GetOHLCV(ctx, sym, config.StartDate, config.EndDate, config.Interval)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fetchErr = err
				return
			}
			if len(bars) == 0 {
				diagnostics = append(diagnostics, types.Diagnostic{
					Timestamp: config.StartDate,
					Symbol:    sym,
					Message:   "no bars available for symbol",
				})
			}
			series[sym] = bars
		}(sym)
	}
	wg.Wait()

	if fetchErr != nil {
		return nil, nil, fmt.Errorf("load market data: %w", fetchErr)
	}
	return series, diagnostics, nil
}

// applyIntent sizes and executes one order intent. It returns a
// diagnostic message when the intent could not be executed.
func (e *Engine) applyIntent(
	wallet *Wallet,
	slippage SlippageModel,
	prices map[string]decimal.Decimal,
	intent types.OrderIntent,
	ts time.Time,
) string {
	price, ok := prices[intent.Symbol]
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		return fmt.Sprintf("no price for %s, intent dropped", intent.Symbol)
	}
	execPrice := slippage.Adjust(intent.Side, price)

	var size decimal.Decimal
	switch intent.Sizing {
	case types.SizingFraction:
		equity := wallet.PortfolioValue(prices)
		size = equity.Mul(intent.Size).Div(execPrice)
	case types.SizingAbsolute:
		size = intent.Size
	case types.SizingClose:
		pos := wallet.Position(intent.Symbol)
		if pos == nil {
			return fmt.Sprintf("close intent for %s with no open position", intent.Symbol)
		}
		size = pos.Size.Abs()
	default:
		return fmt.Sprintf("unknown sizing mode %q", intent.Sizing)
	}

	trade := wallet.ExecuteTrade(intent.Symbol, intent.Side, size, execPrice, ts)
	if trade == nil {
		metrics.TradeRejections.Inc()
		return fmt.Sprintf("trade rejected: %s %s size=%s price=%s",
			intent.Side, intent.Symbol, size, execPrice)
	}
	metrics.TradesExecuted.WithLabelValues(string(trade.Side)).Inc()
	return ""
}

// evalStrategy invokes the strategy for one bar with panic isolation:
// a panicking strategy skips the bar, never the run.
func evalStrategy(strat strategy.Strategy, symbol string, bar types.OHLCV) (intents []types.OrderIntent, err error) {
	defer func() {
		if r := recover(); r != nil {
			intents = nil
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return strat.OnBar(symbol, bar)
}

// mergeTimeline merges per-symbol series into one ascending, unique
// timestamp sequence. Fetch concurrency never leaks into replay order.
func mergeTimeline(series map[string][]types.OHLCV) []time.Time {
	seen := make(map[int64]time.Time)
	for _, bars := range series {
		for _, bar := range bars {
			seen[bar.Timestamp.UnixNano()] = bar.Timestamp
		}
	}
	timeline := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		timeline = append(timeline, ts)
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(timeline[j]) })
	return timeline
}

// progressReporter decouples progress delivery from the simulation
// loop: updates go through a small buffered channel drained by one
// goroutine, a full buffer drops the update, and a panicking callback
// is contained.
type progressReporter struct {
	logger *zap.Logger
	runID  string
	fn     ProgressFunc
	ch     chan progressUpdate
	done   chan struct{}
}

type progressUpdate struct {
	percent float64
	message string
}

func newProgressReporter(logger *zap.Logger, runID string, fn ProgressFunc) *progressReporter {
	r := &progressReporter{logger: logger, runID: runID, fn: fn}
	if fn == nil {
		return r
	}
	r.ch = make(chan progressUpdate, 16)
	r.done = make(chan struct{})
	go r.drain()
	return r
}

func (r *progressReporter) drain() {
	defer close(r.done)
	for u := range r.ch {
		r.deliver(u)
	}
}

func (r *progressReporter) deliver(u progressUpdate) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("progress callback panicked", zap.Any("panic", rec))
		}
	}()
	r.fn(r.runID, u.percent, u.message)
}

// report queues an update without blocking the simulation loop.
func (r *progressReporter) report(percent float64, message string) {
	if r.fn == nil {
		return
	}
	select {
	case r.ch <- progressUpdate{percent: percent, message: message}:
	default:
		// Reporting is best effort; drop when the consumer lags.
	}
}

// close flushes queued updates and waits for the drain goroutine.
func (r *progressReporter) close() {
	if r.fn == nil {
		return
	}
	close(r.ch)
	<-r.done
}
