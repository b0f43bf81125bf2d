// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BacktestsTotal counts backtest runs, partitioned by outcome.
	BacktestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qdesk_backtests_total",
		Help: "Total number of backtest runs",
	}, []string{"status"})

	// BarsProcessed counts simulated bars across all runs.
	BarsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qdesk_bars_processed_total",
		Help: "Total number of simulated bars processed",
	})

	// TradesExecuted counts wallet trades, partitioned by side.
	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qdesk_trades_executed_total",
		Help: "Total number of simulated trades executed",
	}, []string{"side"})

	// TradeRejections counts trades rejected by the wallet.
	TradeRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qdesk_trade_rejections_total",
		Help: "Trades rejected for invalid size or price",
	})

	// StrategyErrors counts bars skipped due to strategy failures.
	StrategyErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qdesk_strategy_errors_total",
		Help: "Bars skipped because strategy evaluation failed",
	})

	// CacheHits counts historical data cache hits.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qdesk_provider_cache_hits_total",
		Help: "Historical data cache hits",
	})

	// CacheMisses counts historical data cache misses.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qdesk_provider_cache_misses_total",
		Help: "Historical data cache misses",
	})

	// SyntheticFallbacks counts fetches served from synthetic data.
	SyntheticFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qdesk_provider_synthetic_fallbacks_total",
		Help: "Historical data fetches served from the synthetic fallback",
	})

	// Suspensions counts risk governor suspensions, partitioned by reason.
	Suspensions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qdesk_risk_suspensions_total",
		Help: "Trading suspensions triggered by the daily loss governor",
	}, []string{"trigger"})

	// TradingAllowed is 1 while the governor state permits trading.
	TradingAllowed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qdesk_risk_trading_allowed",
		Help: "Whether the daily loss governor currently allows trading",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
