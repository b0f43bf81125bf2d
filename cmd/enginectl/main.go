// Package main provides enginectl, the command line front end for the
// backtesting engine and the daily loss governor.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quantdesk/trading-engine/internal/backtester"
	"github.com/quantdesk/trading-engine/internal/config"
	"github.com/quantdesk/trading-engine/internal/data"
	"github.com/quantdesk/trading-engine/internal/metrics"
	"github.com/quantdesk/trading-engine/internal/risk"
	"github.com/quantdesk/trading-engine/internal/strategy"
	"github.com/quantdesk/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Config file path (optional)")
	strategyName := flag.String("strategy", "buyhold", "Strategy name")
	paramsJSON := flag.String("params", "{}", "Strategy parameters as JSON")
	symbols := flag.String("symbols", "BTC/USDT", "Comma-separated symbols")
	startStr := flag.String("start", "", "Start date (YYYY-MM-DD)")
	endStr := flag.String("end", "", "End date (YYYY-MM-DD)")
	interval := flag.String("interval", "", "Bar interval (1m, 5m, 15m, 1h, 4h, 1d)")
	capital := flag.Float64("capital", 10000, "Initial capital")
	commission := flag.Float64("commission", -1, "Commission rate, e.g. 0.001")
	slippageBps := flag.Float64("slippage-bps", -1, "Slippage in basis points")
	outPath := flag.String("out", "", "Write result JSON to file instead of stdout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log.Level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go serveMetrics(logger, cfg.Metrics.Addr)
	}

	var source data.Source
	if cfg.Provider.BaseURL != "" {
		source = data.NewHTTPSource(logger, cfg.Provider.BaseURL, cfg.Provider.FetchTimeout)
	}
	provider := data.NewHistoricalProvider(logger, source, cfg.Provider.CacheTTL,
		data.WithFetchTimeout(cfg.Provider.FetchTimeout))

	registry := strategy.NewRegistry(logger)
	engine := backtester.NewEngine(logger, provider, registry)

	btConfig, err := buildConfig(cfg, *strategyName, *paramsJSON, *symbols,
		*startStr, *endStr, *interval, *capital, *commission, *slippageBps)
	if err != nil {
		logger.Fatal("invalid arguments", zap.Error(err))
	}

	progress := func(runID string, percent float64, message string) {
		logger.Debug("progress",
			zap.String("id", runID),
			zap.Float64("percent", percent),
			zap.String("message", message))
	}

	result, err := engine.Run(ctx, btConfig, progress)
	if err != nil {
		if verr, ok := err.(*types.ValidationError); ok {
			for _, v := range verr.Violations {
				fmt.Fprintf(os.Stderr, "invalid config: %s\n", v)
			}
			os.Exit(2)
		}
		logger.Fatal("backtest failed", zap.Error(err))
	}

	reviewDailyRisk(logger, cfg, result)

	if err := writeResult(result, *outPath); err != nil {
		logger.Fatal("write result", zap.Error(err))
	}
}

func buildConfig(
	cfg *config.Config,
	strategyName, paramsJSON, symbols, startStr, endStr, interval string,
	capital, commission, slippageBps float64,
) (types.BacktestConfig, error) {
	var params map[string]any
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return types.BacktestConfig{}, fmt.Errorf("parse -params: %w", err)
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -90)
	var err error
	if startStr != "" {
		if start, err = time.Parse("2006-01-02", startStr); err != nil {
			return types.BacktestConfig{}, fmt.Errorf("parse -start: %w", err)
		}
	}
	if endStr != "" {
		if end, err = time.Parse("2006-01-02", endStr); err != nil {
			return types.BacktestConfig{}, fmt.Errorf("parse -end: %w", err)
		}
	}

	if interval == "" {
		interval = cfg.Engine.DefaultInterval
	}
	if commission < 0 {
		commission = cfg.Engine.DefaultCommissionRate
	}
	if slippageBps < 0 {
		slippageBps = cfg.Engine.DefaultSlippageBps
	}

	var syms []string
	for _, s := range strings.Split(symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			syms = append(syms, s)
		}
	}

	return types.BacktestConfig{
		StrategyName:   strategyName,
		StrategyParams: params,
		StartDate:      start,
		EndDate:        end,
		Symbols:        syms,
		InitialCapital: decimal.NewFromFloat(capital),
		CommissionRate: decimal.NewFromFloat(commission),
		Interval:       types.Interval(interval),
		SlippageBps:    decimal.NewFromFloat(slippageBps),
	}, nil
}

// reviewDailyRisk replays the backtest equity curve through the daily
// loss monitor and reports any day that would have tripped the limit
// in live trading.
func reviewDailyRisk(logger *zap.Logger, cfg *config.Config, result *types.BacktestResult) {
	if len(result.Snapshots) == 0 {
		return
	}

	var cursor time.Time
	monitor := risk.NewMonitor(logger, cfg.Risk.Limits(),
		risk.WithClock(func() time.Time { return cursor }))
	monitor.OnSuspension(func(s risk.Suspension) {
		logger.Warn("daily loss limit would have suspended trading",
			zap.String("date", s.Date),
			zap.String("loss_pct", s.LossPct.Mul(decimal.NewFromInt(100)).StringFixed(2)),
			zap.String("reason", s.Reason))
	})
	monitor.OnAlert(func(level risk.AlertLevel, message string, data map[string]any) {
		logger.Warn("risk alert",
			zap.String("level", string(level)),
			zap.String("message", message))
	})

	tradeIdx := 0
	dayKey := ""
	dayStartRealized := decimal.Zero
	for _, snap := range result.Snapshots {
		cursor = snap.Timestamp
		if key := snap.Timestamp.UTC().Format("2006-01-02"); key != dayKey {
			dayKey = key
			dayStartRealized = snap.RealizedPnL
		}
		monitor.TrackDailyPnL(snap.TotalValue, snap.RealizedPnL.Sub(dayStartRealized), snap.UnrealizedPnL)
		for tradeIdx < len(result.Trades) && !result.Trades[tradeIdx].Timestamp.After(snap.Timestamp) {
			monitor.RecordTrade(result.Trades[tradeIdx].RealizedPnL)
			tradeIdx++
		}
		if !monitor.IsTradingAllowed() {
			// Live trading would stop here. Advance a day past the
			// recovery delay so the replay can continue.
			cursor = snap.Timestamp.Add(cfg.Risk.RecoveryDelay + 24*time.Hour)
			if err := monitor.ResumeTrading(false); err != nil {
				logger.Warn("resume check failed during replay", zap.Error(err))
			}
		}
	}

	stats := monitor.Stats()
	logger.Info("daily risk review",
		zap.Int("days", stats.DaysTracked),
		zap.Int("win_days", stats.WinDays),
		zap.Int("loss_days", stats.LossDays),
		zap.String("state", string(stats.State)))
}

func writeResult(result *types.BacktestResult, outPath string) error {
	// Keep the printed report compact; full trade and snapshot dumps go
	// to a file only.
	if outPath != "" {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(outPath, payload, 0o644)
	}

	payload, err := json.MarshalIndent(result.PerformanceSummary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(payload))
	return nil
}

func serveMetrics(logger *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics listener stopped", zap.Error(err))
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
