// Package data provides historical market data for the backtesting
// engine: an upstream source abstraction, a TTL result cache, bar
// validation and repair, and a deterministic synthetic fallback so
// backtests stay runnable offline.
package data

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantdesk/trading-engine/internal/metrics"
	"github.com/quantdesk/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Provider supplies OHLCV series for the backtest loop.
type Provider interface {
	// GetOHLCV returns bars for [start, end) in ascending timestamp
	// order with no duplicates. Upstream failures are recovered
	// internally; an error is returned only for caller-side faults
	// such as a cancelled context.
	GetOHLCV(ctx context.Context, symbol string, start, end time.Time, interval types.Interval) ([]types.OHLCV, error)
	// CacheStats returns cache diagnostics.
	CacheStats() CacheStats
}

// CacheStats is a diagnostic view of the provider's result cache.
type CacheStats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Fallbacks uint64 `json:"fallbacks"`
	TTL       string `json:"ttl"`
}

// Source is the upstream a HistoricalProvider fetches from.
type Source interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time, interval types.Interval) ([]types.OHLCV, error)
}

// HistoricalProvider caches upstream OHLCV fetches with a TTL and
// degrades to deterministic synthetic data when the upstream fails or
// is not configured. Bars that violate basic OHLCV sanity are repaired
// or discarded before they reach a caller.
type HistoricalProvider struct {
	mu     sync.Mutex
	logger *zap.Logger
	source Source
	ttl    time.Duration
	// fetchTimeout bounds a single upstream call on top of whatever
	// transport timeout the source itself carries.
	fetchTimeout time.Duration
	clock        func() time.Time
	cache        map[string]cacheEntry

	hits      uint64
	misses    uint64
	fallbacks uint64
}

type cacheEntry struct {
	bars      []types.OHLCV
	fetchedAt time.Time
}

// ProviderOption configures a HistoricalProvider.
type ProviderOption func(*HistoricalProvider)

// WithClock overrides the provider's clock, used by TTL tests.
func WithClock(clock func() time.Time) ProviderOption {
	return func(p *HistoricalProvider) { p.clock = clock }
}

// WithFetchTimeout overrides the per-fetch upstream deadline.
func WithFetchTimeout(d time.Duration) ProviderOption {
	return func(p *HistoricalProvider) { p.fetchTimeout = d }
}

// NewHistoricalProvider creates a provider over the given source. A
// nil source serves synthetic data only.
func NewHistoricalProvider(logger *zap.Logger, source Source, ttl time.Duration, opts ...ProviderOption) *HistoricalProvider {
	p := &HistoricalProvider{
		logger:       logger.Named("data"),
		source:       source,
		ttl:          ttl,
		fetchTimeout: 10 * time.Second,
		clock:        time.Now,
		cache:        make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOHLCV implements Provider.
func (p *HistoricalProvider) GetOHLCV(ctx context.Context, symbol string, start, end time.Time, interval types.Interval) ([]types.OHLCV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|%d|%d|%s", symbol, start.Unix(), end.Unix(), interval)

	p.mu.Lock()
	if entry, ok := p.cache[key]; ok && p.clock().Sub(entry.fetchedAt) < p.ttl {
		p.hits++
		bars := copyBars(entry.bars)
		p.mu.Unlock()
		metrics.CacheHits.Inc()
		return bars, nil
	}
	p.misses++
	p.mu.Unlock()
	metrics.CacheMisses.Inc()

	bars := p.fetch(ctx, symbol, start, end, interval)
	bars = sanitize(p.logger, symbol, bars)

	p.mu.Lock()
	p.cache[key] = cacheEntry{bars: bars, fetchedAt: p.clock()}
	p.mu.Unlock()

	return copyBars(bars), nil
}

// fetch pulls from the upstream and falls back to synthetic data on
// any failure. The fallback is deterministic per (symbol, range,
// interval) so replays stay reproducible.
func (p *HistoricalProvider) fetch(ctx context.Context, symbol string, start, end time.Time, interval types.Interval) []types.OHLCV {
	if p.source != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()

		bars, err := p.source.Fetch(fetchCtx, symbol, start, end, interval)
		if err == nil && len(bars) > 0 {
			return bars
		}
		if err != nil {
			p.logger.Warn("upstream fetch failed, using synthetic data",
				zap.String("symbol", symbol),
				zap.Error(err))
		} else {
			p.logger.Warn("upstream returned no bars, using synthetic data",
				zap.String("symbol", symbol))
		}
	}

	p.mu.Lock()
	p.fallbacks++
	p.mu.Unlock()
	metrics.SyntheticFallbacks.Inc()

	return SyntheticSeries(symbol, start, end, interval)
}

// CacheStats implements Provider.
func (p *HistoricalProvider) CacheStats() CacheStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return CacheStats{
		Entries:   len(p.cache),
		Hits:      p.hits,
		Misses:    p.misses,
		Fallbacks: p.fallbacks,
		TTL:       p.ttl.String(),
	}
}

// ClearCache drops all cached series.
func (p *HistoricalProvider) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]cacheEntry)
}

// sanitize enforces the provider contract: ascending unique
// timestamps, low <= open,close <= high, volume >= 0. High and low are
// repaired to span open and close; bars with negative volume are
// discarded.
func sanitize(logger *zap.Logger, symbol string, bars []types.OHLCV) []types.OHLCV {
	// Stable so the first of two bars sharing a timestamp wins.
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	out := bars[:0]
	dropped := 0
	var lastTS time.Time

	for _, bar := range bars {
		if !lastTS.IsZero() && !bar.Timestamp.After(lastTS) {
			dropped++
			continue
		}
		if bar.Volume.IsNegative() {
			dropped++
			continue
		}
		if hi := decimal.Max(bar.Open, bar.Close); bar.High.LessThan(hi) {
			bar.High = hi
		}
		if lo := decimal.Min(bar.Open, bar.Close); bar.Low.GreaterThan(lo) {
			bar.Low = lo
		}
		lastTS = bar.Timestamp
		out = append(out, bar)
	}

	if dropped > 0 {
		logger.Debug("discarded invalid bars",
			zap.String("symbol", symbol),
			zap.Int("dropped", dropped))
	}
	return out
}

func copyBars(bars []types.OHLCV) []types.OHLCV {
	out := make([]types.OHLCV, len(bars))
	copy(out, bars)
	return out
}
