package data_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/quantdesk/trading-engine/internal/data"
	"github.com/quantdesk/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// countingSource wraps canned bars and counts upstream calls.
type countingSource struct {
	mu    sync.Mutex
	bars  []types.OHLCV
	err   error
	calls int
}

func (s *countingSource) Fetch(ctx context.Context, symbol string, start, end time.Time, interval types.Interval) ([]types.OHLCV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.bars, s.err
}

func (s *countingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func bar(ts time.Time, o, h, l, c, v string) types.OHLCV {
	return types.OHLCV{Timestamp: ts, Open: d(o), High: d(h), Low: d(l), Close: d(c), Volume: d(v)}
}

func TestProviderCachesWithinTTL(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	source := &countingSource{bars: []types.OHLCV{
		bar(start, "100", "110", "95", "105", "1000"),
	}}

	now := start
	provider := data.NewHistoricalProvider(zap.NewNop(), source, 5*time.Minute,
		data.WithClock(func() time.Time { return now }))

	ctx := context.Background()
	end := start.Add(24 * time.Hour)

	if _, err := provider.GetOHLCV(ctx, "BTC/USDT", start, end, types.Interval1h); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := provider.GetOHLCV(ctx, "BTC/USDT", start, end, types.Interval1h); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := source.Calls(); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (second served from cache)", got)
	}

	// Past the TTL the entry is stale and refetched.
	now = now.Add(6 * time.Minute)
	if _, err := provider.GetOHLCV(ctx, "BTC/USDT", start, end, types.Interval1h); err != nil {
		t.Fatalf("post-TTL fetch: %v", err)
	}
	if got := source.Calls(); got != 2 {
		t.Errorf("upstream calls = %d, want 2 after TTL expiry", got)
	}

	stats := provider.CacheStats()
	if stats.Hits != 1 || stats.Misses != 2 {
		t.Errorf("cache stats = %+v, want 1 hit, 2 misses", stats)
	}
}

func TestProviderFallsBackToSynthetic(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	source := &countingSource{err: errors.New("upstream down")}

	provider := data.NewHistoricalProvider(zap.NewNop(), source, time.Minute)

	bars, err := provider.GetOHLCV(context.Background(), "BTC/USDT", start, end, types.Interval1h)
	if err != nil {
		t.Fatalf("fetch with broken upstream: %v", err)
	}
	if len(bars) != 48 {
		t.Errorf("synthetic bars = %d, want 48", len(bars))
	}
	if stats := provider.CacheStats(); stats.Fallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", stats.Fallbacks)
	}
}

func TestProviderNilSourceServesSynthetic(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := data.NewHistoricalProvider(zap.NewNop(), nil, time.Minute)

	bars, err := provider.GetOHLCV(context.Background(), "ETH/USDT", start, start.Add(24*time.Hour), types.Interval1h)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(bars) != 24 {
		t.Errorf("bars = %d, want 24", len(bars))
	}
}

func TestProviderSanitizesBars(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	source := &countingSource{bars: []types.OHLCV{
		// Out of order, duplicate timestamp, broken high/low, negative volume.
		bar(start.Add(time.Hour), "100", "100", "100", "108", "500"),
		bar(start, "100", "90", "110", "105", "1000"),
		bar(start, "101", "110", "95", "104", "1000"),
		bar(start.Add(2*time.Hour), "100", "110", "95", "105", "-5"),
	}}
	provider := data.NewHistoricalProvider(zap.NewNop(), source, time.Minute)

	bars, err := provider.GetOHLCV(context.Background(), "BTC/USDT", start, start.Add(3*time.Hour), types.Interval1h)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2 (duplicate and negative-volume dropped)", len(bars))
	}
	if !bars[0].Timestamp.Equal(start) || !bars[1].Timestamp.Equal(start.Add(time.Hour)) {
		t.Errorf("bars not in ascending order: %v, %v", bars[0].Timestamp, bars[1].Timestamp)
	}

	// First bar had high < close and low > open; both repaired.
	if !bars[0].High.Equal(d("105")) {
		t.Errorf("repaired high = %s, want 105", bars[0].High)
	}
	if !bars[0].Low.Equal(d("100")) {
		t.Errorf("repaired low = %s, want 100", bars[0].Low)
	}
	// Second bar's high must span the close.
	if !bars[1].High.Equal(d("108")) {
		t.Errorf("repaired high = %s, want 108", bars[1].High)
	}
}

func TestProviderCancelledContext(t *testing.T) {
	provider := data.NewHistoricalProvider(zap.NewNop(), nil, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := provider.GetOHLCV(ctx, "BTC/USDT", start, start.Add(time.Hour), types.Interval1h); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestSyntheticSeriesDeterministic(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(72 * time.Hour)

	a := data.SyntheticSeries("BTC/USDT", start, end, types.Interval1h)
	b := data.SyntheticSeries("BTC/USDT", start, end, types.Interval1h)

	if len(a) != len(b) || len(a) != 72 {
		t.Fatalf("lengths = %d, %d, want 72", len(a), len(b))
	}
	for i := range a {
		if !a[i].Close.Equal(b[i].Close) || !a[i].Volume.Equal(b[i].Volume) {
			t.Fatalf("bar %d differs between identical calls", i)
		}
	}

	other := data.SyntheticSeries("ETH/USDT", start, end, types.Interval1h)
	same := true
	for i := range a {
		if !a[i].Close.Equal(other[i].Close) {
			same = false
			break
		}
	}
	if same {
		t.Error("different symbols produced identical series")
	}
}

func TestHTTPSourceErrors(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		source := data.NewHTTPSource(zap.NewNop(), srv.URL, time.Second)
		start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		if _, err := source.Fetch(context.Background(), "BTC/USDT", start, start.Add(time.Hour), types.Interval1h); err == nil {
			t.Fatal("expected error for 502 response")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer srv.Close()

		source := data.NewHTTPSource(zap.NewNop(), srv.URL, time.Second)
		start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		if _, err := source.Fetch(context.Background(), "BTC/USDT", start, start.Add(time.Hour), types.Interval1h); err == nil {
			t.Fatal("expected error for malformed body")
		}
	})
}

func TestHTTPSourceDecodesBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTC/USDT" {
			t.Errorf("symbol query = %q", got)
		}
		w.Write([]byte(`[{"timestamp":1735689600,"open":"100.5","high":"110","low":"99","close":"105.25","volume":"1234.5"}]`))
	}))
	defer srv.Close()

	source := data.NewHTTPSource(zap.NewNop(), srv.URL, time.Second)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars, err := source.Fetch(context.Background(), "BTC/USDT", start, start.Add(time.Hour), types.Interval1h)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("bars = %d, want 1", len(bars))
	}
	if !bars[0].Close.Equal(d("105.25")) {
		t.Errorf("close = %s, want 105.25", bars[0].Close)
	}
	if !bars[0].Timestamp.Equal(time.Unix(1735689600, 0).UTC()) {
		t.Errorf("timestamp = %v", bars[0].Timestamp)
	}
}
