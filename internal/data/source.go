package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quantdesk/trading-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HTTPSource fetches OHLCV series from an HTTP candle endpoint. The
// endpoint is expected to answer GET {base}/ohlcv with query
// parameters symbol, interval, start and end (unix seconds) and a JSON
// array of bars. Transport and decode failures surface as errors; the
// provider above decides how to recover.
type HTTPSource struct {
	logger  *zap.Logger
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates an HTTP source with a bounded request timeout.
func NewHTTPSource(logger *zap.Logger, baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		logger:  logger.Named("source"),
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type barPayload struct {
	Timestamp int64  `json:"timestamp"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, symbol string, start, end time.Time, interval types.Interval) ([]types.OHLCV, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", string(interval))
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/ohlcv?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: upstream status %d", symbol, resp.StatusCode)
	}

	var payload []barPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", symbol, err)
	}

	bars := make([]types.OHLCV, 0, len(payload))
	for i, raw := range payload {
		bar, err := raw.toOHLCV()
		if err != nil {
			return nil, fmt.Errorf("decode %s bar %d: %w", symbol, i, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func (b barPayload) toOHLCV() (types.OHLCV, error) {
	fields := [5]string{b.Open, b.High, b.Low, b.Close, b.Volume}
	var parsed [5]decimal.Decimal
	for i, f := range fields {
		d, err := decimal.NewFromString(f)
		if err != nil {
			return types.OHLCV{}, err
		}
		parsed[i] = d
	}
	return types.OHLCV{
		Timestamp: time.Unix(b.Timestamp, 0).UTC(),
		Open:      parsed[0],
		High:      parsed[1],
		Low:       parsed[2],
		Close:     parsed[3],
		Volume:    parsed[4],
	}, nil
}
