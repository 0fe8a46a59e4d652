package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/breaker"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// DefaultBinanceURL is the public spot REST endpoint.
const DefaultBinanceURL = "https://api.binance.com"

const maxKlines = 1000

var nowUTC = func() time.Time { return time.Now().UTC() }

// BinanceSource fetches klines from the Binance REST API.
type BinanceSource struct {
	baseURL    string
	httpClient *http.Client
	cb         *breaker.Breaker
}

// NewBinanceSource creates a source. An empty baseURL uses DefaultBinanceURL;
// cb may be nil.
func NewBinanceSource(baseURL string, timeout time.Duration, cb *breaker.Breaker) *BinanceSource {
	if baseURL == "" {
		baseURL = DefaultBinanceURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BinanceSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb,
	}
}

// FetchCandles returns up to limit klines, oldest first. The last one may
// still be forming.
func (s *BinanceSource) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	if limit <= 0 || limit > maxKlines {
		limit = maxKlines
	}
	var out []model.Candle
	fetch := func() error {
		var err error
		out, err = s.klines(ctx, symbol, tf, limit)
		return err
	}
	var err error
	if s.cb != nil {
		// client errors (bad symbol) say nothing about the exchange's health
		err = s.cb.ExecuteFiltered(fetch, isClientError)
	} else {
		err = fetch()
	}
	if err != nil {
		return nil, model.DataSourceError(symbol, tf, err)
	}
	return out, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("binance http %d: %s", e.code, e.body)
}

func isClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests
}

func (s *BinanceSource) klines(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(tf))
	params.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", s.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read klines: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 200 {
			body = body[:200]
		}
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}
	return decodeKlines(symbol, tf, body)
}

// decodeKlines parses Binance's array-of-arrays kline payload.
func decodeKlines(symbol string, tf model.Timeframe, body []byte) ([]model.Candle, error) {
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}
	out := make([]model.Candle, 0, len(raw))
	for i, row := range raw {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d: %d fields", i, len(row))
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		var f [5]float64
		for j := 0; j < 5; j++ {
			var s string
			if err := json.Unmarshal(row[j+1], &s); err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			f[j] = v
		}
		out = append(out, model.Candle{
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  time.UnixMilli(openMs).UTC(),
			Open:      f[0],
			High:      f[1],
			Low:       f[2],
			Close:     f[3],
			Volume:    f[4],
		})
	}
	return out, nil
}
