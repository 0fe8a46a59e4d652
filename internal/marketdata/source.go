// Package marketdata supplies closed OHLCV bars to the evaluator.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// CandleSink stores candles fetched from a live source.
type CandleSink interface {
	SaveCandles(ctx context.Context, candles []model.Candle) error
}

// StaticSource serves fixed candle series from memory. Safe for concurrent use.
type StaticSource struct {
	mu     sync.RWMutex
	series map[string][]model.Candle // "symbol:tf" -> oldest first
}

// NewStaticSource creates an empty source.
func NewStaticSource() *StaticSource {
	return &StaticSource{series: make(map[string][]model.Candle)}
}

// Set replaces the series for candles' symbol/timeframe. Candles are sorted
// by open time; symbol and timeframe come from the first candle.
func (s *StaticSource) Set(candles []model.Candle) {
	if len(candles) == 0 {
		return
	}
	cp := append([]model.Candle(nil), candles...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].OpenTime.Before(cp[j].OpenTime) })
	s.mu.Lock()
	s.series[cp[0].Key()] = cp
	s.mu.Unlock()
}

// Append adds one candle, replacing a bar with the same open time.
func (s *StaticSource) Append(c model.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := c.Key()
	cur := s.series[k]
	if n := len(cur); n > 0 && cur[n-1].OpenTime.Equal(c.OpenTime) {
		cur[n-1] = c
		return
	}
	s.series[k] = append(cur, c)
}

func (s *StaticSource) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.series[symbol+":"+string(tf)]
	if !ok {
		return nil, fmt.Errorf("no candles for %s %s", symbol, tf)
	}
	if limit > 0 && len(cur) > limit {
		cur = cur[len(cur)-limit:]
	}
	return append([]model.Candle(nil), cur...), nil
}

// Recording wraps a source and stores every closed bar it returns. Sink
// errors are reported through OnError and never fail the fetch.
type Recording struct {
	Source  model.CandleSource
	Sink    CandleSink
	OnError func(error)
}

func (r *Recording) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	candles, err := r.Source.FetchCandles(ctx, symbol, tf, limit)
	if err != nil || len(candles) == 0 {
		return candles, err
	}
	closed := candles
	if n := len(candles); !candles[n-1].Closed(nowUTC()) {
		closed = candles[:n-1]
	}
	if len(closed) > 0 {
		if err := r.Sink.SaveCandles(ctx, closed); err != nil && r.OnError != nil {
			r.OnError(err)
		}
	}
	return candles, nil
}
