package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/marketdata"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// SaveCandles upserts candles in a single transaction.
func (s *Store) SaveCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, c.Symbol, string(c.Timeframe), c.OpenTime.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert candle %s: %w", c.Key(), err)
		}
	}
	return tx.Commit()
}

// FetchCandles returns the newest limit stored bars, oldest first. When tf
// itself is not stored, the coarsest stored timeframe that divides it is
// resampled.
func (s *Store) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	out, err := s.latest(ctx, symbol, tf, limit)
	if err != nil {
		return nil, model.DataSourceError(symbol, tf, err)
	}
	if len(out) > 0 {
		return out, nil
	}

	base, err := s.coarsestDivisor(ctx, symbol, tf)
	if err != nil {
		return nil, model.DataSourceError(symbol, tf, err)
	}
	if base == "" {
		return nil, model.DataSourceError(symbol, tf, fmt.Errorf("no stored candles"))
	}
	ratio := int(tf.Duration() / base.Duration())
	fine, err := s.latest(ctx, symbol, base, (limit+1)*ratio)
	if err != nil {
		return nil, model.DataSourceError(symbol, tf, err)
	}
	out, err = marketdata.Resample(fine, tf)
	if err != nil {
		return nil, model.DataSourceError(symbol, tf, err)
	}
	// the oldest bucket may be cut by the fetch window
	if len(out) > 0 && out[0].OpenTime.Before(fine[0].OpenTime) {
		out = out[1:]
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	log.Printf("[sqlite] resampled %d %s bars into %d %s bars for %s", len(fine), base, len(out), tf, symbol)
	return out, nil
}

// CandlesBetween returns stored bars with from <= open_time < to, oldest first.
func (s *Store) CandlesBetween(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND open_time >= ? AND open_time < ?
		ORDER BY open_time ASC
	`, symbol, string(tf), from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	return scanCandles(rows, symbol, tf)
}

func (s *Store) latest(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume FROM (
			SELECT * FROM candles
			WHERE symbol = ? AND timeframe = ?
			ORDER BY open_time DESC
			LIMIT ?
		) ORDER BY open_time ASC
	`, symbol, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	return scanCandles(rows, symbol, tf)
}

// coarsestDivisor returns the coarsest stored timeframe that divides tf, or "".
func (s *Store) coarsestDivisor(ctx context.Context, symbol string, tf model.Timeframe) (model.Timeframe, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT timeframe FROM candles WHERE symbol = ?`, symbol)
	if err != nil {
		return "", fmt.Errorf("sqlite query timeframes: %w", err)
	}
	defer rows.Close()
	var best model.Timeframe
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		cand := model.Timeframe(name)
		d := cand.Duration()
		if d == 0 || d >= tf.Duration() || tf.Duration()%d != 0 {
			continue
		}
		if best == "" || d > best.Duration() {
			best = cand
		}
	}
	return best, rows.Err()
}

func scanCandles(rows *sql.Rows, symbol string, tf model.Timeframe) ([]model.Candle, error) {
	defer rows.Close()
	var out []model.Candle
	for rows.Next() {
		c := model.Candle{Symbol: symbol, Timeframe: tf}
		var openUnix int64
		var vol sql.NullFloat64
		if err := rows.Scan(&openUnix, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.OpenTime = time.Unix(openUnix, 0).UTC()
		c.Volume = vol.Float64
		out = append(out, c)
	}
	return out, rows.Err()
}
