package marketdata

import (
	"fmt"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// Resample merges candles (oldest first, one timeframe) into the coarser
// timeframe to. Buckets are aligned to multiples of to's duration. The last
// bucket is returned even if it is incomplete; callers drop it by close time.
func Resample(candles []model.Candle, to model.Timeframe) ([]model.Candle, error) {
	if len(candles) == 0 {
		return nil, nil
	}
	from := candles[0].Timeframe
	if from == to {
		return append([]model.Candle(nil), candles...), nil
	}
	step := to.Duration()
	if from.Duration() > step || step%from.Duration() != 0 {
		return nil, fmt.Errorf("cannot resample %s into %s", from, to)
	}

	out := make([]model.Candle, 0, len(candles)/int(step/from.Duration())+1)
	var cur *model.Candle
	for _, c := range candles {
		bucket := c.OpenTime.Truncate(step)
		if cur != nil && bucket.Equal(cur.OpenTime) {
			if c.High > cur.High {
				cur.High = c.High
			}
			if c.Low < cur.Low {
				cur.Low = c.Low
			}
			cur.Close = c.Close
			cur.Volume += c.Volume
			continue
		}
		out = append(out, model.Candle{
			Symbol:    c.Symbol,
			Timeframe: to,
			OpenTime:  bucket,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
		cur = &out[len(out)-1]
	}
	return out, nil
}
