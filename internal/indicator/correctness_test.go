package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func candle(close float64) model.Candle {
	return model.Candle{
		Symbol: "TESTUSDT", Timeframe: model.TF1m,
		Open: close, High: close + 0.5, Low: close - 0.5, Close: close,
	}
}

func series(closes ...float64) []model.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = candle(c)
		out[i].OpenTime = start.Add(time.Duration(i) * time.Minute)
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after candle 3: (100+102+104)/3 = 102.0000
	// SMA after candle 4: (102+104+103)/3 = 103.0000
	// SMA after candle 5: (104+103+105)/3 = 104.0000

	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(candle(p))
		if sma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestSMA_Reset(t *testing.T) {
	sma := NewSMA(2)
	sma.Update(candle(10))
	sma.Update(candle(20))
	sma.Reset()
	if sma.Ready() {
		t.Fatal("SMA should not be ready after Reset")
	}
	sma.Update(candle(4))
	sma.Update(candle(6))
	assertClose(t, "SMA(2) after reset", sma.Value(), 5.0, 0.0001)
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5
	// Candle 3: initial EMA = 306/3 = 102.0 (SMA seed)
	// Candle 4: EMA = 103*0.5 + 102.0*0.5 = 102.5
	// Candle 5: EMA = 105*0.5 + 102.5*0.5 = 103.75

	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		ema.Update(candle(p))
		if ema.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		}
	}
}

// ────────────────────────────────────────────────────────────
// SMMA Correctness (Wilder's Smoothing)
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// Candle 1-3: seed = (100+102+104)/3 = 102.0
	// Candle 4: SMMA = (102.0 * 2 + 103) / 3 = 102.3333
	// Candle 5: SMMA = (102.3333 * 2 + 105) / 3 = 103.2222

	smma := NewSMMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.3333, 103.2222}

	for i, p := range prices {
		smma.Update(candle(p))
		if i >= 2 {
			assertClose(t, "SMMA(3)", smma.Value(), expected[i], 0.001)
		}
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness (Wilder's Method)
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	//
	// First RSI (after 6 candles): avgGain = 1.56/5 = 0.312, avgLoss = 0.73/5 = 0.146
	//   RSI = 100 - 100/(1+2.13699) = 68.112
	// Candle 7: avgGain = 0.3036, avgLoss = 0.1168 → RSI = 72.219
	// Candle 8: avgGain = 0.30688, avgLoss = 0.09344 → RSI = 76.658
	// Candle 9: avgGain = 0.329504, avgLoss = 0.074752 → RSI = 81.509

	prices := []float64{44.00, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}
	want := map[int]float64{5: 68.112, 6: 72.219, 7: 76.658, 8: 81.509}

	rsi := NewRSI(5)
	for i, p := range prices {
		rsi.Update(candle(p))
		if i < 5 && rsi.Ready() {
			t.Fatalf("candle %d: RSI ready too early", i)
		}
		if w, ok := want[i]; ok {
			assertClose(t, "RSI(5)", rsi.Value(), w, 0.2)
		}
	}
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(100 + float64(i)))
	}
	assertClose(t, "RSI all up", rsi.Value(), 100.0, 0.001)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(200 - float64(i)))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0.0, 0.001)
}

// ────────────────────────────────────────────────────────────
// MACD
// ────────────────────────────────────────────────────────────

func TestMACD_LineIsFastMinusSlow(t *testing.T) {
	m := NewMACD(3, 5, 2)
	fast, slow := NewEMA(3), NewEMA(5)
	prices := []float64{10, 11, 12, 13, 14, 15, 14, 13, 15, 17}

	for i, p := range prices {
		c := candle(p)
		m.Update(c)
		fast.Update(c)
		slow.Update(c)
		if i >= 4 {
			assertClose(t, "MACD line", m.Value(), fast.Value()-slow.Value(), 1e-9)
		}
	}
	if !m.Ready() {
		t.Fatal("MACD should be ready after 10 candles")
	}
	assertClose(t, "histogram", m.Histogram(), m.Value()-m.Signal(), 1e-9)
}

func TestMACD_NotReadyBeforeSignalSeed(t *testing.T) {
	m := NewMACD(3, 5, 3)
	for _, p := range []float64{1, 2, 3, 4, 5, 6} {
		m.Update(candle(p))
	}
	// slow seeds at candle 5, signal needs 3 MACD samples → ready at candle 7
	if m.Ready() {
		t.Error("MACD ready before signal seeded")
	}
	m.Update(candle(7))
	if !m.Ready() {
		t.Error("MACD should be ready after signal seeded")
	}
}

// ────────────────────────────────────────────────────────────
// Cross-indicator: same data → correct ordering
// ────────────────────────────────────────────────────────────

func TestIndicators_TrendingUp_Ordering(t *testing.T) {
	sma5 := NewSMA(5)
	sma20 := NewSMA(20)
	ema5 := NewEMA(5)

	for i := 0; i < 30; i++ {
		c := candle(100 + float64(i))
		sma5.Update(c)
		sma20.Update(c)
		ema5.Update(c)
	}

	if sma5.Value() <= sma20.Value() {
		t.Errorf("SMA(5) should be > SMA(20) in uptrend: SMA5=%.2f, SMA20=%.2f", sma5.Value(), sma20.Value())
	}
	if ema5.Value() <= sma20.Value() {
		t.Errorf("EMA(5) should be > SMA(20) in uptrend: EMA5=%.2f, SMA20=%.2f", ema5.Value(), sma20.Value())
	}
}

func TestEMA_MoreResponsiveThanSMA(t *testing.T) {
	sma := NewSMA(10)
	ema := NewEMA(10)

	for i := 0; i < 20; i++ {
		c := candle(100)
		sma.Update(c)
		ema.Update(c)
	}

	c := candle(120)
	sma.Update(c)
	ema.Update(c)

	if ema.Value() <= sma.Value() {
		t.Errorf("EMA should react more than SMA to sudden price jump: EMA=%.4f, SMA=%.4f", ema.Value(), sma.Value())
	}
}
