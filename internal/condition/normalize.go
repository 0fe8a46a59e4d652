// Package condition turns client-submitted condition bodies into canonical,
// hashable model.Condition values and implements the comparison operators.
package condition

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/indicator"
	"github.com/Mandeeptalking/tradeeon-FE-BE-12-09-2025-sub002/internal/model"
)

// Field-name variants accepted from clients, in lookup order.
var (
	kindKeys      = []string{"kind", "type", "conditionType", "condition_type"}
	symbolKeys    = []string{"symbol", "pair", "ticker"}
	tfKeys        = []string{"timeframe", "interval", "tf", "timeFrame"}
	operatorKeys  = []string{"operator", "op", "comparison", "condition"}
	indicatorKeys = []string{"indicator", "indicatorName", "indicator_name", "indicator_type", "indicatorType"}
	settingsKeys  = []string{"settings", "params", "parameters"}
	componentKeys = []string{"component", "line", "output"}
	fieldKeys     = []string{"field", "priceField", "price_field", "source"}
	valueKeys     = []string{"value", "compareValue", "compare_value", "threshold", "target", "level"}
	seriesKeys    = []string{"compareWith", "compare_with", "compareTo", "compare_to", "compareIndicator", "compare_indicator"}
	lowerKeys     = []string{"lower", "lowerBound", "lower_bound", "min"}
	upperKeys     = []string{"upper", "upperBound", "upper_bound", "max"}
	periodKeys    = []string{"period", "length", "window"}
	fastKeys      = []string{"fast", "fastPeriod", "fast_period"}
	slowKeys      = []string{"slow", "slowPeriod", "slow_period"}
	signalKeys    = []string{"signal", "signalPeriod", "signal_period"}
)

var operatorAliases = map[string]model.Operator{
	"gt": model.OpGT, ">": model.OpGT, "greater_than": model.OpGT, "greaterthan": model.OpGT, "above": model.OpGT,
	"lt": model.OpLT, "<": model.OpLT, "less_than": model.OpLT, "lessthan": model.OpLT, "below": model.OpLT,
	"gte": model.OpGTE, ">=": model.OpGTE, "greater_than_or_equal": model.OpGTE, "ge": model.OpGTE,
	"lte": model.OpLTE, "<=": model.OpLTE, "less_than_or_equal": model.OpLTE, "le": model.OpLTE,
	"crosses_above": model.OpCrossesAbove, "cross_above": model.OpCrossesAbove, "crossabove": model.OpCrossesAbove,
	"crossesabove": model.OpCrossesAbove, "crossover": model.OpCrossesAbove, "cross_up": model.OpCrossesAbove,
	"crosses_below": model.OpCrossesBelow, "cross_below": model.OpCrossesBelow, "crossbelow": model.OpCrossesBelow,
	"crossesbelow": model.OpCrossesBelow, "crossunder": model.OpCrossesBelow, "cross_down": model.OpCrossesBelow,
	"between": model.OpBetween, "in_range": model.OpBetween, "range": model.OpBetween,
}

var kindAliases = map[string]model.Kind{
	"indicator": model.KindIndicator, "technical": model.KindIndicator,
	"price": model.KindPrice, "price_action": model.KindPrice, "priceaction": model.KindPrice, "candle": model.KindPrice,
	"volume": model.KindVolume,
}

var priceFields = map[string]string{
	"open": "open", "high": "high", "low": "low", "close": "close", "price": "close", "last": "close",
}

// "EMA(20)", "ema_20", "EMA20", "macd(12,26,9).signal"
var seriesRefRe = regexp.MustCompile(`^([A-Za-z]+)[_\s]*\(?\s*([0-9,\s]*)\)?(?:\.([a-z]+))?$`)

// Normalize maps a client body onto the canonical condition shape and
// assigns its ID. Missing optional settings fall back to indicator defaults;
// missing or unknown required fields yield model.ErrValidation.
func Normalize(body map[string]any) (model.Condition, error) {
	var c model.Condition

	sym := normalizeSymbol(str(body, symbolKeys...))
	if sym == "" {
		return c, model.Validationf("symbol is required")
	}
	c.Symbol = sym

	tf, err := model.ParseTimeframe(str(body, tfKeys...))
	if err != nil {
		return c, err
	}
	c.Timeframe = tf

	op, err := parseOperator(str(body, operatorKeys...))
	if err != nil {
		return c, err
	}
	c.Operator = op

	kindRaw := str(body, kindKeys...)
	indName := str(body, indicatorKeys...)
	if indName == "" && indicator.Supported(kindRaw) {
		// {"type": "RSI", ...}
		indName, kindRaw = kindRaw, string(model.KindIndicator)
	}
	kind, err := parseKind(kindRaw, indName != "")
	if err != nil {
		return c, err
	}
	c.Kind = kind

	src, err := parseOperand(kind, indName, body)
	if err != nil {
		return c, err
	}
	c.Source = src

	cmp, err := parseCompare(op, body)
	if err != nil {
		return c, err
	}
	c.Compare = cmp

	c.ID = Hash(&c)
	return c, nil
}

func parseOperator(s string) (model.Operator, error) {
	if s == "" {
		return "", model.Validationf("operator is required")
	}
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.ReplaceAll(k, " ", "_")
	k = strings.ReplaceAll(k, "-", "_")
	if op, ok := operatorAliases[k]; ok {
		return op, nil
	}
	if op, ok := operatorAliases[strings.ReplaceAll(k, "_", "")]; ok {
		return op, nil
	}
	return "", model.Validationf("unknown operator %q", s)
}

func parseKind(s string, hasIndicator bool) (model.Kind, error) {
	if s == "" {
		if hasIndicator {
			return model.KindIndicator, nil
		}
		return model.KindPrice, nil
	}
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", model.Validationf("unknown condition kind %q", s)
	}
	return k, nil
}

func parseOperand(kind model.Kind, indName string, body map[string]any) (model.Operand, error) {
	switch kind {
	case model.KindVolume:
		return model.Operand{Source: model.KindVolume}, nil
	case model.KindPrice:
		f := priceFields[strings.ToLower(str(body, fieldKeys...))]
		if f == "" {
			f = "close"
		}
		return model.Operand{Source: model.KindPrice, Field: f}, nil
	}

	name := strings.ToUpper(strings.TrimSpace(indName))
	if name == "" {
		return model.Operand{}, model.Validationf("indicator is required for indicator conditions")
	}
	if !indicator.Supported(name) {
		return model.Operand{}, model.Validationf("unsupported indicator %q", name)
	}
	return indicatorOperand(name, readSettings(body), str(body, componentKeys...))
}

func indicatorOperand(name string, raw model.Settings, component string) (model.Operand, error) {
	st := indicator.Normalize(name, raw)
	op := model.Operand{Source: model.KindIndicator, Indicator: name, Settings: &st}
	component = strings.ToLower(strings.TrimSpace(component))
	if name == "MACD" {
		switch component {
		case "", "line", indicator.ComponentMACD:
			op.Component = indicator.ComponentMACD
		case indicator.ComponentSignal, "signal_line":
			op.Component = indicator.ComponentSignal
		case indicator.ComponentHistogram, "hist":
			op.Component = indicator.ComponentHistogram
		default:
			return op, model.Validationf("unknown MACD component %q", component)
		}
	}
	return op, nil
}

// readSettings merges a nested settings object with top-level parameters.
// Non-numeric values are ignored so defaults apply.
func readSettings(body map[string]any) model.Settings {
	var s model.Settings
	for _, src := range []map[string]any{body, nested(body, settingsKeys...)} {
		if src == nil {
			continue
		}
		if v, ok := intOf(src, periodKeys...); ok {
			s.Period = v
		}
		if v, ok := intOf(src, fastKeys...); ok {
			s.Fast = v
		}
		if v, ok := intOf(src, slowKeys...); ok {
			s.Slow = v
		}
		if v, ok := intOf(src, signalKeys...); ok {
			s.Signal = v
		}
	}
	return s
}

func parseCompare(op model.Operator, body map[string]any) (model.Compare, error) {
	if op == model.OpBetween {
		lo, okLo := floatOf(body, lowerKeys...)
		hi, okHi := floatOf(body, upperKeys...)
		if !okLo || !okHi {
			if pair, ok := rangeOf(body, valueKeys...); ok {
				lo, hi, okLo, okHi = pair[0], pair[1], true, true
			}
		}
		if !okLo || !okHi {
			return model.Compare{}, model.Validationf("between requires lower and upper bounds")
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		return model.Compare{Mode: model.CompareRange, Lower: &lo, Upper: &hi}, nil
	}

	if ref, ok := seriesRef(body); ok {
		return model.Compare{Mode: model.CompareSeries, Series: &ref}, nil
	}

	v, ok := floatOf(body, valueKeys...)
	if !ok {
		if s := str(body, valueKeys...); s != "" {
			if ref, err := parseSeriesString(s); err == nil {
				return model.Compare{Mode: model.CompareSeries, Series: &ref}, nil
			}
		}
		return model.Compare{}, model.Validationf("compare value is required")
	}
	return model.Compare{Mode: model.CompareValue, Value: &v}, nil
}

func seriesRef(body map[string]any) (model.Operand, bool) {
	for _, k := range seriesKeys {
		raw, found := body[k]
		if !found || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case string:
			if op, err := parseSeriesString(v); err == nil {
				return op, true
			}
		case map[string]any:
			name := strings.ToUpper(str(v, indicatorKeys...))
			if name == "" {
				name = strings.ToUpper(str(v, "name"))
			}
			if name == "" {
				f := strings.ToLower(str(v, fieldKeys...))
				if f == "volume" {
					return model.Operand{Source: model.KindVolume}, true
				}
				if pf, ok := priceFields[f]; ok {
					return model.Operand{Source: model.KindPrice, Field: pf}, true
				}
				continue
			}
			if !indicator.Supported(name) {
				continue
			}
			if op, err := indicatorOperand(name, readSettings(v), str(v, componentKeys...)); err == nil {
				return op, true
			}
		}
	}
	return model.Operand{}, false
}

func parseSeriesString(s string) (model.Operand, error) {
	t := strings.TrimSpace(s)
	lower := strings.ToLower(t)
	if lower == "volume" {
		return model.Operand{Source: model.KindVolume}, nil
	}
	if f, ok := priceFields[lower]; ok {
		return model.Operand{Source: model.KindPrice, Field: f}, nil
	}
	m := seriesRefRe.FindStringSubmatch(t)
	if m == nil || !indicator.Supported(m[1]) {
		return model.Operand{}, model.Validationf("unrecognized series reference %q", s)
	}
	name := strings.ToUpper(m[1])
	var raw model.Settings
	var nums []int
	for _, p := range strings.Split(m[2], ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			nums = append(nums, n)
		}
	}
	if name == "MACD" {
		if len(nums) == 3 {
			raw = model.Settings{Fast: nums[0], Slow: nums[1], Signal: nums[2]}
		}
	} else if len(nums) > 0 {
		raw.Period = nums[0]
	}
	return indicatorOperand(name, raw, m[3])
}

func normalizeSymbol(s string) string {
	r := strings.NewReplacer("/", "", "-", "", "_", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(s)))
}

// ── loose JSON accessors ──

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func nested(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if v, ok := m[k].(map[string]any); ok {
			return v
		}
	}
	return nil
}

func floatOf(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := toFloat(m[k]); ok {
			return f, true
		}
	}
	return 0, false
}

func intOf(m map[string]any, keys ...string) (int, bool) {
	f, ok := floatOf(m, keys...)
	if !ok || f <= 0 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func rangeOf(m map[string]any, keys ...string) ([2]float64, bool) {
	for _, k := range keys {
		arr, ok := m[k].([]any)
		if !ok || len(arr) != 2 {
			continue
		}
		lo, ok1 := toFloat(arr[0])
		hi, ok2 := toFloat(arr[1])
		if ok1 && ok2 {
			return [2]float64{lo, hi}, true
		}
	}
	return [2]float64{}, false
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// MustNormalize is Normalize for fixtures; it panics on invalid input.
func MustNormalize(body map[string]any) model.Condition {
	c, err := Normalize(body)
	if err != nil {
		panic(fmt.Sprintf("condition.MustNormalize: %v", err))
	}
	return c
}
