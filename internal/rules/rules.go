// Package rules evaluates declarative indicator rule sets against a bounded bar window.
package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/atlas-desktop/strategy-verdict/internal/indicators"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
)

// Result is the outcome of evaluating a rule set
type Result struct {
	Triggered bool
	Reasons   []string
}

// Series holds the OHLCV columns of a bar sequence as floats.
type Series struct {
	open, high, low, close, volume []float64
}

// NewSeries converts bars once per run.
func NewSeries(bars []types.Bar) *Series {
	n := len(bars)
	s := &Series{
		open:   make([]float64, n),
		high:   make([]float64, n),
		low:    make([]float64, n),
		close:  make([]float64, n),
		volume: make([]float64, n),
	}
	for i, b := range bars {
		s.open[i] = b.Open.InexactFloat64()
		s.high[i] = b.High.InexactFloat64()
		s.low[i] = b.Low.InexactFloat64()
		s.close[i] = b.Close.InexactFloat64()
		s.volume[i] = b.Volume.InexactFloat64()
	}
	return s
}

// Len returns the number of bars.
func (s *Series) Len() int {
	return len(s.close)
}

// Window returns the bars 0..i. The columns are capped at i+1 in both length
// and capacity, so nothing past i is reachable from the window.
func (s *Series) Window(i int) Window {
	if i >= s.Len() {
		i = s.Len() - 1
	}
	end := i + 1
	if end < 0 {
		end = 0
	}
	return Window{
		open:   s.open[:end:end],
		high:   s.high[:end:end],
		low:    s.low[:end:end],
		close:  s.close[:end:end],
		volume: s.volume[:end:end],
	}
}

// Window is a read-only view of bars up to and including the evaluation bar.
type Window struct {
	open, high, low, close, volume []float64
}

// Len returns the number of bars visible in the window.
func (w Window) Len() int {
	return len(w.close)
}

// ATR returns the Wilder ATR at the last bar of the window, NaN if not yet defined.
func (w Window) ATR(period int) float64 {
	return indicators.Last(indicators.ATR(w.high, w.low, w.close, period))
}

// Close returns the last close in the window.
func (w Window) Close() float64 {
	return indicators.Last(w.close)
}

// Evaluate reports whether the rule set fires at the last bar of the window.
// An empty rule set never fires.
func Evaluate(rs types.RuleSet, w Window) Result {
	if len(rs.Rules) == 0 || w.Len() == 0 {
		return Result{}
	}

	cache := make(map[string][]float64)
	reasons := make([]string, 0, len(rs.Rules))
	hits := 0
	for _, rule := range rs.Rules {
		ok, reason := evaluateRule(rule, w, cache)
		if ok {
			hits++
			reasons = append(reasons, reason)
		} else if rs.Logic != types.LogicAny {
			return Result{}
		}
	}

	if hits == 0 {
		return Result{}
	}
	return Result{Triggered: true, Reasons: reasons}
}

func evaluateRule(rule types.Rule, w Window, cache map[string][]float64) (bool, string) {
	left, err := compute(rule.Left, w, cache)
	if err != nil {
		return false, ""
	}
	n := len(left)
	cur := left[n-1]
	if math.IsNaN(cur) {
		return false, ""
	}

	rhs := func(offset int) float64 {
		if rule.Right == nil {
			return rule.Value
		}
		right, err := compute(*rule.Right, w, cache)
		if err != nil || n-1-offset < 0 {
			return math.NaN()
		}
		return right[n-1-offset]
	}

	var ok bool
	switch rule.Condition {
	case types.ConditionAbove:
		ok = cur > rhs(0)
	case types.ConditionBelow:
		ok = cur < rhs(0)
	case types.ConditionCrossesAbove, types.ConditionCrossesBelow:
		if n < 2 || math.IsNaN(left[n-2]) {
			return false, ""
		}
		prev, prevR, curR := left[n-2], rhs(1), rhs(0)
		if rule.Condition == types.ConditionCrossesAbove {
			ok = prev <= prevR && cur > curR
		} else {
			ok = prev >= prevR && cur < curR
		}
	case types.ConditionRising, types.ConditionFalling:
		lookback := int(rule.Value)
		if lookback < 1 {
			lookback = 1
		}
		if n-1-lookback < 0 || math.IsNaN(left[n-1-lookback]) {
			return false, ""
		}
		if rule.Condition == types.ConditionRising {
			ok = cur > left[n-1-lookback]
		} else {
			ok = cur < left[n-1-lookback]
		}
	default:
		return false, ""
	}

	if !ok {
		return false, ""
	}
	return true, describe(rule, cur, rhs(0))
}

func describe(rule types.Rule, cur, rhs float64) string {
	if rule.Name != "" {
		return rule.Name
	}
	label := Label(rule.Left)
	cond := strings.ReplaceAll(string(rule.Condition), "_", " ")
	switch rule.Condition {
	case types.ConditionRising, types.ConditionFalling:
		return fmt.Sprintf("%s %s (%.2f)", label, cond, cur)
	}
	if rule.Right != nil {
		return fmt.Sprintf("%s %s %s (%.2f vs %.2f)", label, cond, Label(*rule.Right), cur, rhs)
	}
	return fmt.Sprintf("%s %s %.2f (%.2f)", label, cond, rule.Value, cur)
}

// Label renders an operand for display, e.g. "SMA(50)".
func Label(op types.Operand) string {
	name := strings.ToUpper(op.Indicator)
	switch op.Indicator {
	case "close", "open", "high", "low", "volume", "price":
		return strings.ToUpper(op.Indicator[:1]) + op.Indicator[1:]
	case "macd", "macd_signal", "macd_hist":
		f, s, g := macdParams(op)
		return fmt.Sprintf("%s(%d,%d,%d)", name, f, s, g)
	case "bb_upper", "bb_lower", "bb_middle":
		return fmt.Sprintf("%s(%d,%.1f)", name, period(op, 20), multiplier(op, 2))
	}
	if op.Period > 0 {
		return fmt.Sprintf("%s(%d)", name, op.Period)
	}
	return name
}
