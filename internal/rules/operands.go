package rules

import (
	"errors"
	"fmt"

	"github.com/atlas-desktop/strategy-verdict/internal/indicators"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
)

// ErrUnknownIndicator is returned for an operand the evaluator cannot compute
var ErrUnknownIndicator = errors.New("unknown indicator")

func period(op types.Operand, def int) int {
	if op.Period > 0 {
		return op.Period
	}
	return def
}

func multiplier(op types.Operand, def float64) float64 {
	if op.Multiplier > 0 {
		return op.Multiplier
	}
	return def
}

func macdParams(op types.Operand) (fast, slow, signal int) {
	fast, slow, signal = 12, 26, 9
	if op.Fast > 0 {
		fast = op.Fast
	}
	if op.Slow > 0 {
		slow = op.Slow
	}
	if op.Signal > 0 {
		signal = op.Signal
	}
	return fast, slow, signal
}

func cacheKey(op types.Operand) string {
	return fmt.Sprintf("%s/%d/%d/%d/%d/%g", op.Indicator, op.Period, op.Fast, op.Slow, op.Signal, op.Multiplier)
}

// compute returns the operand's series over the window, memoized per evaluation.
func compute(op types.Operand, w Window, cache map[string][]float64) ([]float64, error) {
	key := cacheKey(op)
	if s, ok := cache[key]; ok {
		return s, nil
	}

	var s []float64
	switch op.Indicator {
	case "close", "price":
		s = w.close
	case "open":
		s = w.open
	case "high":
		s = w.high
	case "low":
		s = w.low
	case "volume":
		s = w.volume
	case "sma":
		s = indicators.SMA(w.close, period(op, 20))
	case "ema":
		s = indicators.EMA(w.close, period(op, 20))
	case "rsi":
		s = indicators.RSI(w.close, period(op, 14))
	case "atr":
		s = indicators.ATR(w.high, w.low, w.close, period(op, 14))
	case "macd", "macd_signal", "macd_hist":
		fast, slow, signal := macdParams(op)
		line, sig, hist := indicators.MACD(w.close, fast, slow, signal)
		switch op.Indicator {
		case "macd":
			s = line
		case "macd_signal":
			s = sig
		default:
			s = hist
		}
	case "bb_upper", "bb_lower", "bb_middle":
		mid, up, lo := indicators.Bollinger(w.close, period(op, 20), multiplier(op, 2))
		switch op.Indicator {
		case "bb_upper":
			s = up
		case "bb_lower":
			s = lo
		default:
			s = mid
		}
	case "highest":
		s = indicators.Highest(w.high, period(op, 20))
	case "lowest":
		s = indicators.Lowest(w.low, period(op, 20))
	case "highest_close":
		s = indicators.Highest(w.close, period(op, 20))
	case "lowest_close":
		s = indicators.Lowest(w.close, period(op, 20))
	case "roc":
		s = indicators.ROC(w.close, period(op, 10))
	case "volume_sma":
		s = indicators.SMA(w.volume, period(op, 20))
	default:
		return nil, fmt.Errorf("%q: %w", op.Indicator, ErrUnknownIndicator)
	}

	cache[key] = s
	return s, nil
}

// Validate checks that every operand in the rule set is computable.
func Validate(rs types.RuleSet) error {
	switch rs.Logic {
	case "", types.LogicAll, types.LogicAny:
	default:
		return fmt.Errorf("rule logic %q: %w", rs.Logic, types.ErrInvalidStrategy)
	}
	probe := Window{close: []float64{1}, open: []float64{1}, high: []float64{1}, low: []float64{1}, volume: []float64{1}}
	for _, r := range rs.Rules {
		if _, err := compute(r.Left, probe, map[string][]float64{}); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if r.Right != nil {
			if _, err := compute(*r.Right, probe, map[string][]float64{}); err != nil {
				return fmt.Errorf("rule %q: %w", r.Name, err)
			}
		}
		switch r.Condition {
		case types.ConditionAbove, types.ConditionBelow, types.ConditionCrossesAbove,
			types.ConditionCrossesBelow, types.ConditionRising, types.ConditionFalling:
		default:
			return fmt.Errorf("rule %q: condition %q: %w", r.Name, r.Condition, types.ErrInvalidStrategy)
		}
	}
	return nil
}
