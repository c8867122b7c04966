package orchestrator

import (
	"github.com/atlas-desktop/strategy-verdict/internal/rules"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
)

const (
	recentLookback = 2
	recentPrefix   = "Recent: "
)

// DetectSignal classifies a strategy at the last bar: entry rules firing is
// BUY, exit rules firing is SELL, an entry on one of the two prior bars with no
// exit since is a recent BUY, anything else is WAIT.
func DetectSignal(series *rules.Series, s types.Strategy) types.LiveSignal {
	last := series.Len() - 1
	if last < 0 {
		return types.LiveSignal{Action: types.SignalWait, Reasons: []string{}}
	}

	if res := rules.Evaluate(s.Entry, series.Window(last)); res.Triggered {
		return types.LiveSignal{Action: types.SignalBuy, Reasons: res.Reasons}
	}
	if res := rules.Evaluate(s.Exit, series.Window(last)); res.Triggered {
		return types.LiveSignal{Action: types.SignalSell, Reasons: res.Reasons}
	}

	for k := 1; k <= recentLookback && last-k >= 0; k++ {
		idx := last - k
		if exitedSince(series, s, idx) {
			break
		}
		if res := rules.Evaluate(s.Entry, series.Window(idx)); res.Triggered {
			reasons := make([]string, len(res.Reasons))
			for i, r := range res.Reasons {
				reasons[i] = recentPrefix + r
			}
			return types.LiveSignal{Action: types.SignalBuy, Reasons: reasons}
		}
	}
	return types.LiveSignal{Action: types.SignalWait, Reasons: []string{}}
}

// exitedSince reports whether the exit rules fired on any bar after idx, up to
// and excluding the last bar (already checked).
func exitedSince(series *rules.Series, s types.Strategy, idx int) bool {
	for j := idx + 1; j < series.Len()-1; j++ {
		if rules.Evaluate(s.Exit, series.Window(j)).Triggered {
			return true
		}
	}
	return false
}
