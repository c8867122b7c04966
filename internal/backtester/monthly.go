package backtester

import (
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/atlas-desktop/strategy-verdict/pkg/utils"
	"github.com/shopspring/decimal"
)

// MonthlyReturns compares each calendar month's closing equity with the
// previous month's; the first month is measured against the initial capital.
func MonthlyReturns(curve []types.EquityPoint, initial decimal.Decimal) []types.MonthlyReturn {
	out := make([]types.MonthlyReturn, 0)
	if len(curve) == 0 {
		return out
	}

	prevClose := initial
	for i, pt := range curve {
		lastOfMonth := i == len(curve)-1 ||
			curve[i+1].Date.Year() != pt.Date.Year() ||
			curve[i+1].Date.Month() != pt.Date.Month()
		if !lastOfMonth {
			continue
		}
		out = append(out, types.MonthlyReturn{
			Year:      pt.Date.Year(),
			Month:     int(pt.Date.Month()),
			ReturnPct: utils.PercentChange(prevClose, pt.Equity),
		})
		prevClose = pt.Equity
	}
	return out
}
