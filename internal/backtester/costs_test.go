package backtester_test

import (
	"math"
	"testing"

	"github.com/atlas-desktop/strategy-verdict/internal/backtester"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
)

func TestCostBreakdown(t *testing.T) {
	costs := backtester.NewCostModel(d(0.03), d(20))
	b := costs.Breakdown(d(100), d(100))

	want := map[string]decimal.Decimal{
		"brokerage": d(3),
		"tax":       d(10),
		"exchange":  d(0.345),
		"gst":       d(0.6021),
		"stamp":     d(1.5),
		"total":     d(15.4471),
	}
	got := map[string]decimal.Decimal{
		"brokerage": b.Brokerage,
		"tax":       b.TransactionTax,
		"exchange":  b.ExchangeFee,
		"gst":       b.GST,
		"stamp":     b.StampDuty,
		"total":     b.Total,
	}
	for k, w := range want {
		if !got[k].Equal(w) {
			t.Errorf("%s = %s, want %s", k, got[k], w)
		}
	}
}

func TestBrokerageCap(t *testing.T) {
	capped := backtester.NewCostModel(d(0.03), d(20)).Breakdown(d(1000), d(1000))
	if !capped.Brokerage.Equal(d(20)) {
		t.Errorf("capped brokerage = %s, want 20", capped.Brokerage)
	}
	uncapped := backtester.NewCostModel(d(0.03), decimal.Zero).Breakdown(d(1000), d(1000))
	if !uncapped.Brokerage.Equal(d(300)) {
		t.Errorf("uncapped brokerage = %s, want 300", uncapped.Brokerage)
	}
	if !backtester.NewCostModel(d(0.03), d(20)).Cost(d(100), decimal.Zero).IsZero() {
		t.Error("zero quantity should cost nothing")
	}
}

func TestFixedSlippage(t *testing.T) {
	s := backtester.NewFixedSlippage(d(0.05))
	if got := s.Apply(d(100), true); !got.Equal(d(100.05)) {
		t.Errorf("buy = %s", got)
	}
	if got := s.Apply(d(100), false); !got.Equal(d(99.95)) {
		t.Errorf("sell = %s", got)
	}
}

func TestInvestmentModes(t *testing.T) {
	costs := backtester.NewCostModel(d(0.03), d(20))
	equity := d(10000)

	cases := []struct {
		name   string
		sizing types.Sizing
		want   decimal.Decimal
	}{
		{"fixed within equity", types.Sizing{Mode: types.SizingFixedAmount, Value: 5000}, d(5000)},
		{"fixed capped at 95%", types.Sizing{Mode: types.SizingFixedAmount, Value: 50000}, d(9500)},
		{"percent", types.Sizing{Mode: types.SizingPercentOfEquity, Value: 50}, d(5000)},
		{"percent out of range", types.Sizing{Mode: types.SizingPercentOfEquity, Value: 150}, d(9500)},
		{"kelly warmup", types.Sizing{Mode: types.SizingKelly, Value: 0.5}, d(1000)},
	}
	for _, tc := range cases {
		got := backtester.NewPositionSizer(tc.sizing, costs).Investment(equity, nil)
		if !got.Equal(tc.want) {
			t.Errorf("%s: investment = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func tradesWithPnL(pcts ...float64) []types.Trade {
	out := make([]types.Trade, len(pcts))
	for i, p := range pcts {
		out[i] = types.Trade{ID: i + 1, PnL: d(p * 10), PnLPct: p}
	}
	return out
}

func TestKellySizing(t *testing.T) {
	costs := backtester.NewCostModel(d(0.03), d(20))
	sizer := backtester.NewPositionSizer(types.Sizing{Mode: types.SizingKelly, Value: 0.5}, costs)
	equity := d(10000)

	// p = 0.6, b = 2 -> kelly 0.4, half-kelly 0.2
	mixed := tradesWithPnL(4, 4, 4, -2, -2)
	if got := sizer.Investment(equity, mixed).InexactFloat64(); math.Abs(got-2000) > 1e-6 {
		t.Errorf("mixed history = %.4f, want 2000", got)
	}
	if got := sizer.Investment(equity, tradesWithPnL(1, 2, 3, 4, 5)); !got.Equal(d(5000)) {
		t.Errorf("no losses = %s, want fraction 5000", got)
	}
	if got := sizer.Investment(equity, tradesWithPnL(-1, -2, -3, -4, -5)); !got.Equal(d(200)) {
		t.Errorf("no wins = %s, want floor 200", got)
	}
}

func TestQuantityFitsCash(t *testing.T) {
	costs := backtester.NewCostModel(d(0.03), d(20))
	sizer := backtester.NewPositionSizer(types.Sizing{}, costs)

	qty, cost := sizer.Quantity(d(10000), d(100), d(10000))
	if !qty.Equal(d(99)) {
		t.Errorf("qty = %s, want 99 after costs", qty)
	}
	if qty.Mul(d(100)).Add(cost).GreaterThan(d(10000)) {
		t.Error("order exceeds cash")
	}

	if qty, _ := sizer.Quantity(d(50), d(100), d(10000)); !qty.IsZero() {
		t.Errorf("sub-share investment qty = %s", qty)
	}
}

func TestQuantityLargestAffordable(t *testing.T) {
	tests := []struct {
		name  string
		costs backtester.CostModel
		price float64
		cash  float64
	}{
		{"penny stock capped brokerage", backtester.NewCostModel(d(0.03), d(20)), 0.05, 1000000},
		{"penny stock uncapped", backtester.NewCostModel(d(0.5), decimal.Zero), 0.05, 1000000},
		{"cap binds", backtester.NewCostModel(d(1), d(5)), 10, 100000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sizer := backtester.NewPositionSizer(types.Sizing{}, tt.costs)
			price, cash := d(tt.price), d(tt.cash)

			qty, cost := sizer.Quantity(cash, price, cash)
			if !qty.IsPositive() {
				t.Fatalf("qty = %s, want positive", qty)
			}
			if !cost.Equal(tt.costs.Cost(price, qty)) {
				t.Errorf("cost = %s, want %s", cost, tt.costs.Cost(price, qty))
			}
			if qty.Mul(price).Add(cost).GreaterThan(cash) {
				t.Errorf("order of %s exceeds cash", qty)
			}
			next := qty.Add(decimal.NewFromInt(1))
			if next.Mul(price).Add(tt.costs.Cost(price, next)).LessThanOrEqual(cash) {
				t.Errorf("qty %s is not the largest affordable", qty)
			}
		})
	}
}
