// Package backtester provides transaction cost and slippage modeling.
package backtester

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// statutory charges as a fraction of turnover
	transactionTaxRate = decimal.RequireFromString("0.001")
	exchangeFeeRate    = decimal.RequireFromString("0.0000345")
	gstRate            = decimal.RequireFromString("0.18")
	stampDutyRate      = decimal.RequireFromString("0.00015")
)

// CostBreakdown itemizes the charges on one order
type CostBreakdown struct {
	Brokerage      decimal.Decimal `json:"brokerage"`
	TransactionTax decimal.Decimal `json:"transactionTax"`
	ExchangeFee    decimal.Decimal `json:"exchangeFee"`
	GST            decimal.Decimal `json:"gst"`
	StampDuty      decimal.Decimal `json:"stampDuty"`
	Total          decimal.Decimal `json:"total"`
}

// CostModel computes transaction costs for one side of a trade
type CostModel struct {
	CommissionPct decimal.Decimal
	BrokerageCap  decimal.Decimal
}

// NewCostModel creates a cost model; a zero cap leaves brokerage uncapped.
func NewCostModel(commissionPct, brokerageCap decimal.Decimal) CostModel {
	return CostModel{CommissionPct: commissionPct, BrokerageCap: brokerageCap}
}

// Breakdown itemizes the cost of an order of quantity at price.
func (c CostModel) Breakdown(price, quantity decimal.Decimal) CostBreakdown {
	turnover := price.Mul(quantity)
	if !turnover.IsPositive() {
		return CostBreakdown{}
	}

	brokerage := turnover.Mul(c.CommissionPct).Div(hundred)
	if c.BrokerageCap.IsPositive() && brokerage.GreaterThan(c.BrokerageCap) {
		brokerage = c.BrokerageCap
	}
	b := CostBreakdown{
		Brokerage:      brokerage,
		TransactionTax: turnover.Mul(transactionTaxRate),
		ExchangeFee:    turnover.Mul(exchangeFeeRate),
		StampDuty:      turnover.Mul(stampDutyRate),
	}
	b.GST = b.Brokerage.Add(b.ExchangeFee).Mul(gstRate)
	b.Total = b.Brokerage.Add(b.TransactionTax).Add(b.ExchangeFee).Add(b.GST).Add(b.StampDuty)
	return b
}

// Cost returns the total cost of an order.
func (c CostModel) Cost(price, quantity decimal.Decimal) decimal.Decimal {
	return c.Breakdown(price, quantity).Total
}

// MaxRate is the cost per unit of turnover with brokerage uncapped, an upper
// bound for Cost(price, qty) / (price * qty).
func (c CostModel) MaxRate() decimal.Decimal {
	brokerage := c.CommissionPct.Div(hundred)
	gst := brokerage.Add(exchangeFeeRate).Mul(gstRate)
	return brokerage.Add(transactionTaxRate).Add(exchangeFeeRate).Add(gst).Add(stampDutyRate)
}

// SlippageModel adjusts a fill price against the trader
type SlippageModel interface {
	Apply(price decimal.Decimal, buying bool) decimal.Decimal
}

// FixedSlippage applies a fixed percentage slippage
type FixedSlippage struct {
	Pct decimal.Decimal
}

// NewFixedSlippage creates a fixed slippage model
func NewFixedSlippage(pct decimal.Decimal) *FixedSlippage {
	return &FixedSlippage{Pct: pct}
}

// Apply returns the slipped price: higher when buying, lower when selling.
func (f *FixedSlippage) Apply(price decimal.Decimal, buying bool) decimal.Decimal {
	adj := price.Mul(f.Pct).Div(hundred)
	if buying {
		return price.Add(adj)
	}
	return price.Sub(adj)
}
