package strategy

import "github.com/shopspring/decimal"

// ContractMultiplier is the number of shares one option contract controls.
const ContractMultiplier = 100

var multiplier = decimal.NewFromInt(ContractMultiplier)

// SizePosition returns how many contracts fit in cash*maxRiskPct at price per share.
// The result is floored and never negative.
func SizePosition(cash, maxRiskPct, price float64) int {
	if price <= 0 || cash <= 0 || maxRiskPct <= 0 {
		return 0
	}
	budget := decimal.NewFromFloat(cash).Mul(decimal.NewFromFloat(maxRiskPct))
	cost := decimal.NewFromFloat(price).Mul(multiplier)
	return int(budget.Div(cost).Floor().IntPart())
}
