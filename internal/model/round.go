package model

import "github.com/shopspring/decimal"

// Round2 rounds f half away from zero to two decimal places.
func Round2(f float64) float64 {
	v, _ := decimal.NewFromFloat(f).Round(2).Float64()
	return v
}

// Percent returns part/total as a percentage rounded to two decimals, or 0
// when total is not positive.
func Percent(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	v, _ := decimal.NewFromFloat(part).
		Div(decimal.NewFromFloat(total)).
		Mul(decimal.NewFromInt(100)).
		Round(2).
		Float64()
	return v
}
