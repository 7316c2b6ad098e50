package service

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// FeeCalculator 平台手续费
//
// fee = price * rate / 100，net = price - fee。全程十进制运算、不做舍入，
// 所以 fee + net 恒等于 price。
type FeeCalculator struct {
	Rate decimal.Decimal
}

func NewFeeCalculator(percent float64) FeeCalculator {
	return FeeCalculator{Rate: decimal.NewFromFloat(percent)}
}

func (f FeeCalculator) Calculate(price decimal.Decimal) (fee, net decimal.Decimal) {
	fee = price.Mul(f.Rate).Div(hundred)
	net = price.Sub(fee)
	return fee, net
}
