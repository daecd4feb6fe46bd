package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Margin model constants. Parsed once as exact decimals; binary floats never
// touch margin math.
var (
	maintenanceMargin = decimal.RequireFromString("0.005")
	isolatedBuffer    = decimal.RequireFromString("0.001")
	crossBuffer       = decimal.RequireFromString("0.002")
	crossMultiplier   = decimal.RequireFromString("1.1")

	one = decimal.NewFromInt(1)
)

// RequiredMargin returns the collateral needed to carry quantity at price
// under the given leverage: quantity × price/leverage, with a 10% surcharge for
// cross margin.
func RequiredMargin(quantity, price, leverage decimal.Decimal, marginType MarginType) (decimal.Decimal, error) {
	if !leverage.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: leverage must be positive", ErrInvalidOrder)
	}
	base := quantity.Mul(price).Div(leverage)
	if marginType == Cross {
		return base.Mul(crossMultiplier), nil
	}
	return base, nil
}

// LiquidationPrice returns the price at which the position's margin meets the
// maintenance requirement plus buffer.
//
//	buy:  entry × (1 - 1/leverage + maintenance + buffer)
//	sell: entry × (1 + 1/leverage - maintenance - buffer)
func LiquidationPrice(entryPrice decimal.Decimal, side Side, leverage decimal.Decimal, marginType MarginType) (decimal.Decimal, error) {
	if !leverage.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: leverage must be positive", ErrInvalidOrder)
	}
	buffer := isolatedBuffer
	if marginType == Cross {
		buffer = crossBuffer
	}
	inv := one.Div(leverage)
	switch side {
	case Buy:
		return entryPrice.Mul(one.Sub(inv).Add(maintenanceMargin).Add(buffer)), nil
	default:
		return entryPrice.Mul(one.Add(inv).Sub(maintenanceMargin).Sub(buffer)), nil
	}
}

// IsLiquidated tests the current price against the liquidation price: longs
// liquidate at or below it, shorts at or above it.
func IsLiquidated(currentPrice, entryPrice decimal.Decimal, side Side, leverage decimal.Decimal, marginType MarginType) (bool, error) {
	liq, err := LiquidationPrice(entryPrice, side, leverage, marginType)
	if err != nil {
		return false, err
	}
	if side == Buy {
		return currentPrice.LessThanOrEqual(liq), nil
	}
	return currentPrice.GreaterThanOrEqual(liq), nil
}
