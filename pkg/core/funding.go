package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Funding model constants. The base interest rate follows the perpetual
// convention of 0.01% per interval, and rates clamp to ±0.075%.
var (
	baseInterestRate = decimal.RequireFromString("0.0001")
	oiImpactWeight   = decimal.RequireFromString("0.0001")
	maxFundingRate   = decimal.RequireFromString("0.00075")
	minFundingRate   = decimal.RequireFromString("-0.00075")
)

// FundingCalculator computes per-symbol funding rates and settles them
// against open margin positions. It keeps the full history of computed rates
// and applied payments. Not self-locking: the Exchange serialises access.
type FundingCalculator struct {
	interval        time.Duration
	rateHistory     []FundingRate
	payments        []FundingPayment
	lastFundingTime time.Time
}

// NewFundingCalculator creates a calculator with the given settlement
// interval. The schedule starts at start (venue construction time).
func NewFundingCalculator(interval time.Duration, start time.Time) *FundingCalculator {
	return &FundingCalculator{
		interval:        interval,
		lastFundingTime: start,
	}
}

// CalculateFundingRate derives the next funding rate for symbol from the
// mark/index divergence and the open-interest imbalance:
//
//	premium  = (mark - index) / index, 0 when the index is unset
//	oiRatio  = (oiLong - oiShort) / (oiLong + oiShort), 0 when flat
//	rate     = clamp(premium + 0.0001 + oiRatio × 0.0001, ±0.00075)
//
// The rate is recorded in the history and the schedule advances one
// interval.
func (fc *FundingCalculator) CalculateFundingRate(symbol string, markPrice, indexPrice, oiLong, oiShort decimal.Decimal) FundingRate {
	premium := decimal.Zero
	if !indexPrice.IsZero() {
		premium = markPrice.Sub(indexPrice).Div(indexPrice)
	}

	totalOI := oiLong.Add(oiShort)
	oiRatio := decimal.Zero
	if totalOI.IsPositive() {
		oiRatio = oiLong.Sub(oiShort).Div(totalOI)
	}

	rate := premium.Add(baseInterestRate).Add(oiRatio.Mul(oiImpactWeight))
	rate = decimal.Max(minFundingRate, decimal.Min(maxFundingRate, rate))

	next := fc.lastFundingTime.Add(fc.interval)
	fr := FundingRate{
		Symbol:          symbol,
		Rate:            rate,
		NextFundingTime: next,
	}
	fc.rateHistory = append(fc.rateHistory, fr)
	fc.lastFundingTime = next
	return fr
}

// ApplyFunding settles the rate against every open margin position in the
// map that matches the rate's symbol: payment = quantity × entry × rate, debited
// from long margin and credited to short margin (positive rates mean longs
// pay shorts). Returns without effect when called before the rate's funding
// time. A margin balance driven below zero fails the batch with ErrFunding.
func (fc *FundingCalculator) ApplyFunding(positions map[string]*Position, rate FundingRate, now time.Time) error {
	if now.Before(rate.NextFundingTime) {
		return nil
	}

	for _, pos := range positions {
		if pos.Symbol != rate.Symbol || !pos.Quantity.IsPositive() || pos.Type != MarginPosition {
			continue
		}

		payment := pos.Quantity.Mul(pos.EntryPrice).Mul(rate.Rate)

		fc.payments = append(fc.payments, FundingPayment{
			UserID:    pos.UserID,
			Symbol:    pos.Symbol,
			Rate:      rate.Rate,
			Payment:   payment,
			Timestamp: now,
		})

		if !pos.Margin.Valid {
			continue
		}
		if pos.Side == Buy {
			pos.Margin.Decimal = pos.Margin.Decimal.Sub(payment)
		} else {
			pos.Margin.Decimal = pos.Margin.Decimal.Add(payment)
		}
		if pos.Margin.Decimal.IsNegative() {
			return fmt.Errorf("%w: %s margin below zero for %s", ErrFunding, pos.Symbol, pos.UserID)
		}
	}
	return nil
}

// History returns all computed funding rates, oldest first.
func (fc *FundingCalculator) History() []FundingRate {
	out := make([]FundingRate, len(fc.rateHistory))
	copy(out, fc.rateHistory)
	return out
}

// Payments returns all applied funding payments, oldest first.
func (fc *FundingCalculator) Payments() []FundingPayment {
	out := make([]FundingPayment, len(fc.payments))
	copy(out, fc.payments)
	return out
}
