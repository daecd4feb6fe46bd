package core

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var fundingStart = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestCalculateFundingRateClampsPremium(t *testing.T) {
	fc := NewFundingCalculator(time.Hour, fundingStart)

	// mark=101, index=100 → premium=0.01, flat OI → raw 0.0101, clamped to
	// the 0.00075 cap.
	rate := fc.CalculateFundingRate("BTC-USDT", d("101"), d("100"), d("1000"), d("1000"))
	require.True(t, rate.Rate.Equal(d("0.00075")), "got %s", rate.Rate)
	require.Equal(t, fundingStart.Add(time.Hour), rate.NextFundingTime)

	// schedule advanced: the next computation lands one interval later
	rate = fc.CalculateFundingRate("BTC-USDT", d("101"), d("100"), d("1000"), d("1000"))
	require.Equal(t, fundingStart.Add(2*time.Hour), rate.NextFundingTime)
	require.Len(t, fc.History(), 2)
}

func TestCalculateFundingRateNegativeClamp(t *testing.T) {
	fc := NewFundingCalculator(time.Hour, fundingStart)

	rate := fc.CalculateFundingRate("BTC-USDT", d("99"), d("100"), d("1000"), d("1000"))
	require.True(t, rate.Rate.Equal(d("-0.00075")), "got %s", rate.Rate)
}

func TestCalculateFundingRateSmallPremiumAndOIImpact(t *testing.T) {
	fc := NewFundingCalculator(time.Hour, fundingStart)

	// premium = 0.0001, base = 0.0001, oiRatio = (600-400)/1000 = 0.2,
	// impact = 0.00002 → 0.00022, inside the clamp.
	rate := fc.CalculateFundingRate("BTC-USDT", d("100.01"), d("100"), d("600"), d("400"))
	require.True(t, rate.Rate.Equal(d("0.00022")), "got %s", rate.Rate)
}

func TestCalculateFundingRateZeroOpenInterest(t *testing.T) {
	fc := NewFundingCalculator(time.Hour, fundingStart)

	// no open interest: only premium + base rate
	rate := fc.CalculateFundingRate("BTC-USDT", d("100.01"), d("100"), decimal.Zero, decimal.Zero)
	require.True(t, rate.Rate.Equal(d("0.0002")), "got %s", rate.Rate)
}

func marginPosition(userID uuid.UUID, symbol string, side Side, qty, entry, margin string) *Position {
	return &Position{
		UserID:     userID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   d(qty),
		EntryPrice: d(entry),
		Type:       MarginPosition,
		Margin:     decimal.NewNullDecimal(d(margin)),
	}
}

func TestApplyFundingLongsPayShorts(t *testing.T) {
	fc := NewFundingCalculator(time.Hour, fundingStart)
	rate := FundingRate{Symbol: "BTC-USDT", Rate: d("0.00075"), NextFundingTime: fundingStart.Add(time.Hour)}

	long := marginPosition(uuid.New(), "BTC-USDT", Buy, "2", "100", "50")
	short := marginPosition(uuid.New(), "BTC-USDT", Sell, "2", "100", "50")

	positions := map[string]*Position{"BTC-USDT": long}
	require.NoError(t, fc.ApplyFunding(positions, rate, fundingStart.Add(time.Hour)))
	require.True(t, long.Margin.Decimal.Equal(d("49.85")), "got %s", long.Margin.Decimal)

	positions = map[string]*Position{"BTC-USDT": short}
	require.NoError(t, fc.ApplyFunding(positions, rate, fundingStart.Add(time.Hour)))
	require.True(t, short.Margin.Decimal.Equal(d("50.15")), "got %s", short.Margin.Decimal)

	payments := fc.Payments()
	require.Len(t, payments, 2)
	require.True(t, payments[0].Payment.Equal(d("0.15")), "got %s", payments[0].Payment)
}

func TestApplyFundingBeforeScheduleIsNoop(t *testing.T) {
	fc := NewFundingCalculator(time.Hour, fundingStart)
	rate := FundingRate{Symbol: "BTC-USDT", Rate: d("0.00075"), NextFundingTime: fundingStart.Add(time.Hour)}

	long := marginPosition(uuid.New(), "BTC-USDT", Buy, "2", "100", "50")
	positions := map[string]*Position{"BTC-USDT": long}

	require.NoError(t, fc.ApplyFunding(positions, rate, fundingStart.Add(30*time.Minute)))
	require.True(t, long.Margin.Decimal.Equal(d("50")))
	require.Empty(t, fc.Payments())
}

func TestApplyFundingSkipsClosedAndForeignPositions(t *testing.T) {
	fc := NewFundingCalculator(time.Hour, fundingStart)
	rate := FundingRate{Symbol: "BTC-USDT", Rate: d("0.00075"), NextFundingTime: fundingStart.Add(time.Hour)}

	closed := marginPosition(uuid.New(), "BTC-USDT", Buy, "0", "0", "10")
	other := marginPosition(uuid.New(), "ETH-USDT", Buy, "5", "2000", "100")
	spot := marginPosition(uuid.New(), "BTC-USDT", Buy, "2", "100", "50")
	spot.Type = SpotPosition

	positions := map[string]*Position{
		"BTC-USDT": closed,
		"ETH-USDT": other,
	}
	require.NoError(t, fc.ApplyFunding(positions, rate, fundingStart.Add(time.Hour)))
	require.NoError(t, fc.ApplyFunding(map[string]*Position{"BTC-USDT": spot}, rate, fundingStart.Add(time.Hour)))

	require.Empty(t, fc.Payments())
	require.True(t, closed.Margin.Decimal.Equal(d("10")))
	require.True(t, other.Margin.Decimal.Equal(d("100")))
	require.True(t, spot.Margin.Decimal.Equal(d("50")))
}

func TestApplyFundingFailsOnNegativeMargin(t *testing.T) {
	fc := NewFundingCalculator(time.Hour, fundingStart)
	rate := FundingRate{Symbol: "BTC-USDT", Rate: d("0.00075"), NextFundingTime: fundingStart.Add(time.Hour)}

	// margin 0.1 cannot cover the 0.15 debit
	long := marginPosition(uuid.New(), "BTC-USDT", Buy, "2", "100", "0.1")
	positions := map[string]*Position{"BTC-USDT": long}

	err := fc.ApplyFunding(positions, rate, fundingStart.Add(time.Hour))
	require.ErrorIs(t, err, ErrFunding)
}
