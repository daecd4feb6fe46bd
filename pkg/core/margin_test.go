package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRequiredMargin(t *testing.T) {
	// Isolated: quantity × price / leverage
	got, err := RequiredMargin(d("2"), d("100"), d("10"), Isolated)
	require.NoError(t, err)
	require.True(t, got.Equal(d("20")), "got %s", got)

	// Cross carries a 10% surcharge
	got, err = RequiredMargin(d("2"), d("100"), d("10"), Cross)
	require.NoError(t, err)
	require.True(t, got.Equal(d("22")), "got %s", got)
}

func TestRequiredMarginRejectsNonPositiveLeverage(t *testing.T) {
	_, err := RequiredMargin(d("1"), d("100"), decimal.Zero, Isolated)
	require.ErrorIs(t, err, ErrInvalidOrder)

	_, err = RequiredMargin(d("1"), d("100"), d("-2"), Isolated)
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestLiquidationPriceIsolatedLong(t *testing.T) {
	// entry=100, leverage=10, isolated:
	// 100 × (1 - 0.1 + 0.005 + 0.001) = 90.6
	liq, err := LiquidationPrice(d("100"), Buy, d("10"), Isolated)
	require.NoError(t, err)
	require.True(t, liq.Equal(d("90.6")), "got %s", liq)
}

func TestLiquidationPriceShortAndCross(t *testing.T) {
	// short, isolated: 100 × (1 + 0.1 - 0.005 - 0.001) = 109.4
	liq, err := LiquidationPrice(d("100"), Sell, d("10"), Isolated)
	require.NoError(t, err)
	require.True(t, liq.Equal(d("109.4")), "got %s", liq)

	// cross widens the buffer to 0.002
	liq, err = LiquidationPrice(d("100"), Buy, d("10"), Cross)
	require.NoError(t, err)
	require.True(t, liq.Equal(d("90.7")), "got %s", liq)
}

func TestIsLiquidated(t *testing.T) {
	// long at 100 with 10x isolated liquidates at 90.6
	liquidated, err := IsLiquidated(d("90.5"), d("100"), Buy, d("10"), Isolated)
	require.NoError(t, err)
	require.True(t, liquidated)

	liquidated, err = IsLiquidated(d("90.7"), d("100"), Buy, d("10"), Isolated)
	require.NoError(t, err)
	require.False(t, liquidated)

	// boundary counts as liquidated
	liquidated, err = IsLiquidated(d("90.6"), d("100"), Buy, d("10"), Isolated)
	require.NoError(t, err)
	require.True(t, liquidated)

	// short liquidates when price rises to the threshold
	liquidated, err = IsLiquidated(d("109.4"), d("100"), Sell, d("10"), Isolated)
	require.NoError(t, err)
	require.True(t, liquidated)

	liquidated, err = IsLiquidated(d("109.3"), d("100"), Sell, d("10"), Isolated)
	require.NoError(t, err)
	require.False(t, liquidated)
}
