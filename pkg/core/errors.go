package core

import "errors"

// Error taxonomy for venue operations. Callers match with errors.Is; deeper
// layers wrap these with fmt.Errorf("%w: ...") to attach context.
var (
	// ErrInsufficientBalance means the account's quote-asset balance is below
	// the required margin for the order.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidOrder covers unknown symbols, stale market data, and
	// malformed order parameters.
	ErrInvalidOrder = errors.New("invalid order parameters")

	// ErrOrderNotFound means a cancel targeted an id not resting on the named
	// side, or a referenced account does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrWouldLiquidate means the hypothetical post-fill position would be at
	// or beyond its liquidation price at the current mark.
	ErrWouldLiquidate = errors.New("position would be liquidated")

	// ErrFunding means applying funding would drive a margin balance below
	// zero.
	ErrFunding = errors.New("funding payment failed")

	// ErrInsufficientLiquidity means the opposite side of the book cannot
	// satisfy a fill-or-kill order in full at acceptable prices.
	ErrInsufficientLiquidity = errors.New("not enough liquidity")
)
