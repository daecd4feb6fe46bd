package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account holds one user's asset balances and per-symbol positions. Balances
// and positions are owned values keyed in flat maps; positions reference the
// account only through UserID.
type Account struct {
	UserID      uuid.UUID                  `json:"user_id"`
	Balances    map[string]decimal.Decimal `json:"balances"`
	Positions   map[string]*Position       `json:"positions"`
	RealizedPnL decimal.Decimal            `json:"realized_pnl"`
}

// NewAccount creates an empty account for the user.
func NewAccount(userID uuid.UUID) *Account {
	return &Account{
		UserID:    userID,
		Balances:  make(map[string]decimal.Decimal),
		Positions: make(map[string]*Position),
	}
}

// Deposit credits amount of asset to the account.
func (a *Account) Deposit(asset string, amount decimal.Decimal) {
	a.Balances[asset] = a.GetBalance(asset).Add(amount)
}

// Withdraw debits amount of asset, failing with ErrInsufficientBalance when
// the balance cannot cover it.
func (a *Account) Withdraw(asset string, amount decimal.Decimal) error {
	balance := a.GetBalance(asset)
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: have %s %s, need %s", ErrInsufficientBalance, balance, asset, amount)
	}
	a.Balances[asset] = balance.Sub(amount)
	return nil
}

// GetBalance returns the balance of asset, zero for unknown assets.
func (a *Account) GetBalance(asset string) decimal.Decimal {
	if b, ok := a.Balances[asset]; ok {
		return b
	}
	return decimal.Zero
}

// GetPosition returns the position for symbol, or nil.
func (a *Account) GetPosition(symbol string) *Position {
	return a.Positions[symbol]
}

// PositionUpdate reports the side effects of folding a fill into a position.
// Released is the collateral (and, on full close, margin plus realized PnL)
// that should flow back to the account's quote balance; the orchestrator
// applies it.
type PositionUpdate struct {
	Position    *Position
	RealizedPnL decimal.Decimal
	Released    decimal.Decimal
}

// UpdatePosition folds a fill of qty at price into the account's position
// for symbol, preserving signed net exposure:
//
//   - same direction: quantities add and the entry price becomes the
//     weighted average of old and new;
//   - opposite direction up to the open quantity: the position shrinks, the
//     entry price stands, and PnL realizes on the closed quantity;
//   - opposite direction beyond the open quantity: the position flips, the
//     surplus opens at the fill price.
//
// marginDelta is the collateral the incoming fill carried (zero for
// unleveraged fills): it joins the position's margin balance when the fill
// adds exposure and is released back to the caller when the fill closes
// exposure. Realized PnL is credited to the margin balance while the
// position stays open, and released with the margin on full close.
func (a *Account) UpdatePosition(
	symbol string,
	side Side,
	qty, price decimal.Decimal,
	positionType PositionType,
	leverage decimal.NullDecimal,
	marginType MarginType,
	marginDelta decimal.Decimal,
	now time.Time,
) (PositionUpdate, error) {
	if !qty.IsPositive() {
		return PositionUpdate{}, fmt.Errorf("%w: fill quantity must be positive", ErrInvalidOrder)
	}

	pos, ok := a.Positions[symbol]
	if !ok {
		pos = &Position{
			UserID:     a.UserID,
			Symbol:     symbol,
			Side:       side,
			Type:       positionType,
			Quantity:   decimal.Zero,
			EntryPrice: decimal.Zero,
			MarginType: marginType,
		}
		a.Positions[symbol] = pos
	}

	update := PositionUpdate{Position: pos}

	switch {
	case pos.Side == side || pos.Quantity.IsZero():
		// Adding exposure (a zero-quantity position reopens on either side).
		pos.Side = side
		newQty := pos.Quantity.Add(qty)
		pos.EntryPrice = pos.Quantity.Mul(pos.EntryPrice).Add(qty.Mul(price)).Div(newQty)
		pos.Quantity = newQty
		addMargin(pos, marginDelta)

	case qty.LessThanOrEqual(pos.Quantity):
		// Closing up to the open quantity.
		pnl := closedPnL(pos, qty, price)
		update.RealizedPnL = pnl
		a.RealizedPnL = a.RealizedPnL.Add(pnl)
		update.Released = marginDelta

		prior := pos.Quantity
		pos.Quantity = pos.Quantity.Sub(qty)

		if pos.Margin.Valid {
			if pos.Quantity.IsPositive() {
				// Release the closed quantity's share of the collateral, then
				// credit the realized PnL to what stays behind.
				share := pos.Margin.Decimal.Mul(qty).Div(prior)
				pos.Margin.Decimal = pos.Margin.Decimal.Sub(share).Add(pnl)
				update.Released = update.Released.Add(share)
			} else {
				update.Released = update.Released.Add(pos.Margin.Decimal).Add(pnl)
				pos.Margin = decimal.NullDecimal{}
			}
		}
		if !pos.Quantity.IsPositive() {
			pos.EntryPrice = decimal.Zero
			pos.LiquidationPrice = decimal.NullDecimal{}
		}

	default:
		// Flip: close the whole position, open the surplus on the other side.
		closed := pos.Quantity
		pnl := closedPnL(pos, closed, price)
		update.RealizedPnL = pnl
		a.RealizedPnL = a.RealizedPnL.Add(pnl)

		opened := qty.Sub(closed)
		closeShare := marginDelta.Mul(closed).Div(qty)
		update.Released = closeShare
		if pos.Margin.Valid {
			update.Released = update.Released.Add(pos.Margin.Decimal).Add(pnl)
		}

		pos.Side = side
		pos.Quantity = opened
		pos.EntryPrice = price
		pos.Margin = decimal.NullDecimal{}
		addMargin(pos, marginDelta.Sub(closeShare))
	}

	pos.UpdatedAt = now

	if positionType == MarginPosition && leverage.Valid {
		pos.Leverage = leverage
		pos.MarginType = marginType
	}
	if pos.Type == MarginPosition && pos.Leverage.Valid && pos.Quantity.IsPositive() {
		liq, err := LiquidationPrice(pos.EntryPrice, pos.Side, pos.Leverage.Decimal, pos.MarginType)
		if err != nil {
			return PositionUpdate{}, err
		}
		pos.LiquidationPrice = decimal.NewNullDecimal(liq)
	}

	return update, nil
}

// addMargin folds collateral into the position's margin balance, creating it
// on first use.
func addMargin(pos *Position, delta decimal.Decimal) {
	if !delta.IsPositive() {
		return
	}
	if pos.Margin.Valid {
		pos.Margin.Decimal = pos.Margin.Decimal.Add(delta)
		return
	}
	pos.Margin = decimal.NewNullDecimal(delta)
}

// closedPnL is the realized profit on closing qty of the position at price:
// (price - entry) × qty for longs, (entry - price) × qty for shorts.
func closedPnL(pos *Position, qty, price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(pos.EntryPrice)
	if pos.Side == Sell {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}

// CheckMarginRequirements verifies that the account can carry the order:
// the quote balance must cover the required margin, and the hypothetical
// post-fill position must not already sit at or beyond its liquidation price
// at the current mark. Orders without leverage pass unconditionally.
func (a *Account) CheckMarginRequirements(order *Order, markPrice decimal.Decimal, marginType MarginType, quoteAsset string) error {
	if !order.Leverage.Valid {
		return nil
	}
	leverage := order.Leverage.Decimal

	ref := order.Price
	if order.Type == Market || !ref.IsPositive() {
		ref = markPrice
	}

	required, err := RequiredMargin(order.Quantity, ref, leverage, marginType)
	if err != nil {
		return err
	}
	if a.GetBalance(quoteAsset).LessThan(required) {
		return fmt.Errorf("%w: need %s %s for margin", ErrInsufficientBalance, required, quoteAsset)
	}

	side, qty, entry := a.previewFold(order.Symbol, order.Side, order.Quantity, ref)
	if !qty.IsPositive() {
		return nil
	}
	liquidated, err := IsLiquidated(markPrice, entry, side, leverage, marginType)
	if err != nil {
		return err
	}
	if liquidated {
		return fmt.Errorf("%w: mark %s against entry %s", ErrWouldLiquidate, markPrice, entry)
	}
	return nil
}

// previewFold computes the side, quantity, and entry price the position for
// symbol would have after folding in the given fill, without mutating state.
func (a *Account) previewFold(symbol string, side Side, qty, price decimal.Decimal) (Side, decimal.Decimal, decimal.Decimal) {
	pos := a.Positions[symbol]
	if pos == nil || pos.Quantity.IsZero() || pos.Side == side {
		prevQty, prevEntry := decimal.Zero, decimal.Zero
		if pos != nil && pos.Side == side {
			prevQty, prevEntry = pos.Quantity, pos.EntryPrice
		}
		newQty := prevQty.Add(qty)
		entry := prevQty.Mul(prevEntry).Add(qty.Mul(price)).Div(newQty)
		return side, newQty, entry
	}
	if qty.GreaterThan(pos.Quantity) {
		return side, qty.Sub(pos.Quantity), price
	}
	return pos.Side, pos.Quantity.Sub(qty), pos.EntryPrice
}
