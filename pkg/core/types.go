package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide parses "BUY"/"SELL" (case-insensitive).
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return Buy, fmt.Errorf("%q is not a valid side", s)
	}
}

// OrderType enumerates the order taxonomy. Only Limit and Market are matched;
// Stop and StopLimit are reserved tags and rejected at placement.
type OrderType int8

const (
	Limit OrderType = iota
	Market
	Stop
	StopLimit
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case Market:
		return "MARKET"
	case Stop:
		return "STOP"
	case StopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce controls what happens to the unmatched remainder of an order.
type TimeInForce int8

const (
	// GTC rests the remainder on the book.
	GTC TimeInForce = iota
	// IOC discards the remainder without posting.
	IOC
	// FOK fills the whole quantity immediately or produces no trades at all.
	FOK
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return "UNKNOWN"
	}
}

// MarginType selects the margin buffer and liquidation buffer.
type MarginType int8

const (
	Isolated MarginType = iota
	Cross
)

func (t MarginType) String() string {
	switch t {
	case Isolated:
		return "ISOLATED"
	case Cross:
		return "CROSS"
	default:
		return "UNKNOWN"
	}
}

// PositionType distinguishes spot holdings from margined exposure. Funding
// and liquidation apply only to Margin positions.
type PositionType int8

const (
	SpotPosition PositionType = iota
	MarginPosition
)

func (t PositionType) String() string {
	switch t {
	case SpotPosition:
		return "SPOT"
	case MarginPosition:
		return "MARGIN"
	default:
		return "UNKNOWN"
	}
}

// Order is a client instruction to trade. Identity fields are immutable after
// placement; FilledQuantity and UpdatedAt mutate as the book matches it.
// When a limit remainder is posted, Quantity is rewritten to the remainder
// and FilledQuantity reset to zero, so Remaining() stays truthful for
// resting orders.
type Order struct {
	ID             uuid.UUID           `json:"id"`
	UserID         uuid.UUID           `json:"user_id"`
	Symbol         string              `json:"symbol"`
	Side           Side                `json:"side"`
	Type           OrderType           `json:"order_type"`
	TimeInForce    TimeInForce         `json:"time_in_force"`
	Price          decimal.Decimal     `json:"price"`
	Quantity       decimal.Decimal     `json:"quantity"`
	FilledQuantity decimal.Decimal     `json:"filled_quantity"`
	Leverage       decimal.NullDecimal `json:"leverage"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Leveraged reports whether the order carries leverage, i.e. locks margin.
func (o *Order) Leveraged() bool {
	return o.Leverage.Valid
}

// Validate checks the order parameters that do not depend on venue state.
func (o *Order) Validate() error {
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	switch o.Type {
	case Limit:
		if !o.Price.IsPositive() {
			return fmt.Errorf("%w: limit price must be positive", ErrInvalidOrder)
		}
	case Market:
	default:
		// Stop variants are reserved in the taxonomy but have no trigger
		// collaborator wired; rejecting beats silently matching them as limits.
		return fmt.Errorf("%w: order type %s is not matched", ErrInvalidOrder, o.Type)
	}
	if o.Leverage.Valid && o.Leverage.Decimal.Cmp(decimal.NewFromInt(1)) <= 0 {
		return fmt.Errorf("%w: leverage must exceed 1", ErrInvalidOrder)
	}
	return nil
}

// Trade records a single match. Price always equals the resting order's
// quoted price.
type Trade struct {
	ID            uuid.UUID       `json:"id"`
	Symbol        string          `json:"symbol"`
	BuyerOrderID  uuid.UUID       `json:"buyer_order_id"`
	SellerOrderID uuid.UUID       `json:"seller_order_id"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

// Position is the net exposure of one user in one symbol. Quantity is always
// non-negative; Side carries the direction. A zero Quantity means the
// position is logically closed and EntryPrice/LiquidationPrice are not read.
type Position struct {
	UserID           uuid.UUID           `json:"user_id"`
	Symbol           string              `json:"symbol"`
	Side             Side                `json:"side"`
	Quantity         decimal.Decimal     `json:"quantity"`
	EntryPrice       decimal.Decimal     `json:"entry_price"`
	Type             PositionType        `json:"position_type"`
	Leverage         decimal.NullDecimal `json:"leverage"`
	MarginType       MarginType          `json:"margin_type"`
	Margin           decimal.NullDecimal `json:"margin"`
	LiquidationPrice decimal.NullDecimal `json:"liquidation_price"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Open reports whether the position carries exposure.
func (p *Position) Open() bool {
	return p.Quantity.IsPositive()
}

// Notional returns quantity × price.
func (p *Position) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// UnrealizedPnL marks the position against the given price. Longs profit
// when price rises, shorts when it falls.
func (p *Position) UnrealizedPnL(markPrice decimal.Decimal) decimal.Decimal {
	if !p.Open() {
		return decimal.Zero
	}
	diff := markPrice.Sub(p.EntryPrice)
	if p.Side == Sell {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// FundingRate is one computed funding cycle for a symbol. Positive rates mean
// longs pay shorts.
type FundingRate struct {
	Symbol          string          `json:"symbol"`
	Rate            decimal.Decimal `json:"rate"`
	NextFundingTime time.Time       `json:"next_funding_time"`
}

// FundingPayment records one margin debit or credit applied to a position.
type FundingPayment struct {
	UserID    uuid.UUID       `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Rate      decimal.Decimal `json:"rate"`
	Payment   decimal.Decimal `json:"payment"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarketData is the oracle snapshot for a symbol. LastUpdate gates every
// consumer: operations reject when the snapshot is older than the venue's
// staleness window.
type MarketData struct {
	Symbol            string          `json:"symbol"`
	MarkPrice         decimal.Decimal `json:"mark_price"`
	IndexPrice        decimal.Decimal `json:"index_price"`
	OpenInterestLong  decimal.Decimal `json:"open_interest_long"`
	OpenInterestShort decimal.Decimal `json:"open_interest_short"`
	LastUpdate        time.Time       `json:"last_update"`
}

// Stale reports whether the snapshot is older than window at the given
// instant.
func (md *MarketData) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(md.LastUpdate) > window
}
