package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// priceLevel is one price bucket: all resting orders at this price in
// arrival order. FIFO within the bucket is what gives time priority.
type priceLevel struct {
	price  decimal.Decimal
	orders []*Order
}

// Level is a depth snapshot entry: a price and the total remaining quantity
// resting at it.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Fill pairs an executed Trade with the two orders that produced it, so the
// orchestrator can settle both accounts without re-resolving orders that the
// match already purged from the book.
type Fill struct {
	Trade Trade
	Taker *Order
	Maker *Order
}

// OrderBook holds the resting orders of one symbol. Price levels live in two
// btrees, bids sorted descending and asks ascending, so the best level is
// always the tree minimum, and each level queues orders first-in first-out.
type OrderBook struct {
	mu     sync.RWMutex
	symbol string
	bids   *btree.BTreeG[*priceLevel]
	asks   *btree.BTreeG[*priceLevel]
}

// NewOrderBook creates an empty book for symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.GreaterThan(b.price)
		}),
		asks: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.LessThan(b.price)
		}),
	}
}

// Symbol returns the symbol this book trades.
func (ob *OrderBook) Symbol() string { return ob.symbol }

// AddOrder runs price-time matching for the incoming order against the
// opposite side and returns the fills in match order. Behaviour by
// time-in-force: GTC posts any limit remainder, IOC discards it, FOK
// pre-scans the opposite side and rejects with ErrInsufficientLiquidity
// unless the full quantity is fillable at acceptable prices.
//
// Trades always execute at the resting order's price.
func (ob *OrderBook) AddOrder(o *Order, now time.Time) ([]Fill, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	switch o.Type {
	case Limit, Market:
	default:
		return nil, fmt.Errorf("%w: order type %s is not matched", ErrInvalidOrder, o.Type)
	}

	if o.TimeInForce == FOK && !ob.fillable(o) {
		return nil, fmt.Errorf("%w: fill-or-kill order of %s cannot be filled", ErrInsufficientLiquidity, o.Quantity)
	}

	opposite := ob.asks
	if o.Side == Sell {
		opposite = ob.bids
	}

	var fills []Fill
	remaining := o.Remaining()

	for remaining.IsPositive() {
		level, ok := opposite.MinMut()
		if !ok {
			break
		}
		if o.Type == Limit && !priceAcceptable(o, level.price) {
			break
		}

		consumed := 0
		for _, maker := range level.orders {
			avail := maker.Remaining()
			if !avail.IsPositive() {
				consumed++
				continue
			}
			fill := decimal.Min(remaining, avail)

			trade := Trade{
				ID:         uuid.New(),
				Symbol:     ob.symbol,
				Price:      level.price,
				Quantity:   fill,
				ExecutedAt: now,
			}
			if o.Side == Buy {
				trade.BuyerOrderID = o.ID
				trade.SellerOrderID = maker.ID
			} else {
				trade.BuyerOrderID = maker.ID
				trade.SellerOrderID = o.ID
			}

			maker.FilledQuantity = maker.FilledQuantity.Add(fill)
			maker.UpdatedAt = now
			o.FilledQuantity = o.FilledQuantity.Add(fill)
			o.UpdatedAt = now
			remaining = remaining.Sub(fill)

			fills = append(fills, Fill{Trade: trade, Taker: o, Maker: maker})

			if !maker.Remaining().IsPositive() {
				consumed++
			}
			if !remaining.IsPositive() {
				break
			}
		}

		// Fully filled makers sit at the front of the FIFO; slice them off.
		if consumed > 0 {
			level.orders = level.orders[consumed:]
		}
		if len(level.orders) == 0 {
			opposite.Delete(level)
			continue
		}
		if !remaining.IsPositive() {
			break
		}
	}

	if remaining.IsPositive() && o.Type == Limit && o.TimeInForce == GTC {
		// The posted remainder becomes a fresh resting order: quantity is the
		// remainder and the fill counter restarts.
		o.Quantity = remaining
		o.FilledQuantity = decimal.Zero
		ob.rest(o)
	}

	return fills, nil
}

// priceAcceptable reports whether a limit order may trade at the candidate
// resting price.
func priceAcceptable(o *Order, restingPrice decimal.Decimal) bool {
	if o.Side == Buy {
		return restingPrice.LessThanOrEqual(o.Price)
	}
	return restingPrice.GreaterThanOrEqual(o.Price)
}

// fillable pre-walks the opposite side and reports whether the order's full
// quantity is available at acceptable prices. Used by FOK before any state
// is touched.
func (ob *OrderBook) fillable(o *Order) bool {
	opposite := ob.asks
	if o.Side == Sell {
		opposite = ob.bids
	}

	need := o.Remaining()
	opposite.Scan(func(level *priceLevel) bool {
		if o.Type == Limit && !priceAcceptable(o, level.price) {
			return false
		}
		for _, maker := range level.orders {
			need = need.Sub(maker.Remaining())
			if !need.IsPositive() {
				return false
			}
		}
		return true
	})
	return !need.IsPositive()
}

// rest appends the order to its own side's price level, creating the level
// if needed. Appending keeps time priority within the level.
func (ob *OrderBook) rest(o *Order) {
	side := ob.bids
	if o.Side == Sell {
		side = ob.asks
	}
	if level, ok := side.GetMut(&priceLevel{price: o.Price}); ok {
		level.orders = append(level.orders, o)
		return
	}
	side.Set(&priceLevel{price: o.Price, orders: []*Order{o}})
}

// lookup returns the resting order with the given id on the named side.
func (ob *OrderBook) lookup(orderID uuid.UUID, side Side) (*Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	levels := ob.bids
	if side == Sell {
		levels = ob.asks
	}
	var found *Order
	levels.Scan(func(level *priceLevel) bool {
		for _, o := range level.orders {
			if o.ID == orderID {
				found = o
				return false
			}
		}
		return true
	})
	return found, found != nil
}

// Cancel removes the resting order with the given id from the named side and
// returns it, or ErrOrderNotFound if it is not resting there.
func (ob *OrderBook) Cancel(orderID uuid.UUID, side Side) (*Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	levels := ob.bids
	if side == Sell {
		levels = ob.asks
	}

	var (
		found *Order
		at    *priceLevel
	)
	levels.Scan(func(level *priceLevel) bool {
		for i, o := range level.orders {
			if o.ID == orderID {
				found = o
				at = level
				level.orders = append(level.orders[:i], level.orders[i+1:]...)
				return false
			}
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("%w: %s on %s side", ErrOrderNotFound, orderID, side)
	}
	if len(at.orders) == 0 {
		levels.Delete(at)
	}
	return found, nil
}

// Depth returns the top n price levels of each side with their aggregate
// remaining quantity, best price first.
func (ob *OrderBook) Depth(n int) (bids, asks []Level) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return collectLevels(ob.bids, n), collectLevels(ob.asks, n)
}

func collectLevels(levels *btree.BTreeG[*priceLevel], n int) []Level {
	out := make([]Level, 0, n)
	levels.Scan(func(level *priceLevel) bool {
		total := decimal.Zero
		for _, o := range level.orders {
			total = total.Add(o.Remaining())
		}
		out = append(out, Level{Price: level.price, Quantity: total})
		return len(out) < n
	})
	return out
}

// BestBid returns the highest resting bid price, or false when the side is
// empty.
func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	level, ok := ob.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.price, true
}

// BestAsk returns the lowest resting ask price, or false when the side is
// empty.
func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	level, ok := ob.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.price, true
}
