package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ag-wnl/orderbook/pkg/util"
)

// DefaultStalenessWindow is how old an oracle snapshot may be before
// placements and funding reject it.
const DefaultStalenessWindow = 30 * time.Second

// marginLock tracks the collateral debited for one leveraged order while it
// works. qty is the unfilled quantity the lock still covers; fills consume
// the lock pro-rata and cancels refund whatever is left.
type marginLock struct {
	locked decimal.Decimal
	qty    decimal.Decimal
}

// Exchange is the venue orchestrator: it owns the accounts, the per-symbol
// order books, the market-data snapshots, and the funding calculator, and
// routes every placement through the margin check, the book, and the
// position ledger. All public operations are serialised; collaborators must
// not hold references into venue state across calls.
type Exchange struct {
	mu    sync.RWMutex
	log   *zap.Logger
	clock util.Clock

	accounts        map[uuid.UUID]*Account
	books           map[string]*OrderBook
	funding         *FundingCalculator
	symbols         []string
	marketData      map[string]*MarketData
	lastTradePrices map[string]decimal.Decimal
	locks           map[uuid.UUID]*marginLock
	quoteAsset      string
	staleness       time.Duration
	store           *AccountStore
}

// Option configures an Exchange at construction.
type Option func(*Exchange)

// WithLogger sets the structured logger (default: no-op).
func WithLogger(log *zap.Logger) Option {
	return func(ex *Exchange) { ex.log = log }
}

// WithClock sets the time source (default: wall clock).
func WithClock(clock util.Clock) Option {
	return func(ex *Exchange) { ex.clock = clock }
}

// WithStore attaches an account snapshot store. Accounts persisted there are
// restored at construction and written back by Checkpoint.
func WithStore(store *AccountStore) Option {
	return func(ex *Exchange) { ex.store = store }
}

// WithStalenessWindow overrides the market-data staleness window.
func WithStalenessWindow(window time.Duration) Option {
	return func(ex *Exchange) { ex.staleness = window }
}

// NewExchange creates a venue trading the given symbols against a single
// quote asset, with funding settled every fundingInterval.
func NewExchange(symbols []string, fundingInterval time.Duration, quoteAsset string, opts ...Option) (*Exchange, error) {
	ex := &Exchange{
		log:             zap.NewNop(),
		clock:           util.RealClock{},
		accounts:        make(map[uuid.UUID]*Account),
		books:           make(map[string]*OrderBook),
		symbols:         append([]string(nil), symbols...),
		marketData:      make(map[string]*MarketData),
		lastTradePrices: make(map[string]decimal.Decimal),
		locks:           make(map[uuid.UUID]*marginLock),
		quoteAsset:      quoteAsset,
		staleness:       DefaultStalenessWindow,
	}
	for _, opt := range opts {
		opt(ex)
	}

	now := ex.clock.Now()
	ex.funding = NewFundingCalculator(fundingInterval, now)
	for _, symbol := range symbols {
		ex.books[symbol] = NewOrderBook(symbol)
		ex.marketData[symbol] = &MarketData{Symbol: symbol, LastUpdate: now}
		ex.lastTradePrices[symbol] = decimal.Zero
	}

	if ex.store != nil {
		accounts, err := ex.store.LoadAllAccounts()
		if err != nil {
			return nil, fmt.Errorf("restoring accounts: %w", err)
		}
		for _, acc := range accounts {
			ex.accounts[acc.UserID] = acc
		}
		ex.log.Info("restored accounts from store", zap.Int("count", len(accounts)))
	}

	return ex, nil
}

// QuoteAsset returns the venue's configured quote asset.
func (ex *Exchange) QuoteAsset() string { return ex.quoteAsset }

// CreateAccount returns the account for userID, creating it if needed.
func (ex *Exchange) CreateAccount(userID uuid.UUID) *Account {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.account(userID)
}

// account is the lock-free resolve-or-create used inside venue operations.
func (ex *Exchange) account(userID uuid.UUID) *Account {
	if acc, ok := ex.accounts[userID]; ok {
		return acc
	}
	acc := NewAccount(userID)
	ex.accounts[userID] = acc
	return acc
}

// GetAccount returns the account for userID, or ErrOrderNotFound when no
// such account exists.
func (ex *Exchange) GetAccount(userID uuid.UUID) (*Account, error) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	acc, ok := ex.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrOrderNotFound, userID)
	}
	return acc, nil
}

// UpdateMarketData applies an oracle push for symbol and refreshes the
// snapshot's timestamp.
func (ex *Exchange) UpdateMarketData(symbol string, markPrice, indexPrice, oiLong, oiShort decimal.Decimal) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	md, ok := ex.marketData[symbol]
	if !ok {
		return fmt.Errorf("%w: unknown symbol %s", ErrInvalidOrder, symbol)
	}
	md.MarkPrice = markPrice
	md.IndexPrice = indexPrice
	md.OpenInterestLong = oiLong
	md.OpenInterestShort = oiShort
	md.LastUpdate = ex.clock.Now()
	return nil
}

// GetMarketData returns a copy of the snapshot for symbol.
func (ex *Exchange) GetMarketData(symbol string) (MarketData, bool) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	md, ok := ex.marketData[symbol]
	if !ok {
		return MarketData{}, false
	}
	return *md, true
}

// GetLastTradePrice returns the price of the most recent trade in symbol.
func (ex *Exchange) GetLastTradePrice(symbol string) (decimal.Decimal, bool) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	price, ok := ex.lastTradePrices[symbol]
	return price, ok
}

// Book returns the order book for symbol for read-only snapshots.
func (ex *Exchange) Book(symbol string) (*OrderBook, bool) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	book, ok := ex.books[symbol]
	return book, ok
}

// PlaceOrder validates the order, locks collateral for leveraged orders,
// matches it against the book, and settles every resulting trade into both
// participants' positions. Either a (possibly empty) trade list is returned
// or an error with no state change.
func (ex *Exchange) PlaceOrder(order Order) ([]Trade, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	book, ok := ex.books[order.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: unknown symbol %s", ErrInvalidOrder, order.Symbol)
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	now := ex.clock.Now()
	md := ex.marketData[order.Symbol]
	if md.Stale(now, ex.staleness) {
		return nil, fmt.Errorf("%w: market data for %s is stale", ErrInvalidOrder, order.Symbol)
	}

	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	acc := ex.account(order.UserID)
	if err := acc.CheckMarginRequirements(&order, md.MarkPrice, Isolated, ex.quoteAsset); err != nil {
		return nil, err
	}

	// Lock collateral before the book mutates: the debit is atomic with the
	// placement and refunded in full if matching rejects the order.
	if order.Leveraged() {
		ref := order.Price
		if order.Type == Market || !ref.IsPositive() {
			ref = md.MarkPrice
		}
		required, err := RequiredMargin(order.Quantity, ref, order.Leverage.Decimal, Isolated)
		if err != nil {
			return nil, err
		}
		if err := acc.Withdraw(ex.quoteAsset, required); err != nil {
			return nil, err
		}
		ex.locks[order.ID] = &marginLock{locked: required, qty: order.Quantity}
	}

	fills, err := book.AddOrder(&order, now)
	if err != nil {
		ex.refundLock(acc, order.ID)
		return nil, err
	}

	trades := make([]Trade, 0, len(fills))
	for _, fill := range fills {
		if err := ex.settleFill(fill, now); err != nil {
			// The margin check precedes matching; a settlement failure here
			// is a bug, not a recoverable condition.
			return nil, err
		}
		ex.lastTradePrices[order.Symbol] = fill.Trade.Price
		trades = append(trades, fill.Trade)
	}

	resting := order.Type == Limit && order.TimeInForce == GTC && order.Remaining().IsPositive()
	if !resting {
		// Market and IOC remainders are discarded; their unused collateral
		// goes straight back.
		ex.refundLock(acc, order.ID)
	}

	ex.log.Info("order placed",
		zap.Stringer("order_id", order.ID),
		zap.Stringer("user_id", order.UserID),
		zap.String("symbol", order.Symbol),
		zap.Stringer("side", order.Side),
		zap.String("quantity", order.Quantity.String()),
		zap.Int("trades", len(trades)),
		zap.Bool("resting", resting),
	)
	return trades, nil
}

// settleFill updates both participants' positions for one trade and applies
// any released collateral to their quote balances.
func (ex *Exchange) settleFill(fill Fill, now time.Time) error {
	for _, leg := range []struct {
		order *Order
		side  Side
	}{
		{fill.Taker, fill.Taker.Side},
		{fill.Maker, fill.Taker.Side.Opposite()},
	} {
		acc := ex.account(leg.order.UserID)
		marginDelta := ex.consumeLock(leg.order.ID, fill.Trade.Quantity)

		update, err := acc.UpdatePosition(
			fill.Trade.Symbol,
			leg.side,
			fill.Trade.Quantity,
			fill.Trade.Price,
			MarginPosition,
			leg.order.Leverage,
			Isolated,
			marginDelta,
			now,
		)
		if err != nil {
			return err
		}
		if !update.Released.IsZero() {
			acc.Deposit(ex.quoteAsset, update.Released)
		}

		ex.log.Debug("position updated",
			zap.Stringer("user_id", leg.order.UserID),
			zap.String("symbol", fill.Trade.Symbol),
			zap.Stringer("side", leg.side),
			zap.String("fill_qty", fill.Trade.Quantity.String()),
			zap.String("fill_price", fill.Trade.Price.String()),
			zap.String("realized_pnl", update.RealizedPnL.String()),
		)
	}
	return nil
}

// consumeLock takes the fill's pro-rata share out of the order's margin
// lock. The final fill takes the whole remainder so no dust is stranded.
func (ex *Exchange) consumeLock(orderID uuid.UUID, fillQty decimal.Decimal) decimal.Decimal {
	ml, ok := ex.locks[orderID]
	if !ok {
		return decimal.Zero
	}
	if fillQty.GreaterThanOrEqual(ml.qty) {
		share := ml.locked
		delete(ex.locks, orderID)
		return share
	}
	share := ml.locked.Mul(fillQty).Div(ml.qty)
	ml.locked = ml.locked.Sub(share)
	ml.qty = ml.qty.Sub(fillQty)
	return share
}

// refundLock returns an order's remaining locked collateral to the account.
func (ex *Exchange) refundLock(acc *Account, orderID uuid.UUID) {
	ml, ok := ex.locks[orderID]
	if !ok {
		return
	}
	delete(ex.locks, orderID)
	if ml.locked.IsPositive() {
		acc.Deposit(ex.quoteAsset, ml.locked)
	}
}

// CancelOrder removes a resting order from the named side of the symbol's
// book and refunds its remaining locked collateral. Cancels are allowed even
// when market data is stale: removing risk needs no fresh price.
func (ex *Exchange) CancelOrder(userID uuid.UUID, symbol string, orderID uuid.UUID, side Side) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	book, ok := ex.books[symbol]
	if !ok {
		return fmt.Errorf("%w: unknown symbol %s", ErrInvalidOrder, symbol)
	}

	order, ok := book.lookup(orderID, side)
	if !ok {
		return fmt.Errorf("%w: %s on %s side", ErrOrderNotFound, orderID, side)
	}
	if order.UserID != userID {
		return fmt.Errorf("%w: %s does not belong to %s", ErrOrderNotFound, orderID, userID)
	}
	if _, err := book.Cancel(orderID, side); err != nil {
		return err
	}

	acc := ex.account(userID)
	ex.refundLock(acc, orderID)

	ex.log.Info("order cancelled",
		zap.Stringer("order_id", orderID),
		zap.Stringer("user_id", userID),
		zap.String("symbol", symbol),
		zap.Stringer("side", side),
	)
	return nil
}

// RunFunding computes a funding rate for every configured symbol from the
// current market data and settles it against every account's open margin
// positions. Fails without computing further rates when any symbol's market
// data is stale.
func (ex *Exchange) RunFunding() ([]FundingRate, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	now := ex.clock.Now()
	rates := make([]FundingRate, 0, len(ex.symbols))

	for _, symbol := range ex.symbols {
		md := ex.marketData[symbol]
		if md.Stale(now, ex.staleness) {
			return nil, fmt.Errorf("%w: market data for %s is stale", ErrInvalidOrder, symbol)
		}

		rate := ex.funding.CalculateFundingRate(symbol, md.MarkPrice, md.IndexPrice, md.OpenInterestLong, md.OpenInterestShort)

		for _, acc := range ex.accounts {
			if err := ex.funding.ApplyFunding(acc.Positions, rate, now); err != nil {
				return nil, err
			}
		}

		ex.log.Info("funding cycle",
			zap.String("symbol", symbol),
			zap.String("rate", rate.Rate.String()),
			zap.Time("next_funding_time", rate.NextFundingTime),
		)
		rates = append(rates, rate)
	}
	return rates, nil
}

// FundingHistory returns all computed funding rates, oldest first.
func (ex *Exchange) FundingHistory() []FundingRate {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.funding.History()
}

// FundingPayments returns all applied funding payments, oldest first.
func (ex *Exchange) FundingPayments() []FundingPayment {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.funding.Payments()
}

// Checkpoint persists every account to the attached store. No-op without a
// store.
func (ex *Exchange) Checkpoint() error {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	if ex.store == nil {
		return nil
	}
	for _, acc := range ex.accounts {
		if err := ex.store.SaveAccount(acc); err != nil {
			return err
		}
	}
	return nil
}
