package main

import (
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ag-wnl/orderbook/params"
	"github.com/ag-wnl/orderbook/pkg/core"
	"github.com/ag-wnl/orderbook/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	store, err := core.NewAccountStore(cfg.Venue.DataDir)
	if err != nil {
		logger.Fatal("open account store", zap.Error(err))
	}
	defer store.Close()

	ex, err := core.NewExchange(
		cfg.Venue.Symbols,
		cfg.Venue.FundingInterval,
		cfg.Venue.QuoteAsset,
		core.WithLogger(logger),
		core.WithStore(store),
		core.WithStalenessWindow(cfg.Venue.MarkStaleness),
	)
	if err != nil {
		logger.Fatal("build exchange", zap.Error(err))
	}

	logger.Info("venue up",
		zap.Strings("symbols", cfg.Venue.Symbols),
		zap.String("quote_asset", cfg.Venue.QuoteAsset),
		zap.Duration("funding_interval", cfg.Venue.FundingInterval),
	)

	// Demo session: two traders cross a leveraged order on the first symbol.
	symbol := cfg.Venue.Symbols[0]
	maker := uuid.New()
	taker := uuid.New()

	ex.CreateAccount(maker).Deposit(cfg.Venue.QuoteAsset, decimal.NewFromInt(100_000))
	ex.CreateAccount(taker).Deposit(cfg.Venue.QuoteAsset, decimal.NewFromInt(100_000))

	if err := ex.UpdateMarketData(symbol,
		decimal.RequireFromString("30100"), // mark
		decimal.RequireFromString("30000"), // index
		decimal.NewFromInt(1000),
		decimal.NewFromInt(900),
	); err != nil {
		logger.Fatal("market data", zap.Error(err))
	}

	tenX := decimal.NewNullDecimal(decimal.NewFromInt(10))

	if _, err := ex.PlaceOrder(core.Order{
		ID:          uuid.New(),
		UserID:      maker,
		Symbol:      symbol,
		Side:        core.Sell,
		Type:        core.Limit,
		TimeInForce: core.GTC,
		Price:       decimal.RequireFromString("30100"),
		Quantity:    decimal.NewFromInt(2),
		Leverage:    tenX,
	}); err != nil {
		logger.Fatal("maker order", zap.Error(err))
	}

	trades, err := ex.PlaceOrder(core.Order{
		ID:          uuid.New(),
		UserID:      taker,
		Symbol:      symbol,
		Side:        core.Buy,
		Type:        core.Market,
		TimeInForce: core.IOC,
		Quantity:    decimal.NewFromInt(1),
		Leverage:    tenX,
	})
	if err != nil {
		logger.Fatal("taker order", zap.Error(err))
	}
	for _, t := range trades {
		logger.Info("trade",
			zap.String("price", t.Price.String()),
			zap.String("quantity", t.Quantity.String()),
		)
	}

	if book, ok := ex.Book(symbol); ok {
		bids, asks := book.Depth(5)
		logger.Info("depth", zap.Int("bid_levels", len(bids)), zap.Int("ask_levels", len(asks)))
	}

	rates, err := ex.RunFunding()
	if err != nil {
		logger.Fatal("funding", zap.Error(err))
	}
	for _, r := range rates {
		logger.Info("funding rate",
			zap.String("symbol", r.Symbol),
			zap.String("rate", r.Rate.String()),
			zap.Time("next", r.NextFundingTime),
		)
	}

	if err := ex.Checkpoint(); err != nil {
		logger.Fatal("checkpoint", zap.Error(err))
	}
	logger.Info("accounts checkpointed", zap.String("data_dir", cfg.Venue.DataDir))
}
