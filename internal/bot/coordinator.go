// Package bot contains the investment coordinator: the scheduling loop that
// drives strategies, places orders, and owns the ledger and fulfillment
// tracker lifecycle.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dcabot/internal/domain"
	"dcabot/internal/exchange"
	"dcabot/internal/ledger"
	"dcabot/internal/notify"
	"dcabot/internal/scheduler"
	"dcabot/internal/tracker"
	"dcabot/internal/validator"
)

// defaultRetryDelay is the backoff before retrying a cycle after a transient
// network failure.
const defaultRetryDelay = 15 * time.Second

// amountPrecision is the number of fractional digits carried when converting
// the quote amount into a base quantity; exchange quantities use at most 8.
const amountPrecision = 8

// Config holds the coordinator's settings.
type Config struct {
	// CheckInterval is the pause between scheduling evaluations.
	CheckInterval time.Duration
	// RetryDelay overrides the transient-failure backoff when positive.
	RetryDelay time.Duration
	// PollInterval overrides the fulfillment tracker's poll interval when positive.
	PollInterval time.Duration
}

// Coordinator drives the investment loop.
type Coordinator struct {
	gw         exchange.Gateway
	ledger     *ledger.Ledger
	sched      *scheduler.Scheduler
	validator  *validator.Validator
	notifier   notify.Notifier
	logger     *zap.Logger
	strategies []domain.Strategy

	checkInterval time.Duration
	retryDelay    time.Duration
	pollInterval  time.Duration

	// Symbol filters are fetched once and reused for the process lifetime.
	filtersMu sync.Mutex
	filters   map[string]domain.SymbolFilter

	tracker *tracker.Tracker
}

// New creates a Coordinator. Nil logger or notifier fall back to no-ops.
func New(cfg Config, gw exchange.Gateway, strategies []domain.Strategy, led *ledger.Ledger, notifier notify.Notifier, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	return &Coordinator{
		gw:            gw,
		ledger:        led,
		sched:         scheduler.New(led, logger),
		validator:     validator.New(logger, notifier),
		notifier:      notifier,
		logger:        logger,
		strategies:    strategies,
		checkInterval: cfg.CheckInterval,
		retryDelay:    retryDelay,
		pollInterval:  cfg.PollInterval,
		filters:       make(map[string]domain.SymbolFilter),
	}
}

// Run executes the investment loop until ctx is cancelled, the fulfillment
// tracker dies, or an unrecoverable error occurs. The shutdown sequence
// (ledger flush, tracker stop, cancellation of in-flight orders) always runs
// before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	if len(c.strategies) == 0 {
		err := errors.New("no investment strategies configured")
		c.logger.Error("refusing to start", zap.Error(err))
		c.notifier.Notify("DCA bot error", err.Error())
		return err
	}

	if err := c.ledger.Load(); err != nil {
		return err
	}

	c.notifier.Notify("DCA bot starting",
		"Bot started at: "+time.Now().Format("02.01.2006 15:04:05"))

	c.warmFilters(ctx)

	c.tracker = tracker.New(tracker.Config{
		Ledger:       c.ledger,
		Source:       c.gw,
		Notifier:     c.notifier,
		PollInterval: c.pollInterval,
		Logger:       c.logger,
		OnFilled: func(order domain.Order) {
			c.notifier.Notify("Order filled!", "Order filled: "+order.Info())
		},
	})
	c.tracker.Start()

	var runErr error
loop:
	for {
		if err := c.runCycle(ctx); err != nil {
			switch {
			case ctx.Err() != nil:
				break loop
			case exchange.IsTransient(err):
				c.logger.Warn("no connection to exchange, retrying",
					zap.Duration("retry_delay", c.retryDelay),
					zap.Error(err))
				if !c.sleep(ctx, c.retryDelay) {
					break loop
				}
				continue
			default:
				c.logger.Error("unrecoverable error in scheduling loop, aborting", zap.Error(err))
				c.notifier.Notify("DCA bot error", err.Error())
				runErr = err
				break loop
			}
		}

		select {
		case <-ctx.Done():
			break loop
		case <-c.tracker.Done():
			runErr = c.tracker.Err()
			c.logger.Error("fulfillment tracker terminated, shutting down", zap.Error(runErr))
			break loop
		case <-time.After(c.checkInterval):
		}

		c.notifyUnfulfilled()
	}

	c.shutdown()
	return runErr
}

// runCycle evaluates every strategy once.
func (c *Coordinator) runCycle(ctx context.Context) error {
	c.logger.Info("checking if DCA investment is necessary")
	now := time.Now()
	for _, strat := range c.strategies {
		if err := c.evaluate(ctx, strat, now); err != nil {
			return err
		}
	}
	return nil
}

// evaluate checks a single strategy and invests if it is due.
func (c *Coordinator) evaluate(ctx context.Context, strat domain.Strategy, now time.Time) error {
	if start := strat.InvestmentStart(); now.Before(start) {
		c.logger.Info("investment starts later",
			zap.String("symbol", strat.Symbol),
			zap.Time("investment_start", start))
		return nil
	}

	filter, err := c.symbolFilter(ctx, strat.Symbol)
	if err != nil {
		return err
	}

	avgPrice, err := c.gw.GetAveragePrice(ctx, strat.Symbol)
	if err != nil {
		return err
	}
	baseBalance, err := c.gw.GetAssetBalance(ctx, filter.BaseAsset)
	if err != nil {
		return err
	}
	quoteBalance, err := c.gw.GetAssetBalance(ctx, filter.QuoteAsset)
	if err != nil {
		return err
	}

	c.logger.Info("strategy status",
		zap.String("symbol", strat.Symbol),
		zap.String("avg_price", avgPrice.String()),
		zap.String("balance_"+filter.BaseAsset, nullDecimalString(baseBalance)),
		zap.String("balance_"+filter.QuoteAsset, nullDecimalString(quoteBalance)))

	if c.sched.ShouldInvest(strat, now) {
		if err := c.invest(ctx, strat, filter, avgPrice, quoteBalance); err != nil {
			return err
		}
	}

	c.logOrders(ctx, strat.Symbol)
	return nil
}

// invest validates and submits one limit buy for the strategy.
// Exchange-side rejections abort only this attempt; transient failures
// propagate so the whole cycle is retried.
func (c *Coordinator) invest(ctx context.Context, strat domain.Strategy, filter domain.SymbolFilter, avgPrice decimal.Decimal, quoteBalance decimal.NullDecimal) error {
	price := coarsePrice(avgPrice, filter.TickSize)
	amount := floorToStep(strat.Amount.DivRound(price, amountPrecision), filter.StepSize)

	c.logger.Info("investment due",
		zap.String("symbol", strat.Symbol),
		zap.String("quote_amount", strat.Amount.String()),
		zap.String("price", price.String()),
		zap.String("quantity", amount.String()))

	if !c.validator.IsOrderPossible(filter, quoteBalance, strat.Symbol, amount, price) {
		c.logger.Warn("order is not possible, skipping investment",
			zap.String("symbol", strat.Symbol))
		return nil
	}

	order, err := c.gw.PlaceLimitBuy(ctx, strat.Symbol, price, amount)
	if err != nil {
		if exchange.IsTransient(err) {
			return err
		}
		c.logger.Error("order creation failed",
			zap.String("symbol", strat.Symbol),
			zap.String("price", price.String()),
			zap.String("quantity", amount.String()),
			zap.Error(err))
		c.notifier.Notify("Order creation failed",
			fmt.Sprintf("Failed to create order for %s (price %s, quantity %s): %v",
				strat.Symbol, price, amount, err))
		return nil
	}

	c.ledger.AddUnfulfilled(order)
	c.logger.Info("new investment order created", zap.String("order", order.Info()))
	c.notifier.Notify("New order created", "New Investment order created:\n"+order.Info())
	return nil
}

// logOrders dumps the exchange's open orders and the ledger state for a symbol.
func (c *Coordinator) logOrders(ctx context.Context, symbol string) {
	open, err := c.gw.ListOpenOrders(ctx, symbol)
	if err != nil {
		c.logger.Warn("failed to list open orders",
			zap.String("symbol", symbol),
			zap.Error(err))
	} else {
		c.printOrders("current open orders", open)
	}
	c.printOrders("unfulfilled orders", c.ledger.Unfulfilled())
	c.printOrders("fulfilled orders", c.ledger.Fulfilled())
}

func (c *Coordinator) printOrders(label string, orders []domain.Order) {
	if len(orders) == 0 {
		c.logger.Info(label, zap.String("orders", "NO ORDERS"))
		return
	}
	for _, o := range orders {
		c.logger.Info(label, zap.String("order", o.Info()))
	}
}

// notifyUnfulfilled sends one reminder notification per in-flight order.
func (c *Coordinator) notifyUnfulfilled() {
	for _, o := range c.ledger.Unfulfilled() {
		c.notifier.Notify(fmt.Sprintf("Unfulfilled Order %d", o.OrderID), o.Info())
	}
}

// warmFilters prefetches the symbol filters for all strategies in parallel.
// Failures are logged only; the filter is fetched again on demand.
func (c *Coordinator) warmFilters(ctx context.Context) {
	symbols := make(map[string]struct{})
	for _, s := range c.strategies {
		symbols[s.Symbol] = struct{}{}
	}

	g, ctx := errgroup.WithContext(ctx)
	for symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			filter, err := c.gw.GetSymbolFilter(ctx, symbol)
			if err != nil {
				c.logger.Warn("failed to prefetch symbol filter",
					zap.String("symbol", symbol),
					zap.Error(err))
				return nil
			}
			c.filtersMu.Lock()
			c.filters[symbol] = filter
			c.filtersMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// symbolFilter returns the cached filter for a symbol, fetching it on a miss.
func (c *Coordinator) symbolFilter(ctx context.Context, symbol string) (domain.SymbolFilter, error) {
	c.filtersMu.Lock()
	filter, ok := c.filters[symbol]
	c.filtersMu.Unlock()
	if ok {
		return filter, nil
	}

	filter, err := c.gw.GetSymbolFilter(ctx, symbol)
	if err != nil {
		return domain.SymbolFilter{}, err
	}

	c.filtersMu.Lock()
	c.filters[symbol] = filter
	c.filtersMu.Unlock()
	return filter, nil
}

// shutdown persists the ledger, stops the tracker, and cancels all remaining
// in-flight orders. It runs on every exit path of Run.
func (c *Coordinator) shutdown() {
	c.logger.Info("shutting down")

	if err := c.ledger.Persist(); err != nil {
		c.logger.Error("failed to persist ledger on shutdown", zap.Error(err))
	}

	c.logger.Info("waiting for fulfillment tracker to finish, this can take a few seconds")
	c.tracker.StopAndJoin()

	c.cancelUnfulfilled()

	c.notifier.Notify("Bot shut down",
		"Bot shut down at: "+time.Now().Format("02.01.2006 15:04:05"))
	c.logger.Info("process exited")
}

// cancelUnfulfilled cancels every remaining in-flight order, retrying
// indefinitely on transient network failures and skipping orders the
// exchange refuses to cancel.
func (c *Coordinator) cancelUnfulfilled() {
	ctx := context.Background()
	for _, o := range c.ledger.Unfulfilled() {
		for {
			err := c.gw.CancelOrder(ctx, o.Symbol, o.OrderID)
			if err == nil {
				c.ledger.RemoveUnfulfilled(o.OrderID)
				c.logger.Info("order canceled",
					zap.String("symbol", o.Symbol),
					zap.Int64("order_id", o.OrderID))
				break
			}
			if exchange.IsTransient(err) {
				c.logger.Warn("no connection while canceling orders, retrying",
					zap.Int64("order_id", o.OrderID),
					zap.Duration("retry_delay", c.retryDelay),
					zap.Error(err))
				time.Sleep(c.retryDelay)
				continue
			}
			c.logger.Error("order could not be canceled",
				zap.Int64("order_id", o.OrderID),
				zap.Error(err))
			c.notifier.Notify(fmt.Sprintf("Order %d could not be canceled", o.OrderID), err.Error())
			break
		}
	}
}

// sleep pauses for d, returning false if ctx was cancelled first.
func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// coarsePrice floors the market price to a grid ten times coarser than the
// tick size. The bot deliberately bids slightly below the market, trading
// execution probability for a small discount. When the coarse grid would
// floor the price to zero, the tick grid itself is used.
func coarsePrice(avg, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return avg
	}
	price := floorToStep(avg, tick.Mul(decimal.NewFromInt(10)))
	if price.IsZero() {
		price = floorToStep(avg, tick)
	}
	return price
}

// floorToStep rounds v down to the nearest multiple of step.
func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.DivRound(step, 28).Floor().Mul(step)
}

func nullDecimalString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "N/A"
	}
	return d.Decimal.String()
}
