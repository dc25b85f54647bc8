// Package tracker polls the exchange for the status of every in-flight order
// and migrates filled orders into the ledger's fulfilled sequence.
package tracker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dcabot/internal/domain"
	"dcabot/internal/exchange"
	"dcabot/internal/ledger"
	"dcabot/internal/notify"
)

// DefaultPollInterval is the pause between polling passes.
const DefaultPollInterval = 5 * time.Second

// statusTimeout bounds a single status query.
const statusTimeout = 15 * time.Second

// OnFilled is invoked once per order when the exchange reports it filled.
// It must not block indefinitely; it runs on the tracker goroutine.
type OnFilled func(order domain.Order)

// StatusSource queries the current state of an order on the exchange.
type StatusSource interface {
	GetOrderStatus(ctx context.Context, symbol string, orderID int64) (domain.Order, error)
}

// Config holds the tracker's collaborators and settings.
type Config struct {
	// Ledger is the order ledger to poll and migrate orders in.
	Ledger *ledger.Ledger
	// Source answers order status queries, usually the exchange gateway.
	Source StatusSource
	// OnFilled is fired for every order that reaches FILLED.
	OnFilled OnFilled
	// Notifier receives status-check failure notifications.
	Notifier notify.Notifier
	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
	// Logger is the logger instance.
	Logger *zap.Logger
}

// Tracker is the long-lived fulfillment polling task.
//
// Per tracked order the state machine is SUBMITTED -> FILLED (terminal,
// triggers the ledger transfer and the OnFilled callback); any other status
// leaves the order in place for the next pass. A transient network failure
// on one order's query skips that order for the cycle. Any other error is
// fail-stop: the tracker logs and notifies, records the error, and
// terminates, because an unknown error class makes continued state
// unreliable.
type Tracker struct {
	ledger   *ledger.Ledger
	source   StatusSource
	onFilled OnFilled
	notifier notify.Notifier
	interval time.Duration
	logger   *zap.Logger

	stop chan struct{}
	done chan struct{}
	err  error
}

// New creates a Tracker. Call Start to begin polling.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	onFilled := cfg.OnFilled
	if onFilled == nil {
		onFilled = func(domain.Order) {}
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	return &Tracker{
		ledger:   cfg.Ledger,
		source:   cfg.Source,
		onFilled: onFilled,
		notifier: notifier,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the polling goroutine.
func (t *Tracker) Start() {
	go t.run()
}

// Done is closed when the polling goroutine has exited, whether stopped
// cooperatively or terminated by a fatal error.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Err returns the fatal error that terminated the tracker, if any.
// Only valid after Done is closed.
func (t *Tracker) Err() error {
	return t.err
}

// StopAndJoin requests a cooperative stop and blocks until the polling
// goroutine observes it and returns. The stop flag is checked once per
// cycle, so worst-case latency is one poll interval plus one full pass.
func (t *Tracker) StopAndJoin() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	<-t.done
}

func (t *Tracker) run() {
	defer close(t.done)
	t.logger.Debug("fulfillment tracker started", zap.Duration("poll_interval", t.interval))

	for {
		select {
		case <-t.stop:
			t.logger.Debug("fulfillment tracker stopped")
			return
		case <-time.After(t.interval):
		}

		for _, order := range t.ledger.Unfulfilled() {
			if err := t.check(order); err != nil {
				t.err = err
				t.logger.Error("error while checking unfulfilled orders, tracker stopped",
					zap.Error(err))
				t.notifier.Notify("DCA bot error",
					"Error while checking unfulfilled orders: "+err.Error())
				return
			}
		}
	}
}

// check polls a single order. Transient failures are skipped; a nil return
// with no transfer means "still unfulfilled, try again next pass".
func (t *Tracker) check(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	current, err := t.source.GetOrderStatus(ctx, order.Symbol, order.OrderID)
	if err != nil {
		if exchange.IsTransient(err) {
			t.logger.Warn("order status check failed, will retry next cycle",
				zap.String("symbol", order.Symbol),
				zap.Int64("order_id", order.OrderID),
				zap.Error(err))
			t.notifier.Notify("Order status check failed",
				fmt.Sprintf("Order %d (%s): %v", order.OrderID, order.Symbol, err))
			return nil
		}
		return err
	}

	if !current.IsFilled() {
		return nil
	}

	t.onFilled(current)

	moved, err := t.ledger.MarkFulfilled(order.OrderID, current)
	if err != nil {
		return err
	}
	if moved {
		t.logger.Info("order fully filled", zap.String("order", current.Info()))
	}
	return nil
}
