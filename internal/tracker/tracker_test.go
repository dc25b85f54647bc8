package tracker_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcabot/internal/domain"
	"dcabot/internal/exchange"
	"dcabot/internal/ledger"
	"dcabot/internal/tracker"
)

// fakeSource serves scripted order statuses and records every query.
type fakeSource struct {
	mu       sync.Mutex
	statuses map[int64]domain.Order
	errs     map[int64]error
	queries  int
}

func (f *fakeSource) GetOrderStatus(_ context.Context, symbol string, orderID int64) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if err, ok := f.errs[orderID]; ok {
		return domain.Order{}, err
	}
	order, ok := f.statuses[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("no scripted status for order %d on %s", orderID, symbol)
	}
	return order, nil
}

func (f *fakeSource) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

// fakeNotifier records notification titles.
type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Notify(title, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *fakeNotifier) has(title string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.titles {
		if t == title {
			return true
		}
	}
	return false
}

func submittedOrder(orderID int64) domain.Order {
	return domain.Order{
		Symbol:      "ETHUSDT",
		OrderID:     orderID,
		Side:        domain.OrderSideBuy,
		Type:        domain.OrderTypeLimit,
		Status:      domain.OrderStatusNew,
		Price:       decimal.RequireFromString("4120.50"),
		OrigQty:     decimal.RequireFromString("0.0029"),
		TimeInForce: "GTC",
		Time:        time.Now().UnixMilli(),
	}
}

func filledVersion(order domain.Order) domain.Order {
	order.Status = domain.OrderStatusFilled
	order.ExecutedQty = order.OrigQty
	order.CumQuoteQty = order.OrigQty.Mul(order.Price)
	return order
}

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	return ledger.New(filepath.Join(t.TempDir(), "orders.json"), nil)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestTracker_FilledOrderIsTransferred(t *testing.T) {
	t.Parallel()

	l := newLedger(t)
	order := submittedOrder(1)
	l.AddUnfulfilled(order)

	filled := filledVersion(order)
	source := &fakeSource{statuses: map[int64]domain.Order{1: filled}}

	var mu sync.Mutex
	var notified []domain.Order

	tr := tracker.New(tracker.Config{
		Ledger:       l,
		Source:       source,
		PollInterval: 10 * time.Millisecond,
		OnFilled: func(o domain.Order) {
			mu.Lock()
			notified = append(notified, o)
			mu.Unlock()
		},
	})
	tr.Start()
	defer tr.StopAndJoin()

	waitFor(t, 2*time.Second, func() bool { return len(l.Fulfilled()) == 1 })

	assert.Empty(t, l.Unfulfilled())
	got := l.Fulfilled()[0]
	assert.True(t, filled.Equal(got))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notified, 1)
	assert.True(t, filled.Equal(notified[0]))
}

func TestTracker_PartialFillStaysUnfulfilled(t *testing.T) {
	t.Parallel()

	l := newLedger(t)
	order := submittedOrder(1)
	l.AddUnfulfilled(order)

	partial := order
	partial.Status = domain.OrderStatusPartiallyFilled
	partial.ExecutedQty = decimal.RequireFromString("0.001")
	source := &fakeSource{statuses: map[int64]domain.Order{1: partial}}

	tr := tracker.New(tracker.Config{
		Ledger:       l,
		Source:       source,
		PollInterval: 10 * time.Millisecond,
	})
	tr.Start()

	waitFor(t, 2*time.Second, func() bool { return source.queryCount() >= 3 })
	tr.StopAndJoin()

	assert.Len(t, l.Unfulfilled(), 1)
	assert.Empty(t, l.Fulfilled())
	assert.NoError(t, tr.Err())
}

func TestTracker_TransientErrorSkipsOrder(t *testing.T) {
	t.Parallel()

	l := newLedger(t)
	flaky := submittedOrder(1)
	healthy := submittedOrder(2)
	l.AddUnfulfilled(flaky)
	l.AddUnfulfilled(healthy)

	source := &fakeSource{
		statuses: map[int64]domain.Order{2: filledVersion(healthy)},
		errs:     map[int64]error{1: fmt.Errorf("send request: %w: connection reset", exchange.ErrTransient)},
	}

	notifier := &fakeNotifier{}
	tr := tracker.New(tracker.Config{
		Ledger:       l,
		Source:       source,
		Notifier:     notifier,
		PollInterval: 10 * time.Millisecond,
	})
	tr.Start()

	// The healthy order fills; the flaky one survives the failed checks.
	waitFor(t, 2*time.Second, func() bool { return len(l.Fulfilled()) == 1 })
	tr.StopAndJoin()

	require.Len(t, l.Unfulfilled(), 1)
	assert.EqualValues(t, 1, l.Unfulfilled()[0].OrderID)
	assert.NoError(t, tr.Err())

	// Each failed status check is pushed to the notification sink.
	assert.True(t, notifier.has("Order status check failed"))
}

func TestTracker_FatalErrorStopsPolling(t *testing.T) {
	t.Parallel()

	l := newLedger(t)
	l.AddUnfulfilled(submittedOrder(1))

	fatal := errors.New("order ledger corrupted")
	source := &fakeSource{errs: map[int64]error{1: fatal}}

	notifier := &fakeNotifier{}
	tr := tracker.New(tracker.Config{
		Ledger:       l,
		Source:       source,
		Notifier:     notifier,
		PollInterval: 10 * time.Millisecond,
	})
	tr.Start()

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not terminate on fatal error")
	}

	assert.ErrorIs(t, tr.Err(), fatal)
	assert.Len(t, l.Unfulfilled(), 1)

	// The fail-stop fires the notification sink, not just the log.
	assert.True(t, notifier.has("DCA bot error"))
}

func TestTracker_StopAndJoin(t *testing.T) {
	t.Parallel()

	tr := tracker.New(tracker.Config{
		Ledger:       newLedger(t),
		Source:       &fakeSource{},
		PollInterval: 10 * time.Millisecond,
	})
	tr.Start()

	done := make(chan struct{})
	go func() {
		tr.StopAndJoin()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopAndJoin did not return")
	}
	assert.NoError(t, tr.Err())

	// Stopping twice is safe.
	tr.StopAndJoin()
}
