// Package ledger is the single source of truth for the bot's order history:
// the in-memory set of unfulfilled (in-flight) orders and the durably
// persisted sequence of fulfilled orders.
//
// Both the scheduling loop and the fulfillment tracker read and mutate the
// ledger concurrently; a single mutex serializes every access, so a
// scheduling decision can never observe a fulfilled order that a concurrent
// snapshot write would miss.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"dcabot/internal/domain"
)

// Ledger holds the unfulfilled and fulfilled order sequences.
//
// Invariant: an order ID appears in at most one of the two sequences at any
// time; exactly one transfer moves it from unfulfilled to fulfilled, never
// the reverse. Unfulfilled orders live in memory only and are lost across
// restarts; the fulfilled sequence is persisted as a full JSON snapshot.
type Ledger struct {
	mu          sync.Mutex
	path        string
	unfulfilled []domain.Order
	fulfilled   []domain.Order
	logger      *zap.Logger
}

// New creates a ledger backed by the JSON snapshot file at path.
func New(path string, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		path:      path,
		fulfilled: make([]domain.Order, 0),
		logger:    logger,
	}
}

// Load reads the fulfilled-order snapshot from disk.
// A missing file initializes an empty fulfilled sequence, not an error.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.fulfilled = make([]domain.Order, 0)
			return nil
		}
		return fmt.Errorf("read order file: %w", err)
	}

	var orders []domain.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return fmt.Errorf("parse order file %s: %w", l.path, err)
	}
	if orders == nil {
		orders = make([]domain.Order, 0)
	}

	l.fulfilled = orders
	l.logger.Info("fulfilled orders loaded",
		zap.String("path", l.path),
		zap.Int("count", len(orders)))
	return nil
}

// Persist writes the fulfilled-order snapshot to disk.
func (l *Ledger) Persist() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persistLocked()
}

// persistLocked writes the full snapshot atomically: marshal to a temp file
// in the same directory, then rename over the target. A crash mid-write
// leaves the previous snapshot intact.
func (l *Ledger) persistLocked() error {
	data, err := json.MarshalIndent(l.fulfilled, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal fulfilled orders: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create order file dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp order file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write order file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close order file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace order file: %w", err)
	}
	return nil
}

// AddUnfulfilled appends a newly submitted order to the unfulfilled sequence.
func (l *Ledger) AddUnfulfilled(order domain.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unfulfilled = append(l.unfulfilled, order)
}

// Unfulfilled returns a copy of the unfulfilled sequence in submission order.
func (l *Ledger) Unfulfilled() []domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Order, len(l.unfulfilled))
	copy(out, l.unfulfilled)
	return out
}

// Fulfilled returns a copy of the fulfilled sequence in fill order.
func (l *Ledger) Fulfilled() []domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Order, len(l.fulfilled))
	copy(out, l.fulfilled)
	return out
}

// MarkFulfilled transfers the order with the given ID from unfulfilled to
// fulfilled, storing the filled snapshot, and persists the fulfilled
// sequence before returning. The transfer and the snapshot write happen
// under one critical section.
// Returns false if no unfulfilled order with that ID exists.
func (l *Ledger) MarkFulfilled(orderID int64, filled domain.Order) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i, o := range l.unfulfilled {
		if o.OrderID == orderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	l.unfulfilled = append(l.unfulfilled[:idx], l.unfulfilled[idx+1:]...)
	l.fulfilled = append(l.fulfilled, filled)

	if err := l.persistLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// RemoveUnfulfilled drops a cancelled order from the unfulfilled sequence
// without it ever entering the fulfilled sequence.
// Returns false if no unfulfilled order with that ID exists.
func (l *Ledger) RemoveUnfulfilled(orderID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, o := range l.unfulfilled {
		if o.OrderID == orderID {
			l.unfulfilled = append(l.unfulfilled[:i], l.unfulfilled[i+1:]...)
			return true
		}
	}
	return false
}

// LastFulfilledBuy returns the most recent fulfilled buy order for the
// symbol. "Most recent" means last in ledger insertion order, not highest
// timestamp: fulfilled orders are scanned front to back and the last match
// wins.
func (l *Ledger) LastFulfilledBuy(symbol string) (domain.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var last domain.Order
	found := false
	for _, o := range l.fulfilled {
		if o.Symbol == symbol && o.Side == domain.OrderSideBuy {
			last = o
			found = true
		}
	}
	return last, found
}

// HasUnfulfilledBuy reports whether an in-flight buy order exists for the
// symbol. Sell-side orders are ignored.
func (l *Ledger) HasUnfulfilledBuy(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, o := range l.unfulfilled {
		if o.Symbol == symbol && o.Side == domain.OrderSideBuy {
			return true
		}
	}
	return false
}
