// Package scheduler decides, per strategy, whether a new investment is due.
package scheduler

import (
	"time"

	"go.uber.org/zap"

	"dcabot/internal/domain"
)

// History is the slice of the ledger the scheduler needs: the investment
// history and the set of in-flight buy orders.
type History interface {
	// LastFulfilledBuy returns the most recent fulfilled buy order for the
	// symbol, in ledger insertion order.
	LastFulfilledBuy(symbol string) (domain.Order, bool)
	// HasUnfulfilledBuy reports whether an in-flight buy order exists for the symbol.
	HasUnfulfilledBuy(symbol string) bool
}

// Scheduler evaluates investment strategies against the order history.
type Scheduler struct {
	history History
	logger  *zap.Logger
}

// New creates a Scheduler reading from the given history.
func New(history History, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{history: history, logger: logger}
}

// ShouldInvest reports whether the strategy is due for a new purchase at now.
//
// A strategy whose investment start lies in the future is skipped without
// touching the history. Otherwise a purchase is due when no fulfilled buy
// exists yet, or when the last one is older than the strategy interval —
// in both cases only if no buy order for the symbol is already in flight.
func (s *Scheduler) ShouldInvest(strat domain.Strategy, now time.Time) bool {
	start := strat.InvestmentStart()
	if now.Before(start) {
		s.logger.Info("investment not started yet",
			zap.String("symbol", strat.Symbol),
			zap.Time("investment_start", start))
		return false
	}

	last, found := s.history.LastFulfilledBuy(strat.Symbol)
	if !found {
		if s.history.HasUnfulfilledBuy(strat.Symbol) {
			s.logger.Info("investment order is in place, wait for it to be filled",
				zap.String("symbol", strat.Symbol))
			return false
		}
		s.logger.Info("no previous investment found, invest now",
			zap.String("symbol", strat.Symbol))
		return true
	}

	next := s.nextInvestmentTime(strat, last, now.Location())
	s.logger.Info("investment status",
		zap.String("symbol", strat.Symbol),
		zap.Time("last_investment", last.CreatedAt()),
		zap.Time("next_investment", next))

	if now.Before(next) {
		return false
	}
	if s.history.HasUnfulfilledBuy(strat.Symbol) {
		s.logger.Info("investment order is in place, wait for it to be filled",
			zap.String("symbol", strat.Symbol))
		return false
	}
	return true
}

// nextInvestmentTime computes when the strategy is due again: midnight of the
// last investment's date plus the interval in calendar days, at the
// configured time of day. Calendar-day arithmetic keeps the investment time
// stable across DST changes.
func (s *Scheduler) nextInvestmentTime(strat domain.Strategy, last domain.Order, loc *time.Location) time.Time {
	lastAt := time.UnixMilli(last.Time).In(loc)
	midnight := time.Date(lastAt.Year(), lastAt.Month(), lastAt.Day(), 0, 0, 0, 0, loc)
	next := midnight.AddDate(0, 0, strat.Interval.Days())
	hour, minute := strat.TimeOfDay()
	return time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, loc)
}
