// Package validator checks a prospective order against the exchange's
// trading filters before it is submitted. The exchange would reject a
// malformed order anyway, but validating locally saves the round trip and
// yields an actionable error instead of an opaque remote rejection.
package validator

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dcabot/internal/domain"
	"dcabot/internal/notify"
)

// Validator validates orders against symbol trading filters.
// Every rejection reason is logged and pushed to the notification sink.
type Validator struct {
	logger   *zap.Logger
	notifier notify.Notifier
}

// New creates a Validator. Nil logger or notifier fall back to no-ops.
func New(logger *zap.Logger, notifier notify.Notifier) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Validator{logger: logger, notifier: notifier}
}

// IsOrderPossible reports whether a limit buy of amount base asset at price
// passes the symbol's trading filters and the available quote balance.
// Checks short-circuit: the first failing check rejects the order.
func (v *Validator) IsOrderPossible(filter domain.SymbolFilter, quoteBalance decimal.NullDecimal, symbol string, amount, price decimal.Decimal) bool {
	if !v.hasEnoughBalance(filter.QuoteAsset, quoteBalance, amount) {
		return false
	}
	if !v.priceInFilter(filter, symbol, price) {
		return false
	}
	if !v.amountInFilter(filter, symbol, amount, price) {
		return false
	}
	return true
}

// hasEnoughBalance checks that the quote balance is known and not smaller
// than the requested amount.
func (v *Validator) hasEnoughBalance(quoteAsset string, quoteBalance decimal.NullDecimal, amount decimal.Decimal) bool {
	if !quoteBalance.Valid {
		v.reject(fmt.Sprintf("No balance found for %s", quoteAsset))
		return false
	}
	if quoteBalance.Decimal.LessThan(amount) {
		v.reject(fmt.Sprintf("Not enough %s in account to complete order", quoteAsset))
		return false
	}
	return true
}

// priceInFilter checks the price bounds and the tick size grid.
func (v *Validator) priceInFilter(filter domain.SymbolFilter, symbol string, price decimal.Decimal) bool {
	if price.LessThan(filter.MinPrice) || price.GreaterThan(filter.MaxPrice) {
		v.reject(fmt.Sprintf("Price %s is not in price filter for symbol %s [%s-%s]",
			price, symbol, filter.MinPrice, filter.MaxPrice))
		return false
	}

	if !matchesStep(price, filter.TickSize) {
		v.reject(fmt.Sprintf("Price %s does not match price filters step size for symbol %s of %s",
			price, symbol, filter.TickSize))
		return false
	}
	return true
}

// amountInFilter checks the quantity bounds, the lot step grid and the
// minimum notional value.
func (v *Validator) amountInFilter(filter domain.SymbolFilter, symbol string, amount, price decimal.Decimal) bool {
	if amount.LessThan(filter.MinQty) || amount.GreaterThan(filter.MaxQty) {
		v.reject(fmt.Sprintf("Amount %s is not in amount filter for symbol %s [%s-%s]",
			amount, symbol, filter.MinQty, filter.MaxQty))
		return false
	}

	if !matchesStep(amount, filter.StepSize) {
		v.reject(fmt.Sprintf("Amount %s does not match amount filters step size for symbol %s of %s",
			amount, symbol, filter.StepSize))
		return false
	}

	notional := amount.Mul(price)
	if notional.LessThan(filter.MinNotional) {
		v.reject(fmt.Sprintf("Notional %s is smaller than min notional %s for symbol %s",
			notional, filter.MinNotional, symbol))
		return false
	}
	return true
}

// matchesStep reports whether value sits exactly on the step grid.
// The comparison mirrors the exchange's own rule: round(value/step)*step must
// reproduce value bit-for-bit in decimal arithmetic. RoundBank matches the
// half-to-even rounding the venue applies.
func matchesStep(value, step decimal.Decimal) bool {
	if step.IsZero() {
		return true
	}
	rounded := value.DivRound(step, 28).RoundBank(0).Mul(step)
	return value.Equal(rounded)
}

func (v *Validator) reject(reason string) {
	v.logger.Error("order validation failed", zap.String("reason", reason))
	v.notifier.Notify("Order validation failed", reason)
}
