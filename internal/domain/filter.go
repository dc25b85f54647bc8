package domain

import "github.com/shopspring/decimal"

// SymbolFilter holds the exchange-mandated trading constraints for a symbol.
// It is fetched once per symbol and cached for the process lifetime.
type SymbolFilter struct {
	// Symbol is the traded pair this filter applies to.
	Symbol string
	// BaseAsset is the purchased currency of the pair.
	BaseAsset string
	// QuoteAsset is the pricing currency of the pair.
	QuoteAsset string
	// MinPrice is the lowest accepted order price.
	MinPrice decimal.Decimal
	// MaxPrice is the highest accepted order price.
	MaxPrice decimal.Decimal
	// TickSize is the price increment granularity; zero disables the step check.
	TickSize decimal.Decimal
	// MinQty is the smallest accepted order quantity.
	MinQty decimal.Decimal
	// MaxQty is the largest accepted order quantity.
	MaxQty decimal.Decimal
	// StepSize is the quantity increment granularity; zero disables the step check.
	StepSize decimal.Decimal
	// MinNotional is the minimum accepted value of price*quantity.
	MinNotional decimal.Decimal
}
