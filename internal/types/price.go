package types

import "github.com/shopspring/decimal"

// OptionalPrice is a price that may be absent. The zero value is absent,
// which keeps "no stop" distinct from "stop at zero".
type OptionalPrice struct {
	value decimal.Decimal
	set   bool
}

// PriceOf returns a present price.
func PriceOf(v decimal.Decimal) OptionalPrice {
	return OptionalPrice{value: v, set: true}
}

// NoPrice returns an absent price.
func NoPrice() OptionalPrice {
	return OptionalPrice{}
}

// Get returns the price and whether it is present.
func (p OptionalPrice) Get() (decimal.Decimal, bool) {
	return p.value, p.set
}

// IsSet reports whether the price is present.
func (p OptionalPrice) IsSet() bool {
	return p.set
}

// Value returns the price, or zero when absent.
func (p OptionalPrice) Value() decimal.Decimal {
	if !p.set {
		return decimal.Zero
	}
	return p.value
}

// Equal compares presence and value.
func (p OptionalPrice) Equal(o OptionalPrice) bool {
	if p.set != o.set {
		return false
	}
	return !p.set || p.value.Equal(o.value)
}

// Or returns p when present, otherwise fallback.
func (p OptionalPrice) Or(fallback OptionalPrice) OptionalPrice {
	if p.set {
		return p
	}
	return fallback
}

func (p OptionalPrice) String() string {
	if !p.set {
		return "none"
	}
	return p.value.String()
}
