// Package currency normalizes monetary amounts to a reference currency using
// a static units-per-reference table.
package currency

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultReference = "USD"

// Converter holds an immutable units-per-reference table. A rate of 0.92 for
// EUR means one reference unit buys 0.92 EUR.
type Converter struct {
	reference string
	units     map[string]decimal.Decimal
}

// New builds a Converter. Entries with non-positive or non-finite rates are
// ignored.
// The reference currency is always present with rate 1.
func New(table map[string]float64, reference string) *Converter {
	if reference == "" {
		reference = DefaultReference
	}
	reference = strings.ToUpper(reference)
	c := &Converter{reference: reference, units: make(map[string]decimal.Decimal, len(table)+1)}
	for code, rate := range table {
		if !finite(rate) || rate <= 0 {
			continue
		}
		c.units[strings.ToUpper(strings.TrimSpace(code))] = decimal.NewFromFloat(rate)
	}
	c.units[reference] = decimal.NewFromInt(1)
	return c
}

func (c *Converter) Reference() string { return c.reference }

func (c *Converter) Supported(code string) bool {
	_, ok := c.units[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// Codes lists supported currency codes in sorted order.
func (c *Converter) Codes() []string {
	codes := make([]string, 0, len(c.units))
	for code := range c.units {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Convert returns amount expressed in the reference currency, rounded to two
// decimals. ok is false when the amount or code is missing or the code is not
// in the table; callers must then omit the derived field.
func (c *Converter) Convert(amount *float64, code string) (float64, bool) {
	if amount == nil || !finite(*amount) {
		return 0, false
	}
	rate, ok := c.units[strings.ToUpper(strings.TrimSpace(code))]
	if !ok || code == "" {
		return 0, false
	}
	v, _ := decimal.NewFromFloat(*amount).DivRound(rate, 8).Round(2).Float64()
	return v, true
}

// ConvertPtr is Convert returning nil for unsupported input.
func (c *Converter) ConvertPtr(amount *float64, code string) *float64 {
	v, ok := c.Convert(amount, code)
	if !ok {
		return nil
	}
	return &v
}

// FromReference converts a reference amount back into code.
func (c *Converter) FromReference(amount float64, code string) (float64, bool) {
	if !finite(amount) {
		return 0, false
	}
	rate, ok := c.units[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return 0, false
	}
	v, _ := decimal.NewFromFloat(amount).Mul(rate).Round(2).Float64()
	return v, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
