// Package format turns decoded readings into display text.
//
// Millilitres are a display policy decision rather than a protocol fact: the scale
// reports them with the same magnitude it would report in grams, so by default they
// are substituted with fluid ounces.
package format

import (
	"github.com/fako1024/smartchef/pkg/protocol"
	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/shopspring/decimal"
)

// FluidOuncesPerMillilitre is the conversion factor applied to millilitre readings
var FluidOuncesPerMillilitre = decimal.RequireFromString("0.033814")

// Converter denotes a unit conversion policy
type Converter struct {

	// FluidOunces enables the millilitre to fluid ounce substitution
	FluidOunces bool
}

// Default is the converter used unless configured otherwise
var Default = Converter{FluidOunces: true}

// Display returns the value and unit text for a reading using the default converter
func Display(r protocol.Reading) (string, string) {
	return Default.Display(r)
}

// Display returns the value and unit text for a reading
func (c Converter) Display(r protocol.Reading) (string, string) {
	unit, ok := r.Unit.Unit()
	if !ok {
		unit = scale.UnitUnknown
	}

	if unit == scale.UnitMillilitres && c.FluidOunces {
		return ToSignificant(r.Magnitude.Mul(FluidOuncesPerMillilitre), SignificantDigits(r)), string(scale.UnitFluidOunces)
	}

	return r.String(), string(unit)
}

// SignificantDigits returns the number of significant digits of the fixed point
// rendering of a reading (leading zeros do not count, trailing zeros do)
func SignificantDigits(r protocol.Reading) int {
	var (
		n       int
		leading = true
	)
	for _, ch := range r.String() {
		if ch < '0' || ch > '9' {
			continue
		}
		if leading && ch == '0' {
			continue
		}
		leading = false
		n++
	}

	// An all-zero rendering carries its resolution in the number of decimals
	if n == 0 {
		return r.Decimals + 1
	}
	return n
}

// ToSignificant renders a value rounded to the given number of significant digits
// in fixed point notation
func ToSignificant(v decimal.Decimal, digits int) string {
	if digits < 1 {
		digits = 1
	}
	if v.IsZero() {
		return v.StringFixed(int32(digits - 1))
	}

	places := int32(digits) - 1 - adjustedExponent(v)
	rounded := v.Round(places)

	// Rounding may carry into a new leading digit (e.g. 9.996 -> 10.00)
	if adjustedExponent(rounded) > adjustedExponent(v) {
		places--
		rounded = v.Round(places)
	}

	if places < 0 {
		places = 0
	}
	return rounded.StringFixed(places)
}

// adjustedExponent returns the power of ten of the most significant digit
func adjustedExponent(v decimal.Decimal) int32 {
	return int32(v.NumDigits()) + v.Exponent() - 1
}
