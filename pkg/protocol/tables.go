package protocol

import (
	"fmt"

	"github.com/fako1024/smartchef/pkg/scale"
)

const (
	maskLocked   = 0b00000001
	maskDecimals = 0b00000110
	maskUnit     = 0b01111000
	maskSign     = 0b10000000
)

// DecimalsCode denotes the raw fractional digit bits of the attributes byte
type DecimalsCode byte

// Known decimals codes
const (
	Decimals0 DecimalsCode = 0b000
	Decimals1 DecimalsCode = 0b010
	Decimals2 DecimalsCode = 0b100
	Decimals3 DecimalsCode = 0b110
)

var decimalsTable = map[DecimalsCode]int{
	Decimals0: 0,
	Decimals1: 1,
	Decimals2: 2,
	Decimals3: 3,
}

// Digits returns the number of fractional digits the code stands for
func (c DecimalsCode) Digits() (int, bool) {
	d, ok := decimalsTable[c]
	return d, ok
}

// DecimalsCodeFor returns the code for a number of fractional digits
func DecimalsCodeFor(digits int) (DecimalsCode, error) {
	for code, d := range decimalsTable {
		if d == digits {
			return code, nil
		}
	}
	return 0, fmt.Errorf("%w: %d fractional digits", ErrUnknownDecimalsCode, digits)
}

// UnitCode denotes the raw unit bits of the attributes byte
type UnitCode byte

// Known unit codes. Both pound codes exist in the field: Chipsea-BLE models report
// UnitPoundsChipsea, smartchef models report UnitPoundsSmartchef
const (
	UnitGrams           UnitCode = 0b0000000
	UnitMillilitres     UnitCode = 0b0001000
	UnitPoundsChipsea   UnitCode = 0b1001000
	UnitPoundsSmartchef UnitCode = 0b0110000
)

var unitTable = map[UnitCode]scale.Unit{
	UnitGrams:           scale.UnitGrams,
	UnitMillilitres:     scale.UnitMillilitres,
	UnitPoundsChipsea:   scale.UnitPounds,
	UnitPoundsSmartchef: scale.UnitPounds,
}

// Unit returns the measurement unit the code stands for
func (c UnitCode) Unit() (scale.Unit, bool) {
	u, ok := unitTable[c]
	return u, ok
}

// String fulfils the Stringer interface
func (c UnitCode) String() string {
	if u, ok := c.Unit(); ok {
		return string(u)
	}
	return fmt.Sprintf("UnitCode(0b%07b)", byte(c))
}
