// Package protocol implements the notification frame format of Chipsea based
// kitchen scales (Smart Chef "smartchef" and "Chipsea-BLE" models).
//
// A frame is laid out as follows:
//
//	0  magic (0xCA)
//	1  protocol version (0x10)
//	2  reserved
//	3  attributes: bit 0 locked, bits 1-2 decimals, bits 3-6 unit, bit 7 sign
//	4  reserved
//	5  weight (high byte)
//	6  weight (low byte)
//	7  checksum, XOR over bytes 1..6
//
// XOR-reducing every byte from index 1 to the end of a valid frame yields zero.
package protocol

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// Magic is the sentinel value starting every frame
	Magic = 0xCA

	// Version is the only supported protocol version
	Version = 0x10

	// MinFrameLength is the minimum number of bytes of a frame
	MinFrameLength = 7

	// FrameLength is the length of the frames produced by Encode
	FrameLength = 8

	idxMagic      = 0
	idxVersion    = 1
	idxAttributes = 3
	idxWeightHigh = 5
	idxWeightLow  = 6
)

// Reading denotes a single decoded weight
type Reading struct {

	// Magnitude is the signed weight, its exponent equals -Decimals
	Magnitude decimal.Decimal

	// Decimals is the number of fractional digits (the resolution of the scale)
	Decimals int

	Unit   UnitCode
	Locked bool
}

// String renders the magnitude with exactly Decimals fractional digits
func (r Reading) String() string {
	return r.Magnitude.StringFixed(int32(r.Decimals))
}

// Equal returns if two readings denote the same measurement
func (r Reading) Equal(o Reading) bool {
	return r.Decimals == o.Decimals &&
		r.Unit == o.Unit &&
		r.Locked == o.Locked &&
		r.Magnitude.Equal(o.Magnitude)
}

// Checksum returns the XOR of all given bytes
func Checksum(data []byte) byte {
	var checksum byte
	for _, b := range data {
		checksum ^= b
	}
	return checksum
}

// Decode validates a raw notification frame and extracts the reading it carries.
// Any failure is returned as *DecodeError
func Decode(frame []byte) (Reading, error) {

	if len(frame) < MinFrameLength {
		return Reading{}, newDecodeError(ErrFrameTooShort, frame, "got %d bytes, need at least %d", len(frame), MinFrameLength)
	}
	if frame[idxMagic] != Magic {
		return Reading{}, newDecodeError(ErrInvalidMagic, frame, "got %#02x, want %#02x", frame[idxMagic], Magic)
	}
	if frame[idxVersion] != Version {
		return Reading{}, newDecodeError(ErrUnsupportedVersion, frame, "got %#02x, want %#02x", frame[idxVersion], Version)
	}
	if sum := Checksum(frame[idxVersion:]); sum != 0 {
		return Reading{}, newDecodeError(ErrChecksumMismatch, frame, "residual %#02x", sum)
	}

	attributes := frame[idxAttributes]
	digits, ok := DecimalsCode(attributes & maskDecimals).Digits()
	if !ok {
		return Reading{}, newDecodeError(ErrUnknownDecimalsCode, frame, "attributes %08b", attributes)
	}
	unit := UnitCode(attributes & maskUnit)
	if _, ok := unit.Unit(); !ok {
		return Reading{}, newDecodeError(ErrUnknownUnitCode, frame, "attributes %08b", attributes)
	}

	raw := int64(frame[idxWeightHigh])<<8 | int64(frame[idxWeightLow])
	if attributes&maskSign != 0 {
		raw = -raw
	}

	return Reading{
		Magnitude: decimal.New(raw, -int32(digits)),
		Decimals:  digits,
		Unit:      unit,
		Locked:    attributes&maskLocked != 0,
	}, nil
}

// Encode builds the frame a scale would send for the given reading. The magnitude
// is truncated to Decimals fractional digits
func Encode(r Reading) ([]byte, error) {

	code, err := DecimalsCodeFor(r.Decimals)
	if err != nil {
		return nil, err
	}
	if _, ok := r.Unit.Unit(); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnitCode, r.Unit)
	}

	attributes := byte(code) | byte(r.Unit)
	if r.Locked {
		attributes |= maskLocked
	}
	if r.Magnitude.IsNegative() {
		attributes |= maskSign
	}

	scaled := r.Magnitude.Abs().Shift(int32(r.Decimals)).Truncate(0)
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxUint16)) {
		return nil, fmt.Errorf("%w: %s", ErrMagnitudeOverflow, r)
	}
	raw := uint16(scaled.IntPart())

	frame := []byte{Magic, Version, 0x00, attributes, 0x00, byte(raw >> 8), byte(raw), 0x00}
	frame[FrameLength-1] = Checksum(frame[idxVersion : FrameLength-1])

	return frame, nil
}
