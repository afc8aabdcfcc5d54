package protocol

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDecode(t *testing.T) {
	for _, cs := range []struct {
		name     string
		frame    []byte
		expected string
		decimals int
		unit     UnitCode
		locked   bool
	}{
		{"grams", []byte{0xCA, 0x10, 0x00, 0x00, 0x00, 0x01, 0x90, 0x81}, "400", 0, UnitGrams, false},
		{"grams_locked", withChecksum(0xCA, 0x10, 0x00, 0x01, 0x00, 0x01, 0x90), "400", 0, UnitGrams, true},
		{"one_decimal", withChecksum(0xCA, 0x10, 0x00, 0x02, 0x00, 0x00, 0x7B), "12.3", 1, UnitGrams, false},
		{"two_decimals_trailing_zero", withChecksum(0xCA, 0x10, 0x00, 0x0C, 0x00, 0x04, 0xE2), "12.50", 2, UnitMillilitres, false},
		{"three_decimals", withChecksum(0xCA, 0x10, 0x00, 0x06, 0x00, 0x00, 0x05), "0.005", 3, UnitGrams, false},
		{"negative", withChecksum(0xCA, 0x10, 0x00, 0x80, 0x00, 0x00, 0x2A), "-42", 0, UnitGrams, false},
		{"negative_zero", withChecksum(0xCA, 0x10, 0x00, 0x84, 0x00, 0x00, 0x00), "0.00", 2, UnitGrams, false},
		{"pounds_chipsea", withChecksum(0xCA, 0x10, 0x00, 0x4A, 0x00, 0x00, 0x0F), "1.5", 1, UnitPoundsChipsea, false},
		{"pounds_smartchef", withChecksum(0xCA, 0x10, 0x00, 0x33, 0x00, 0x00, 0x0F), "1.5", 1, UnitPoundsSmartchef, true},
		{"max_magnitude", withChecksum(0xCA, 0x10, 0x00, 0x00, 0x00, 0xFF, 0xFF), "65535", 0, UnitGrams, false},
		{"seven_bytes", []byte{0xCA, 0x10, 0x00, 0x00, 0x00, 0x10, 0x00}, "4096", 0, UnitGrams, false},
	} {
		t.Run(cs.name, func(t *testing.T) {
			reading, err := Decode(cs.frame)
			if err != nil {
				t.Fatalf("unexpected error decoding frame % x: %s", cs.frame, err)
			}
			if reading.String() != cs.expected {
				t.Errorf("unexpected magnitude, want %s, have %s", cs.expected, reading)
			}
			if reading.Decimals != cs.decimals {
				t.Errorf("unexpected decimals, want %d, have %d", cs.decimals, reading.Decimals)
			}
			if reading.Unit != cs.unit {
				t.Errorf("unexpected unit, want %s, have %s", cs.unit, reading.Unit)
			}
			if reading.Locked != cs.locked {
				t.Errorf("unexpected lock state, want %v, have %v", cs.locked, reading.Locked)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, cs := range []struct {
		name     string
		frame    []byte
		expected error
	}{
		{"empty", nil, ErrFrameTooShort},
		{"short", []byte{0xCA, 0x10, 0x00, 0x00, 0x00, 0x01}, ErrFrameTooShort},
		{"bad_magic", []byte{0xCB, 0x10, 0x00, 0x00, 0x00, 0x01, 0x90, 0x80}, ErrInvalidMagic},
		{"bad_version", withChecksum(0xCA, 0x11, 0x00, 0x00, 0x00, 0x01, 0x90), ErrUnsupportedVersion},
		{"bad_checksum", []byte{0xCA, 0x10, 0x00, 0x00, 0x00, 0x01, 0x90, 0x80}, ErrChecksumMismatch},
		{"unknown_unit", withChecksum(0xCA, 0x10, 0x00, 0x10, 0x00, 0x01, 0x90), ErrUnknownUnitCode},
		{"unknown_unit_high_bits", withChecksum(0xCA, 0x10, 0x00, 0x78, 0x00, 0x01, 0x90), ErrUnknownUnitCode},
	} {
		t.Run(cs.name, func(t *testing.T) {
			_, err := Decode(cs.frame)
			if !errors.Is(err, cs.expected) {
				t.Fatalf("unexpected error, want %v, have %v", cs.expected, err)
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("error is not a *DecodeError: %T", err)
			}
		})
	}
}

func TestValidationOrder(t *testing.T) {

	// Bad magic, bad version and bad checksum at once: the magic is checked first
	frame := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF}
	if _, err := Decode(frame); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected invalid magic, have %v", err)
	}
	frame[0] = Magic
	if _, err := Decode(frame); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected unsupported version, have %v", err)
	}
	frame[1] = Version
	if _, err := Decode(frame); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, have %v", err)
	}
}

func TestDecodeTables(t *testing.T) {

	// With a valid envelope, decoding succeeds iff both the decimals and unit bits are known
	for attr := 0; attr < 256; attr++ {
		frame := withChecksum(Magic, Version, 0x00, byte(attr), 0x00, 0x12, 0x34)
		_, err := Decode(frame)

		_, decOK := DecimalsCode(byte(attr) & maskDecimals).Digits()
		_, unitOK := UnitCode(byte(attr) & maskUnit).Unit()
		if decOK && unitOK {
			if err != nil {
				t.Errorf("attributes %08b: unexpected error %s", attr, err)
			}
			continue
		}
		if err == nil {
			t.Errorf("attributes %08b: unexpected success", attr)
		}
	}
}

func TestChecksumSingleBitCorruption(t *testing.T) {
	frame := []byte{0xCA, 0x10, 0x00, 0x00, 0x00, 0x01, 0x90, 0x81}
	if _, err := Decode(frame); err != nil {
		t.Fatalf("unexpected error on pristine frame: %s", err)
	}

	for i := 2; i < 7; i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), frame...)
			corrupted[i] ^= 1 << bit
			if _, err := Decode(corrupted); !errors.Is(err, ErrChecksumMismatch) {
				t.Errorf("byte %d bit %d: expected checksum mismatch, have %v", i, bit, err)
			}
		}
	}
}

func TestChecksumUniqueness(t *testing.T) {
	payload := []byte{0xCA, 0x10, 0x00, 0x0C, 0x00, 0x04, 0xE2}

	var valid int
	for c := 0; c < 256; c++ {
		frame := append(append([]byte(nil), payload...), byte(c))
		if Checksum(frame[1:]) == 0 {
			valid++
		}
	}
	if valid != 1 {
		t.Fatalf("expected exactly one valid checksum byte, have %d", valid)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, unit := range []UnitCode{UnitGrams, UnitMillilitres, UnitPoundsChipsea, UnitPoundsSmartchef} {
		for digits := 0; digits <= 3; digits++ {
			for _, raw := range []int64{0, 1, 7, 400, 1250, 65535, -1, -400, -65535} {
				for _, locked := range []bool{false, true} {
					in := Reading{
						Magnitude: decimal.New(raw, -int32(digits)),
						Decimals:  digits,
						Unit:      unit,
						Locked:    locked,
					}
					frame, err := Encode(in)
					if err != nil {
						t.Fatalf("unexpected error encoding %+v: %s", in, err)
					}
					if len(frame) != FrameLength {
						t.Fatalf("unexpected frame length %d", len(frame))
					}
					out, err := Decode(frame)
					if err != nil {
						t.Fatalf("unexpected error decoding % x: %s", frame, err)
					}
					if !out.Equal(in) {
						t.Fatalf("round trip mismatch, want %+v, have %+v", in, out)
					}
				}
			}
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	if _, err := Encode(Reading{Decimals: 4}); !errors.Is(err, ErrUnknownDecimalsCode) {
		t.Errorf("expected unknown decimals code, have %v", err)
	}
	if _, err := Encode(Reading{Unit: 0b0010000}); !errors.Is(err, ErrUnknownUnitCode) {
		t.Errorf("expected unknown unit code, have %v", err)
	}
	if _, err := Encode(Reading{Magnitude: decimal.NewFromInt(65536)}); !errors.Is(err, ErrMagnitudeOverflow) {
		t.Errorf("expected magnitude overflow, have %v", err)
	}
}

func withChecksum(data ...byte) []byte {
	return append(data, Checksum(data[1:]))
}
