package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrFrameTooShort       = errors.New("frame too short")
	ErrInvalidMagic        = errors.New("invalid magic")
	ErrUnsupportedVersion  = errors.New("unsupported protocol version")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
	ErrUnknownDecimalsCode = errors.New("unknown decimals code")
	ErrUnknownUnitCode     = errors.New("unknown unit code")
	ErrMagnitudeOverflow   = errors.New("magnitude exceeds 16 bits")
)

// DecodeError denotes a frame that failed validation, Kind being one of the
// sentinel errors above
type DecodeError struct {
	Kind   error
	Detail string
	Frame  []byte
}

func newDecodeError(kind error, frame []byte, format string, args ...interface{}) *DecodeError {
	return &DecodeError{
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
		Frame:  append([]byte(nil), frame...),
	}
}

// Error fulfils the error interface
func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s (frame % x)", e.Kind, e.Detail, e.Frame)
}

// Unwrap returns the error kind, allowing errors.Is(err, ErrChecksumMismatch)
func (e *DecodeError) Unwrap() error {
	return e.Kind
}
