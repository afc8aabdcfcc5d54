package scale

import "errors"

var (

	// ErrSuperseded denotes a connect attempt that completed after a newer one took over.
	// It is expected and must never be shown to the user
	ErrSuperseded = errors.New("connect attempt superseded")

	// ErrPickerCancelled denotes a device search aborted by the user
	ErrPickerCancelled = errors.New("device picker cancelled")

	// ErrServiceNotFound denotes a peripheral lacking the scale service
	ErrServiceNotFound = errors.New("scale service not found")

	// ErrCharacteristicNotFound denotes a service lacking the notification characteristic
	ErrCharacteristicNotFound = errors.New("notification characteristic not found")

	// ErrUnsupportedDevice denotes a device handle created by a different transport
	ErrUnsupportedDevice = errors.New("unsupported device handle")
)

// IsSilent returns if an error is part of the normal control flow and must not
// be presented to the user
func IsSilent(err error) bool {
	return errors.Is(err, ErrSuperseded) || errors.Is(err, ErrPickerCancelled)
}
