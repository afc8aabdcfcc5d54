package scale

import (
	"context"
	"strings"
)

// DeviceHandle denotes an opaque reference to a discovered peripheral
type DeviceHandle interface {

	// ID returns the address / identifier of the peripheral
	ID() string

	// Name returns the advertised name of the peripheral
	Name() string
}

// Filter denotes the criteria a device picker applies to discovered peripherals
type Filter struct {
	NamePrefixes []string
	ServiceUUID  string
}

// Matches returns if a peripheral with the given name and advertised service UUIDs
// passes the filter. Many scales do not advertise their services, so the service
// is only checked if any are advertised
func (f Filter) Matches(name string, services []string) bool {
	if name == "" {
		return false
	}

	var nameOK bool
	for _, prefix := range f.NamePrefixes {
		if strings.HasPrefix(name, prefix) {
			nameOK = true
			break
		}
	}
	if !nameOK {
		return false
	}

	if f.ServiceUUID == "" || len(services) == 0 {
		return true
	}
	for _, svc := range services {
		if strings.EqualFold(svc, f.ServiceUUID) {
			return true
		}
	}

	return false
}

// DevicePicker discovers a single peripheral matching a filter
type DevicePicker interface {

	// RequestDevice blocks until a matching peripheral is found. Cancelling the
	// context aborts the search with ErrPickerCancelled
	RequestDevice(ctx context.Context, filter Filter) (DeviceHandle, error)
}

// Transport denotes the BLE link layer used to establish sessions
type Transport interface {

	// Connect establishes a GATT session to the given device. The call cannot be
	// cancelled once issued and may block for an arbitrary amount of time
	Connect(device DeviceHandle) (Session, error)

	// SetLinkLossHandler defines a handler function that is called when an
	// established session is lost without having been disconnected explicitly
	SetLinkLossHandler(fn func(session Session))
}

// Session denotes an established GATT connection
type Session interface {

	// Notifications resolves the given service / characteristic pair
	Notifications(serviceUUID, characteristicUUID string) (Subscription, error)

	// Disconnect tears down the connection (calling it more than once is a no-op)
	Disconnect() error
}

// Subscription denotes a characteristic that can push notifications
type Subscription interface {

	// Start enables notifications, calling fn for every received frame
	Start(fn func(frame []byte)) error

	// Stop disables notifications
	Stop() error
}

// Display denotes the user facing sink for readings, state and faults
type Display interface {

	// ShowReading presents a formatted weight
	ShowReading(value, unit string, locked bool)

	// ShowState presents the current connection state
	ShowState(status ConnectionStatus)

	// ShowError presents a user visible fault
	ShowError(err error)
}

// WakeLock denotes a resource keeping the host awake while a scale is connected
type WakeLock interface {
	Acquire() error
	Release() error
}
