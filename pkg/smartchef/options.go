package smartchef

import (
	"time"

	"github.com/fako1024/smartchef/pkg/format"
	"github.com/fako1024/smartchef/pkg/scale"
)

// WithPicker sets the device picker used to discover the scale
func WithPicker(picker scale.DevicePicker) func(*Manager) {
	return func(m *Manager) {
		m.picker = picker
	}
}

// WithTransport sets the BLE transport used to connect to the scale
func WithTransport(transport scale.Transport) func(*Manager) {
	return func(m *Manager) {
		m.transport = transport
	}
}

// WithDisplay sets the display collaborator receiving readings, state and faults
func WithDisplay(display scale.Display) func(*Manager) {
	return func(m *Manager) {
		m.display = display
	}
}

// WithWakeLock sets the wake lock held while connected
func WithWakeLock(lock scale.WakeLock) func(*Manager) {
	return func(m *Manager) {
		m.wakeLock = lock
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Manager) {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithConverter sets the unit conversion policy
func WithConverter(converter format.Converter) func(*Manager) {
	return func(m *Manager) {
		m.converter = converter
	}
}

// WithNamePrefixes overrides the allowed device name prefixes
func WithNamePrefixes(prefixes ...string) func(*Manager) {
	return func(m *Manager) {
		m.filter.NamePrefixes = prefixes
	}
}

// WithServiceUUID overrides the scale service UUID
func WithServiceUUID(uuid string) func(*Manager) {
	return func(m *Manager) {
		m.filter.ServiceUUID = uuid
	}
}

// WithCharacteristicUUID overrides the notification characteristic UUID
func WithCharacteristicUUID(uuid string) func(*Manager) {
	return func(m *Manager) {
		m.characteristicUUID = uuid
	}
}

// WithReconnectAttempts sets how often the connect sequence is re-run after a link loss
func WithReconnectAttempts(n int) func(*Manager) {
	return func(m *Manager) {
		if n > 0 {
			m.reconnectAttempts = n
		}
	}
}

// WithReconnectDelay sets the pause between two reconnect attempts
func WithReconnectDelay(d time.Duration) func(*Manager) {
	return func(m *Manager) {
		m.reconnectDelay = d
	}
}
