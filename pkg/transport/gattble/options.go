//go:build linux || darwin

package gattble

import (
	"github.com/fako1024/gatt"
	"github.com/fako1024/smartchef/pkg/scale"
)

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Transport) {
	return func(t *Transport) {
		t.btDevice = btDevice
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Transport) {
	return func(t *Transport) {
		t.logger = logger
	}
}
