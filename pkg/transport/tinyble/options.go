package tinyble

import (
	"github.com/fako1024/smartchef/pkg/scale"
	"tinygo.org/x/bluetooth"
)

// WithAdapter sets the bluetooth adapter (defaults to the system default adapter)
func WithAdapter(adapter *bluetooth.Adapter) func(*Transport) {
	return func(t *Transport) {
		t.adapter = adapter
	}
}

// WithConnectionParams sets the parameters used when connecting a peripheral
func WithConnectionParams(params bluetooth.ConnectionParams) func(*Transport) {
	return func(t *Transport) {
		t.params = params
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Transport) {
	return func(t *Transport) {
		t.logger = logger
	}
}
