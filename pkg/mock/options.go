package mock

import (
	"time"

	"github.com/fako1024/smartchef/pkg/protocol"
	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/shopspring/decimal"
)

// WithDeviceName sets the advertised name of the simulated scale
func WithDeviceName(name string) func(*Mock) {
	return func(f *Mock) {
		f.deviceName = name
	}
}

// WithConnectDelay sets how long establishing a session takes
func WithConnectDelay(d time.Duration) func(*Mock) {
	return func(f *Mock) {
		f.connectDelay = d
	}
}

// WithInterval sets the notification interval
func WithInterval(d time.Duration) func(*Mock) {
	return func(f *Mock) {
		f.interval = d
	}
}

// WithSettleTime sets the time until the simulated weight locks
func WithSettleTime(d time.Duration) func(*Mock) {
	return func(f *Mock) {
		f.settleTime = d
	}
}

// WithWeight sets the simulated target weight, its unit and resolution
func WithWeight(weight decimal.Decimal, decimals int, unit protocol.UnitCode) func(*Mock) {
	return func(f *Mock) {
		f.target = weight
		f.decimals = decimals
		f.unit = unit
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Mock) {
	return func(f *Mock) {
		f.logger = logger
	}
}
