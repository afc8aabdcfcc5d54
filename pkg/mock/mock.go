// Package mock provides a simulated Smart Chef scale acting as device picker and
// transport. It emits real protocol frames and can simulate link loss, which
// makes it usable for development without a physical scale.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fako1024/smartchef/pkg/protocol"
	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/fatih/stopwatch"
	"github.com/shopspring/decimal"
)

const (
	defaultDeviceName   = "smartchef-mock"
	defaultDeviceID     = "00:00:00:00:00:00"
	defaultInterval     = 500 * time.Millisecond
	defaultSettleTime   = 3 * time.Second
	defaultTargetWeight = "250.0"

	serviceUUID        = "fff0"
	characteristicUUID = "fff1"
)

var (
	_ scale.DevicePicker = (*Mock)(nil)
	_ scale.Transport    = (*Mock)(nil)
)

// Mock denotes a simulated bluetooth scale
type Mock struct {
	deviceName   string
	connectDelay time.Duration
	interval     time.Duration
	settleTime   time.Duration
	target       decimal.Decimal
	decimals     int
	unit         protocol.UnitCode
	logger       scale.Logger

	mu       sync.Mutex
	linkLoss func(session scale.Session)
	session  *session
	connects int
}

type device struct {
	name string
}

func (d *device) ID() string   { return defaultDeviceID }
func (d *device) Name() string { return d.name }

// New instantiates a new Mock, executing functional options, if any
func New(options ...func(*Mock)) *Mock {

	// Initialize a new instance of a Mock scale
	f := &Mock{
		deviceName: defaultDeviceName,
		interval:   defaultInterval,
		settleTime: defaultSettleTime,
		target:     decimal.RequireFromString(defaultTargetWeight),
		decimals:   1,
		unit:       protocol.UnitGrams,
		logger:     &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(f)
	}

	return f
}

// RequestDevice returns the simulated device if its name matches the filter,
// otherwise it keeps searching until the context is done
func (f *Mock) RequestDevice(ctx context.Context, filter scale.Filter) (scale.DeviceHandle, error) {
	if filter.Matches(f.deviceName, []string{serviceUUID}) {
		return &device{name: f.deviceName}, nil
	}

	<-ctx.Done()
	return nil, fmt.Errorf("%w: %s", scale.ErrPickerCancelled, ctx.Err())
}

// Connect establishes a simulated session after the configured delay
func (f *Mock) Connect(d scale.DeviceHandle) (scale.Session, error) {
	if _, ok := d.(*device); !ok {
		return nil, scale.ErrUnsupportedDevice
	}
	time.Sleep(f.connectDelay)

	s := &session{mock: f, done: make(chan struct{})}

	f.mu.Lock()
	f.session = s
	f.connects++
	f.mu.Unlock()

	return s, nil
}

// SetLinkLossHandler defines a handler function that is called upon link loss
func (f *Mock) SetLinkLossHandler(fn func(session scale.Session)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.linkLoss = fn
}

// DropLink simulates the loss of the current connection (e.g. the scale
// moving out of range)
func (f *Mock) DropLink() {
	f.mu.Lock()
	s, fn := f.session, f.linkLoss
	f.session = nil
	f.mu.Unlock()

	if s == nil || !s.close() {
		return
	}
	if fn != nil {
		fn(s)
	}
}

// Connects returns the number of sessions established so far
func (f *Mock) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connects
}

////////////////////////////////////////////////////////////////////////////////

type session struct {
	mock *Mock

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (s *session) Notifications(svc, char string) (scale.Subscription, error) {
	if !strings.EqualFold(svc, serviceUUID) {
		return nil, fmt.Errorf("%w: %s", scale.ErrServiceNotFound, svc)
	}
	if !strings.EqualFold(char, characteristicUUID) {
		return nil, fmt.Errorf("%w: %s", scale.ErrCharacteristicNotFound, char)
	}

	return &subscription{session: s, stop: make(chan struct{})}, nil
}

func (s *session) Disconnect() error {
	s.close()

	s.mock.mu.Lock()
	if s.mock.session == s {
		s.mock.session = nil
	}
	s.mock.mu.Unlock()

	return nil
}

// close marks the session as closed, returning false if it already was
func (s *session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)

	return true
}

type subscription struct {
	session *session

	once sync.Once
	stop chan struct{}
}

func (s *subscription) Start(fn func(frame []byte)) error {
	go s.emit(fn)
	return nil
}

func (s *subscription) Stop() error {
	s.once.Do(func() {
		close(s.stop)
	})
	return nil
}

// emit simulates an item being placed on the scale: the weight ramps up towards
// the target and locks once the settle time has elapsed
func (s *subscription) emit(fn func(frame []byte)) {
	f := s.session.mock
	timer := stopwatch.Start(0)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			frame, err := protocol.Encode(f.reading(timer.ElapsedTime()))
			if err != nil {
				f.logger.Errorf("failed to encode simulated reading, stopping notifications: %s", err)
				return
			}
			fn(frame)
		case <-s.stop:
			return
		case <-s.session.done:
			return
		}
	}
}

func (f *Mock) reading(elapsed time.Duration) protocol.Reading {
	r := protocol.Reading{
		Magnitude: f.target,
		Decimals:  f.decimals,
		Unit:      f.unit,
		Locked:    true,
	}
	if f.settleTime > 0 && elapsed < f.settleTime {
		progress := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(f.settleTime)))
		r.Magnitude = f.target.Mul(progress)
		r.Locked = false
	}
	r.Magnitude = r.Magnitude.Truncate(int32(f.decimals))

	return r
}
