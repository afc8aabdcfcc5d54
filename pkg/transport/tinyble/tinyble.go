// Package tinyble provides a device picker and transport based on the
// tinygo.org/x/bluetooth stack (BlueZ via D-Bus on Linux, CoreBluetooth on macOS,
// WinRT on Windows).
package tinyble

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/fako1024/smartchef/pkg/scale"
	"tinygo.org/x/bluetooth"
)

var (
	_ scale.DevicePicker = (*Transport)(nil)
	_ scale.Transport    = (*Transport)(nil)
)

// Transport denotes a tinygo bluetooth based central
type Transport struct {
	adapter *bluetooth.Adapter
	params  bluetooth.ConnectionParams
	logger  scale.Logger

	// scanSlot admits a single device search at a time
	scanSlot chan struct{}

	mu       sync.Mutex
	sessions map[string]*session
	linkLoss func(session scale.Session)
}

type device struct {
	address bluetooth.Address
	name    string
}

func (d *device) ID() string   { return d.address.String() }
func (d *device) Name() string { return d.name }

// New instantiates a new Transport, executing functional options, if any
func New(options ...func(*Transport)) (*Transport, error) {

	t := &Transport{
		adapter:  bluetooth.DefaultAdapter,
		logger:   &scale.NullLogger{},
		scanSlot: make(chan struct{}, 1),
		sessions: make(map[string]*session),
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(t)
	}

	if err := t.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}
	t.adapter.SetConnectHandler(t.onConnectionChanged)

	return t, nil
}

// RequestDevice scans for a peripheral matching the filter until one is found or
// the context is done
func (t *Transport) RequestDevice(ctx context.Context, filter scale.Filter) (scale.DeviceHandle, error) {

	if filter.ServiceUUID != "" {
		if _, err := ParseUUID(filter.ServiceUUID); err != nil {
			return nil, err
		}
	}

	select {
	case t.scanSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", scale.ErrPickerCancelled, ctx.Err())
	}
	defer func() { <-t.scanSlot }()

	found := make(chan *device, 1)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()

			// The service is verified once connected
			if !filter.Matches(name, nil) {
				return
			}

			select {
			case found <- &device{address: result.Address, name: name}:
			default:
			}
		})
	}()

	stopScan := func() {
		if err := t.adapter.StopScan(); err != nil {
			t.logger.Warnf("failed to stop scanning: %s", err)
		}
		<-scanErr
	}

	select {
	case d := <-found:
		stopScan()
		t.logger.Debugf("discovered matching device `%s/%s`", d.Name(), d.ID())
		return d, nil
	case err := <-scanErr:
		return nil, fmt.Errorf("failed to scan for devices: %w", err)
	case <-ctx.Done():
		stopScan()
		return nil, fmt.Errorf("%w: %s", scale.ErrPickerCancelled, ctx.Err())
	}
}

// Connect establishes a connection to a previously discovered peripheral
func (t *Transport) Connect(d scale.DeviceHandle) (scale.Session, error) {
	dev, ok := d.(*device)
	if !ok {
		return nil, scale.ErrUnsupportedDevice
	}

	btDevice, err := t.adapter.Connect(dev.address, t.params)
	if err != nil {
		return nil, fmt.Errorf("failed to connect device `%s/%s`: %w", dev.Name(), dev.ID(), err)
	}

	s := &session{transport: t, id: dev.ID(), btDevice: btDevice}

	t.mu.Lock()
	t.sessions[s.id] = s
	t.mu.Unlock()

	t.logger.Debugf("connected peripheral `%s/%s`", dev.Name(), dev.ID())

	return s, nil
}

// SetLinkLossHandler defines a handler function that is called upon link loss
func (t *Transport) SetLinkLossHandler(fn func(session scale.Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.linkLoss = fn
}

// ParseUUID parses a service / characteristic UUID in either its 16-bit short form
// (e.g. "fff0") or its full 128-bit form
func ParseUUID(s string) (bluetooth.UUID, error) {
	if len(s) == 4 {
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid short UUID `%s`: %w", s, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	}

	uuid, err := bluetooth.ParseUUID(strings.ToLower(s))
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("invalid UUID `%s`: %w", s, err)
	}

	return uuid, nil
}

////////////////////////////////////////////////////////////////////////////////

func (t *Transport) onConnectionChanged(d bluetooth.Device, connected bool) {
	if connected {
		return
	}

	id := d.Address.String()

	t.mu.Lock()
	s := t.sessions[id]
	delete(t.sessions, id)
	linkLoss := t.linkLoss
	t.mu.Unlock()

	t.logger.Debugf("disconnected peripheral `%s`", id)

	if s != nil && s.markClosed() && linkLoss != nil {
		linkLoss(s)
	}
}

////////////////////////////////////////////////////////////////////////////////

type session struct {
	transport *Transport
	id        string
	btDevice  bluetooth.Device

	mu     sync.Mutex
	closed bool
}

func (s *session) Notifications(svc, char string) (scale.Subscription, error) {
	svcUUID, err := ParseUUID(svc)
	if err != nil {
		return nil, err
	}
	charUUID, err := ParseUUID(char)
	if err != nil {
		return nil, err
	}

	services, err := s.btDevice.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(services) == 0 {
		return nil, fmt.Errorf("%w: %s (%v)", scale.ErrServiceNotFound, svc, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil || len(chars) == 0 {
		return nil, fmt.Errorf("%w: %s (%v)", scale.ErrCharacteristicNotFound, char, err)
	}

	return &subscription{c: chars[0]}, nil
}

func (s *session) Disconnect() error {
	if !s.markClosed() {
		return nil
	}

	s.transport.mu.Lock()
	if s.transport.sessions[s.id] == s {
		delete(s.transport.sessions, s.id)
	}
	s.transport.mu.Unlock()

	return s.btDevice.Disconnect()
}

// markClosed marks the session as closed, returning false if it already was
func (s *session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true

	return true
}

type subscription struct {
	c bluetooth.DeviceCharacteristic
}

func (s *subscription) Start(fn func(frame []byte)) error {
	if err := s.c.EnableNotifications(fn); err != nil {
		return fmt.Errorf("failed to enable notifications: %w", err)
	}

	return nil
}

func (s *subscription) Stop() error {
	return s.c.EnableNotifications(nil)
}
