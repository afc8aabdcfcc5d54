//go:build linux || darwin

// Package gattble provides a device picker and transport based on the gatt
// HCI stack (requires raw access to the bluetooth adapter).
package gattble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fako1024/gatt"
	"github.com/fako1024/smartchef/pkg/scale"
)

const defaultMTU = 500

var (
	_ scale.DevicePicker = (*Transport)(nil)
	_ scale.Transport    = (*Transport)(nil)

	errConnectReplaced = errors.New("connect request replaced by a newer one")
)

// Transport denotes a gatt based bluetooth central
type Transport struct {
	btDevice gatt.Device
	logger   scale.Logger

	mu         sync.Mutex
	poweredOn  chan struct{}
	discovered func(p gatt.Peripheral, adv *gatt.Advertisement)
	scanGen    uint64
	pending    map[string]chan connectResult
	sessions   map[string]*session
	linkLoss   func(session scale.Session)
}

type connectResult struct {
	session *session
	err     error
}

type peripheral struct {
	p    gatt.Peripheral
	name string
}

func (h *peripheral) ID() string   { return h.p.ID() }
func (h *peripheral) Name() string { return h.name }

// New instantiates a new Transport, executing functional options, if any
func New(options ...func(*Transport)) (*Transport, error) {

	t := &Transport{
		logger:    &scale.NullLogger{},
		poweredOn: make(chan struct{}),
		pending:   make(map[string]chan connectResult),
		sessions:  make(map[string]*session),
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(t)
	}

	// Initialize a new GATT device (if not provided as option)
	if t.btDevice == nil {
		btDevice, err := gatt.NewDevice(defaultBTClientOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to open bluetooth device: %w", err)
		}
		t.btDevice = btDevice
	}

	// Register handlers
	t.btDevice.Handle(
		gatt.AddPeripheralDiscovered(t.onPeriphDiscovered),
		gatt.AddPeripheralConnected(t.onPeriphConnected),
		gatt.AddPeripheralDisconnected(t.onPeriphDisconnected),
	)

	// Initialize the device
	if err := t.btDevice.Init(t.onStateChanged); err != nil {
		return nil, fmt.Errorf("failed to initialize bluetooth device: %w", err)
	}

	return t, nil
}

// RequestDevice scans for a peripheral matching the filter until one is found or
// the context is done
func (t *Transport) RequestDevice(ctx context.Context, filter scale.Filter) (scale.DeviceHandle, error) {

	t.mu.Lock()
	poweredOn := t.poweredOn
	t.mu.Unlock()

	select {
	case <-poweredOn:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", scale.ErrPickerCancelled, ctx.Err())
	}

	found := make(chan *peripheral, 1)
	t.mu.Lock()
	t.scanGen++
	gen := t.scanGen
	t.discovered = func(p gatt.Peripheral, adv *gatt.Advertisement) {
		name := p.Name()
		if name == "" && adv != nil {
			name = adv.LocalName
		}
		var services []string
		if adv != nil {
			for _, svc := range adv.Services {
				services = append(services, svc.String())
			}
		}
		if !filter.Matches(name, services) {
			return
		}
		select {
		case found <- &peripheral{p: p, name: name}:
		default:
		}
	}
	t.mu.Unlock()

	// Only the most recent search stops the scan
	defer func() {
		t.mu.Lock()
		latest := t.scanGen == gen
		if latest {
			t.discovered = nil
		}
		t.mu.Unlock()
		if !latest {
			return
		}
		if err := t.btDevice.StopScanning(); err != nil {
			t.logger.Warnf("failed to stop scanning: %s", err)
		}
	}()

	if err := t.btDevice.Scan([]gatt.UUID{}, false); err != nil {
		return nil, fmt.Errorf("failed to start scanning: %w", err)
	}

	select {
	case h := <-found:
		t.logger.Debugf("discovered matching device `%s/%s`", h.Name(), h.ID())
		return h, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", scale.ErrPickerCancelled, ctx.Err())
	}
}

// Connect establishes a connection to a previously discovered peripheral and
// blocks until the stack reports the outcome
func (t *Transport) Connect(d scale.DeviceHandle) (scale.Session, error) {
	h, ok := d.(*peripheral)
	if !ok {
		return nil, scale.ErrUnsupportedDevice
	}

	ch := make(chan connectResult, 1)

	t.mu.Lock()
	prev, inFlight := t.pending[h.ID()]
	t.pending[h.ID()] = ch
	t.mu.Unlock()

	// Only a single connection request per peripheral is passed on to the stack,
	// an earlier caller still waiting is released
	if inFlight {
		prev <- connectResult{err: errConnectReplaced}
	} else if err := t.btDevice.Connect(h.p); err != nil {
		t.mu.Lock()
		if t.pending[h.ID()] == ch {
			delete(t.pending, h.ID())
		}
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to connect device `%s/%s`: %w", h.Name(), h.ID(), err)
	}

	res := <-ch
	if res.err != nil {
		return nil, res.err
	}

	return res.session, nil
}

// SetLinkLossHandler defines a handler function that is called upon link loss
func (t *Transport) SetLinkLossHandler(fn func(session scale.Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.linkLoss = fn
}

// Close terminates all connections and releases the device
func (t *Transport) Close() error {
	t.mu.Lock()
	sessions := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	for _, s := range sessions {
		_ = s.Disconnect()
	}

	_ = t.btDevice.StopScanning()
	return t.btDevice.RemoveAllServices()
}

////////////////////////////////////////////////////////////////////////////////

func (t *Transport) onStateChanged(d gatt.Device, s gatt.State) {
	t.logger.Debugf("bluetooth adapter state changed to %v", s)

	t.mu.Lock()
	defer t.mu.Unlock()

	switch s {
	case gatt.StatePoweredOn:
		select {
		case <-t.poweredOn:
		default:
			close(t.poweredOn)
		}
	default:
		select {
		case <-t.poweredOn:
			t.poweredOn = make(chan struct{})
		default:
		}
	}
}

func (t *Transport) onPeriphDiscovered(p gatt.Peripheral, adv *gatt.Advertisement, rssi int) {
	t.logger.Debugf("discovered device `%s/%s` (RSSI %d)", p.Name(), p.ID(), rssi)

	t.mu.Lock()
	fn := t.discovered
	t.mu.Unlock()

	if fn != nil {
		fn(p, adv)
	}
}

func (t *Transport) onPeriphConnected(p gatt.Peripheral, connErr error) {
	t.mu.Lock()
	ch, ok := t.pending[p.ID()]
	delete(t.pending, p.ID())
	var s *session
	if ok && connErr == nil {
		s = &session{transport: t, p: p}
		t.sessions[p.ID()] = s
	}
	t.mu.Unlock()

	// Nobody asked for this connection (anymore)
	if !ok {
		t.logger.Debugf("dropping unsolicited connection to `%s/%s`", p.Name(), p.ID())
		_ = p.Device().CancelConnection(p)
		return
	}
	if connErr != nil {
		ch <- connectResult{err: fmt.Errorf("failed to connect device `%s/%s`: %w", p.Name(), p.ID(), connErr)}
		return
	}

	if err := p.SetMTU(defaultMTU); err != nil {
		t.logger.Warnf("failed to set MTU for `%s/%s`: %s", p.Name(), p.ID(), err)
	}

	t.logger.Debugf("connected peripheral `%s/%s`", p.Name(), p.ID())
	ch <- connectResult{session: s}
}

func (t *Transport) onPeriphDisconnected(p gatt.Peripheral, err error) {
	t.mu.Lock()
	s := t.sessions[p.ID()]
	delete(t.sessions, p.ID())
	ch, pending := t.pending[p.ID()]
	delete(t.pending, p.ID())
	linkLoss := t.linkLoss
	t.mu.Unlock()

	t.logger.Debugf("disconnected peripheral `%s/%s`", p.Name(), p.ID())

	if pending {
		ch <- connectResult{err: fmt.Errorf("device `%s/%s` disconnected during connect: %w", p.Name(), p.ID(), err)}
	}
	if s != nil && s.markClosed() && linkLoss != nil {
		linkLoss(s)
	}
}

////////////////////////////////////////////////////////////////////////////////

type session struct {
	transport *Transport
	p         gatt.Peripheral

	mu     sync.Mutex
	closed bool
}

func (s *session) Notifications(svc, char string) (scale.Subscription, error) {

	// Discover services
	ss, err := s.p.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}
	for _, service := range ss {
		if !strings.EqualFold(service.UUID().String(), svc) {
			continue
		}

		// Discover characteristics
		cs, err := s.p.DiscoverCharacteristics(nil, service)
		if err != nil {
			return nil, fmt.Errorf("failed to discover characteristics: %w", err)
		}
		for _, c := range cs {
			if !strings.EqualFold(c.UUID().String(), char) {
				continue
			}

			// Discover descriptors (required to enable notifications)
			if _, err := s.p.DiscoverDescriptors(nil, c); err != nil {
				return nil, fmt.Errorf("failed to discover descriptors: %w", err)
			}

			return &subscription{session: s, c: c}, nil
		}

		return nil, fmt.Errorf("%w: %s", scale.ErrCharacteristicNotFound, char)
	}

	return nil, fmt.Errorf("%w: %s", scale.ErrServiceNotFound, svc)
}

func (s *session) Disconnect() error {
	if !s.markClosed() {
		return nil
	}

	s.transport.mu.Lock()
	if s.transport.sessions[s.p.ID()] == s {
		delete(s.transport.sessions, s.p.ID())
	}
	s.transport.mu.Unlock()

	return s.p.Device().CancelConnection(s.p)
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
	session *session
	c       *gatt.Characteristic
}

func (s *subscription) Start(fn func(frame []byte)) error {
	if err := s.session.p.SetNotifyValue(s.c, func(_ *gatt.Characteristic, b []byte, err error) {
		if err != nil {
			s.session.transport.logger.Warnf("failed to receive notification: %s", err)
			return
		}
		fn(b)
	}); err != nil {
		return fmt.Errorf("failed to subscribe characteristic: %w", err)
	}

	return nil
}

func (s *subscription) Stop() error {
	return s.session.p.SetNotifyValue(s.c, nil)
}
