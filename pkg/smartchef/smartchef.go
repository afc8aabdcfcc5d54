// Package smartchef manages the connection to a Smart Chef / Chipsea kitchen scale.
//
// The BLE connect primitive cannot be aborted once issued (the host stack keeps
// retrying on its own), so a connect attempt is never cancelled. Instead every
// attempt is tagged with a monotonically increasing token and, once it completes,
// its result is only kept if the token is still the current one. Late arrivals
// are torn down immediately and reported as scale.ErrSuperseded, which is never
// shown to the user.
package smartchef

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fako1024/smartchef/pkg/format"
	"github.com/fako1024/smartchef/pkg/protocol"
	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/fatih/stopwatch"
)

const (
	defaultServiceUUID        = "fff0"
	defaultCharacteristicUUID = "fff1"

	defaultReconnectAttempts = 1
	defaultReconnectDelay    = time.Second
)

// DefaultNamePrefixes lists the advertised name prefixes of supported scales
// (500g and 3000g Smart Chef models)
var DefaultNamePrefixes = []string{"smartchef", "Chipsea-BLE"}

var errLinkLost = errors.New("link lost while setting up notifications")

// ProtocolError denotes a notification that could not be decoded. It is the one
// fault raised by an established connection, which is dropped in response
type ProtocolError struct {
	Err error
}

// Error fulfils the error interface
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: received unprocessable data from device, this may be an incompatible model of bluetooth scale (%s)", e.Err)
}

// Unwrap returns the underlying decode error
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Manager denotes the connection to a single scale. State change and data
// handlers are invoked sequentially and must not call back into the Manager
type Manager struct {
	mu sync.Mutex

	state   scale.State
	token   uint64
	device  scale.DeviceHandle
	session scale.Session
	sub     scale.Subscription
	lastErr error

	wakeLockHeld bool

	// searchCancel aborts the device search of the current attempt, searchDone
	// is closed once the most recent search has returned
	searchCancel context.CancelFunc
	searchDone   chan struct{}

	lastReading scale.DataPoint
	hasReading  bool
	timer       *stopwatch.Stopwatch

	filter             scale.Filter
	characteristicUUID string
	reconnectAttempts  int
	reconnectDelay     time.Duration
	converter          format.Converter

	picker    scale.DevicePicker
	transport scale.Transport
	display   scale.Display
	wakeLock  scale.WakeLock
	logger    scale.Logger

	// publishMu serializes notifications so they reach handlers in the order
	// the transitions happened
	publishMu sync.Mutex

	stateChangeHandler func(status scale.ConnectionStatus)
	stateChangeChan    chan scale.ConnectionStatus

	dataHandler func(data scale.DataPoint)
	dataChan    chan scale.DataPoint
}

// New instantiates a new Manager, executing functional options, if any
func New(options ...func(*Manager)) (*Manager, error) {

	m := &Manager{
		state: scale.StateDisconnected,
		filter: scale.Filter{
			NamePrefixes: DefaultNamePrefixes,
			ServiceUUID:  defaultServiceUUID,
		},
		characteristicUUID: defaultCharacteristicUUID,
		reconnectAttempts:  defaultReconnectAttempts,
		reconnectDelay:     defaultReconnectDelay,
		converter:          format.Default,
		logger:             &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(m)
	}

	if m.transport == nil {
		return nil, errors.New("no transport provided")
	}
	if m.picker == nil {
		return nil, errors.New("no device picker provided")
	}
	m.transport.SetLinkLossHandler(m.onLinkLoss)

	return m, nil
}

// Status returns the current connection status
func (m *Manager) Status() scale.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.statusLocked()
}

// LastReading returns the most recent reading, if any
func (m *Manager) LastReading() (scale.DataPoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastReading, m.hasReading
}

// ConnectedFor returns for how long the current (or last) connection has been up
func (m *Manager) ConnectedFor() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		return m.timer.ElapsedTime()
	}

	return 0
}

// SetStateChangeHandler defines a handler function that is called upon state change
func (m *Manager) SetStateChangeHandler(fn func(status scale.ConnectionStatus)) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.stateChangeHandler = fn
}

// SetStateChangeChannel defines a channel that receives state changes (without blocking)
func (m *Manager) SetStateChangeChannel(ch chan scale.ConnectionStatus) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.stateChangeChan = ch
}

// SetDataHandler defines a handler function that is called upon retrieval of data
func (m *Manager) SetDataHandler(fn func(data scale.DataPoint)) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.dataHandler = fn
}

// SetDataChannel defines a channel that receives data (without blocking)
func (m *Manager) SetDataChannel(ch chan scale.DataPoint) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.dataChan = ch
}

// RequestConnect reacts to a user request on the connect control:
//   - while disconnected it discovers a device (unless one is held) and connects to it
//   - while connected it disconnects
//   - while (re)connecting it drops the held device, cancels a running device
//     search and starts a fresh connect (releasing the wake lock until connected)
//
// It blocks until the attempt completes or ctx is done. In the latter case the
// attempt keeps running in the background (it cannot be aborted) and ctx.Err()
// is returned. Silent conditions (superseded attempt, cancelled picker) yield nil
func (m *Manager) RequestConnect(ctx context.Context) error {

	m.mu.Lock()
	switch m.state {
	case scale.StateConnected:
		m.mu.Unlock()
		return m.Disconnect()
	case scale.StateConnecting, scale.StateReconnecting:

		// The pending attempt cannot be aborted. Dropping the device marks its
		// result as unwanted, the new token makes sure it is discarded
		m.logger.Infof("connect requested during attempt %d, starting over", m.token)
		m.device = nil
		m.session, m.sub = nil, nil
		m.stopSearchLocked()
		m.releaseWakeLockLocked()
	}
	m.token++
	token := m.token
	m.state = scale.StateConnecting
	m.lastErr = nil
	m.publishLocked(m.statusLocked())

	done := make(chan error, 1)
	go func() {
		done <- m.connect(ctx, token)
	}()

	select {
	case err := <-done:
		if scale.IsSilent(err) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect terminates an established connection. It does nothing unless
// connected, so calling it repeatedly is safe
func (m *Manager) Disconnect() error {

	m.mu.Lock()
	if m.state != scale.StateConnected || m.session == nil {
		m.mu.Unlock()
		return nil
	}

	// Clear the device first so that any orphaned connect completing later is
	// recognized as superseded and no reconnection is triggered
	m.device = nil
	m.stopSearchLocked()
	session, sub := m.detachLocked(nil)
	m.publishLocked(m.statusLocked())

	m.logger.Infof("disconnecting from scale")
	return m.teardown(session, sub)
}

// Close terminates any connection or attempt, e.g. upon shutdown
func (m *Manager) Close() error {

	m.mu.Lock()
	m.device = nil
	m.token++
	m.stopSearchLocked()
	if m.state == scale.StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	session, sub := m.detachLocked(nil)
	m.publishLocked(m.statusLocked())

	if session == nil {
		return nil
	}
	return m.teardown(session, sub)
}

////////////////////////////////////////////////////////////////////////////////

// connect runs a full connect sequence for the given token, discovering a device
// first if none is held
func (m *Manager) connect(ctx context.Context, token uint64) error {

	m.mu.Lock()
	device := m.device
	m.mu.Unlock()

	if device == nil {
		picked, err := m.discover(ctx, token)
		if err != nil {
			return m.fail(token, fmt.Errorf("failed to discover scale: %w", err))
		}

		m.mu.Lock()
		if !m.pendingLocked(token) {
			m.mu.Unlock()
			m.logger.Debugf("attempt %d superseded while discovering device", token)
			return scale.ErrSuperseded
		}
		m.device = picked
		m.mu.Unlock()

		m.logger.Infof("selected device `%s/%s`", picked.Name(), picked.ID())
		device = picked
	}

	if err := m.establish(token, device); err != nil {
		if errors.Is(err, scale.ErrSuperseded) {
			return err
		}
		return m.fail(token, err)
	}

	return nil
}

// discover runs the device search of an attempt. The search is cancelled as soon
// as the attempt is superseded, and it only starts once the search of a previous
// attempt has returned (adapters usually support a single scan at a time)
func (m *Manager) discover(ctx context.Context, token uint64) (scale.DeviceHandle, error) {

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)

	m.mu.Lock()
	if !m.pendingLocked(token) {
		m.mu.Unlock()
		return nil, scale.ErrSuperseded
	}
	prev := m.searchDone
	m.searchCancel, m.searchDone = cancel, done
	m.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-searchCtx.Done():
			return nil, fmt.Errorf("%w: %s", scale.ErrPickerCancelled, searchCtx.Err())
		}
	}

	picked, err := m.picker.RequestDevice(searchCtx, m.filter)

	m.mu.Lock()
	if m.searchDone == done {
		m.searchCancel, m.searchDone = nil, nil
	}
	m.mu.Unlock()

	return picked, err
}

// reconnect re-runs the connect sequence after a link loss
func (m *Manager) reconnect(token uint64, device scale.DeviceHandle) {

	var err error
	for attempt := 1; attempt <= m.reconnectAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(m.reconnectDelay)
		}
		if !m.isPending(token) {
			return
		}

		m.logger.Infof("reconnecting to device `%s/%s` (attempt %d/%d)", device.Name(), device.ID(), attempt, m.reconnectAttempts)
		if err = m.establish(token, device); err == nil || errors.Is(err, scale.ErrSuperseded) {
			return
		}
		m.logger.Warnf("reconnect attempt %d failed: %s", attempt, err)
	}

	_ = m.fail(token, fmt.Errorf("failed to reconnect after %d attempt(s): %w", m.reconnectAttempts, err))
}

// establish connects to the device, subscribes to notifications and transitions
// to the connected state if the attempt is still wanted afterwards. Sessions of
// superseded attempts are torn down and scale.ErrSuperseded is returned
func (m *Manager) establish(token uint64, device scale.DeviceHandle) error {

	// This may take arbitrarily long and cannot be aborted
	session, err := m.transport.Connect(device)
	if err != nil {
		return fmt.Errorf("failed to connect to device `%s`: %w", device.Name(), err)
	}

	m.mu.Lock()
	if !m.wantedLocked(token) {
		m.mu.Unlock()
		m.logger.Debugf("attempt %d superseded, discarding its session", token)
		_ = m.teardown(session, nil)
		return scale.ErrSuperseded
	}
	m.session = session
	m.mu.Unlock()

	sub, err := session.Notifications(m.filter.ServiceUUID, m.characteristicUUID)
	if err != nil {
		m.abandon(session, nil)
		return fmt.Errorf("failed to resolve notifications: %w", err)
	}
	if err := sub.Start(m.frameHandler(token, session)); err != nil {
		m.abandon(session, nil)
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}

	m.mu.Lock()
	if !m.wantedLocked(token) {
		m.mu.Unlock()
		m.logger.Debugf("attempt %d superseded after subscribing, discarding its session", token)
		_ = m.teardown(session, sub)
		return scale.ErrSuperseded
	}
	if m.session != session {
		m.mu.Unlock()
		_ = m.teardown(session, sub)
		return errLinkLost
	}

	if m.state == scale.StateConnecting {
		m.timer = stopwatch.Start(0)
	}
	m.state = scale.StateConnected
	m.sub = sub
	m.lastErr = nil
	m.holdWakeLockLocked()
	m.logger.Infof("connected to device `%s/%s` (attempt %d)", device.Name(), device.ID(), token)
	m.publishLocked(m.statusLocked())

	return nil
}

// fail moves a still pending attempt to the disconnected state, dropping the
// device. Failures of superseded attempts are discarded
func (m *Manager) fail(token uint64, err error) error {

	m.mu.Lock()
	if !m.pendingLocked(token) {
		m.mu.Unlock()
		m.logger.Debugf("discarding failure of superseded attempt %d: %s", token, err)
		return scale.ErrSuperseded
	}

	m.device = nil
	session, sub := m.detachLocked(err)

	if scale.IsSilent(err) {
		m.logger.Debugf("attempt %d aborted: %s", token, err)
		m.publishLocked(m.statusLocked())
	} else {
		m.logger.Errorf("attempt %d failed: %s", token, err)
		m.publishLocked(m.statusLocked(), err)
	}

	if session != nil {
		_ = m.teardown(session, sub)
	}

	return err
}

// abandon releases a session claimed by a pending attempt that failed halfway
func (m *Manager) abandon(session scale.Session, sub scale.Subscription) {
	m.mu.Lock()
	if m.session == session {
		m.session = nil
	}
	m.mu.Unlock()

	_ = m.teardown(session, sub)
}

func (m *Manager) teardown(session scale.Session, sub scale.Subscription) error {
	if sub != nil {
		if err := sub.Stop(); err != nil {
			m.logger.Debugf("failed to stop notifications: %s", err)
		}
	}
	if err := session.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect session: %w", err)
	}

	return nil
}

// onLinkLoss is called by the transport when a session drops unexpectedly
func (m *Manager) onLinkLoss(session scale.Session) {

	m.mu.Lock()
	if session == nil || m.session != session {
		m.mu.Unlock()
		m.logger.Debugf("ignoring link loss of inactive session")
		return
	}

	// A pending attempt owns its session, it will notice the loss itself
	if m.state != scale.StateConnected {
		m.session = nil
		m.mu.Unlock()
		return
	}

	m.session, m.sub = nil, nil
	if m.device == nil {
		m.detachLocked(nil)
		m.publishLocked(m.statusLocked())
		return
	}

	m.token++
	token, device := m.token, m.device
	m.state = scale.StateReconnecting
	m.logger.Warnf("lost connection to device `%s/%s`, reconnecting", device.Name(), device.ID())
	m.publishLocked(m.statusLocked())

	go m.reconnect(token, device)
}

// frameHandler returns the notification callback of a session
func (m *Manager) frameHandler(token uint64, session scale.Session) func([]byte) {
	return func(frame []byte) {

		m.mu.Lock()
		active := m.token == token && m.session == session
		m.mu.Unlock()
		if !active {
			return
		}

		reading, err := protocol.Decode(frame)
		if err != nil {
			m.logger.Warnf("failed to decode frame: %s", err)
			m.protocolFault(token, session, err)
			return
		}

		value, unit := m.converter.Display(reading)
		dataPoint := scale.DataPoint{
			TimeStamp: time.Now(),
			Value:     value,
			Unit:      scale.Unit(unit),
			Locked:    reading.Locked,
		}

		m.mu.Lock()
		if m.token != token || m.session != session {
			m.mu.Unlock()
			return
		}
		m.lastReading, m.hasReading = dataPoint, true
		m.publishMu.Lock()
		m.mu.Unlock()
		defer m.publishMu.Unlock()

		if m.display != nil {
			m.display.ShowReading(dataPoint.Value, string(dataPoint.Unit), dataPoint.Locked)
		}

		// Call handler function, if any
		if m.dataHandler != nil {
			m.dataHandler(dataPoint)
		}

		// Put data point on channel, if any
		if m.dataChan != nil {
			select {
			case m.dataChan <- dataPoint:
			default:
			}
		}
	}
}

// protocolFault drops the connection after an undecodable frame
func (m *Manager) protocolFault(token uint64, session scale.Session, err error) {

	m.mu.Lock()
	if m.token != token || m.session != session {
		m.mu.Unlock()
		return
	}

	pErr := &ProtocolError{Err: err}
	m.device = nil
	session, sub := m.detachLocked(pErr)
	m.publishLocked(m.statusLocked(), pErr)

	if err := m.teardown(session, sub); err != nil {
		m.logger.Warnf("%s", err)
	}
}

////////////////////////////////////////////////////////////////////////////////

func (m *Manager) statusLocked() scale.ConnectionStatus {
	status := scale.ConnectionStatus{
		State: m.state,
		Error: m.lastErr,
	}
	if m.state != scale.StateDisconnected {
		status.Token = m.token
	}

	return status
}

// pendingLocked returns if the attempt with the given token is still running
func (m *Manager) pendingLocked(token uint64) bool {
	return m.token == token &&
		(m.state == scale.StateConnecting || m.state == scale.StateReconnecting)
}

// wantedLocked returns if a session produced by the attempt with the given token
// may become the active one
func (m *Manager) wantedLocked(token uint64) bool {
	return m.pendingLocked(token) && m.device != nil
}

func (m *Manager) isPending(token uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pendingLocked(token)
}

// detachLocked moves to the disconnected state and returns the session / subscription
// that need to be torn down (if any)
func (m *Manager) detachLocked(err error) (scale.Session, scale.Subscription) {
	session, sub := m.session, m.sub
	m.session, m.sub = nil, nil
	m.state = scale.StateDisconnected

	m.lastErr = nil
	if err != nil && !scale.IsSilent(err) {
		m.lastErr = err
	}

	if m.timer != nil {
		m.timer.Stop()
		m.logger.Debugf("connection lasted %v", m.timer.ElapsedTime())
	}
	m.releaseWakeLockLocked()

	return session, sub
}

// stopSearchLocked cancels a running device search, if any. The search keeps
// being tracked until it has actually returned
func (m *Manager) stopSearchLocked() {
	if m.searchCancel != nil {
		m.searchCancel()
		m.searchCancel = nil
	}
}

func (m *Manager) holdWakeLockLocked() {
	if m.wakeLock == nil || m.wakeLockHeld {
		return
	}
	if err := m.wakeLock.Acquire(); err != nil {
		m.logger.Warnf("failed to acquire wake lock: %s", err)
		return
	}
	m.wakeLockHeld = true
}

func (m *Manager) releaseWakeLockLocked() {
	if m.wakeLock == nil || !m.wakeLockHeld {
		return
	}
	if err := m.wakeLock.Release(); err != nil {
		m.logger.Warnf("failed to release wake lock: %s", err)
	}
	m.wakeLockHeld = false
}

// publishLocked hands the status (and optional user visible errors) to the display
// and handlers. It must be called with mu held and releases it, keeping the order
// of notifications in line with the order of transitions
func (m *Manager) publishLocked(status scale.ConnectionStatus, errs ...error) {
	m.publishMu.Lock()
	m.mu.Unlock()
	defer m.publishMu.Unlock()

	if m.display != nil {
		m.display.ShowState(status)
		for _, err := range errs {
			m.display.ShowError(err)
		}
	}

	// Call handler function, if any
	if m.stateChangeHandler != nil {
		m.stateChangeHandler(status)
	}

	// Put state change on channel, if any
	if m.stateChangeChan != nil {
		select {
		case m.stateChangeChan <- status:
		default:
		}
	}
}
