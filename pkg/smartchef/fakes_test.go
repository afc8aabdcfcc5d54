package smartchef

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/smartchef/pkg/scale"
)

const testTimeout = 2 * time.Second

type fakeDevice struct {
	id, name string
}

func (d *fakeDevice) ID() string   { return d.id }
func (d *fakeDevice) Name() string { return d.name }

var errAlreadyScanning = errors.New("already scanning")

type fakePicker struct {
	mu       sync.Mutex
	calls    int
	filters  []scale.Filter
	searches []context.Context
	err      error
	block    bool

	// singleScan makes the first search run until its context is done and fails
	// any search overlapping with it, like an adapter supporting one scan at a time
	singleScan bool
	scanning   bool
}

func (p *fakePicker) RequestDevice(ctx context.Context, filter scale.Filter) (scale.DeviceHandle, error) {
	p.mu.Lock()
	p.calls++
	p.filters = append(p.filters, filter)
	p.searches = append(p.searches, ctx)
	if p.scanning {
		p.mu.Unlock()
		return nil, errAlreadyScanning
	}
	first := p.singleScan && p.calls == 1
	p.scanning = first
	err, block := p.err, p.block
	p.mu.Unlock()

	if first {
		<-ctx.Done()

		// Stopping the scan takes a moment
		time.Sleep(10 * time.Millisecond)
		p.mu.Lock()
		p.scanning = false
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", scale.ErrPickerCancelled, ctx.Err())
	}

	if block {
		<-ctx.Done()
		return nil, scale.ErrPickerCancelled
	}
	if err != nil {
		return nil, err
	}
	return &fakeDevice{id: "00:11:22:33:44:55", name: "Chipsea-BLE"}, nil
}

// waitSearch returns the context of the n-th (1-based) device search once it has started
func (p *fakePicker) waitSearch(tb testing.TB, n int) context.Context {
	tb.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		p.mu.Lock()
		if len(p.searches) >= n {
			ctx := p.searches[n-1]
			p.mu.Unlock()
			return ctx
		}
		p.mu.Unlock()
		if time.Now().After(deadline) {
			tb.Fatalf("timeout waiting for device search %d", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *fakePicker) numCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type connectResult struct {
	session scale.Session
	err     error
}

type connectCall struct {
	device scale.DeviceHandle
	result chan connectResult
}

func (c *connectCall) succeed() *fakeSession {
	s := newFakeSession()
	c.result <- connectResult{session: s}
	return s
}

func (c *connectCall) fail(err error) {
	c.result <- connectResult{err: err}
}

// fakeTransport hands every Connect call to the test, which decides when and
// how it completes
type fakeTransport struct {
	mu       sync.Mutex
	calls    chan *connectCall
	linkLoss func(scale.Session)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{calls: make(chan *connectCall, 16)}
}

func (t *fakeTransport) Connect(device scale.DeviceHandle) (scale.Session, error) {
	call := &connectCall{device: device, result: make(chan connectResult, 1)}
	t.calls <- call
	res := <-call.result
	return res.session, res.err
}

func (t *fakeTransport) SetLinkLossHandler(fn func(scale.Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.linkLoss = fn
}

func (t *fakeTransport) loseLink(s scale.Session) {
	t.mu.Lock()
	fn := t.linkLoss
	t.mu.Unlock()
	fn(s)
}

func (t *fakeTransport) nextCall(tb testing.TB) *connectCall {
	tb.Helper()
	select {
	case c := <-t.calls:
		return c
	case <-time.After(testTimeout):
		tb.Fatalf("timeout waiting for connect call")
	}
	return nil
}

func (t *fakeTransport) expectNoCall(tb testing.TB) {
	tb.Helper()
	select {
	case <-t.calls:
		tb.Fatalf("unexpected connect call")
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeSession struct {
	mu              sync.Mutex
	disconnects     int
	notificationErr error
	service, char   string
	sub             *fakeSubscription
}

func newFakeSession() *fakeSession {
	return &fakeSession{sub: &fakeSubscription{}}
}

func (s *fakeSession) Notifications(serviceUUID, characteristicUUID string) (scale.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.service, s.char = serviceUUID, characteristicUUID
	if s.notificationErr != nil {
		return nil, s.notificationErr
	}
	return s.sub, nil
}

func (s *fakeSession) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	return nil
}

func (s *fakeSession) numDisconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

type fakeSubscription struct {
	mu      sync.Mutex
	fn      func([]byte)
	stopped bool
}

func (s *fakeSubscription) Start(fn func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	return nil
}

func (s *fakeSubscription) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeSubscription) push(frame []byte) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

type shownReading struct {
	value, unit string
	locked      bool
}

type fakeDisplay struct {
	mu       sync.Mutex
	readings []shownReading
	states   []scale.ConnectionStatus
	errs     []error
}

func (d *fakeDisplay) ShowReading(value, unit string, locked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readings = append(d.readings, shownReading{value, unit, locked})
}

func (d *fakeDisplay) ShowState(status scale.ConnectionStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = append(d.states, status)
}

func (d *fakeDisplay) ShowError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

func (d *fakeDisplay) errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

func (d *fakeDisplay) shownReadings() []shownReading {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]shownReading(nil), d.readings...)
}

type fakeWakeLock struct {
	mu       sync.Mutex
	held     bool
	acquires int
	releases int
}

func (l *fakeWakeLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = true
	l.acquires++
	return nil
}

func (l *fakeWakeLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.releases++
	return nil
}

func (l *fakeWakeLock) isHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

type testEnv struct {
	m         *Manager
	picker    *fakePicker
	transport *fakeTransport
	display   *fakeDisplay
	wakeLock  *fakeWakeLock
	states    chan scale.ConnectionStatus
}

func newTestEnv(t *testing.T, options ...func(*Manager)) *testEnv {
	t.Helper()

	env := &testEnv{
		picker:    &fakePicker{},
		transport: newFakeTransport(),
		display:   &fakeDisplay{},
		wakeLock:  &fakeWakeLock{},
		states:    make(chan scale.ConnectionStatus, 64),
	}
	m, err := New(append([]func(*Manager){
		WithPicker(env.picker),
		WithTransport(env.transport),
		WithDisplay(env.display),
		WithWakeLock(env.wakeLock),
		WithReconnectDelay(time.Millisecond),
	}, options...)...)
	if err != nil {
		t.Fatalf("failed to instantiate manager: %s", err)
	}
	m.SetStateChangeChannel(env.states)
	env.m = m

	return env
}

// connectAsync issues a connect request in the background, returning its result channel
func (e *testEnv) connectAsync() chan error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- e.m.RequestConnect(context.Background())
	}()
	return errChan
}

func (e *testEnv) waitState(t *testing.T, state scale.State) scale.ConnectionStatus {
	t.Helper()
	for {
		select {
		case st := <-e.states:
			if st.State == state {
				return st
			}
		case <-time.After(testTimeout):
			t.Fatalf("timeout waiting for state %s (current: %s)", state, e.m.Status().State)
		}
	}
}

func waitErr(t *testing.T, errChan chan error) error {
	t.Helper()
	select {
	case err := <-errChan:
		return err
	case <-time.After(testTimeout):
		t.Fatalf("timeout waiting for connect request to return")
	}
	return nil
}

// connected brings the manager into the connected state and returns the session
func (e *testEnv) connected(t *testing.T) *fakeSession {
	t.Helper()

	errChan := e.connectAsync()
	session := e.transport.nextCall(t).succeed()
	if err := waitErr(t, errChan); err != nil {
		t.Fatalf("unexpected connect error: %s", err)
	}
	e.waitState(t, scale.StateConnected)

	return session
}
