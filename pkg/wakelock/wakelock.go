// Package wakelock keeps the host from idling / suspending while a scale is
// connected. On Linux this is implemented via a systemd-logind inhibitor lock.
package wakelock

import (
	"fmt"
	"os"
	"sync"

	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/godbus/dbus/v5"
)

const (
	logindDest    = "org.freedesktop.login1"
	logindPath    = dbus.ObjectPath("/org/freedesktop/login1")
	logindInhibit = "org.freedesktop.login1.Manager.Inhibit"

	defaultWhat = "idle:sleep"
	defaultWho  = "smartchef"
	defaultWhy  = "Bluetooth scale connected"
	defaultMode = "block"
)

var (
	_ scale.WakeLock = (*Logind)(nil)
	_ scale.WakeLock = Nop{}
)

// Nop is a wake lock that does nothing
type Nop struct{}

// Acquire does nothing
func (Nop) Acquire() error { return nil }

// Release does nothing
func (Nop) Release() error { return nil }

type caller interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Logind denotes an inhibitor lock held via systemd-logind
type Logind struct {
	obj  caller
	what string
	why  string

	mu sync.Mutex
	fd *os.File
}

// NewLogind connects to the system bus and returns a logind based wake lock
func NewLogind(options ...func(*Logind)) (*Logind, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	l := &Logind{
		obj:  conn.Object(logindDest, logindPath),
		what: defaultWhat,
		why:  defaultWhy,
	}

	// Execute functional options (if any)
	for _, option := range options {
		option(l)
	}

	return l, nil
}

// WithWhat sets the colon separated list of inhibited operations
func WithWhat(what string) func(*Logind) {
	return func(l *Logind) {
		l.what = what
	}
}

// WithReason sets the human readable reason shown for the inhibitor
func WithReason(why string) func(*Logind) {
	return func(l *Logind) {
		l.why = why
	}
}

// Acquire takes the inhibitor lock (calling it while held is a no-op)
func (l *Logind) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fd != nil {
		return nil
	}

	var fd dbus.UnixFD
	if err := l.obj.Call(logindInhibit, 0, l.what, defaultWho, l.why, defaultMode).Store(&fd); err != nil {
		return fmt.Errorf("failed to acquire inhibitor lock: %w", err)
	}
	l.fd = os.NewFile(uintptr(fd), "inhibitor")

	return nil
}

// Release drops the inhibitor lock (calling it while not held is a no-op)
func (l *Logind) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fd == nil {
		return nil
	}

	err := l.fd.Close()
	l.fd = nil
	if err != nil {
		return fmt.Errorf("failed to release inhibitor lock: %w", err)
	}

	return nil
}

// Held returns if the lock is currently held
func (l *Logind) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.fd != nil
}
