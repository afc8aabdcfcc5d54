package main

import (
	"io"
	"sync"

	"github.com/fako1024/smartchef/pkg/scale"
	"github.com/fatih/color"
)

var (
	lockedColor   = color.New(color.FgGreen, color.Bold)
	unlockedColor = color.New(color.FgYellow)
	stateColor    = color.New(color.FgCyan)
	errorColor    = color.New(color.FgRed, color.Bold)
)

// console prints readings, connection states and faults to a terminal
type console struct {
	mu sync.Mutex
	w  io.Writer
}

var _ scale.Display = (*console)(nil)

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (c *console) ShowReading(value, unit string, locked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if locked {
		lockedColor.Fprintf(c.w, "%10s %-5s [locked]\n", value, unit)
		return
	}
	unlockedColor.Fprintf(c.w, "%10s %-5s\n", value, unit)
}

func (c *console) ShowState(status scale.ConnectionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stateColor.Fprintf(c.w, "scale %s\n", status.State)
}

func (c *console) ShowError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	errorColor.Fprintf(c.w, "error: %s\n", err)
}
