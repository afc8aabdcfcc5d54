package scale

import (
	"fmt"
	"time"
)

// Unit denotes the unit of the weight measurement
type Unit string

const (

	// UnitUnknown denotes an unknown / invalid unit
	UnitUnknown Unit = "--"

	// UnitGrams denotes metric units
	UnitGrams Unit = "g"

	// UnitMillilitres denotes volumetric metric units (the scale merely relabels grams)
	UnitMillilitres Unit = "ml"

	// UnitPounds denotes imperial units
	UnitPounds Unit = "lb"

	// UnitFluidOunces denotes imperial volumetric units (display only, never sent by the scale)
	UnitFluidOunces Unit = "fl oz"
)

// State denotes a connection state
type State int

const (

	// StateDisconnected is active while no connection is held or attempted
	StateDisconnected State = iota

	// StateConnecting is active while an initial connect sequence is running
	StateConnecting

	// StateConnected is active while being connected to the scale
	StateConnected

	// StateReconnecting is active while recovering from an unexpected link loss
	StateReconnecting
)

// String fulfils the Stringer interface
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ConnectionStatus denotes the current status of the bluetooth device
type ConnectionStatus struct {
	Error error
	State

	// Token is the attempt token the state belongs to (zero while disconnected)
	Token uint64
}

// DataPoint denotes a display-ready weight measurement at a certain point in time
type DataPoint struct {
	TimeStamp time.Time
	Value     string
	Unit      Unit
	Locked    bool
}

// String fulfils the Stringer interface
func (d DataPoint) String() string {
	return fmt.Sprintf("%s %s", d.Value, d.Unit)
}
