// Package hw defines the capability contracts every instrument back-end
// must satisfy, plus the shared error taxonomy. The orchestrator and the
// hardware facade depend only on these interfaces; mock and physical
// back-ends are interchangeable behind them.
package hw

import (
	"context"
	"time"
)

// State is the lifecycle state of an instrument handle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateReady        State = "ready"
	StateBusy         State = "busy"
)

// Status is a point-in-time snapshot of an instrument handle.
type Status struct {
	State   State          `json:"state"`
	Vendor  string         `json:"vendor,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
	ReadAt  time.Time      `json:"read_at"`
	Healthy bool           `json:"healthy"`
}

// Instrument is the uniform lifecycle every back-end exposes.
// Implementations are re-entrancy-safe but not concurrent-safe on a single
// handle; the facade serializes calls per instrument.
type Instrument interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Status(ctx context.Context) (Status, error)
}

// PowerReading is the combined output of a power supply measurement.
type PowerReading struct {
	VoltageV float64 `json:"voltage_v"`
	CurrentA float64 `json:"current_a"`
	PowerW   float64 `json:"power_w"`
}

// PowerSupply controls the programmable DC supply biasing the DUT.
type PowerSupply interface {
	Instrument

	SetVoltage(ctx context.Context, volts float64) error
	SetCurrentLimit(ctx context.Context, amps float64) error
	EnableOutput(ctx context.Context) error
	DisableOutput(ctx context.Context) error
	ReadVoltage(ctx context.Context) (float64, error)
	ReadCurrent(ctx context.Context) (float64, error)
	ReadPower(ctx context.Context) (float64, error)
	MeasureAll(ctx context.Context) (PowerReading, error)
}

// MCU controls the thermal/stroke controller. The MCU requires a
// multi-second quiescence after some commands; that latency is surfaced
// through the WaitFor* status handshakes, never through blind sleeps in
// callers.
type MCU interface {
	Instrument

	// WaitBootComplete blocks until the MCU reports its boot-complete
	// status after power-up, or the timeout elapses.
	WaitBootComplete(ctx context.Context, timeout time.Duration) error

	EnterTestMode(ctx context.Context) error

	// SetFanSpeed accepts levels 0 through 10.
	SetFanSpeed(ctx context.Context, level int) error

	SetUpperTemperature(ctx context.Context, celsius float64) error

	// InitializeLMA arms the combined temperature-and-stroke primitive:
	// the MCU heats toward opTemp, later returns to standbyTemp, and holds
	// at the operating point for the given duration.
	InitializeLMA(ctx context.Context, opTemp, standbyTemp float64, hold time.Duration) error

	WaitForOperatingTemperature(ctx context.Context, timeout time.Duration) error
	WaitForStandbyTemperature(ctx context.Context, timeout time.Duration) error

	// MarkStrokeInitComplete tells the MCU the piston is positioned and the
	// stroke portion of the LMA cycle may run.
	MarkStrokeInitComplete(ctx context.Context) error

	ReadTemperature(ctx context.Context) (float64, error)
}

// LoadCell measures force on the test piston. Peak capture tracks the
// maximum force seen between the start and stop markers.
type LoadCell interface {
	Instrument

	Zero(ctx context.Context) error
	ReadForce(ctx context.Context) (float64, error)
	ReadPeakForce(ctx context.Context) (float64, error)
	StartPeakCapture(ctx context.Context) error
	StopPeakCapture(ctx context.Context) error
}

// Robot drives the single-axis test piston. Positions are micrometers.
type Robot interface {
	Instrument

	HomeAllAxes(ctx context.Context) error
	MoveTo(ctx context.Context, positionUm, velocityUmS, accelUmS2 float64) error
	WaitMotionComplete(ctx context.Context, timeout time.Duration) error
	ReadPosition(ctx context.Context, axis int) (float64, error)
	EmergencyStop(ctx context.Context) error
	ResetHomingState(ctx context.Context) error
}

// DigitalIO exposes the fixture's digital inputs and outputs.
type DigitalIO interface {
	Instrument

	ReadInput(ctx context.Context, channel int) (bool, error)
	ReadAllInputs(ctx context.Context) (uint32, error)
	WriteOutput(ctx context.Context, channel int, level bool) error
	ResetAllOutputs(ctx context.Context) error
}
