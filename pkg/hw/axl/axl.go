// Package axl binds the Ajinextek AXL motion library. The vendor ships
// AXL.dll for Windows only; on other platforms Load reports the library
// as unavailable so callers can substitute a simulated backend.
package axl

import (
	"errors"
	"fmt"
)

// Return code for every AXL call that succeeded.
const rtSuccess = 0

// Homing result codes from AxmHomeGetResult.
const (
	HomeSuccess   = 0x01
	HomeSearching = 0x02
	HomeUserBreak = 0x11
)

// ErrUnavailable is returned by Load on platforms without AXL.dll.
var ErrUnavailable = errors.New("axl library not available on this platform")

// Library is the subset of the AXL API the robot and digital I/O
// backends use. One process opens the library once and shares it.
type Library interface {
	// Open initializes the library with the given interrupt number.
	Open(irqNo int) error
	Close() error
	IsOpened() bool
	BoardCount() (int, error)
	AxisCount() (int, error)

	// Motion, per axis.
	ServoOn(axis int, on bool) error
	HomeSetStart(axis int) error
	HomeResult(axis int) (int, error)
	MoveStartPos(axis int, position, velocity, accel, decel float64) error
	MoveStop(axis int, decel float64) error
	MoveEStop(axis int) error
	InMotion(axis int) (bool, error)
	ActualPosition(axis int) (float64, error)
	SetActualPosition(axis int, position float64) error
	SetCommandPosition(axis int, position float64) error

	// Digital I/O, per module.
	ReadInputBit(module, offset int) (bool, error)
	ReadInputDword(module int) (uint32, error)
	WriteOutputBit(module, offset int, on bool) error
	WriteOutputDword(module int, word uint32) error
}

// codeError turns a nonzero AXL return code into an error.
func codeError(fn string, code uint32) error {
	if code == rtSuccess {
		return nil
	}

	return fmt.Errorf("%s returned code %d", fn, code)
}
