package facade

import (
	"context"
	"sync"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
)

// The locked wrappers serialize every call to one instrument. Commands
// from concurrent callers never interleave on the wire.

type lockedPower struct {
	mu    sync.Mutex
	inner hw.PowerSupply
}

var _ hw.PowerSupply = (*lockedPower)(nil)

func (l *lockedPower) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Connect(ctx)
}

func (l *lockedPower) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Disconnect(ctx)
}

func (l *lockedPower) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.IsConnected()
}

func (l *lockedPower) Status(ctx context.Context) (hw.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Status(ctx)
}

func (l *lockedPower) SetVoltage(ctx context.Context, volts float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.SetVoltage(ctx, volts)
}

func (l *lockedPower) SetCurrentLimit(ctx context.Context, amps float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.SetCurrentLimit(ctx, amps)
}

func (l *lockedPower) EnableOutput(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.EnableOutput(ctx)
}

func (l *lockedPower) DisableOutput(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.DisableOutput(ctx)
}

func (l *lockedPower) ReadVoltage(ctx context.Context) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.ReadVoltage(ctx)
}

func (l *lockedPower) ReadCurrent(ctx context.Context) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.ReadCurrent(ctx)
}

func (l *lockedPower) ReadPower(ctx context.Context) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.ReadPower(ctx)
}

func (l *lockedPower) MeasureAll(ctx context.Context) (hw.PowerReading, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.MeasureAll(ctx)
}

type lockedMCU struct {
	mu    sync.Mutex
	inner hw.MCU
}

var _ hw.MCU = (*lockedMCU)(nil)

func (l *lockedMCU) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Connect(ctx)
}

func (l *lockedMCU) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Disconnect(ctx)
}

func (l *lockedMCU) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.IsConnected()
}

func (l *lockedMCU) Status(ctx context.Context) (hw.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Status(ctx)
}

func (l *lockedMCU) WaitBootComplete(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.WaitBootComplete(ctx, timeout)
}

func (l *lockedMCU) EnterTestMode(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.EnterTestMode(ctx)
}

func (l *lockedMCU) SetFanSpeed(ctx context.Context, level int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.SetFanSpeed(ctx, level)
}

func (l *lockedMCU) SetUpperTemperature(ctx context.Context, celsius float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.SetUpperTemperature(ctx, celsius)
}

func (l *lockedMCU) InitializeLMA(ctx context.Context, opTemp, standbyTemp float64, hold time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.InitializeLMA(ctx, opTemp, standbyTemp, hold)
}

func (l *lockedMCU) WaitForOperatingTemperature(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.WaitForOperatingTemperature(ctx, timeout)
}

func (l *lockedMCU) WaitForStandbyTemperature(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.WaitForStandbyTemperature(ctx, timeout)
}

func (l *lockedMCU) MarkStrokeInitComplete(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.MarkStrokeInitComplete(ctx)
}

func (l *lockedMCU) ReadTemperature(ctx context.Context) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.ReadTemperature(ctx)
}

type lockedLoadCell struct {
	mu    sync.Mutex
	inner hw.LoadCell
}

var _ hw.LoadCell = (*lockedLoadCell)(nil)

func (l *lockedLoadCell) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Connect(ctx)
}

func (l *lockedLoadCell) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Disconnect(ctx)
}

func (l *lockedLoadCell) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.IsConnected()
}

func (l *lockedLoadCell) Status(ctx context.Context) (hw.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Status(ctx)
}

func (l *lockedLoadCell) Zero(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Zero(ctx)
}

func (l *lockedLoadCell) ReadForce(ctx context.Context) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.ReadForce(ctx)
}

func (l *lockedLoadCell) ReadPeakForce(ctx context.Context) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.ReadPeakForce(ctx)
}

func (l *lockedLoadCell) StartPeakCapture(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.StartPeakCapture(ctx)
}

func (l *lockedLoadCell) StopPeakCapture(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.StopPeakCapture(ctx)
}

type lockedRobot struct {
	mu    sync.Mutex
	inner hw.Robot
}

var _ hw.Robot = (*lockedRobot)(nil)

func (l *lockedRobot) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Connect(ctx)
}

func (l *lockedRobot) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Disconnect(ctx)
}

func (l *lockedRobot) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.IsConnected()
}

func (l *lockedRobot) Status(ctx context.Context) (hw.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Status(ctx)
}

func (l *lockedRobot) HomeAllAxes(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.HomeAllAxes(ctx)
}

func (l *lockedRobot) MoveTo(ctx context.Context, positionUm, velocityUmS, accelUmS2 float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.MoveTo(ctx, positionUm, velocityUmS, accelUmS2)
}

func (l *lockedRobot) WaitMotionComplete(ctx context.Context, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.WaitMotionComplete(ctx, timeout)
}

func (l *lockedRobot) ReadPosition(ctx context.Context, axis int) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.ReadPosition(ctx, axis)
}

func (l *lockedRobot) EmergencyStop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.EmergencyStop(ctx)
}

func (l *lockedRobot) ResetHomingState(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.ResetHomingState(ctx)
}

type lockedDIO struct {
	mu    sync.Mutex
	inner hw.DigitalIO
}

var _ hw.DigitalIO = (*lockedDIO)(nil)

func (l *lockedDIO) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Connect(ctx)
}

func (l *lockedDIO) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Disconnect(ctx)
}

func (l *lockedDIO) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.IsConnected()
}

func (l *lockedDIO) Status(ctx context.Context) (hw.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.Status(ctx)
}

func (l *lockedDIO) ReadInput(ctx context.Context, channel int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.ReadInput(ctx, channel)
}

func (l *lockedDIO) ReadAllInputs(ctx context.Context) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.ReadAllInputs(ctx)
}

func (l *lockedDIO) WriteOutput(ctx context.Context, channel int, level bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.WriteOutput(ctx, channel, level)
}

func (l *lockedDIO) ResetAllOutputs(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inner.ResetAllOutputs(ctx)
}
