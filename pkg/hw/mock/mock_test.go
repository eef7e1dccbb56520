package mock

import (
	"context"
	"testing"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastMCU() *MCU {
	return NewMCU(MCUConfig{RampRateC: 1e6})
}

func fastRobot() *Robot {
	return NewRobot(RobotConfig{FixedOverhead: time.Millisecond})
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	p := NewPower(PowerConfig{})

	assert.False(t, p.IsConnected())

	st, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, hw.StateDisconnected, st.State)

	require.NoError(t, p.Connect(ctx))
	assert.True(t, p.IsConnected())

	st, err = p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, hw.StateReady, st.State)

	require.NoError(t, p.Disconnect(ctx))
	assert.False(t, p.IsConnected())

	// Reconnect reaches the same ready state.
	require.NoError(t, p.Connect(ctx))
	assert.True(t, p.IsConnected())
}

func TestConnectFailureInjection(t *testing.T) {
	p := NewPower(PowerConfig{FailConnect: true})

	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, hw.IsKind(err, hw.KindConnection))
	assert.False(t, p.IsConnected())
}

func TestOperationRequiresConnection(t *testing.T) {
	err := NewPower(PowerConfig{}).EnableOutput(context.Background())
	require.Error(t, err)
	assert.True(t, hw.IsKind(err, hw.KindConnection))
}

func TestPowerReadbackTracksSetpoint(t *testing.T) {
	ctx := context.Background()
	p := NewPower(PowerConfig{NoiseVolts: 0.01})
	require.NoError(t, p.Connect(ctx))

	require.NoError(t, p.SetVoltage(ctx, 18.0))
	require.NoError(t, p.EnableOutput(ctx))

	v, err := p.ReadVoltage(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 18.0, v, 0.05)

	require.NoError(t, p.DisableOutput(ctx))

	v, err = p.ReadVoltage(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestPowerReadbackOverride(t *testing.T) {
	ctx := context.Background()
	p := NewPower(PowerConfig{ReadbackVoltage: 12.0})
	require.NoError(t, p.Connect(ctx))
	require.NoError(t, p.SetVoltage(ctx, 18.0))
	require.NoError(t, p.EnableOutput(ctx))

	v, err := p.ReadVoltage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)
}

func TestMCUTemperatureHandshake(t *testing.T) {
	ctx := context.Background()
	m := fastMCU()
	require.NoError(t, m.Connect(ctx))

	require.NoError(t, m.InitializeLMA(ctx, 52.0, 38.0, 100*time.Millisecond))
	require.NoError(t, m.WaitForOperatingTemperature(ctx, time.Second))

	temp, err := m.ReadTemperature(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 52.0, temp, 1.0)

	require.NoError(t, m.MarkStrokeInitComplete(ctx))
	require.NoError(t, m.WaitForStandbyTemperature(ctx, time.Second))

	temp, err = m.ReadTemperature(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 38.0, temp, 1.0)
}

func TestMCUWaitTimeout(t *testing.T) {
	ctx := context.Background()
	m := NewMCU(MCUConfig{RampRateC: 0.001, PollInterval: time.Millisecond})
	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.InitializeLMA(ctx, 90.0, 38.0, time.Second))

	err := m.WaitForOperatingTemperature(ctx, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, hw.IsKind(err, hw.KindTimeout))
}

func TestMCUStrokeRequiresLMA(t *testing.T) {
	ctx := context.Background()
	m := fastMCU()
	require.NoError(t, m.Connect(ctx))

	err := m.MarkStrokeInitComplete(ctx)
	require.Error(t, err)
	assert.True(t, hw.IsKind(err, hw.KindSafety))
}

func TestRobotMoveAndWait(t *testing.T) {
	ctx := context.Background()
	r := fastRobot()
	require.NoError(t, r.Connect(ctx))
	require.NoError(t, r.HomeAllAxes(ctx))

	require.NoError(t, r.MoveTo(ctx, 170000.0, 1e8, 1e8))
	require.NoError(t, r.WaitMotionComplete(ctx, time.Second))

	pos, err := r.ReadPosition(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 170000.0, pos)
}

func TestRobotMoveRequiresHoming(t *testing.T) {
	ctx := context.Background()
	r := fastRobot()
	require.NoError(t, r.Connect(ctx))

	err := r.MoveTo(ctx, 1000.0, 1e6, 1e6)
	require.Error(t, err)
	assert.True(t, hw.IsKind(err, hw.KindSafety))
}

func TestRobotMoveOutOfRange(t *testing.T) {
	ctx := context.Background()
	r := NewRobot(RobotConfig{AxisMaxUm: 200000, FixedOverhead: time.Millisecond})
	require.NoError(t, r.Connect(ctx))
	require.NoError(t, r.HomeAllAxes(ctx))

	err := r.MoveTo(ctx, 300000.0, 1e6, 1e6)
	require.Error(t, err)
	assert.True(t, hw.IsKind(err, hw.KindOutOfRange))
}

func TestRobotEmergencyStopIdempotent(t *testing.T) {
	ctx := context.Background()
	r := fastRobot()
	require.NoError(t, r.Connect(ctx))
	require.NoError(t, r.HomeAllAxes(ctx))

	require.NoError(t, r.EmergencyStop(ctx))
	posAfterFirst := r.Position()
	homedAfterFirst := r.Homed()

	require.NoError(t, r.EmergencyStop(ctx))
	assert.Equal(t, posAfterFirst, r.Position())
	assert.Equal(t, homedAfterFirst, r.Homed())
}

func TestLoadCellPeakCapture(t *testing.T) {
	ctx := context.Background()
	r := fastRobot()
	m := fastMCU()
	lc := NewLoadCell(LoadCellConfig{NoiseN: 0.001})
	lc.BindSources(r, m)

	require.NoError(t, r.Connect(ctx))
	require.NoError(t, m.Connect(ctx))
	require.NoError(t, lc.Connect(ctx))
	require.NoError(t, r.HomeAllAxes(ctx))

	require.NoError(t, lc.StartPeakCapture(ctx))

	// Apply stroke while capturing; peak must track the higher force.
	require.NoError(t, r.MoveTo(ctx, 170000.0, 1e8, 1e8))
	require.NoError(t, r.WaitMotionComplete(ctx, time.Second))

	_, err := lc.ReadForce(ctx)
	require.NoError(t, err)

	require.NoError(t, lc.StopPeakCapture(ctx))

	peak, err := lc.ReadPeakForce(ctx)
	require.NoError(t, err)

	baseline := NewLoadCell(LoadCellConfig{NoiseN: 0.001})
	require.NoError(t, baseline.Connect(ctx))

	rest, err := baseline.ReadForce(ctx)
	require.NoError(t, err)
	assert.Greater(t, peak, rest)
}

func TestLoadCellForceOffsetInjection(t *testing.T) {
	ctx := context.Background()
	lc := NewLoadCell(LoadCellConfig{ForceOffsetN: 100.0, NoiseN: 0.001})
	require.NoError(t, lc.Connect(ctx))

	f, err := lc.ReadForce(ctx)
	require.NoError(t, err)
	assert.Greater(t, f, 100.0)
}

func TestDIOReadWrite(t *testing.T) {
	ctx := context.Background()
	d := NewDIO(DIOConfig{Inputs: 0b101})
	require.NoError(t, d.Connect(ctx))

	in, err := d.ReadInput(ctx, 0)
	require.NoError(t, err)
	assert.True(t, in)

	in, err = d.ReadInput(ctx, 1)
	require.NoError(t, err)
	assert.False(t, in)

	require.NoError(t, d.WriteOutput(ctx, 3, true))
	assert.Equal(t, uint32(0b1000), d.Outputs())

	require.NoError(t, d.ResetAllOutputs(ctx))
	assert.Zero(t, d.Outputs())
}
