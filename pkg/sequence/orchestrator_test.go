package sequence

import (
	"context"
	"testing"
	"time"

	"github.com/forcelab/eoltester/pkg/facade"
	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/forcelab/eoltester/pkg/hw/factory"
	"github.com/forcelab/eoltester/pkg/hw/mock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

// testRig bundles a facade over fast mocks with the mocks themselves so
// tests can inspect simulated state after a run.
type testRig struct {
	f     *facade.Facade
	set   *factory.Set
	power *mock.Power
	mcu   *mock.MCU
	robot *mock.Robot
	cell  *mock.LoadCell
	dio   *mock.DIO
}

func newRig(pc mock.PowerConfig, mc mock.MCUConfig, rc mock.RobotConfig, lc mock.LoadCellConfig) *testRig {
	if mc.RampRateC == 0 {
		mc.RampRateC = 1e6
	}

	if mc.PollInterval == 0 {
		mc.PollInterval = time.Millisecond
	}

	if rc.FixedOverhead == 0 {
		rc.FixedOverhead = time.Millisecond
	}

	if rc.PollInterval == 0 {
		rc.PollInterval = time.Millisecond
	}

	r := &testRig{
		power: mock.NewPower(pc),
		mcu:   mock.NewMCU(mc),
		robot: mock.NewRobot(rc),
		cell:  mock.NewLoadCell(lc),
		dio:   mock.NewDIO(mock.DIOConfig{}),
	}

	r.cell.BindSources(r.robot, r.mcu)

	r.set = &factory.Set{Power: r.power, MCU: r.mcu, LoadCell: r.cell, Robot: r.robot, DIO: r.dio}
	r.f = facade.New(quietLog(), r.set)

	return r
}

// facade must be rebuilt after a test swaps an instrument in the set.
func (r *testRig) rebuild() {
	r.f = facade.New(quietLog(), r.set)
}

func fastConfig() Config {
	return Config{
		ConnectTimeout:       5 * time.Second,
		BootTimeout:          time.Second,
		OperatingTempTimeout: 5 * time.Second,
		StandbyTempTimeout:   5 * time.Second,
		MotionTimeout:        5 * time.Second,
		SettleTime:           time.Millisecond,
		VoltageToleranceV:    1.0,
		ZeroToleranceN:       50.0,
		FanSpeed:             5,
	}
}

func fastParams() Parameters {
	return Parameters{
		Voltage:            18.0,
		CurrentLimit:       20.0,
		TemperatureList:    []float64{52.0},
		StrokePositions:    []float64{170000.0},
		VelocityUmS:        2_000_000.0,
		AccelUmS2:          10_000_000.0,
		RepeatCount:        1,
		StopOnFailure:      true,
		StandbyTemperature: 30.0,
		HoldTime:           2 * time.Millisecond,
		AxisMaxUm:          250_000.0,
	}
}

func runWith(t *testing.T, rig *testRig, params Parameters) *TestResult {
	t.Helper()

	ec, err := NewExecutionContext("DUT-TEST", params)
	require.NoError(t, err)

	o := New(quietLog(), rig.f, fastConfig())

	return o.Run(context.Background(), ec)
}

func phaseNames(res *TestResult) []PhaseName {
	names := make([]PhaseName, 0, len(res.Phases))
	for _, rec := range res.Phases {
		names = append(names, rec.Name)
	}

	return names
}

func requirePhaseOutcome(t *testing.T, res *TestResult, name PhaseName, outcome PhaseOutcome) {
	t.Helper()

	rec := res.Phase(name)
	require.NotNilf(t, rec, "phase %s missing", name)
	assert.Equalf(t, outcome, rec.Outcome, "phase %s", name)
}

func TestRunHappyPath(t *testing.T) {
	rig := newRig(mock.PowerConfig{}, mock.MCUConfig{}, mock.RobotConfig{}, mock.LoadCellConfig{})

	res := runWith(t, rig, fastParams())

	assert.Equal(t, VerdictPass, res.Verdict)
	assert.Empty(t, res.Errors)

	require.Equal(t, phaseOrder, phaseNames(res))

	for _, rec := range res.Phases {
		assert.Equalf(t, OutcomeOK, rec.Outcome, "phase %s", rec.Name)
	}

	require.Len(t, res.Measurements, 1)

	m := res.Measurements[0]
	assert.Equal(t, 52.0, m.TemperatureSetC)
	assert.Equal(t, 170000.0, m.StrokeSetUm)
	assert.InDelta(t, 52.0, m.TemperatureActualC, 2.0)
	assert.InDelta(t, 170000.0, m.StrokeActualUm, 1.0)
	assert.Greater(t, m.PeakForceN, 0.0)
	assert.Equal(t, CellUnchecked, m.Outcome)

	require.Len(t, res.ThermalCycles, 1)

	assert.False(t, rig.power.OutputEnabled())
	assert.False(t, rig.power.IsConnected())
	assert.False(t, rig.robot.IsConnected())
	assert.False(t, res.EndedAt.Before(res.StartedAt))
}

func TestRunMultiCellMatrixOrdering(t *testing.T) {
	rig := newRig(mock.PowerConfig{}, mock.MCUConfig{}, mock.RobotConfig{}, mock.LoadCellConfig{})

	params := fastParams()
	params.TemperatureList = []float64{38.0, 52.0, 66.0}
	params.StrokePositions = []float64{100000.0, 170000.0}
	params.RepeatCount = 2

	res := runWith(t, rig, params)

	assert.Equal(t, VerdictPass, res.Verdict)
	require.Len(t, res.Measurements, 12)

	var expected, got [][3]int

	for rep := 0; rep < params.RepeatCount; rep++ {
		for i := range params.TemperatureList {
			for j := range params.StrokePositions {
				expected = append(expected, [3]int{rep, i, j})
			}
		}
	}

	for _, m := range res.Measurements {
		assert.Contains(t, params.TemperatureList, m.TemperatureSetC)
		assert.Contains(t, params.StrokePositions, m.StrokeSetUm)

		// The actual temperature is sampled before the stroke ack starts
		// the return to standby. Later positions in a block follow the
		// controller's cycle, so only the first is pinned to the setpoint.
		if m.PosIndex == 0 {
			assert.InDelta(t, m.TemperatureSetC, m.TemperatureActualC, 2.0)
		}

		got = append(got, [3]int{m.Repeat, m.TempIndex, m.PosIndex})
	}

	assert.Equal(t, expected, got)

	// One heat/cool cycle per (repeat, temperature) block.
	assert.Len(t, res.ThermalCycles, 6)
}

func TestRunStopsOnLimitViolation(t *testing.T) {
	// The injected offset pushes the peak at (52.0, 170000.0) past its
	// configured maximum.
	rig := newRig(mock.PowerConfig{}, mock.MCUConfig{}, mock.RobotConfig{}, mock.LoadCellConfig{ForceOffsetN: 10.0})

	params := fastParams()
	params.TemperatureList = []float64{38.0, 52.0, 66.0}
	params.StrokePositions = []float64{100000.0, 170000.0}
	params.ForceLimits = []ForceLimit{
		{TemperatureC: 52.0, PositionUm: 170000.0, MinN: 0.0, MaxN: 25.0},
	}

	res := runWith(t, rig, params)

	assert.Equal(t, VerdictFail, res.Verdict)

	// Cells up to and including the failing one; strictly fewer than the
	// full six-cell matrix.
	require.Len(t, res.Measurements, 4)

	last := res.Measurements[len(res.Measurements)-1]
	assert.Equal(t, CellFail, last.Outcome)
	assert.Equal(t, 52.0, last.TemperatureSetC)
	assert.Equal(t, 170000.0, last.StrokeSetUm)
	assert.Greater(t, last.PeakForceN, 25.0)

	require.NotEmpty(t, res.Errors)
	require.NotNil(t, res.Errors[0].Cell)
	assert.Equal(t, PhaseRunMatrix, res.Errors[0].Phase)
	assert.Equal(t, 52.0, res.Errors[0].Cell.TemperatureC)

	// Teardown still ran to completion.
	requirePhaseOutcome(t, res, PhaseHomeBack, OutcomeOK)
	requirePhaseOutcome(t, res, PhaseShutdownPower, OutcomeOK)
	requirePhaseOutcome(t, res, PhaseDisconnect, OutcomeOK)
	assert.False(t, rig.power.OutputEnabled())
}

func TestRunContinuesPastFailureWhenConfigured(t *testing.T) {
	rig := newRig(mock.PowerConfig{}, mock.MCUConfig{}, mock.RobotConfig{}, mock.LoadCellConfig{ForceOffsetN: 10.0})

	params := fastParams()
	params.TemperatureList = []float64{38.0, 52.0, 66.0}
	params.StrokePositions = []float64{100000.0, 170000.0}
	params.StopOnFailure = false
	params.ForceLimits = []ForceLimit{
		{TemperatureC: 52.0, PositionUm: 170000.0, MinN: 0.0, MaxN: 25.0},
	}

	res := runWith(t, rig, params)

	assert.Equal(t, VerdictFail, res.Verdict)
	assert.Len(t, res.Measurements, 6)
}

func TestRunConnectionFailure(t *testing.T) {
	rig := newRig(mock.PowerConfig{}, mock.MCUConfig{}, mock.RobotConfig{FailConnect: true}, mock.LoadCellConfig{})

	res := runWith(t, rig, fastParams())

	assert.Equal(t, VerdictError, res.Verdict)
	assert.Empty(t, res.Measurements)

	require.Equal(t, phaseOrder, phaseNames(res))
	requirePhaseOutcome(t, res, PhaseConnect, OutcomeFailed)
	requirePhaseOutcome(t, res, PhasePreparePower, OutcomeSkipped)
	requirePhaseOutcome(t, res, PhaseRunMatrix, OutcomeSkipped)
	requirePhaseOutcome(t, res, PhaseHomeBack, OutcomeSkipped)
	requirePhaseOutcome(t, res, PhaseShutdownPower, OutcomeSkipped)
	requirePhaseOutcome(t, res, PhaseCooldownMCU, OutcomeSkipped)
	requirePhaseOutcome(t, res, PhaseDisconnect, OutcomeOK)

	require.NotEmpty(t, res.Errors)
	assert.Equal(t, PhaseConnect, res.Errors[0].Phase)
	assert.Equal(t, hw.KindConnection, res.Errors[0].Kind)

	// Partially connected instruments were rolled back.
	assert.False(t, rig.power.IsConnected())
	assert.False(t, rig.mcu.IsConnected())
}

// cancelOnInit cancels the run context on the nth LMA initialization,
// which lands at the start of the matching temperature block.
type cancelOnInit struct {
	hw.MCU
	cancel context.CancelFunc
	after  int
	calls  int
}

func (c *cancelOnInit) InitializeLMA(ctx context.Context, opTemp, standbyTemp float64, hold time.Duration) error {
	c.calls++
	if c.calls == c.after {
		c.cancel()
	}

	return c.MCU.InitializeLMA(ctx, opTemp, standbyTemp, hold)
}

func TestRunCancellationMidMatrix(t *testing.T) {
	rig := newRig(mock.PowerConfig{}, mock.MCUConfig{}, mock.RobotConfig{}, mock.LoadCellConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First init happens in PREPARE_MCU, second at the start of the
	// second temperature block.
	rig.set.MCU = &cancelOnInit{MCU: rig.mcu, cancel: cancel, after: 2}
	rig.rebuild()

	params := fastParams()
	params.TemperatureList = []float64{38.0, 52.0}
	params.StrokePositions = []float64{100000.0}

	ec, err := NewExecutionContext("DUT-TEST", params)
	require.NoError(t, err)

	o := New(quietLog(), rig.f, fastConfig())
	res := o.Run(ctx, ec)

	assert.Equal(t, VerdictCancelled, res.Verdict)

	// The first block's measurement survives.
	require.Len(t, res.Measurements, 1)
	assert.Equal(t, 38.0, res.Measurements[0].TemperatureSetC)

	requirePhaseOutcome(t, res, PhaseRunMatrix, OutcomeFailed)
	assert.Equal(t, hw.KindCancelled, res.Phase(PhaseRunMatrix).ErrorKind)

	// Power-down and disconnect still happen on the detached context.
	requirePhaseOutcome(t, res, PhaseShutdownPower, OutcomeOK)
	requirePhaseOutcome(t, res, PhaseDisconnect, OutcomeOK)
	assert.False(t, rig.power.OutputEnabled())
	assert.False(t, rig.power.IsConnected())
}

func TestRunReadbackMismatch(t *testing.T) {
	rig := newRig(mock.PowerConfig{ReadbackVoltage: 12.0}, mock.MCUConfig{}, mock.RobotConfig{}, mock.LoadCellConfig{})

	res := runWith(t, rig, fastParams())

	assert.Equal(t, VerdictError, res.Verdict)
	assert.Empty(t, res.Measurements)

	requirePhaseOutcome(t, res, PhasePreparePower, OutcomeFailed)
	assert.Equal(t, hw.KindOutOfRange, res.Phase(PhasePreparePower).ErrorKind)

	requirePhaseOutcome(t, res, PhasePrepareMCU, OutcomeSkipped)
	requirePhaseOutcome(t, res, PhaseHomeBack, OutcomeSkipped)
	requirePhaseOutcome(t, res, PhaseShutdownPower, OutcomeOK)
	requirePhaseOutcome(t, res, PhaseCooldownMCU, OutcomeSkipped)
	requirePhaseOutcome(t, res, PhaseDisconnect, OutcomeOK)

	assert.False(t, rig.power.OutputEnabled())
}

// timeoutMotion fails every motion-complete wait with a timeout.
type timeoutMotion struct {
	hw.Robot
}

func (m *timeoutMotion) WaitMotionComplete(ctx context.Context, timeout time.Duration) error {
	return hw.NewError(hw.KindTimeout, "robot", "wait_motion_complete", "deadline elapsed")
}

func TestRunMotionTimeoutFailsCell(t *testing.T) {
	rig := newRig(mock.PowerConfig{}, mock.MCUConfig{}, mock.RobotConfig{}, mock.LoadCellConfig{})
	rig.set.Robot = &timeoutMotion{Robot: rig.robot}
	rig.rebuild()

	res := runWith(t, rig, fastParams())

	assert.Equal(t, VerdictError, res.Verdict)
	assert.Empty(t, res.Measurements)

	requirePhaseOutcome(t, res, PhaseRunMatrix, OutcomeFailed)
	assert.Equal(t, hw.KindTimeout, res.Phase(PhaseRunMatrix).ErrorKind)

	require.NotEmpty(t, res.Errors)
	require.NotNil(t, res.Errors[0].Cell)
	assert.Equal(t, 0, res.Errors[0].Cell.PosIndex)
}

// safetyMove reports a motion fault on every commanded move.
type safetyMove struct {
	hw.Robot
}

func (m *safetyMove) MoveTo(ctx context.Context, positionUm, velocityUmS, accelUmS2 float64) error {
	return hw.NewError(hw.KindSafety, "robot", "move_to", "motion fault")
}

func TestRunSafetyFaultTriggersEmergencyStop(t *testing.T) {
	rig := newRig(mock.PowerConfig{}, mock.MCUConfig{}, mock.RobotConfig{}, mock.LoadCellConfig{})
	rig.set.Robot = &safetyMove{Robot: rig.robot}
	rig.rebuild()

	res := runWith(t, rig, fastParams())

	assert.Equal(t, VerdictError, res.Verdict)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, hw.KindSafety, res.Errors[0].Kind)

	// Emergency stop ran: output off, homing latch cleared.
	assert.False(t, rig.power.OutputEnabled())
	assert.False(t, rig.robot.Homed())
	assert.False(t, rig.power.IsConnected())
}

func TestRunRecordsEnvironmentAndParameters(t *testing.T) {
	rig := newRig(mock.PowerConfig{}, mock.MCUConfig{}, mock.RobotConfig{}, mock.LoadCellConfig{})

	params := fastParams()
	res := runWith(t, rig, params)

	require.NotNil(t, res.Environment)
	assert.NotEmpty(t, res.Environment.GoVersion)
	assert.Equal(t, params.Voltage, res.Parameters.Voltage)
	assert.Equal(t, params.TemperatureList, res.Parameters.TemperatureList)
}
