package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/forcelab/eoltester/pkg/facade"
	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/forcelab/eoltester/pkg/sysinfo"
	"github.com/sirupsen/logrus"
)

// The MCU's over-temperature guard sits this far above the hottest
// operating point of the run.
const upperTempMarginC = 10.0

// Config tunes the orchestrator's timeouts and fixed windows. The zero
// value gets production defaults.
type Config struct {
	// ConnectTimeout bounds ConnectAll and DisconnectAll.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// BootTimeout bounds the MCU boot-complete handshake after power-up.
	BootTimeout time.Duration `yaml:"boot_timeout"`

	// OperatingTempTimeout bounds each heat-up wait.
	OperatingTempTimeout time.Duration `yaml:"operating_temp_timeout"`

	// StandbyTempTimeout bounds each cooldown wait.
	StandbyTempTimeout time.Duration `yaml:"standby_temp_timeout"`

	// MotionTimeout bounds each robot move.
	MotionTimeout time.Duration `yaml:"motion_timeout"`

	// SettleTime is the fixed window between starting peak capture and
	// releasing the stroke.
	SettleTime time.Duration `yaml:"settle_time"`

	// VoltageToleranceV is the allowed gap between the voltage setpoint
	// and its readback.
	VoltageToleranceV float64 `yaml:"voltage_tolerance_v"`

	// ZeroToleranceN is the largest force reading accepted right after
	// taring the load cell.
	ZeroToleranceN float64 `yaml:"zero_tolerance_n"`

	// FanSpeed is the MCU fan level applied during preparation, 0 to 10.
	FanSpeed int `yaml:"fan_speed"`
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}

	if c.BootTimeout == 0 {
		c.BootTimeout = 30 * time.Second
	}

	if c.OperatingTempTimeout == 0 {
		c.OperatingTempTimeout = 5 * time.Minute
	}

	if c.StandbyTempTimeout == 0 {
		c.StandbyTempTimeout = 5 * time.Minute
	}

	if c.MotionTimeout == 0 {
		c.MotionTimeout = 60 * time.Second
	}

	if c.SettleTime == 0 {
		c.SettleTime = 500 * time.Millisecond
	}

	if c.VoltageToleranceV == 0 {
		c.VoltageToleranceV = 1.0
	}

	if c.ZeroToleranceN == 0 {
		c.ZeroToleranceN = 50.0
	}

	if c.FanSpeed == 0 {
		c.FanSpeed = 10
	}
}

// Orchestrator drives the hardware facade through the phase sequence and
// produces a TestResult. It is the only writer of the result record.
type Orchestrator struct {
	log logrus.FieldLogger
	rig *facade.Facade
	cfg Config
}

// New creates an orchestrator over an assembled rig.
func New(log logrus.FieldLogger, rig *facade.Facade, cfg Config) *Orchestrator {
	cfg.applyDefaults()

	return &Orchestrator{
		log: log.WithField("component", "orchestrator"),
		rig: rig,
		cfg: cfg,
	}
}

// Run executes the full sequence for one DUT and returns the result. The
// context is the cooperative cancellation signal; teardown phases run on
// a detached context so the rig always shuts down safely.
func (o *Orchestrator) Run(ctx context.Context, ec *ExecutionContext) *TestResult {
	res := &TestResult{
		ExecutionID: ec.ExecutionID,
		DUTSerial:   ec.DUTSerial,
		StartedAt:   time.Now(),
		Parameters:  ec.Parameters,
		Verdict:     VerdictPass,
		Environment: sysinfo.Collect(ctx, o.log),
		Notices:     o.rig.Notices(),
	}

	o.log.WithFields(logrus.Fields{
		"execution_id": ec.ExecutionID,
		"dut_serial":   ec.DUTSerial,
		"temperatures": len(ec.Parameters.TemperatureList),
		"positions":    len(ec.Parameters.StrokePositions),
		"repeats":      ec.Parameters.RepeatCount,
	}).Info("Execution started")

	r := &run{o: o, ctx: ctx, ec: ec, res: res}
	r.execute()

	res.EndedAt = time.Now()

	o.log.WithFields(logrus.Fields{
		"execution_id": ec.ExecutionID,
		"verdict":      res.Verdict,
		"measurements": len(res.Measurements),
		"duration":     res.Duration(),
	}).Info("Execution finished")

	return res
}

// run is the mutable state of one execution. It exists so Run itself
// stays reentrant.
type run struct {
	o   *Orchestrator
	ctx context.Context
	ec  *ExecutionContext
	res *TestResult

	mcuArmed   bool
	robotHomed bool

	// failedCell points at the cell a matrix error concerns, if any.
	failedCell *CellRef
}

func (r *run) execute() {
	if err := r.runPhase(PhaseConnect, r.doConnect); err != nil {
		r.primaryFailure(PhaseConnect, err)
		r.skipPhases(PhasePreparePower, PhasePrepareMCU, PhaseHomeRobot, PhaseZeroLoadcell, PhaseRunMatrix)
		r.teardown(true)

		return
	}

	setup := []struct {
		name PhaseName
		body func(context.Context) error

		// Failures before the robot is in use go straight to power
		// shutdown; homing back would move an axis in an unknown state.
		skipHomeBack bool
	}{
		{PhasePreparePower, r.doPreparePower, true},
		{PhasePrepareMCU, r.doPrepareMCU, true},
		{PhaseHomeRobot, r.doHomeRobot, true},
		{PhaseZeroLoadcell, r.doZeroLoadcell, false},
	}

	for i, step := range setup {
		if err := r.runPhase(step.name, step.body); err != nil {
			r.primaryFailure(step.name, err)

			for _, remaining := range setup[i+1:] {
				r.skipPhase(remaining.name)
			}

			r.skipPhase(PhaseRunMatrix)
			r.teardown(step.skipHomeBack)

			return
		}
	}

	if err := r.runPhase(PhaseRunMatrix, r.doRunMatrix); err != nil {
		r.primaryFailure(PhaseRunMatrix, err)
		r.teardown(false)

		return
	}

	r.teardown(false)
}

// runPhase executes one phase body against the run context and records
// it. The error is returned for the caller's jump decision.
func (r *run) runPhase(name PhaseName, body func(context.Context) error) error {
	r.o.log.WithField("phase", name).Info("Phase started")

	rec := PhaseRecord{Name: name, EnteredAt: time.Now()}
	err := body(r.ctx)
	rec.ExitedAt = time.Now()

	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.ErrorKind = hw.KindOf(err)
		rec.Error = err.Error()

		r.o.log.WithError(err).WithField("phase", name).Error("Phase failed")
	} else {
		rec.Outcome = OutcomeOK
	}

	r.res.Phases = append(r.res.Phases, rec)

	return err
}

// runTeardownPhase executes a compensating phase on a detached context.
// Errors are recorded and logged but never stop the remaining teardown;
// a teardown failure downgrades a PASS verdict to ERROR.
func (r *run) runTeardownPhase(ctx context.Context, name PhaseName, body func(context.Context) error) {
	r.o.log.WithField("phase", name).Info("Phase started")

	rec := PhaseRecord{Name: name, EnteredAt: time.Now()}
	err := body(ctx)
	rec.ExitedAt = time.Now()

	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.ErrorKind = hw.KindOf(err)
		rec.Error = err.Error()

		r.o.log.WithError(err).WithField("phase", name).Error("Teardown phase failed")

		r.res.Errors = append(r.res.Errors, ErrorSummary{Phase: name, Kind: hw.KindOf(err), Message: err.Error()})

		if r.res.Verdict == VerdictPass {
			r.res.Verdict = VerdictError
		}
	} else {
		rec.Outcome = OutcomeOK
	}

	r.res.Phases = append(r.res.Phases, rec)
}

func (r *run) skipPhase(name PhaseName) {
	now := time.Now()
	r.res.Phases = append(r.res.Phases, PhaseRecord{
		Name:      name,
		EnteredAt: now,
		ExitedAt:  now,
		Outcome:   OutcomeSkipped,
	})
}

func (r *run) skipPhases(names ...PhaseName) {
	for _, name := range names {
		r.skipPhase(name)
	}
}

// primaryFailure records the first failure of the run and renders the
// verdict from its kind. Safety faults additionally trigger the
// emergency stop before teardown.
func (r *run) primaryFailure(phase PhaseName, err error) {
	kind := hw.KindOf(err)

	if kind == hw.KindCancelled {
		r.res.Verdict = VerdictCancelled
	} else {
		r.res.Verdict = VerdictError
	}

	r.res.Errors = append(r.res.Errors, ErrorSummary{
		Phase:   phase,
		Kind:    kind,
		Message: err.Error(),
		Cell:    r.failedCell,
	})

	if kind == hw.KindSafety {
		r.o.rig.EmergencyStop(context.WithoutCancel(r.ctx))
	}
}

// teardown runs the compensating phases in their fixed order. Entry
// gates skip phases whose preconditions never came true; power shutdown
// and disconnect are attempted whenever their instrument is reachable.
func (r *run) teardown(skipHomeBack bool) {
	ctx := context.WithoutCancel(r.ctx)
	p := r.ec.Parameters

	if skipHomeBack || !r.robotHomed || !r.o.rig.Robot().IsConnected() {
		r.skipPhase(PhaseHomeBack)
	} else {
		r.runTeardownPhase(ctx, PhaseHomeBack, func(ctx context.Context) error {
			if err := r.o.rig.Robot().MoveTo(ctx, p.AxisMinUm, p.VelocityUmS, p.AccelUmS2); err != nil {
				return fmt.Errorf("moving home: %w", err)
			}

			return r.o.rig.Robot().WaitMotionComplete(ctx, r.o.cfg.MotionTimeout)
		})
	}

	if !r.o.rig.Power().IsConnected() {
		r.skipPhase(PhaseShutdownPower)
	} else {
		r.runTeardownPhase(ctx, PhaseShutdownPower, func(ctx context.Context) error {
			return r.o.rig.Power().DisableOutput(ctx)
		})
	}

	if !r.mcuArmed || !r.o.rig.MCU().IsConnected() {
		r.skipPhase(PhaseCooldownMCU)
	} else {
		r.runTeardownPhase(ctx, PhaseCooldownMCU, func(ctx context.Context) error {
			return r.o.rig.MCU().WaitForStandbyTemperature(ctx, r.o.cfg.StandbyTempTimeout)
		})
	}

	r.runTeardownPhase(ctx, PhaseDisconnect, func(ctx context.Context) error {
		return r.o.rig.DisconnectAll(ctx)
	})
}

func (r *run) doConnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.o.cfg.ConnectTimeout)
	defer cancel()

	return r.o.rig.ConnectAll(ctx)
}

func (r *run) doPreparePower(ctx context.Context) error {
	p := r.ec.Parameters
	power := r.o.rig.Power()

	if err := power.SetVoltage(ctx, p.Voltage); err != nil {
		return fmt.Errorf("setting voltage: %w", err)
	}

	if err := power.SetCurrentLimit(ctx, p.CurrentLimit); err != nil {
		return fmt.Errorf("setting current limit: %w", err)
	}

	if err := power.EnableOutput(ctx); err != nil {
		return fmt.Errorf("enabling output: %w", err)
	}

	readback, err := power.ReadVoltage(ctx)
	if err != nil {
		return fmt.Errorf("reading voltage back: %w", err)
	}

	if diff := readback - p.Voltage; diff > r.o.cfg.VoltageToleranceV || diff < -r.o.cfg.VoltageToleranceV {
		return hw.NewError(hw.KindOutOfRange, "power", "verify_readback", "voltage readback outside tolerance").
			WithDetail("setpoint_v", p.Voltage).
			WithDetail("readback_v", readback).
			WithDetail("tolerance_v", r.o.cfg.VoltageToleranceV)
	}

	return nil
}

func (r *run) doPrepareMCU(ctx context.Context) error {
	p := r.ec.Parameters
	mcu := r.o.rig.MCU()

	if err := mcu.WaitBootComplete(ctx, r.o.cfg.BootTimeout); err != nil {
		return fmt.Errorf("waiting for boot: %w", err)
	}

	if err := mcu.EnterTestMode(ctx); err != nil {
		return fmt.Errorf("entering test mode: %w", err)
	}

	if err := mcu.SetUpperTemperature(ctx, p.MaxTemperature()+upperTempMarginC); err != nil {
		return fmt.Errorf("setting upper temperature: %w", err)
	}

	if err := mcu.SetFanSpeed(ctx, r.o.cfg.FanSpeed); err != nil {
		return fmt.Errorf("setting fan speed: %w", err)
	}

	if err := mcu.InitializeLMA(ctx, p.TemperatureList[0], p.StandbyTemperature, p.HoldTime); err != nil {
		return fmt.Errorf("initializing lma: %w", err)
	}

	r.mcuArmed = true

	return nil
}

func (r *run) doHomeRobot(ctx context.Context) error {
	robot := r.o.rig.Robot()

	if err := robot.ResetHomingState(ctx); err != nil {
		return fmt.Errorf("resetting homing state: %w", err)
	}

	if err := robot.HomeAllAxes(ctx); err != nil {
		return fmt.Errorf("homing axes: %w", err)
	}

	r.robotHomed = true

	return nil
}

func (r *run) doZeroLoadcell(ctx context.Context) error {
	cell := r.o.rig.LoadCell()

	if err := cell.Zero(ctx); err != nil {
		return fmt.Errorf("taring: %w", err)
	}

	force, err := cell.ReadForce(ctx)
	if err != nil {
		return fmt.Errorf("reading after tare: %w", err)
	}

	if force > r.o.cfg.ZeroToleranceN || force < -r.o.cfg.ZeroToleranceN {
		return hw.NewError(hw.KindOutOfRange, "loadcell", "verify_zero", "reading after tare outside tolerance").
			WithDetail("force_n", force).
			WithDetail("tolerance_n", r.o.cfg.ZeroToleranceN)
	}

	return nil
}

// doRunMatrix walks the (repeat, temperature, position) loops in
// lexicographic order. A limit violation sets the FAIL verdict without
// failing the phase; instrument errors surface and route to teardown.
func (r *run) doRunMatrix(ctx context.Context) error {
	p := r.ec.Parameters
	mcu := r.o.rig.MCU()

	for rep := 0; rep < p.RepeatCount; rep++ {
		for i, temp := range p.TemperatureList {
			if err := r.checkCancelled(ctx); err != nil {
				return err
			}

			// The first block's LMA cycle was armed during MCU
			// preparation; every later block re-arms it. Equal
			// consecutive temperatures still run the full handshake.
			if i > 0 || rep > 0 {
				if err := mcu.InitializeLMA(ctx, temp, p.StandbyTemperature, p.HoldTime); err != nil {
					return fmt.Errorf("initializing lma for %.1fC: %w", temp, err)
				}
			}

			heatStart := time.Now()

			if err := mcu.WaitForOperatingTemperature(ctx, r.o.cfg.OperatingTempTimeout); err != nil {
				return fmt.Errorf("heating to %.1fC: %w", temp, err)
			}

			heating := time.Since(heatStart)

			for j, pos := range p.StrokePositions {
				if err := r.checkCancelled(ctx); err != nil {
					return err
				}

				stop, err := r.runCell(ctx, rep, i, j, temp, pos)
				if err != nil {
					return err
				}

				if stop {
					return nil
				}
			}

			// Cooldown gate: the next temperature block must start from
			// standby.
			coolStart := time.Now()

			if err := mcu.WaitForStandbyTemperature(ctx, r.o.cfg.StandbyTempTimeout); err != nil {
				return fmt.Errorf("cooling after %.1fC: %w", temp, err)
			}

			r.res.ThermalCycles = append(r.res.ThermalCycles, ThermalCycle{
				Repeat:          rep,
				TempIndex:       i,
				TemperatureC:    temp,
				HeatingDuration: heating,
				CoolingDuration: time.Since(coolStart),
			})
		}
	}

	return nil
}

// runCell measures one matrix cell. It reports stop=true when a limit
// violation should short-circuit the matrix.
func (r *run) runCell(ctx context.Context, rep, tempIdx, posIdx int, temp, pos float64) (stop bool, err error) {
	cell := CellRef{Repeat: rep, TempIndex: tempIdx, PosIndex: posIdx, TemperatureC: temp, PositionUm: pos}

	stopCell, err := r.measureCell(ctx, cell)
	if err != nil {
		r.failedCell = &cell

		return false, err
	}

	return stopCell, nil
}

func (r *run) measureCell(ctx context.Context, cell CellRef) (stop bool, err error) {
	p := r.ec.Parameters
	rig := r.o.rig
	start := time.Now()

	if err := rig.Robot().MoveTo(ctx, cell.PositionUm, p.VelocityUmS, p.AccelUmS2); err != nil {
		return false, fmt.Errorf("moving to %.0fum: %w", cell.PositionUm, err)
	}

	if err := rig.Robot().WaitMotionComplete(ctx, r.o.cfg.MotionTimeout); err != nil {
		return false, fmt.Errorf("waiting for motion: %w", err)
	}

	// Sampled while still at the operating point: the stroke ack below
	// starts the LMA's return to standby.
	actualTemp, err := rig.MCU().ReadTemperature(ctx)
	if err != nil {
		return false, fmt.Errorf("reading temperature: %w", err)
	}

	if err := rig.LoadCell().StartPeakCapture(ctx); err != nil {
		return false, fmt.Errorf("starting peak capture: %w", err)
	}

	if err := sleepCtx(ctx, r.o.cfg.SettleTime); err != nil {
		return false, hw.NewError(hw.KindCancelled, "", "settle", "cancelled").WithCause(err)
	}

	if err := rig.MCU().MarkStrokeInitComplete(ctx); err != nil {
		return false, fmt.Errorf("marking stroke init: %w", err)
	}

	if err := sleepCtx(ctx, p.HoldTime); err != nil {
		return false, hw.NewError(hw.KindCancelled, "", "hold", "cancelled").WithCause(err)
	}

	if err := rig.LoadCell().StopPeakCapture(ctx); err != nil {
		return false, fmt.Errorf("stopping peak capture: %w", err)
	}

	peak, err := rig.LoadCell().ReadPeakForce(ctx)
	if err != nil {
		return false, fmt.Errorf("reading peak force: %w", err)
	}

	actualPos, err := rig.Robot().ReadPosition(ctx, 0)
	if err != nil {
		return false, fmt.Errorf("reading position: %w", err)
	}

	m := Measurement{
		Timestamp:          start,
		Repeat:             cell.Repeat,
		TempIndex:          cell.TempIndex,
		PosIndex:           cell.PosIndex,
		TemperatureSetC:    cell.TemperatureC,
		TemperatureActualC: actualTemp,
		StrokeSetUm:        cell.PositionUm,
		StrokeActualUm:     actualPos,
		PeakForceN:         peak,
		Duration:           time.Since(start),
		Outcome:            CellUnchecked,
	}

	limit, bounded := p.LimitFor(cell.TemperatureC, cell.PositionUm)
	if bounded {
		minN, maxN := limit.MinN, limit.MaxN
		m.LimitMinN = &minN
		m.LimitMaxN = &maxN

		if peak >= minN && peak <= maxN {
			m.Outcome = CellPass
		} else {
			m.Outcome = CellFail
		}
	}

	r.res.Measurements = append(r.res.Measurements, m)

	r.o.log.WithFields(logrus.Fields{
		"repeat":      cell.Repeat,
		"temp_c":      cell.TemperatureC,
		"position_um": cell.PositionUm,
		"peak_n":      peak,
		"outcome":     m.Outcome,
	}).Info("Cell measured")

	if m.Outcome != CellFail {
		return false, nil
	}

	r.res.Verdict = VerdictFail

	failedCell := cell
	r.res.Errors = append(r.res.Errors, ErrorSummary{
		Phase:   PhaseRunMatrix,
		Kind:    hw.KindOutOfRange,
		Message: fmt.Sprintf("peak force %.2fN outside [%.2f, %.2f]", peak, limit.MinN, limit.MaxN),
		Cell:    &failedCell,
	})

	return p.StopOnFailure, nil
}

func (r *run) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return hw.NewError(hw.KindCancelled, "", "run_matrix", "cancelled").WithCause(err)
	}

	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
