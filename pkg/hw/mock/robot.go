package mock

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
)

// RobotConfig tunes the simulated motion axis.
type RobotConfig struct {
	// FailConnect makes Connect return a connection error.
	FailConnect bool

	// FixedOverhead is added to every simulated move on top of
	// distance/velocity.
	FixedOverhead time.Duration

	// AxisMinUm and AxisMaxUm bound the travel range in micrometers.
	AxisMinUm float64
	AxisMaxUm float64

	// CommandLatency is the simulated per-command round trip.
	CommandLatency time.Duration

	// PollInterval is how often WaitMotionComplete samples motion state.
	PollInterval time.Duration
}

// Robot is the mock single-axis motion robot. Moves complete after
// distance/velocity plus a fixed overhead.
type Robot struct {
	lifecycle
	cfg RobotConfig

	stateMu    sync.Mutex
	position   float64
	moveFrom   float64
	moveTarget float64
	moveStart  time.Time
	moveDone   time.Time
	moving     bool
	homed      bool
	stopped    bool
}

// NewRobot creates a mock robot at position zero, not homed.
func NewRobot(cfg RobotConfig) *Robot {
	if cfg.FixedOverhead == 0 {
		cfg.FixedOverhead = 20 * time.Millisecond
	}

	if cfg.AxisMaxUm == 0 {
		cfg.AxisMaxUm = 250000.0
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Millisecond
	}

	return &Robot{
		lifecycle: newLifecycle("robot", cfg.FailConnect, cfg.CommandLatency),
		cfg:       cfg,
	}
}

var _ hw.Robot = (*Robot)(nil)

func (r *Robot) HomeAllAxes(ctx context.Context) error {
	if err := r.ensureReady("home_all_axes"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, r.cfg.FixedOverhead); err != nil {
		return wrapWaitErr(err, "robot", "home_all_axes")
	}

	r.stateMu.Lock()
	r.position = 0
	r.moving = false
	r.homed = true
	r.stopped = false
	r.stateMu.Unlock()

	return nil
}

func (r *Robot) MoveTo(ctx context.Context, positionUm, velocityUmS, accelUmS2 float64) error {
	if err := r.ensureReady("move_to"); err != nil {
		return err
	}

	if positionUm < r.cfg.AxisMinUm || positionUm > r.cfg.AxisMaxUm {
		return hw.NewError(hw.KindOutOfRange, "robot", "move_to", "position outside axis range").
			WithDetail("position_um", positionUm).
			WithDetail("axis_min_um", r.cfg.AxisMinUm).
			WithDetail("axis_max_um", r.cfg.AxisMaxUm)
	}

	if velocityUmS <= 0 || accelUmS2 <= 0 {
		return hw.NewError(hw.KindValidation, "robot", "move_to", "kinematics must be positive").
			WithDetail("velocity_um_s", velocityUmS).
			WithDetail("accel_um_s2", accelUmS2)
	}

	if err := sleepCtx(ctx, r.cfg.CommandLatency); err != nil {
		return err
	}

	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if !r.homed {
		return hw.NewError(hw.KindSafety, "robot", "move_to", "axis not homed")
	}

	now := time.Now()
	distance := math.Abs(positionUm - r.position)
	travel := time.Duration(distance/velocityUmS*float64(time.Second)) + r.cfg.FixedOverhead

	r.moveFrom = r.position
	r.moveTarget = positionUm
	r.moveStart = now
	r.moveDone = now.Add(travel)
	r.moving = true
	r.stopped = false

	return nil
}

func (r *Robot) WaitMotionComplete(ctx context.Context, timeout time.Duration) error {
	if err := r.ensureReady("wait_motion_complete"); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		r.stateMu.Lock()
		if r.stopped {
			r.stateMu.Unlock()

			return hw.NewError(hw.KindSafety, "robot", "wait_motion_complete", "motion aborted by emergency stop")
		}

		if !r.moving || !time.Now().Before(r.moveDone) {
			if r.moving {
				r.position = r.moveTarget
				r.moving = false
			}
			r.stateMu.Unlock()

			return nil
		}
		r.stateMu.Unlock()

		if err := sleepCtx(waitCtx, r.cfg.PollInterval); err != nil {
			return wrapWaitErr(err, "robot", "wait_motion_complete")
		}
	}
}

func (r *Robot) ReadPosition(ctx context.Context, axis int) (float64, error) {
	if err := r.ensureReady("read_position"); err != nil {
		return 0, err
	}

	if err := sleepCtx(ctx, r.cfg.CommandLatency); err != nil {
		return 0, err
	}

	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if !r.moving {
		return r.position, nil
	}

	// Interpolate mid-move.
	total := r.moveDone.Sub(r.moveStart)
	if total <= 0 {
		return r.moveTarget, nil
	}

	frac := float64(time.Since(r.moveStart)) / float64(total)
	if frac >= 1 {
		return r.moveTarget, nil
	}

	return r.moveFrom + (r.moveTarget-r.moveFrom)*frac, nil
}

func (r *Robot) EmergencyStop(ctx context.Context) error {
	if err := r.ensureReady("emergency_stop"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, r.cfg.CommandLatency); err != nil {
		return err
	}

	r.stateMu.Lock()
	if r.moving {
		// Freeze wherever the interpolation says we are.
		total := r.moveDone.Sub(r.moveStart)
		if total > 0 {
			frac := math.Min(1, float64(time.Since(r.moveStart))/float64(total))
			r.position = r.moveFrom + (r.moveTarget-r.moveFrom)*frac
		}
	}

	r.moving = false
	r.stopped = true
	r.homed = false
	r.stateMu.Unlock()

	return nil
}

func (r *Robot) ResetHomingState(ctx context.Context) error {
	if err := r.ensureReady("reset_homing_state"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, r.cfg.CommandLatency); err != nil {
		return err
	}

	r.stateMu.Lock()
	r.stopped = false
	r.stateMu.Unlock()

	return nil
}

// Homed reports whether the axis is homed. Test helper.
func (r *Robot) Homed() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	return r.homed
}

// Position reports the simulated position. Used by the mock load cell to
// derive a stroke-dependent force.
func (r *Robot) Position() float64 {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	if r.moving && time.Now().After(r.moveDone) {
		r.position = r.moveTarget
		r.moving = false
	}

	return r.position
}
