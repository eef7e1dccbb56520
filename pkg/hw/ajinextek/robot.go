// Package ajinextek implements the robot and digital I/O backends on top
// of the Ajinextek AXL motion library.
package ajinextek

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/forcelab/eoltester/pkg/hw/axl"
	"github.com/sirupsen/logrus"
)

const (
	defaultHomeTimeout  = 60 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// RobotConfig holds axis and limit settings for the motion backend.
type RobotConfig struct {
	IRQNo int `yaml:"irq_no"`
	Axis  int `yaml:"axis"`

	// Travel bounds in micrometers.
	AxisMinUm float64 `yaml:"axis_min_um"`
	AxisMaxUm float64 `yaml:"axis_max_um"`

	HomeTimeout  time.Duration `yaml:"home_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (c *RobotConfig) applyDefaults() {
	if c.AxisMaxUm == 0 {
		c.AxisMaxUm = 250000.0
	}

	if c.HomeTimeout == 0 {
		c.HomeTimeout = defaultHomeTimeout
	}

	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
}

// Validate checks the axis configuration.
func (c *RobotConfig) Validate() error {
	if c.Axis < 0 {
		return fmt.Errorf("invalid axis: %d", c.Axis)
	}

	if c.AxisMaxUm <= c.AxisMinUm {
		return fmt.Errorf("axis_max_um must exceed axis_min_um")
	}

	return nil
}

// Robot drives a single axis through the AXL library.
type Robot struct {
	log logrus.FieldLogger
	cfg RobotConfig
	lib axl.Library

	mu        sync.Mutex
	connected bool
	homed     bool
	stopped   bool
}

// NewRobot creates a motion backend over an opened-or-openable AXL
// library handle.
func NewRobot(log logrus.FieldLogger, cfg RobotConfig, lib axl.Library) (*Robot, error) {
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating robot config: %w", err)
	}

	if lib == nil {
		return nil, fmt.Errorf("axl library is required")
	}

	return &Robot{
		log: log.WithField("component", "ajinextek_robot"),
		cfg: cfg,
		lib: lib,
	}, nil
}

var _ hw.Robot = (*Robot)(nil)

func (r *Robot) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connected {
		return nil
	}

	if !r.lib.IsOpened() {
		if err := r.lib.Open(r.cfg.IRQNo); err != nil {
			return hw.NewError(hw.KindConnection, "robot", "connect", "opening axl library").WithCause(err)
		}
	}

	boards, err := r.lib.BoardCount()
	if err != nil {
		return hw.NewError(hw.KindConnection, "robot", "connect", "querying boards").WithCause(err)
	}

	if boards == 0 {
		return hw.NewError(hw.KindConnection, "robot", "connect", "no motion boards detected")
	}

	if err := r.lib.ServoOn(r.cfg.Axis, true); err != nil {
		return hw.NewError(hw.KindConnection, "robot", "connect", "enabling servo").
			WithDetail("axis", r.cfg.Axis).
			WithCause(err)
	}

	r.connected = true
	r.log.WithFields(logrus.Fields{
		"axis":   r.cfg.Axis,
		"boards": boards,
	}).Info("Robot connected, servo on")

	return nil
}

func (r *Robot) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return nil
	}

	if err := r.lib.ServoOn(r.cfg.Axis, false); err != nil {
		r.log.WithError(err).Warn("Servo off failed during disconnect")
	}

	r.connected = false
	r.homed = false
	r.log.Info("Robot disconnected")

	return nil
}

func (r *Robot) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.connected
}

func (r *Robot) Status(ctx context.Context) (hw.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := hw.Status{
		State:  hw.StateDisconnected,
		Vendor: "ajinextek",
		Detail: map[string]any{
			"axis": r.cfg.Axis,
		},
		ReadAt: time.Now().UTC(),
	}

	if r.connected {
		st.State = hw.StateReady
		st.Healthy = true
		st.Detail["homed"] = r.homed
	}

	return st, nil
}

// HomeAllAxes starts the homing search and polls until the controller
// reports success.
func (r *Robot) HomeAllAxes(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return hw.NewError(hw.KindConnection, "robot", "home_all_axes", "not connected")
	}

	if err := r.lib.HomeSetStart(r.cfg.Axis); err != nil {
		return hw.NewError(hw.KindCommunication, "robot", "home_all_axes", "starting homing").WithCause(err)
	}

	deadline := time.Now().Add(r.cfg.HomeTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return hw.NewError(hw.KindCancelled, "robot", "home_all_axes", "cancelled").WithCause(err)
		}

		result, err := r.lib.HomeResult(r.cfg.Axis)
		if err != nil {
			return hw.NewError(hw.KindCommunication, "robot", "home_all_axes", "reading homing result").WithCause(err)
		}

		switch result {
		case axl.HomeSuccess:
			if err := r.lib.SetActualPosition(r.cfg.Axis, 0); err != nil {
				return hw.NewError(hw.KindCommunication, "robot", "home_all_axes", "zeroing position").WithCause(err)
			}

			r.homed = true
			r.stopped = false
			r.log.Info("Homing complete")

			return nil
		case axl.HomeSearching:
		default:
			return hw.NewError(hw.KindSafety, "robot", "home_all_axes", "homing failed").
				WithDetail("result", fmt.Sprintf("0x%02X", result))
		}

		if time.Now().After(deadline) {
			return hw.NewError(hw.KindTimeout, "robot", "home_all_axes", "homing did not complete").
				WithDetail("timeout", r.cfg.HomeTimeout.String())
		}

		time.Sleep(r.cfg.PollInterval)
	}
}

func (r *Robot) MoveTo(ctx context.Context, positionUm, velocityUmS, accelUmS2 float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return hw.NewError(hw.KindConnection, "robot", "move_to", "not connected")
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

	if !r.homed {
		return hw.NewError(hw.KindSafety, "robot", "move_to", "axis not homed")
	}

	if err := r.lib.MoveStartPos(r.cfg.Axis, positionUm, velocityUmS, accelUmS2, accelUmS2); err != nil {
		return hw.NewError(hw.KindCommunication, "robot", "move_to", "starting move").WithCause(err)
	}

	r.log.WithField("position_um", positionUm).Debug("Move started")

	return nil
}

func (r *Robot) WaitMotionComplete(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return hw.NewError(hw.KindConnection, "robot", "wait_motion_complete", "not connected")
	}

	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return hw.NewError(hw.KindCancelled, "robot", "wait_motion_complete", "cancelled").WithCause(err)
		}

		if r.stopped {
			return hw.NewError(hw.KindSafety, "robot", "wait_motion_complete", "motion aborted by emergency stop")
		}

		moving, err := r.lib.InMotion(r.cfg.Axis)
		if err != nil {
			return hw.NewError(hw.KindCommunication, "robot", "wait_motion_complete", "reading motion state").WithCause(err)
		}

		if !moving {
			return nil
		}

		if time.Now().After(deadline) {
			return hw.NewError(hw.KindTimeout, "robot", "wait_motion_complete", "motion did not complete").
				WithDetail("timeout", timeout.String())
		}

		time.Sleep(r.cfg.PollInterval)
	}
}

func (r *Robot) ReadPosition(ctx context.Context, axis int) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return 0, hw.NewError(hw.KindConnection, "robot", "read_position", "not connected")
	}

	position, err := r.lib.ActualPosition(axis)
	if err != nil {
		return 0, hw.NewError(hw.KindCommunication, "robot", "read_position", "reading position").
			WithDetail("axis", axis).
			WithCause(err)
	}

	return position, nil
}

// EmergencyStop issues the controller's immediate stop. The axis loses
// its homing reference and must be re-homed before the next move.
func (r *Robot) EmergencyStop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return hw.NewError(hw.KindConnection, "robot", "emergency_stop", "not connected")
	}

	if err := r.lib.MoveEStop(r.cfg.Axis); err != nil {
		return hw.NewError(hw.KindCommunication, "robot", "emergency_stop", "issuing estop").WithCause(err)
	}

	r.stopped = true
	r.homed = false
	r.log.Warn("Emergency stop issued")

	return nil
}

func (r *Robot) ResetHomingState(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return hw.NewError(hw.KindConnection, "robot", "reset_homing_state", "not connected")
	}

	r.stopped = false

	return nil
}
