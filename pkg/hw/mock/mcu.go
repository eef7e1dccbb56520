package mock

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
)

// Temperatures within this band of the target count as reached.
const tempToleranceC = 0.5

// MCUConfig tunes the simulated thermal/stroke controller.
type MCUConfig struct {
	// FailConnect makes Connect return a connection error.
	FailConnect bool

	// AmbientC is the starting temperature.
	AmbientC float64

	// RampRateC is the simulated slope toward the setpoint in degrees
	// Celsius per second. Tests pass a large value to make ramps
	// effectively instant.
	RampRateC float64

	// NoiseC bounds the additive noise on temperature readings.
	NoiseC float64

	// CommandLatency is the simulated per-command round trip.
	CommandLatency time.Duration

	// PollInterval is how often the WaitFor* handshakes sample the
	// simulated temperature.
	PollInterval time.Duration
}

// MCU is the mock thermal/stroke controller. Temperature moves linearly
// toward the current target at the configured ramp rate.
type MCU struct {
	lifecycle
	cfg MCUConfig

	stateMu     sync.Mutex
	baseTemp    float64
	target      float64
	movedAt     time.Time
	opTemp      float64
	standbyTemp float64
	hold        time.Duration
	lmaArmed    bool
	testMode    bool
	fanSpeed    int
	upperTemp   float64
}

// NewMCU creates a mock MCU at ambient temperature.
func NewMCU(cfg MCUConfig) *MCU {
	if cfg.AmbientC == 0 {
		cfg.AmbientC = 25.0
	}

	if cfg.RampRateC == 0 {
		cfg.RampRateC = 400.0
	}

	if cfg.NoiseC == 0 {
		cfg.NoiseC = 0.1
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Millisecond
	}

	return &MCU{
		lifecycle: newLifecycle("mcu", cfg.FailConnect, cfg.CommandLatency),
		cfg:       cfg,
		baseTemp:  cfg.AmbientC,
		target:    cfg.AmbientC,
		movedAt:   time.Now(),
	}
}

var _ hw.MCU = (*MCU)(nil)

// simTemp returns the simulated temperature at time now.
func (m *MCU) simTemp(now time.Time) float64 {
	delta := m.target - m.baseTemp
	travelled := m.cfg.RampRateC * now.Sub(m.movedAt).Seconds()

	if math.Abs(delta) <= travelled {
		return m.target
	}

	if delta < 0 {
		return m.baseTemp - travelled
	}

	return m.baseTemp + travelled
}

// setTarget re-anchors the ramp at the current simulated temperature.
func (m *MCU) setTarget(target float64) {
	now := time.Now()
	m.baseTemp = m.simTemp(now)
	m.movedAt = now
	m.target = target
}

func (m *MCU) WaitBootComplete(ctx context.Context, timeout time.Duration) error {
	if err := m.ensureReady("wait_boot_complete"); err != nil {
		return err
	}

	// Boot is immediate for the simulator; honor one command latency so
	// the handshake ordering is still exercised.
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := sleepCtx(waitCtx, m.cfg.CommandLatency); err != nil {
		return wrapWaitErr(err, "mcu", "wait_boot_complete")
	}

	return nil
}

func (m *MCU) EnterTestMode(ctx context.Context) error {
	if err := m.ensureReady("enter_test_mode"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, m.cfg.CommandLatency); err != nil {
		return err
	}

	m.stateMu.Lock()
	m.testMode = true
	m.stateMu.Unlock()

	return nil
}

func (m *MCU) SetFanSpeed(ctx context.Context, level int) error {
	if err := m.ensureReady("set_fan_speed"); err != nil {
		return err
	}

	if level < 0 || level > 10 {
		return hw.NewError(hw.KindValidation, "mcu", "set_fan_speed", "level out of range").
			WithDetail("level", level)
	}

	if err := sleepCtx(ctx, m.cfg.CommandLatency); err != nil {
		return err
	}

	m.stateMu.Lock()
	m.fanSpeed = level
	m.stateMu.Unlock()

	return nil
}

func (m *MCU) SetUpperTemperature(ctx context.Context, celsius float64) error {
	if err := m.ensureReady("set_upper_temperature"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, m.cfg.CommandLatency); err != nil {
		return err
	}

	m.stateMu.Lock()
	m.upperTemp = celsius
	m.stateMu.Unlock()

	return nil
}

func (m *MCU) InitializeLMA(ctx context.Context, opTemp, standbyTemp float64, hold time.Duration) error {
	if err := m.ensureReady("initialize_lma"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, m.cfg.CommandLatency); err != nil {
		return err
	}

	m.stateMu.Lock()
	m.opTemp = opTemp
	m.standbyTemp = standbyTemp
	m.hold = hold
	m.lmaArmed = true
	m.setTarget(opTemp)
	m.stateMu.Unlock()

	return nil
}

func (m *MCU) WaitForOperatingTemperature(ctx context.Context, timeout time.Duration) error {
	m.stateMu.Lock()
	target := m.opTemp
	m.stateMu.Unlock()

	return m.waitForTemp(ctx, timeout, target, "wait_operating_temp")
}

func (m *MCU) WaitForStandbyTemperature(ctx context.Context, timeout time.Duration) error {
	m.stateMu.Lock()
	target := m.standbyTemp
	m.stateMu.Unlock()

	return m.waitForTemp(ctx, timeout, target, "wait_standby_temp")
}

func (m *MCU) waitForTemp(ctx context.Context, timeout time.Duration, target float64, op string) error {
	if err := m.ensureReady(op); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		m.stateMu.Lock()
		current := m.simTemp(time.Now())
		m.stateMu.Unlock()

		if math.Abs(current-target) <= tempToleranceC {
			return nil
		}

		if err := sleepCtx(waitCtx, m.cfg.PollInterval); err != nil {
			return wrapWaitErr(err, "mcu", op).
				WithDetail("target_c", target).
				WithDetail("current_c", current)
		}
	}
}

func (m *MCU) MarkStrokeInitComplete(ctx context.Context) error {
	if err := m.ensureReady("mark_stroke_init_complete"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, m.cfg.CommandLatency); err != nil {
		return err
	}

	m.stateMu.Lock()
	if !m.lmaArmed {
		m.stateMu.Unlock()

		return hw.NewError(hw.KindSafety, "mcu", "mark_stroke_init_complete", "LMA not initialized")
	}

	// Stroke acknowledged; the controller falls back toward standby.
	m.setTarget(m.standbyTemp)
	m.stateMu.Unlock()

	return nil
}

func (m *MCU) ReadTemperature(ctx context.Context) (float64, error) {
	if err := m.ensureReady("read_temperature"); err != nil {
		return 0, err
	}

	if err := sleepCtx(ctx, m.cfg.CommandLatency); err != nil {
		return 0, err
	}

	m.stateMu.Lock()
	current := m.simTemp(time.Now())
	m.stateMu.Unlock()

	return current + m.bounded(m.cfg.NoiseC), nil
}

// CurrentTarget reports the simulated setpoint. Test helper.
func (m *MCU) CurrentTarget() float64 {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	return m.target
}

// wrapWaitErr converts context errors from a bounded wait into the
// taxonomy: parent cancellation is cancelled, deadline expiry is timeout.
func wrapWaitErr(err error, instrument, op string) *hw.Error {
	if errors.Is(err, context.Canceled) {
		return hw.NewError(hw.KindCancelled, instrument, op, "cancelled").WithCause(err)
	}

	return hw.NewError(hw.KindTimeout, instrument, op, "deadline elapsed").WithCause(err)
}
