package mock

import (
	"context"
	"sync"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
)

// LoadCellConfig tunes the simulated force transducer.
type LoadCellConfig struct {
	// FailConnect makes Connect return a connection error.
	FailConnect bool

	// BaselineN is the force reading with no stroke applied.
	BaselineN float64

	// NoiseN bounds the additive noise on force readings.
	NoiseN float64

	// ForceOffsetN shifts every reading by a fixed amount. Used to inject
	// limit violations in tests.
	ForceOffsetN float64

	// CommandLatency is the simulated per-command round trip.
	CommandLatency time.Duration
}

// LoadCell is the mock force transducer. When bound to the mock robot and
// MCU it derives force deterministically from stroke and temperature;
// unbound it returns the baseline.
type LoadCell struct {
	lifecycle
	cfg LoadCellConfig

	stateMu   sync.Mutex
	robot     *Robot
	mcu       *MCU
	capturing bool
	peak      float64
}

// NewLoadCell creates a mock load cell.
func NewLoadCell(cfg LoadCellConfig) *LoadCell {
	if cfg.BaselineN == 0 {
		cfg.BaselineN = 2.0
	}

	if cfg.NoiseN == 0 {
		cfg.NoiseN = 0.05
	}

	return &LoadCell{
		lifecycle: newLifecycle("loadcell", cfg.FailConnect, cfg.CommandLatency),
		cfg:       cfg,
	}
}

var _ hw.LoadCell = (*LoadCell)(nil)

// BindSources attaches the simulated stroke and temperature sources so
// force readings track the rest of the rig.
func (lc *LoadCell) BindSources(robot *Robot, mcu *MCU) {
	lc.stateMu.Lock()
	lc.robot = robot
	lc.mcu = mcu
	lc.stateMu.Unlock()
}

// simForce is baseline + a deterministic function of (stroke, temperature)
// + bounded noise + the injected offset.
func (lc *LoadCell) simForce() float64 {
	force := lc.cfg.BaselineN

	if lc.robot != nil {
		// 0.1 N per millimeter of stroke.
		force += lc.robot.Position() / 1000.0 * 0.1
	}

	if lc.mcu != nil {
		lc.mcu.stateMu.Lock()
		temp := lc.mcu.simTemp(time.Now())
		ambient := lc.mcu.cfg.AmbientC
		lc.mcu.stateMu.Unlock()

		// Warmer actuator pushes harder.
		force += (temp - ambient) * 0.05
	}

	return force + lc.bounded(lc.cfg.NoiseN) + lc.cfg.ForceOffsetN
}

func (lc *LoadCell) Zero(ctx context.Context) error {
	if err := lc.ensureReady("zero"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, lc.cfg.CommandLatency); err != nil {
		return err
	}

	lc.stateMu.Lock()
	lc.peak = 0
	lc.stateMu.Unlock()

	return nil
}

func (lc *LoadCell) ReadForce(ctx context.Context) (float64, error) {
	if err := lc.ensureReady("read_force"); err != nil {
		return 0, err
	}

	if err := sleepCtx(ctx, lc.cfg.CommandLatency); err != nil {
		return 0, err
	}

	lc.stateMu.Lock()
	defer lc.stateMu.Unlock()

	force := lc.simForce()
	if lc.capturing && force > lc.peak {
		lc.peak = force
	}

	return force, nil
}

func (lc *LoadCell) StartPeakCapture(ctx context.Context) error {
	if err := lc.ensureReady("start_peak_capture"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, lc.cfg.CommandLatency); err != nil {
		return err
	}

	lc.stateMu.Lock()
	lc.capturing = true
	lc.peak = lc.simForce()
	lc.stateMu.Unlock()

	return nil
}

func (lc *LoadCell) StopPeakCapture(ctx context.Context) error {
	if err := lc.ensureReady("stop_peak_capture"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, lc.cfg.CommandLatency); err != nil {
		return err
	}

	lc.stateMu.Lock()
	if lc.capturing {
		// Final sample before the marker closes.
		if f := lc.simForce(); f > lc.peak {
			lc.peak = f
		}
		lc.capturing = false
	}
	lc.stateMu.Unlock()

	return nil
}

func (lc *LoadCell) ReadPeakForce(ctx context.Context) (float64, error) {
	if err := lc.ensureReady("read_peak_force"); err != nil {
		return 0, err
	}

	if err := sleepCtx(ctx, lc.cfg.CommandLatency); err != nil {
		return 0, err
	}

	lc.stateMu.Lock()
	defer lc.stateMu.Unlock()

	return lc.peak, nil
}
