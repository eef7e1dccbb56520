package mock

import (
	"context"
	"sync"

	"time"

	"github.com/forcelab/eoltester/pkg/hw"
)

// PowerConfig tunes the simulated DC supply.
type PowerConfig struct {
	// FailConnect makes Connect return a connection error.
	FailConnect bool

	// ReadbackVoltage, when non-zero, is returned by ReadVoltage regardless
	// of the setpoint. Used to exercise readback-mismatch handling.
	ReadbackVoltage float64

	// NoiseVolts bounds the additive noise on voltage readings.
	NoiseVolts float64

	// CommandLatency is the simulated per-command round trip.
	CommandLatency time.Duration

	// LoadCurrent is the simulated current drawn when output is enabled.
	LoadCurrent float64
}

// Power is the mock DC power supply.
type Power struct {
	lifecycle
	cfg PowerConfig

	stateMu      sync.Mutex
	voltage      float64
	currentLimit float64
	outputOn     bool
}

// NewPower creates a mock power supply.
func NewPower(cfg PowerConfig) *Power {
	if cfg.NoiseVolts == 0 {
		cfg.NoiseVolts = 0.02
	}

	if cfg.LoadCurrent == 0 {
		cfg.LoadCurrent = 1.5
	}

	return &Power{
		lifecycle: newLifecycle("power", cfg.FailConnect, cfg.CommandLatency),
		cfg:       cfg,
	}
}

var _ hw.PowerSupply = (*Power)(nil)

func (p *Power) SetVoltage(ctx context.Context, volts float64) error {
	if err := p.ensureReady("set_voltage"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, p.cfg.CommandLatency); err != nil {
		return err
	}

	p.stateMu.Lock()
	p.voltage = volts
	p.stateMu.Unlock()

	return nil
}

func (p *Power) SetCurrentLimit(ctx context.Context, amps float64) error {
	if err := p.ensureReady("set_current_limit"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, p.cfg.CommandLatency); err != nil {
		return err
	}

	p.stateMu.Lock()
	p.currentLimit = amps
	p.stateMu.Unlock()

	return nil
}

func (p *Power) EnableOutput(ctx context.Context) error {
	if err := p.ensureReady("enable_output"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, p.cfg.CommandLatency); err != nil {
		return err
	}

	p.stateMu.Lock()
	p.outputOn = true
	p.stateMu.Unlock()

	return nil
}

func (p *Power) DisableOutput(ctx context.Context) error {
	if err := p.ensureReady("disable_output"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, p.cfg.CommandLatency); err != nil {
		return err
	}

	p.stateMu.Lock()
	p.outputOn = false
	p.stateMu.Unlock()

	return nil
}

// OutputEnabled reports the simulated output relay state. Test helper.
func (p *Power) OutputEnabled() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	return p.outputOn
}

func (p *Power) ReadVoltage(ctx context.Context) (float64, error) {
	if err := p.ensureReady("read_voltage"); err != nil {
		return 0, err
	}

	if err := sleepCtx(ctx, p.cfg.CommandLatency); err != nil {
		return 0, err
	}

	p.stateMu.Lock()
	on, setpoint := p.outputOn, p.voltage
	p.stateMu.Unlock()

	if !on {
		return 0, nil
	}

	if p.cfg.ReadbackVoltage != 0 {
		return p.cfg.ReadbackVoltage, nil
	}

	return setpoint + p.bounded(p.cfg.NoiseVolts), nil
}

func (p *Power) ReadCurrent(ctx context.Context) (float64, error) {
	if err := p.ensureReady("read_current"); err != nil {
		return 0, err
	}

	if err := sleepCtx(ctx, p.cfg.CommandLatency); err != nil {
		return 0, err
	}

	p.stateMu.Lock()
	on := p.outputOn
	p.stateMu.Unlock()

	if !on {
		return 0, nil
	}

	return p.cfg.LoadCurrent + p.bounded(p.cfg.NoiseVolts), nil
}

func (p *Power) ReadPower(ctx context.Context) (float64, error) {
	v, err := p.ReadVoltage(ctx)
	if err != nil {
		return 0, err
	}

	i, err := p.ReadCurrent(ctx)
	if err != nil {
		return 0, err
	}

	return v * i, nil
}

func (p *Power) MeasureAll(ctx context.Context) (hw.PowerReading, error) {
	v, err := p.ReadVoltage(ctx)
	if err != nil {
		return hw.PowerReading{}, err
	}

	i, err := p.ReadCurrent(ctx)
	if err != nil {
		return hw.PowerReading{}, err
	}

	return hw.PowerReading{VoltageV: v, CurrentA: i, PowerW: v * i}, nil
}
