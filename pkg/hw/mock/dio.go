package mock

import (
	"context"
	"sync"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
)

// DIOConfig tunes the simulated digital I/O module.
type DIOConfig struct {
	// FailConnect makes Connect return a connection error.
	FailConnect bool

	// Inputs seeds the simulated input word.
	Inputs uint32

	// CommandLatency is the simulated per-command round trip.
	CommandLatency time.Duration
}

// DIO is the mock digital I/O module: 32 inputs, 32 outputs.
type DIO struct {
	lifecycle
	cfg DIOConfig

	stateMu sync.Mutex
	inputs  uint32
	outputs uint32
}

// NewDIO creates a mock digital I/O module.
func NewDIO(cfg DIOConfig) *DIO {
	return &DIO{
		lifecycle: newLifecycle("dio", cfg.FailConnect, cfg.CommandLatency),
		cfg:       cfg,
		inputs:    cfg.Inputs,
	}
}

var _ hw.DigitalIO = (*DIO)(nil)

func (d *DIO) ReadInput(ctx context.Context, channel int) (bool, error) {
	if err := d.ensureReady("read_input"); err != nil {
		return false, err
	}

	if channel < 0 || channel > 31 {
		return false, hw.NewError(hw.KindOutOfRange, "dio", "read_input", "channel out of range").
			WithDetail("channel", channel)
	}

	if err := sleepCtx(ctx, d.cfg.CommandLatency); err != nil {
		return false, err
	}

	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	return d.inputs&(1<<uint(channel)) != 0, nil
}

func (d *DIO) ReadAllInputs(ctx context.Context) (uint32, error) {
	if err := d.ensureReady("read_all_inputs"); err != nil {
		return 0, err
	}

	if err := sleepCtx(ctx, d.cfg.CommandLatency); err != nil {
		return 0, err
	}

	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	return d.inputs, nil
}

func (d *DIO) WriteOutput(ctx context.Context, channel int, level bool) error {
	if err := d.ensureReady("write_output"); err != nil {
		return err
	}

	if channel < 0 || channel > 31 {
		return hw.NewError(hw.KindOutOfRange, "dio", "write_output", "channel out of range").
			WithDetail("channel", channel)
	}

	if err := sleepCtx(ctx, d.cfg.CommandLatency); err != nil {
		return err
	}

	d.stateMu.Lock()
	if level {
		d.outputs |= 1 << uint(channel)
	} else {
		d.outputs &^= 1 << uint(channel)
	}
	d.stateMu.Unlock()

	return nil
}

func (d *DIO) ResetAllOutputs(ctx context.Context) error {
	if err := d.ensureReady("reset_all_outputs"); err != nil {
		return err
	}

	if err := sleepCtx(ctx, d.cfg.CommandLatency); err != nil {
		return err
	}

	d.stateMu.Lock()
	d.outputs = 0
	d.stateMu.Unlock()

	return nil
}

// Outputs reports the simulated output word. Test helper.
func (d *DIO) Outputs() uint32 {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	return d.outputs
}

// SetInputs overwrites the simulated input word. Test helper.
func (d *DIO) SetInputs(word uint32) {
	d.stateMu.Lock()
	d.inputs = word
	d.stateMu.Unlock()
}
