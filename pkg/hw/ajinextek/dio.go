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

// DIOConfig selects the digital I/O module on the AXL bus.
type DIOConfig struct {
	IRQNo    int `yaml:"irq_no"`
	Module   int `yaml:"module"`
	Channels int `yaml:"channels"`
}

func (c *DIOConfig) applyDefaults() {
	if c.Channels == 0 {
		c.Channels = 32
	}
}

// Validate checks the module configuration.
func (c *DIOConfig) Validate() error {
	if c.Module < 0 {
		return fmt.Errorf("invalid module: %d", c.Module)
	}

	if c.Channels <= 0 || c.Channels > 32 {
		return fmt.Errorf("channels must be 1-32, got %d", c.Channels)
	}

	return nil
}

// DIO drives one digital I/O module through the AXL library.
type DIO struct {
	log logrus.FieldLogger
	cfg DIOConfig
	lib axl.Library

	mu        sync.Mutex
	connected bool
}

// NewDIO creates a digital I/O backend over the shared AXL library
// handle.
func NewDIO(log logrus.FieldLogger, cfg DIOConfig, lib axl.Library) (*DIO, error) {
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating dio config: %w", err)
	}

	if lib == nil {
		return nil, fmt.Errorf("axl library is required")
	}

	return &DIO{
		log: log.WithField("component", "ajinextek_dio"),
		cfg: cfg,
		lib: lib,
	}, nil
}

var _ hw.DigitalIO = (*DIO)(nil)

func (d *DIO) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}

	if !d.lib.IsOpened() {
		if err := d.lib.Open(d.cfg.IRQNo); err != nil {
			return hw.NewError(hw.KindConnection, "dio", "connect", "opening axl library").WithCause(err)
		}
	}

	d.connected = true
	d.log.WithField("module", d.cfg.Module).Info("Digital I/O connected")

	return nil
}

func (d *DIO) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connected = false
	d.log.Info("Digital I/O disconnected")

	return nil
}

func (d *DIO) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.connected
}

func (d *DIO) Status(ctx context.Context) (hw.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := hw.Status{
		State:  hw.StateDisconnected,
		Vendor: "ajinextek",
		Detail: map[string]any{
			"module":   d.cfg.Module,
			"channels": d.cfg.Channels,
		},
		ReadAt: time.Now().UTC(),
	}

	if d.connected {
		st.State = hw.StateReady
		st.Healthy = true
	}

	return st, nil
}

func (d *DIO) ReadInput(ctx context.Context, channel int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkChannelLocked("read_input", channel); err != nil {
		return false, err
	}

	level, err := d.lib.ReadInputBit(d.cfg.Module, channel)
	if err != nil {
		return false, hw.NewError(hw.KindCommunication, "dio", "read_input", "reading input bit").
			WithDetail("channel", channel).
			WithCause(err)
	}

	return level, nil
}

func (d *DIO) ReadAllInputs(ctx context.Context) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return 0, hw.NewError(hw.KindConnection, "dio", "read_all_inputs", "not connected")
	}

	word, err := d.lib.ReadInputDword(d.cfg.Module)
	if err != nil {
		return 0, hw.NewError(hw.KindCommunication, "dio", "read_all_inputs", "reading input word").WithCause(err)
	}

	return word, nil
}

func (d *DIO) WriteOutput(ctx context.Context, channel int, level bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkChannelLocked("write_output", channel); err != nil {
		return err
	}

	if err := d.lib.WriteOutputBit(d.cfg.Module, channel, level); err != nil {
		return hw.NewError(hw.KindCommunication, "dio", "write_output", "writing output bit").
			WithDetail("channel", channel).
			WithCause(err)
	}

	return nil
}

func (d *DIO) ResetAllOutputs(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return hw.NewError(hw.KindConnection, "dio", "reset_all_outputs", "not connected")
	}

	if err := d.lib.WriteOutputDword(d.cfg.Module, 0); err != nil {
		return hw.NewError(hw.KindCommunication, "dio", "reset_all_outputs", "clearing outputs").WithCause(err)
	}

	d.log.Debug("All outputs cleared")

	return nil
}

func (d *DIO) checkChannelLocked(op string, channel int) error {
	if !d.connected {
		return hw.NewError(hw.KindConnection, "dio", op, "not connected")
	}

	if channel < 0 || channel >= d.cfg.Channels {
		return hw.NewError(hw.KindOutOfRange, "dio", op, "channel out of range").
			WithDetail("channel", channel).
			WithDetail("channels", d.cfg.Channels)
	}

	return nil
}
