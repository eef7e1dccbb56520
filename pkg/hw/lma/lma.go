// Package lma drives the LMA thermal/stroke controller over its framed
// serial protocol.
package lma

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	defaultBaudRate    = 115200
	defaultTimeout     = 5 * time.Second
	defaultBootTimeout = 30 * time.Second

	// The port read timeout bounds each blocking read so response loops
	// can observe cancellation and deadlines.
	portReadTimeout = 200 * time.Millisecond
)

// Config holds the serial endpoint for the controller.
type Config struct {
	Port     string        `yaml:"port"`
	BaudRate int           `yaml:"baud_rate"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (c *Config) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = defaultBaudRate
	}

	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
}

// Validate checks the serial configuration.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}

	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate: %d", c.BaudRate)
	}

	return nil
}

// MCU is the serial client for the LMA controller.
type MCU struct {
	log logrus.FieldLogger
	cfg Config

	// open is swapped in tests to avoid real hardware.
	open func() (io.ReadWriteCloser, error)

	mu     sync.Mutex
	port   io.ReadWriteCloser
	reader *bufio.Reader
}

// NewMCU creates an LMA client. Connect must be called before any other
// operation.
func NewMCU(log logrus.FieldLogger, cfg Config) (*MCU, error) {
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating lma config: %w", err)
	}

	m := &MCU{
		log: log.WithField("component", "lma_mcu"),
		cfg: cfg,
	}

	m.open = m.openSerial

	return m, nil
}

var _ hw.MCU = (*MCU)(nil)

func (m *MCU) openSerial() (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: m.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(m.cfg.Port, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(portReadTimeout); err != nil {
		_ = port.Close()

		return nil, err
	}

	// Drop noise and stale frames from a previous session.
	_ = port.ResetInputBuffer()

	return port, nil
}

func (m *MCU) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port != nil {
		return nil
	}

	m.log.WithFields(logrus.Fields{
		"port": m.cfg.Port,
		"baud": m.cfg.BaudRate,
	}).Info("Connecting to MCU")

	port, err := m.open()
	if err != nil {
		return hw.NewError(hw.KindConnection, "mcu", "connect", "opening serial port").
			WithDetail("port", m.cfg.Port).
			WithCause(err)
	}

	m.port = port
	m.reader = bufio.NewReader(port)

	m.log.Info("MCU connected")

	return nil
}

func (m *MCU) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		return nil
	}

	err := m.port.Close()
	m.port = nil
	m.reader = nil

	if err != nil {
		return hw.NewError(hw.KindCommunication, "mcu", "disconnect", "closing serial port").WithCause(err)
	}

	m.log.Info("MCU disconnected")

	return nil
}

func (m *MCU) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.port != nil
}

func (m *MCU) Status(ctx context.Context) (hw.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := hw.Status{
		State:  hw.StateDisconnected,
		Vendor: "lma",
		Detail: map[string]any{
			"port": m.cfg.Port,
			"baud": m.cfg.BaudRate,
		},
		ReadAt: time.Now().UTC(),
	}

	if m.port != nil {
		st.State = hw.StateReady
		st.Healthy = true
	}

	return st, nil
}

// WaitBootComplete blocks until the controller announces it finished
// booting. The controller emits the boot frame unsolicited after power-on.
func (m *MCU) WaitBootComplete(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timeout == 0 {
		timeout = defaultBootTimeout
	}

	if _, err := m.waitForLocked(ctx, "wait_boot_complete", statusBootComplete, timeout); err != nil {
		return err
	}

	m.log.Info("MCU boot complete")

	return nil
}

func (m *MCU) EnterTestMode(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.commandLocked(ctx, "enter_test_mode", cmdEnterTestMode, uint32Payload(1)); err != nil {
		return err
	}

	m.log.Debug("Test mode entered")

	return nil
}

func (m *MCU) SetFanSpeed(ctx context.Context, level int) error {
	if level < 0 || level > 10 {
		return hw.NewError(hw.KindValidation, "mcu", "set_fan_speed", "level out of range").
			WithDetail("level", level)
	}

	// The controller's lowest fan setting is 1.
	if level == 0 {
		level = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.commandLocked(ctx, "set_fan_speed", cmdSetFanSpeed, uint32Payload(uint32(level))); err != nil {
		return err
	}

	m.log.WithField("level", level).Debug("Fan speed set")

	return nil
}

func (m *MCU) SetUpperTemperature(ctx context.Context, celsius float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.commandLocked(ctx, "set_upper_temperature", cmdSetUpperTemp, uint32Payload(encodeTemp(celsius))); err != nil {
		return err
	}

	m.log.WithField("celsius", celsius).Debug("Upper temperature limit set")

	return nil
}

// InitializeLMA arms the actuator: the controller stores both setpoints,
// begins heating toward the operating temperature and will later emit the
// reached notifications on its own.
func (m *MCU) InitializeLMA(ctx context.Context, opTemp, standbyTemp float64, hold time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload := lmaInitPayload(opTemp, standbyTemp, uint32(hold.Milliseconds()))

	if err := m.commandLocked(ctx, "initialize_lma", cmdLMAInit, payload); err != nil {
		return err
	}

	m.log.WithFields(logrus.Fields{
		"operating_c": opTemp,
		"standby_c":   standbyTemp,
		"hold":        hold,
	}).Info("LMA initialized, heating")

	return nil
}

func (m *MCU) WaitForOperatingTemperature(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.waitForLocked(ctx, "wait_operating_temp", statusOperatingTempOK, timeout); err != nil {
		return err
	}

	m.log.Info("Operating temperature reached")

	return nil
}

func (m *MCU) WaitForStandbyTemperature(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.waitForLocked(ctx, "wait_standby_temp", statusStandbyTempOK, timeout); err != nil {
		return err
	}

	m.log.Info("Standby temperature reached")

	return nil
}

// MarkStrokeInitComplete tells the controller stroke initialization is
// done; the controller acknowledges and starts cooling toward standby.
func (m *MCU) MarkStrokeInitComplete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.commandLocked(ctx, "mark_stroke_init_complete", cmdStrokeInitComplete, nil); err != nil {
		return err
	}

	m.log.Info("Stroke init acknowledged, cooling")

	return nil
}

// ReadTemperature returns the hottest array sensor pixel.
func (m *MCU) ReadTemperature(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame, err := m.exchangeLocked(ctx, "read_temperature", cmdRequestTemp, nil, cmdRequestTemp, m.cfg.Timeout)
	if err != nil {
		return 0, err
	}

	maxC, _, err := decodeTempReading(frame.Data)
	if err != nil {
		return 0, hw.NewError(hw.KindCommunication, "mcu", "read_temperature", "decoding temperature").
			WithCause(err)
	}

	return maxC, nil
}

// commandLocked sends a command and waits for its acknowledgement, which
// echoes the command code.
func (m *MCU) commandLocked(ctx context.Context, op string, code byte, data []byte) error {
	_, err := m.exchangeLocked(ctx, op, code, data, code, m.cfg.Timeout)

	return err
}

func (m *MCU) exchangeLocked(ctx context.Context, op string, code byte, data []byte, want byte, timeout time.Duration) (*Frame, error) {
	if m.port == nil {
		return nil, hw.NewError(hw.KindConnection, "mcu", op, "not connected")
	}

	if err := ctx.Err(); err != nil {
		return nil, hw.NewError(hw.KindCancelled, "mcu", op, "cancelled").WithCause(err)
	}

	frame := encodeFrame(code, data)

	m.log.WithField("tx", fmt.Sprintf("% X", frame)).Debug("PC -> MCU")

	if _, err := m.port.Write(frame); err != nil {
		return nil, hw.NewError(hw.KindCommunication, "mcu", op, "writing frame").WithCause(err)
	}

	return m.waitForLocked(ctx, op, want, timeout)
}

// waitForLocked reads frames until one carries the wanted code. Frames for
// other codes are logged and discarded; the controller interleaves
// unsolicited notifications with acknowledgements.
func (m *MCU) waitForLocked(ctx context.Context, op string, want byte, timeout time.Duration) (*Frame, error) {
	if m.port == nil {
		return nil, hw.NewError(hw.KindConnection, "mcu", op, "not connected")
	}

	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, hw.NewError(hw.KindCancelled, "mcu", op, "cancelled").WithCause(err)
		}

		if time.Now().After(deadline) {
			return nil, hw.NewError(hw.KindTimeout, "mcu", op, "response not received").
				WithDetail("want", fmt.Sprintf("0x%02X", want)).
				WithDetail("timeout", timeout.String())
		}

		frame, err := decodeFrame(m.reader)
		if err != nil {
			// Read timeouts surface as short reads; keep polling until
			// the deadline.
			continue
		}

		m.log.WithField("rx", fmt.Sprintf("0x%02X len=%d", frame.Code, len(frame.Data))).Debug("MCU -> PC")

		if frame.Code == want {
			return frame, nil
		}
	}
}
