// Package oda drives an ODA EX-series programmable DC power supply over
// its SCPI TCP interface.
package oda

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/sirupsen/logrus"
)

const (
	// Commands are LF terminated per SCPI.
	terminator = "\n"

	// The instrument drops commands when they arrive back to back, so a
	// short settle delay follows every exchange.
	interCommandDelay = 50 * time.Millisecond

	defaultTimeout = 5 * time.Second
)

// Config holds the TCP endpoint and timing for the supply.
type Config struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
	Channel int           `yaml:"channel"`
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
}

// Validate checks the endpoint configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	return nil
}

// PowerSupply is the SCPI client for the ODA supply.
type PowerSupply struct {
	log logrus.FieldLogger
	cfg Config

	mu       sync.Mutex
	conn     net.Conn
	reader   *bufio.Reader
	identity string
	outputOn bool
}

// NewPowerSupply creates an ODA client. Connect must be called before any
// other operation.
func NewPowerSupply(log logrus.FieldLogger, cfg Config) (*PowerSupply, error) {
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating oda config: %w", err)
	}

	return &PowerSupply{
		log: log.WithField("component", "oda_power"),
		cfg: cfg,
	}, nil
}

var _ hw.PowerSupply = (*PowerSupply)(nil)

func (p *PowerSupply) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	p.log.WithField("addr", addr).Info("Connecting to power supply")

	dialer := net.Dialer{Timeout: p.cfg.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return hw.NewError(hw.KindConnection, "power", "connect", "dialing supply").
			WithDetail("addr", addr).
			WithCause(err)
	}

	p.conn = conn
	p.reader = bufio.NewReader(conn)

	identity, err := p.query(ctx, "*IDN?")
	if err != nil || strings.TrimSpace(identity) == "" {
		p.closeLocked()

		e := hw.NewError(hw.KindConnection, "power", "connect", "identification failed").
			WithDetail("addr", addr)
		if err != nil {
			e = e.WithCause(err)
		}

		return e
	}

	p.identity = strings.TrimSpace(identity)

	// Clear any latched error status from a previous session.
	if err := p.send(ctx, "*CLS"); err != nil {
		p.closeLocked()

		return hw.NewError(hw.KindConnection, "power", "connect", "clearing status").WithCause(err)
	}

	p.log.WithField("identity", p.identity).Info("Power supply connected")

	return nil
}

func (p *PowerSupply) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}

	p.closeLocked()
	p.log.Info("Power supply disconnected")

	return nil
}

func (p *PowerSupply) closeLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
	}

	p.conn = nil
	p.reader = nil
	p.outputOn = false
}

func (p *PowerSupply) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn != nil
}

func (p *PowerSupply) Status(ctx context.Context) (hw.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := hw.Status{
		State:  hw.StateDisconnected,
		Vendor: "oda",
		Detail: map[string]any{
			"host":    p.cfg.Host,
			"port":    p.cfg.Port,
			"channel": p.cfg.Channel,
		},
		ReadAt: time.Now().UTC(),
	}

	if p.conn != nil {
		st.State = hw.StateReady
		st.Healthy = true
		st.Detail["identity"] = p.identity
		st.Detail["output_on"] = p.outputOn
	}

	return st, nil
}

// Identity reports the *IDN? response captured at connect.
func (p *PowerSupply) Identity() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.identity
}

func (p *PowerSupply) SetVoltage(ctx context.Context, volts float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.sendLocked(ctx, "set_voltage", fmt.Sprintf("VOLT %.2f", volts)); err != nil {
		return err
	}

	p.log.WithField("volts", volts).Debug("Voltage setpoint applied")

	return nil
}

func (p *PowerSupply) SetCurrentLimit(ctx context.Context, amps float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.sendLocked(ctx, "set_current_limit", fmt.Sprintf("CURR %.2f", amps)); err != nil {
		return err
	}

	p.log.WithField("amps", amps).Debug("Current limit applied")

	return nil
}

func (p *PowerSupply) EnableOutput(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.sendLocked(ctx, "enable_output", "OUTP ON"); err != nil {
		return err
	}

	p.outputOn = true
	p.log.Info("Output enabled")

	return nil
}

func (p *PowerSupply) DisableOutput(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.sendLocked(ctx, "disable_output", "OUTP OFF"); err != nil {
		return err
	}

	p.outputOn = false
	p.log.Info("Output disabled")

	return nil
}

func (p *PowerSupply) ReadVoltage(ctx context.Context) (float64, error) {
	return p.queryFloat(ctx, "read_voltage", "MEAS:VOLT?")
}

func (p *PowerSupply) ReadCurrent(ctx context.Context) (float64, error) {
	return p.queryFloat(ctx, "read_current", "MEAS:CURR?")
}

func (p *PowerSupply) ReadPower(ctx context.Context) (float64, error) {
	reading, err := p.MeasureAll(ctx)
	if err != nil {
		return 0, err
	}

	return reading.PowerW, nil
}

// MeasureAll reads voltage and current in one exchange. When the combined
// query returns something unparseable it falls back to individual reads.
func (p *PowerSupply) MeasureAll(ctx context.Context) (hw.PowerReading, error) {
	p.mu.Lock()
	resp, err := p.queryLocked(ctx, "measure_all", "MEAS:ALL?")
	p.mu.Unlock()

	if err != nil {
		return hw.PowerReading{}, err
	}

	parts := strings.Split(strings.TrimSpace(resp), ",")
	if len(parts) == 2 {
		voltage, verr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		current, cerr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)

		if verr == nil && cerr == nil {
			return hw.PowerReading{
				VoltageV: voltage,
				CurrentA: current,
				PowerW:   voltage * current,
			}, nil
		}
	}

	p.log.WithField("response", resp).Warn("Unexpected MEAS:ALL? response, falling back to individual reads")

	voltage, err := p.ReadVoltage(ctx)
	if err != nil {
		return hw.PowerReading{}, err
	}

	current, err := p.ReadCurrent(ctx)
	if err != nil {
		return hw.PowerReading{}, err
	}

	return hw.PowerReading{
		VoltageV: voltage,
		CurrentA: current,
		PowerW:   voltage * current,
	}, nil
}

func (p *PowerSupply) queryFloat(ctx context.Context, op, cmd string) (float64, error) {
	p.mu.Lock()
	resp, err := p.queryLocked(ctx, op, cmd)
	p.mu.Unlock()

	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, hw.NewError(hw.KindCommunication, "power", op, "parsing response").
			WithDetail("response", resp).
			WithCause(err)
	}

	return value, nil
}

func (p *PowerSupply) sendLocked(ctx context.Context, op, cmd string) error {
	if p.conn == nil {
		return hw.NewError(hw.KindConnection, "power", op, "not connected")
	}

	if err := p.send(ctx, cmd); err != nil {
		return hw.NewError(hw.KindCommunication, "power", op, "sending command").
			WithDetail("command", cmd).
			WithCause(err)
	}

	return nil
}

func (p *PowerSupply) queryLocked(ctx context.Context, op, cmd string) (string, error) {
	if p.conn == nil {
		return "", hw.NewError(hw.KindConnection, "power", op, "not connected")
	}

	resp, err := p.query(ctx, cmd)
	if err != nil {
		return "", hw.NewError(hw.KindCommunication, "power", op, "querying instrument").
			WithDetail("command", cmd).
			WithCause(err)
	}

	return resp, nil
}

func (p *PowerSupply) send(ctx context.Context, cmd string) error {
	if err := p.applyDeadline(ctx); err != nil {
		return err
	}

	if _, err := p.conn.Write([]byte(cmd + terminator)); err != nil {
		return fmt.Errorf("writing %q: %w", cmd, err)
	}

	p.settle(ctx)

	return nil
}

func (p *PowerSupply) query(ctx context.Context, cmd string) (string, error) {
	if err := p.applyDeadline(ctx); err != nil {
		return "", err
	}

	if _, err := p.conn.Write([]byte(cmd + terminator)); err != nil {
		return "", fmt.Errorf("writing %q: %w", cmd, err)
	}

	line, err := p.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading response to %q: %w", cmd, err)
	}

	p.settle(ctx)

	return strings.TrimRight(line, "\r\n"), nil
}

func (p *PowerSupply) applyDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(p.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	return p.conn.SetDeadline(deadline)
}

func (p *PowerSupply) settle(ctx context.Context) {
	timer := time.NewTimer(interCommandDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
