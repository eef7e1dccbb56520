// Package bs205 drives a BS-205 load cell indicator over its fixed-frame
// serial protocol. The indicator reports weight in kilograms-force; the
// driver converts to newtons.
package bs205

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	// Standard gravity, for kgf to N conversion.
	gravity = 9.80665

	// Commands are two bytes: ASCII indicator ID then the command letter.
	cmdReadWeight  = 'R'
	cmdZero        = 'Z'
	cmdHold        = 'H'
	cmdHoldRelease = 'L'

	// Responses are a fixed eleven bytes: STX ID SIGN VALUE(7) ETX.
	frameSTX  = 0x02
	frameETX  = 0x03
	frameSize = 11

	defaultBaudRate = 9600
	defaultTimeout  = 3 * time.Second

	// The indicator misbehaves when polled faster than this.
	minCommandInterval = 200 * time.Millisecond

	// Zero takes effect on the indicator after a short settling period.
	zeroSettleDelay = 500 * time.Millisecond
)

// Config holds the serial endpoint for the indicator.
type Config struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	Timeout     time.Duration `yaml:"timeout"`
	IndicatorID int           `yaml:"indicator_id"`
}

func (c *Config) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = defaultBaudRate
	}

	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}

	if c.IndicatorID == 0 {
		c.IndicatorID = 1
	}
}

// Validate checks the serial configuration.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}

	if c.IndicatorID < 1 || c.IndicatorID > 15 {
		return fmt.Errorf("indicator id must be 1-15, got %d", c.IndicatorID)
	}

	return nil
}

// LoadCell is the serial client for the BS-205 indicator. Peak capture is
// implemented by a background sampler since the indicator itself only
// holds a single display value.
type LoadCell struct {
	log logrus.FieldLogger
	cfg Config

	// open is swapped in tests to avoid real hardware.
	open func() (io.ReadWriteCloser, error)

	mu       sync.Mutex
	port     io.ReadWriteCloser
	lastCmd  time.Time
	peak     float64
	sampling bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLoadCell creates a BS-205 client. Connect must be called before any
// other operation.
func NewLoadCell(log logrus.FieldLogger, cfg Config) (*LoadCell, error) {
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating bs205 config: %w", err)
	}

	lc := &LoadCell{
		log: log.WithField("component", "bs205_loadcell"),
		cfg: cfg,
	}

	lc.open = lc.openSerial

	return lc, nil
}

var _ hw.LoadCell = (*LoadCell)(nil)

func (lc *LoadCell) openSerial() (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: lc.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(lc.cfg.Port, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(lc.cfg.Timeout); err != nil {
		_ = port.Close()

		return nil, err
	}

	return port, nil
}

func (lc *LoadCell) Connect(ctx context.Context) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.port != nil {
		return nil
	}

	lc.log.WithFields(logrus.Fields{
		"port": lc.cfg.Port,
		"baud": lc.cfg.BaudRate,
		"id":   lc.cfg.IndicatorID,
	}).Info("Connecting to load cell")

	port, err := lc.open()
	if err != nil {
		return hw.NewError(hw.KindConnection, "loadcell", "connect", "opening serial port").
			WithDetail("port", lc.cfg.Port).
			WithCause(err)
	}

	lc.port = port
	lc.log.Info("Load cell connected")

	return nil
}

func (lc *LoadCell) Disconnect(ctx context.Context) error {
	lc.stopSampler()

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.port == nil {
		return nil
	}

	err := lc.port.Close()
	lc.port = nil

	if err != nil {
		return hw.NewError(hw.KindCommunication, "loadcell", "disconnect", "closing serial port").WithCause(err)
	}

	lc.log.Info("Load cell disconnected")

	return nil
}

func (lc *LoadCell) IsConnected() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.port != nil
}

func (lc *LoadCell) Status(ctx context.Context) (hw.Status, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	st := hw.Status{
		State:  hw.StateDisconnected,
		Vendor: "bs205",
		Detail: map[string]any{
			"port": lc.cfg.Port,
			"id":   lc.cfg.IndicatorID,
		},
		ReadAt: time.Now().UTC(),
	}

	if lc.port != nil {
		st.State = hw.StateReady
		st.Healthy = true

		if lc.sampling {
			st.State = hw.StateBusy
		}
	}

	return st, nil
}

// Zero tares the indicator. The command is not acknowledged; the driver
// waits out the documented settling period instead.
func (lc *LoadCell) Zero(ctx context.Context) error {
	lc.mu.Lock()

	if err := lc.sendLocked(ctx, "zero", cmdZero); err != nil {
		lc.mu.Unlock()

		return err
	}

	lc.peak = 0
	lc.mu.Unlock()

	select {
	case <-time.After(zeroSettleDelay):
	case <-ctx.Done():
		return hw.NewError(hw.KindCancelled, "loadcell", "zero", "cancelled").WithCause(ctx.Err())
	}

	lc.log.Info("Load cell zeroed")

	return nil
}

// ReadForce polls the indicator once and returns newtons.
func (lc *LoadCell) ReadForce(ctx context.Context) (float64, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.readForceLocked(ctx)
}

func (lc *LoadCell) readForceLocked(ctx context.Context) (float64, error) {
	if err := lc.sendLocked(ctx, "read_force", cmdReadWeight); err != nil {
		return 0, err
	}

	frame := make([]byte, frameSize)
	if _, err := io.ReadFull(lc.port, frame); err != nil {
		return 0, hw.NewError(hw.KindCommunication, "loadcell", "read_force", "reading response").WithCause(err)
	}

	kgf, err := parseWeightFrame(frame)
	if err != nil {
		return 0, hw.NewError(hw.KindCommunication, "loadcell", "read_force", "parsing response").
			WithDetail("frame", fmt.Sprintf("% X", frame)).
			WithCause(err)
	}

	return kgf * gravity, nil
}

// StartPeakCapture releases any held value and begins sampling for the
// peak in the background.
func (lc *LoadCell) StartPeakCapture(ctx context.Context) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.sampling {
		return nil
	}

	if err := lc.sendLocked(ctx, "start_peak_capture", cmdHoldRelease); err != nil {
		return err
	}

	lc.peak = 0
	lc.sampling = true
	lc.stopCh = make(chan struct{})
	lc.doneCh = make(chan struct{})

	go lc.sampleLoop(lc.stopCh, lc.doneCh)

	lc.log.Debug("Peak capture started")

	return nil
}

// StopPeakCapture halts the sampler and holds the indicator display.
func (lc *LoadCell) StopPeakCapture(ctx context.Context) error {
	lc.stopSampler()

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if err := lc.sendLocked(ctx, "stop_peak_capture", cmdHold); err != nil {
		return err
	}

	lc.log.WithField("peak_n", lc.peak).Debug("Peak capture stopped")

	return nil
}

// ReadPeakForce returns the largest magnitude force seen since the last
// StartPeakCapture.
func (lc *LoadCell) ReadPeakForce(ctx context.Context) (float64, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.port == nil {
		return 0, hw.NewError(hw.KindConnection, "loadcell", "read_peak_force", "not connected")
	}

	return lc.peak, nil
}

func (lc *LoadCell) sampleLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(minCommandInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			lc.mu.Lock()
			if lc.port == nil {
				lc.mu.Unlock()

				return
			}

			force, err := lc.readForceLocked(context.Background())
			if err == nil && math.Abs(force) > math.Abs(lc.peak) {
				lc.peak = force
			}
			lc.mu.Unlock()

			if err != nil {
				lc.log.WithError(err).Debug("Peak sample failed, continuing")
			}
		}
	}
}

func (lc *LoadCell) stopSampler() {
	lc.mu.Lock()

	if !lc.sampling {
		lc.mu.Unlock()

		return
	}

	lc.sampling = false
	stopCh, doneCh := lc.stopCh, lc.doneCh
	lc.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// sendLocked writes a two-byte command, pacing commands so the indicator
// is never polled faster than it tolerates.
func (lc *LoadCell) sendLocked(ctx context.Context, op string, cmd byte) error {
	if lc.port == nil {
		return hw.NewError(hw.KindConnection, "loadcell", op, "not connected")
	}

	if err := ctx.Err(); err != nil {
		return hw.NewError(hw.KindCancelled, "loadcell", op, "cancelled").WithCause(err)
	}

	if wait := minCommandInterval - time.Since(lc.lastCmd); wait > 0 {
		time.Sleep(wait)
	}

	idByte := byte(0x30 + lc.cfg.IndicatorID)

	if _, err := lc.port.Write([]byte{idByte, cmd}); err != nil {
		return hw.NewError(hw.KindCommunication, "loadcell", op, "writing command").
			WithDetail("command", string(cmd)).
			WithCause(err)
	}

	lc.lastCmd = time.Now()

	return nil
}

// parseWeightFrame decodes the fixed response frame into kilograms-force.
// The value field is space padded, e.g. "1+  7.487".
func parseWeightFrame(frame []byte) (float64, error) {
	if len(frame) < frameSize {
		return 0, fmt.Errorf("frame too short: %d bytes", len(frame))
	}

	if frame[0] != frameSTX || frame[frameSize-1] != frameETX {
		return 0, fmt.Errorf("missing frame markers")
	}

	body := string(frame[1 : frameSize-1])

	signPos := strings.IndexAny(body, "+-")
	if signPos < 0 {
		return 0, fmt.Errorf("no sign in %q", body)
	}

	value := strings.ReplaceAll(body[signPos+1:], " ", "")
	if strings.HasPrefix(value, ".") {
		value = "0" + value
	}

	kgf, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %q: %w", value, err)
	}

	if body[signPos] == '-' {
		kgf = -kgf
	}

	return kgf, nil
}
