// Package sequence holds the test execution core: validated run
// parameters, the phase state machine driving the hardware facade, and
// the structured result record.
package sequence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/google/uuid"
)

// Device and rig envelope. Parameters outside these bounds are rejected
// before any I/O happens.
const (
	MaxVoltageV     = 30.0
	MaxCurrentA     = 25.0
	MinTemperatureC = 20.0
	MaxTemperatureC = 80.0
	MaxVelocityUmS  = 5_000_000.0
	MaxAccelUmS2    = 50_000_000.0
)

// ForceLimit bounds the acceptable peak force for one
// (temperature, position) cell.
type ForceLimit struct {
	TemperatureC float64 `yaml:"temperature_c" json:"temperature_c"`
	PositionUm   float64 `yaml:"position_um" json:"position_um"`
	MinN         float64 `yaml:"min_n" json:"min_n"`
	MaxN         float64 `yaml:"max_n" json:"max_n"`
}

// Parameters is the validated run configuration. Build it, apply
// defaults, validate, then treat it as immutable.
type Parameters struct {
	Voltage      float64 `yaml:"voltage" json:"voltage"`
	CurrentLimit float64 `yaml:"current_limit" json:"current_limit"`

	TemperatureList []float64 `yaml:"temperature_list" json:"temperature_list"`
	StrokePositions []float64 `yaml:"stroke_positions" json:"stroke_positions"`

	VelocityUmS float64 `yaml:"velocity_um_s" json:"velocity_um_s"`
	AccelUmS2   float64 `yaml:"accel_um_s2" json:"accel_um_s2"`

	RepeatCount   int  `yaml:"repeat_count" json:"repeat_count"`
	StopOnFailure bool `yaml:"stop_on_failure" json:"stop_on_failure"`

	StandbyTemperature float64       `yaml:"standby_temperature" json:"standby_temperature"`
	HoldTime           time.Duration `yaml:"hold_time" json:"hold_time"`

	// AxisMinUm and AxisMaxUm bound valid stroke positions. They mirror
	// the robot's travel range.
	AxisMinUm float64 `yaml:"axis_min_um" json:"axis_min_um"`
	AxisMaxUm float64 `yaml:"axis_max_um" json:"axis_max_um"`

	// ForceLimits configure pass bounds per cell. A cell without a limit
	// is measured and reported but not judged.
	ForceLimits []ForceLimit `yaml:"force_limits" json:"force_limits,omitempty"`
}

// ApplyDefaults fills unset numeric fields. StopOnFailure defaults to
// true at the configuration layer, where unset and false are
// distinguishable.
func (p *Parameters) ApplyDefaults() {
	if p.Voltage == 0 {
		p.Voltage = 18.0
	}

	if p.CurrentLimit == 0 {
		p.CurrentLimit = 20.0
	}

	if p.RepeatCount == 0 {
		p.RepeatCount = 1
	}

	if p.AxisMaxUm == 0 {
		p.AxisMaxUm = 250_000.0
	}

	if p.HoldTime == 0 {
		p.HoldTime = 3 * time.Second
	}
}

// Validate checks every invariant and reports all violations at once.
func (p *Parameters) Validate() error {
	var violations []string

	if p.Voltage <= 0 || p.Voltage > MaxVoltageV {
		violations = append(violations, fmt.Sprintf("voltage %.2f outside (0, %.2f]", p.Voltage, MaxVoltageV))
	}

	if p.CurrentLimit <= 0 || p.CurrentLimit > MaxCurrentA {
		violations = append(violations, fmt.Sprintf("current limit %.2f outside (0, %.2f]", p.CurrentLimit, MaxCurrentA))
	}

	if len(p.TemperatureList) == 0 {
		violations = append(violations, "temperature list is empty")
	}

	for i, temp := range p.TemperatureList {
		if temp < MinTemperatureC || temp > MaxTemperatureC {
			violations = append(violations, fmt.Sprintf("temperature[%d] %.1f outside [%.1f, %.1f]", i, temp, MinTemperatureC, MaxTemperatureC))
		}

		if temp <= p.StandbyTemperature {
			violations = append(violations, fmt.Sprintf("temperature[%d] %.1f not above standby %.1f", i, temp, p.StandbyTemperature))
		}
	}

	if len(p.StrokePositions) == 0 {
		violations = append(violations, "stroke position list is empty")
	}

	for i, pos := range p.StrokePositions {
		if pos < p.AxisMinUm || pos > p.AxisMaxUm {
			violations = append(violations, fmt.Sprintf("stroke[%d] %.0f outside [%.0f, %.0f]", i, pos, p.AxisMinUm, p.AxisMaxUm))
		}
	}

	if p.VelocityUmS <= 0 || p.VelocityUmS > MaxVelocityUmS {
		violations = append(violations, fmt.Sprintf("velocity %.0f outside (0, %.0f]", p.VelocityUmS, MaxVelocityUmS))
	}

	if p.AccelUmS2 <= 0 || p.AccelUmS2 > MaxAccelUmS2 {
		violations = append(violations, fmt.Sprintf("acceleration %.0f outside (0, %.0f]", p.AccelUmS2, MaxAccelUmS2))
	}

	if p.RepeatCount < 1 {
		violations = append(violations, fmt.Sprintf("repeat count %d below 1", p.RepeatCount))
	}

	if p.StandbyTemperature <= 0 {
		violations = append(violations, fmt.Sprintf("standby temperature %.1f not positive", p.StandbyTemperature))
	}

	if p.HoldTime <= 0 {
		violations = append(violations, fmt.Sprintf("hold time %s not positive", p.HoldTime))
	}

	for i, limit := range p.ForceLimits {
		if limit.MinN > limit.MaxN {
			violations = append(violations, fmt.Sprintf("force limit[%d] min %.2f above max %.2f", i, limit.MinN, limit.MaxN))
		}
	}

	if len(violations) > 0 {
		return hw.NewError(hw.KindValidation, "", "validate_parameters", strings.Join(violations, "; "))
	}

	return nil
}

// LimitFor returns the configured force limit for the cell, if any.
func (p *Parameters) LimitFor(temperatureC, positionUm float64) (ForceLimit, bool) {
	for _, limit := range p.ForceLimits {
		if limit.TemperatureC == temperatureC && limit.PositionUm == positionUm {
			return limit, true
		}
	}

	return ForceLimit{}, false
}

// MaxTemperature returns the largest operating temperature in the run.
func (p *Parameters) MaxTemperature() float64 {
	max := 0.0
	for _, temp := range p.TemperatureList {
		if temp > max {
			max = temp
		}
	}

	return max
}

// ParseFloatList normalizes a comma-separated string into an ordered
// sequence of numbers. Blank entries are rejected.
func ParseFloatList(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	values := make([]float64, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			return nil, fmt.Errorf("empty entry in list %q", raw)
		}

		value, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", trimmed, err)
		}

		values = append(values, value)
	}

	return values, nil
}

// ExecutionContext identifies one run: an opaque execution id, the DUT
// serial, and the validated parameters. Immutable once built.
type ExecutionContext struct {
	ExecutionID string     `json:"execution_id"`
	DUTSerial   string     `json:"dut_serial"`
	Parameters  Parameters `json:"parameters"`
}

// NewExecutionContext validates the parameters and mints an execution id.
func NewExecutionContext(dutSerial string, params Parameters) (*ExecutionContext, error) {
	params.ApplyDefaults()

	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("validating parameters: %w", err)
	}

	return &ExecutionContext{
		ExecutionID: uuid.NewString(),
		DUTSerial:   dutSerial,
		Parameters:  params,
	}, nil
}
