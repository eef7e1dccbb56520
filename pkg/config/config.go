// Package config loads and validates the YAML configuration: hardware
// descriptors, test parameters, sequence timing, persistence, API and
// upload targets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/forcelab/eoltester/pkg/api"
	"github.com/forcelab/eoltester/pkg/hw/factory"
	"github.com/forcelab/eoltester/pkg/sequence"
	"github.com/forcelab/eoltester/pkg/store"
	"github.com/forcelab/eoltester/pkg/upload"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ParseLogLevel resolves the configured log level.
func ParseLogLevel(level string) (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return lvl, nil
}

// DefaultLogLevel is the default logging level.
const DefaultLogLevel = "info"

// Config is the root configuration for eoltester.
type Config struct {
	Global   GlobalConfig   `yaml:"global"`
	Hardware factory.Config `yaml:"hardware"`
	Test     TestConfig     `yaml:"test"`
	Sequence SequenceConfig `yaml:"sequence"`
	Database store.Config   `yaml:"database"`
	API      api.Config     `yaml:"api"`
	Upload   upload.Config  `yaml:"upload"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// Duration accepts human-friendly strings like "3s" or "500ms" as well
// as plain nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", v, err)
		}

		*d = Duration(parsed)

		return nil
	case int:
		*d = Duration(v)

		return nil
	default:
		return fmt.Errorf("cannot parse %v as duration", raw)
	}
}

// FloatList accepts either a YAML sequence of numbers or a single
// comma-separated string.
type FloatList []float64

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *FloatList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var raw string
		if err := node.Decode(&raw); err != nil {
			return err
		}

		values, err := sequence.ParseFloatList(raw)
		if err != nil {
			return err
		}

		*l = values

		return nil
	}

	var values []float64
	if err := node.Decode(&values); err != nil {
		return err
	}

	*l = values

	return nil
}

// TestConfig carries the run parameters.
type TestConfig struct {
	DUTSerial string `yaml:"dut_serial"`

	Voltage      float64 `yaml:"voltage"`
	CurrentLimit float64 `yaml:"current_limit"`

	TemperatureList FloatList `yaml:"temperature_list"`
	StrokePositions FloatList `yaml:"stroke_positions"`

	VelocityUmS float64 `yaml:"velocity_um_s"`
	AccelUmS2   float64 `yaml:"accel_um_s2"`

	RepeatCount   int   `yaml:"repeat_count"`
	StopOnFailure *bool `yaml:"stop_on_failure"`

	StandbyTemperature float64  `yaml:"standby_temperature"`
	HoldTime           Duration `yaml:"hold_time"`

	AxisMinUm float64 `yaml:"axis_min_um"`
	AxisMaxUm float64 `yaml:"axis_max_um"`

	ForceLimits []sequence.ForceLimit `yaml:"force_limits"`
}

// Parameters converts the test section into validated-ready run
// parameters. StopOnFailure defaults to true when unset.
func (c *TestConfig) Parameters() sequence.Parameters {
	stop := true
	if c.StopOnFailure != nil {
		stop = *c.StopOnFailure
	}

	p := sequence.Parameters{
		Voltage:            c.Voltage,
		CurrentLimit:       c.CurrentLimit,
		TemperatureList:    c.TemperatureList,
		StrokePositions:    c.StrokePositions,
		VelocityUmS:        c.VelocityUmS,
		AccelUmS2:          c.AccelUmS2,
		RepeatCount:        c.RepeatCount,
		StopOnFailure:      stop,
		StandbyTemperature: c.StandbyTemperature,
		HoldTime:           time.Duration(c.HoldTime),
		AxisMinUm:          c.AxisMinUm,
		AxisMaxUm:          c.AxisMaxUm,
		ForceLimits:        c.ForceLimits,
	}
	p.ApplyDefaults()

	return p
}

// SequenceConfig tunes orchestrator timing and verification bounds.
type SequenceConfig struct {
	ConnectTimeout       Duration `yaml:"connect_timeout"`
	BootTimeout          Duration `yaml:"boot_timeout"`
	OperatingTempTimeout Duration `yaml:"operating_temp_timeout"`
	StandbyTempTimeout   Duration `yaml:"standby_temp_timeout"`
	MotionTimeout        Duration `yaml:"motion_timeout"`
	SettleTime           Duration `yaml:"settle_time"`

	VoltageToleranceV float64 `yaml:"voltage_tolerance_v"`
	ZeroToleranceN    float64 `yaml:"zero_tolerance_n"`
	FanSpeed          int     `yaml:"fan_speed"`
}

// Build converts the section into the orchestrator's config. Zero
// fields keep the orchestrator's defaults.
func (c *SequenceConfig) Build() sequence.Config {
	return sequence.Config{
		ConnectTimeout:       time.Duration(c.ConnectTimeout),
		BootTimeout:          time.Duration(c.BootTimeout),
		OperatingTempTimeout: time.Duration(c.OperatingTempTimeout),
		StandbyTempTimeout:   time.Duration(c.StandbyTempTimeout),
		MotionTimeout:        time.Duration(c.MotionTimeout),
		SettleTime:           time.Duration(c.SettleTime),
		VoltageToleranceV:    c.VoltageToleranceV,
		ZeroToleranceN:       c.ZeroToleranceN,
		FanSpeed:             c.FanSpeed,
	}
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Test.VelocityUmS == 0 {
		c.Test.VelocityUmS = 200_000.0
	}

	if c.Test.AccelUmS2 == 0 {
		c.Test.AccelUmS2 = 1_000_000.0
	}

	c.Hardware.ApplyDefaults()
	c.Database.ApplyDefaults()
	c.API.ApplyDefaults()
}

// Validate checks every section for errors.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.Global.LogLevel); err != nil {
		return err
	}

	if err := c.Hardware.Validate(); err != nil {
		return fmt.Errorf("hardware: %w", err)
	}

	params := c.Test.Parameters()
	if err := params.Validate(); err != nil {
		return fmt.Errorf("test: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	return nil
}
