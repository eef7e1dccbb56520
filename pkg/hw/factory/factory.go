// Package factory builds the instrument set from hardware descriptors.
// Each instrument names a backend kind; mock backends stand in for real
// hardware and are substituted automatically where a platform cannot
// provide the vendor library.
package factory

import (
	"errors"
	"fmt"

	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/forcelab/eoltester/pkg/hw/ajinextek"
	"github.com/forcelab/eoltester/pkg/hw/axl"
	"github.com/forcelab/eoltester/pkg/hw/bs205"
	"github.com/forcelab/eoltester/pkg/hw/lma"
	"github.com/forcelab/eoltester/pkg/hw/mock"
	"github.com/forcelab/eoltester/pkg/hw/oda"
	"github.com/sirupsen/logrus"
)

// Kind selects a backend implementation for one instrument.
type Kind string

const (
	KindMock      Kind = "mock"
	KindODA       Kind = "oda"
	KindLMA       Kind = "lma"
	KindBS205     Kind = "bs205"
	KindAjinextek Kind = "ajinextek"
)

// Config describes all five instruments.
type Config struct {
	Power    PowerConfig    `yaml:"power"`
	MCU      MCUConfig      `yaml:"mcu"`
	LoadCell LoadCellConfig `yaml:"loadcell"`
	Robot    RobotConfig    `yaml:"robot"`
	DIO      DIOConfig      `yaml:"dio"`
}

type PowerConfig struct {
	Kind Kind       `yaml:"kind"`
	ODA  oda.Config `yaml:"oda"`
}

type MCUConfig struct {
	Kind Kind       `yaml:"kind"`
	LMA  lma.Config `yaml:"lma"`
}

type LoadCellConfig struct {
	Kind  Kind         `yaml:"kind"`
	BS205 bs205.Config `yaml:"bs205"`
}

type RobotConfig struct {
	Kind      Kind                  `yaml:"kind"`
	Ajinextek ajinextek.RobotConfig `yaml:"ajinextek"`
}

type DIOConfig struct {
	Kind      Kind                `yaml:"kind"`
	Ajinextek ajinextek.DIOConfig `yaml:"ajinextek"`
}

// ApplyDefaults fills unset kinds with mock backends.
func (c *Config) ApplyDefaults() {
	if c.Power.Kind == "" {
		c.Power.Kind = KindMock
	}

	if c.MCU.Kind == "" {
		c.MCU.Kind = KindMock
	}

	if c.LoadCell.Kind == "" {
		c.LoadCell.Kind = KindMock
	}

	if c.Robot.Kind == "" {
		c.Robot.Kind = KindMock
	}

	if c.DIO.Kind == "" {
		c.DIO.Kind = KindMock
	}
}

// Validate checks every instrument's kind.
func (c *Config) Validate() error {
	checks := []struct {
		name    string
		kind    Kind
		allowed map[Kind]bool
	}{
		{"power", c.Power.Kind, map[Kind]bool{KindMock: true, KindODA: true}},
		{"mcu", c.MCU.Kind, map[Kind]bool{KindMock: true, KindLMA: true}},
		{"loadcell", c.LoadCell.Kind, map[Kind]bool{KindMock: true, KindBS205: true}},
		{"robot", c.Robot.Kind, map[Kind]bool{KindMock: true, KindAjinextek: true}},
		{"dio", c.DIO.Kind, map[Kind]bool{KindMock: true, KindAjinextek: true}},
	}

	for _, check := range checks {
		if !check.allowed[check.kind] {
			return fmt.Errorf("unsupported %s backend: %q", check.name, check.kind)
		}
	}

	return nil
}

// Set is the assembled instrument set. Notices records substitutions
// made during assembly, e.g. a simulated robot standing in for missing
// vendor libraries.
type Set struct {
	Power    hw.PowerSupply
	MCU      hw.MCU
	LoadCell hw.LoadCell
	Robot    hw.Robot
	DIO      hw.DigitalIO

	Notices []string
}

// loadAXL is swapped in tests.
var loadAXL = axl.Load

// New assembles the instrument set the descriptors name.
func New(log logrus.FieldLogger, cfg Config) (*Set, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating hardware config: %w", err)
	}

	set := &Set{}

	// Mock instruments share simulation state so force readings track
	// stroke and temperature.
	var (
		mockRobot *mock.Robot
		mockMCU   *mock.MCU
	)

	// The AXL library is opened once and shared by robot and digital
	// I/O. On platforms without it the affected instruments fall back
	// to mocks.
	var axlLib axl.Library

	needAXL := cfg.Robot.Kind == KindAjinextek || cfg.DIO.Kind == KindAjinextek
	if needAXL {
		lib, err := loadAXL()

		switch {
		case err == nil:
			axlLib = lib
		case errors.Is(err, axl.ErrUnavailable):
			set.Notices = append(set.Notices, "axl library unavailable, substituting simulated motion backends")
			log.Warn("AXL library unavailable, substituting simulated motion backends")
		default:
			return nil, fmt.Errorf("loading axl library: %w", err)
		}
	}

	switch cfg.MCU.Kind {
	case KindLMA:
		mcu, err := lma.NewMCU(log, cfg.MCU.LMA)
		if err != nil {
			return nil, fmt.Errorf("building mcu backend: %w", err)
		}

		set.MCU = mcu
	default:
		mockMCU = mock.NewMCU(mock.MCUConfig{})
		set.MCU = mockMCU
	}

	switch cfg.Robot.Kind {
	case KindAjinextek:
		if axlLib != nil {
			robot, err := ajinextek.NewRobot(log, cfg.Robot.Ajinextek, axlLib)
			if err != nil {
				return nil, fmt.Errorf("building robot backend: %w", err)
			}

			set.Robot = robot
		}
	default:
	}

	if set.Robot == nil {
		mockRobot = mock.NewRobot(mock.RobotConfig{})
		set.Robot = mockRobot
	}

	switch cfg.Power.Kind {
	case KindODA:
		power, err := oda.NewPowerSupply(log, cfg.Power.ODA)
		if err != nil {
			return nil, fmt.Errorf("building power backend: %w", err)
		}

		set.Power = power
	default:
		set.Power = mock.NewPower(mock.PowerConfig{})
	}

	switch cfg.LoadCell.Kind {
	case KindBS205:
		loadcell, err := bs205.NewLoadCell(log, cfg.LoadCell.BS205)
		if err != nil {
			return nil, fmt.Errorf("building loadcell backend: %w", err)
		}

		set.LoadCell = loadcell
	default:
		lc := mock.NewLoadCell(mock.LoadCellConfig{})
		lc.BindSources(mockRobot, mockMCU)
		set.LoadCell = lc
	}

	switch cfg.DIO.Kind {
	case KindAjinextek:
		if axlLib != nil {
			dio, err := ajinextek.NewDIO(log, cfg.DIO.Ajinextek, axlLib)
			if err != nil {
				return nil, fmt.Errorf("building dio backend: %w", err)
			}

			set.DIO = dio
		}
	default:
	}

	if set.DIO == nil {
		set.DIO = mock.NewDIO(mock.DIOConfig{})
	}

	log.WithFields(logrus.Fields{
		"power":    cfg.Power.Kind,
		"mcu":      cfg.MCU.Kind,
		"loadcell": cfg.LoadCell.Kind,
		"robot":    cfg.Robot.Kind,
		"dio":      cfg.DIO.Kind,
	}).Info("Instrument set assembled")

	return set, nil
}
