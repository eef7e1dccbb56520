// Package facade presents the five instruments as one rig. It serializes
// access per instrument, connects and disconnects them in a fixed order
// and provides the emergency stop path.
package facade

import (
	"context"
	"errors"
	"fmt"

	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/forcelab/eoltester/pkg/hw/factory"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Facade owns the instrument set. All access goes through the locked
// accessors so concurrent callers never interleave commands on one
// instrument.
type Facade struct {
	log logrus.FieldLogger

	power    *lockedPower
	mcu      *lockedMCU
	loadcell *lockedLoadCell
	robot    *lockedRobot
	dio      *lockedDIO

	notices []string
}

// New wraps an assembled instrument set.
func New(log logrus.FieldLogger, set *factory.Set) *Facade {
	return &Facade{
		log:      log.WithField("component", "facade"),
		power:    &lockedPower{inner: set.Power},
		mcu:      &lockedMCU{inner: set.MCU},
		loadcell: &lockedLoadCell{inner: set.LoadCell},
		robot:    &lockedRobot{inner: set.Robot},
		dio:      &lockedDIO{inner: set.DIO},
		notices:  set.Notices,
	}
}

// Power returns the serialized power supply.
func (f *Facade) Power() hw.PowerSupply { return f.power }

// MCU returns the serialized thermal/stroke controller.
func (f *Facade) MCU() hw.MCU { return f.mcu }

// LoadCell returns the serialized force transducer.
func (f *Facade) LoadCell() hw.LoadCell { return f.loadcell }

// Robot returns the serialized motion robot.
func (f *Facade) Robot() hw.Robot { return f.robot }

// DIO returns the serialized digital I/O module.
func (f *Facade) DIO() hw.DigitalIO { return f.dio }

// Notices reports substitutions recorded while the set was assembled.
func (f *Facade) Notices() []string { return f.notices }

type connectStep struct {
	name string
	inst hw.Instrument
}

func (f *Facade) connectOrder() []connectStep {
	return []connectStep{
		{"power", f.power},
		{"mcu", f.mcu},
		{"loadcell", f.loadcell},
		{"robot", f.robot},
		{"dio", f.dio},
	}
}

// ConnectAll connects every instrument in dependency order. When one
// fails, the instruments connected so far are disconnected again in
// reverse order before the error is returned.
func (f *Facade) ConnectAll(ctx context.Context) error {
	steps := f.connectOrder()

	for i, step := range steps {
		f.log.WithField("instrument", step.name).Info("Connecting")

		if err := step.inst.Connect(ctx); err != nil {
			f.log.WithError(err).WithField("instrument", step.name).Error("Connect failed, rolling back")

			for j := i - 1; j >= 0; j-- {
				if derr := steps[j].inst.Disconnect(ctx); derr != nil {
					f.log.WithError(derr).WithField("instrument", steps[j].name).Warn("Rollback disconnect failed")
				}
			}

			return fmt.Errorf("connecting %s: %w", step.name, err)
		}
	}

	f.log.Info("All instruments connected")

	return nil
}

// DisconnectAll disconnects every instrument in reverse connect order.
// All disconnects are attempted; errors are joined.
func (f *Facade) DisconnectAll(ctx context.Context) error {
	steps := f.connectOrder()

	var errs []error

	for i := len(steps) - 1; i >= 0; i-- {
		if !steps[i].inst.IsConnected() {
			continue
		}

		if err := steps[i].inst.Disconnect(ctx); err != nil {
			f.log.WithError(err).WithField("instrument", steps[i].name).Warn("Disconnect failed")
			errs = append(errs, fmt.Errorf("disconnecting %s: %w", steps[i].name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	f.log.Info("All instruments disconnected")

	return nil
}

// EmergencyStop drives every instrument to its safe state concurrently:
// output off, motion stopped, outputs cleared. It never fails; problems
// are logged and swallowed so the caller can keep shutting down.
func (f *Facade) EmergencyStop(ctx context.Context) {
	f.log.Warn("Emergency stop")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if !f.power.IsConnected() {
			return nil
		}

		if err := f.power.DisableOutput(ctx); err != nil {
			f.log.WithError(err).Error("Emergency stop: power output disable failed")
		}

		return nil
	})

	g.Go(func() error {
		if !f.robot.IsConnected() {
			return nil
		}

		if err := f.robot.EmergencyStop(ctx); err != nil {
			f.log.WithError(err).Error("Emergency stop: robot stop failed")
		}

		return nil
	})

	g.Go(func() error {
		if !f.dio.IsConnected() {
			return nil
		}

		if err := f.dio.ResetAllOutputs(ctx); err != nil {
			f.log.WithError(err).Error("Emergency stop: output reset failed")
		}

		return nil
	})

	_ = g.Wait()
}

// StatusSnapshot gathers the status of every instrument.
func (f *Facade) StatusSnapshot(ctx context.Context) map[string]hw.Status {
	snapshot := make(map[string]hw.Status, 5)

	for _, step := range f.connectOrder() {
		st, err := step.inst.Status(ctx)
		if err != nil {
			st = hw.Status{State: hw.StateDisconnected}
		}

		snapshot[step.name] = st
	}

	return snapshot
}
