package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/forcelab/eoltester/pkg/facade"
	"github.com/forcelab/eoltester/pkg/hw/factory"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Connect all instruments and report their status",
	Long: `Connect every configured instrument, print its identity and
state, then disconnect. No test sequence is run.`,
	RunE: checkInstruments,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func checkInstruments(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	set, err := factory.New(log, cfg.Hardware)
	if err != nil {
		return fmt.Errorf("building instrument set: %w", err)
	}

	rig := facade.New(log, set)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := rig.ConnectAll(ctx); err != nil {
		return fmt.Errorf("connecting instruments: %w", err)
	}

	defer func() {
		if err := rig.DisconnectAll(ctx); err != nil {
			log.WithError(err).Warn("Disconnect failed")
		}
	}()

	snapshot := rig.StatusSnapshot(ctx)

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}

	sort.Strings(names)

	fmt.Printf("\n=== Instrument status ===\n")

	for _, name := range names {
		st := snapshot[name]
		fmt.Printf("  %-10s %-14s %s\n", name, st.State, st.Vendor)
	}

	for _, notice := range rig.Notices() {
		fmt.Printf("  notice: %s\n", notice)
	}

	return nil
}
