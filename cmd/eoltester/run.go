package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docker/go-units"
	"github.com/forcelab/eoltester/pkg/facade"
	"github.com/forcelab/eoltester/pkg/hw/factory"
	"github.com/forcelab/eoltester/pkg/sequence"
	"github.com/forcelab/eoltester/pkg/stats"
	"github.com/forcelab/eoltester/pkg/store"
	"github.com/forcelab/eoltester/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	dutSerial  string
	outputPath string
	skipUpload bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the test sequence",
	Long:  `Connect the configured instruments and run the full test sequence.`,
	RunE:  runTest,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&dutSerial, "dut-serial", "",
		"Device under test serial number (overrides config)")
	runCmd.Flags().StringVar(&outputPath, "output", "",
		"Write the full result document to this file as JSON")
	runCmd.Flags().BoolVar(&skipUpload, "skip-upload", false,
		"Skip the configured S3 upload for this run")
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	serial := dutSerial
	if serial == "" {
		serial = cfg.Test.DUTSerial
	}

	if serial == "" {
		return fmt.Errorf("dut serial is required (use --dut-serial or test.dut_serial)")
	}

	// Setup context with signal handling. A second signal aborts
	// immediately without teardown.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Warn("Received shutdown signal, cancelling run")
		cancel()

		sig = <-sigCh
		log.WithField("signal", sig).Error("Second signal, aborting")
		os.Exit(1)
	}()

	set, err := factory.New(log, cfg.Hardware)
	if err != nil {
		return fmt.Errorf("building instrument set: %w", err)
	}

	rig := facade.New(log, set)

	st := store.New(log, cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	// Create S3 uploader if configured, and verify the bucket is
	// writable before touching any hardware.
	var resultsUploader upload.Uploader

	if cfg.Upload.Enabled && !skipUpload {
		resultsUploader, err = upload.NewS3Uploader(log, cfg.Upload)
		if err != nil {
			return fmt.Errorf("creating S3 uploader: %w", err)
		}

		if err := resultsUploader.Preflight(ctx); err != nil {
			return fmt.Errorf("S3 upload preflight check failed: %w", err)
		}

		log.Info("S3 upload preflight check passed")
	}

	ec, err := sequence.NewExecutionContext(serial, cfg.Test.Parameters())
	if err != nil {
		return fmt.Errorf("building execution context: %w", err)
	}

	log.WithFields(logrus.Fields{
		"execution_id": ec.ExecutionID,
		"dut_serial":   ec.DUTSerial,
	}).Info("Starting test sequence")

	orch := sequence.New(log, rig, cfg.Sequence.Build())
	result := orch.Run(ctx, ec)

	// Persist and publish regardless of verdict. A persistence failure
	// must not mask the test outcome, so it is logged rather than
	// returned.
	if err := st.SaveResult(context.WithoutCancel(ctx), result); err != nil {
		log.WithError(err).Error("Failed to save result")
	}

	if outputPath != "" {
		if err := writeResultFile(outputPath, result); err != nil {
			log.WithError(err).Error("Failed to write result file")
		}
	}

	if resultsUploader != nil {
		if err := resultsUploader.Upload(context.WithoutCancel(ctx), result); err != nil {
			log.WithError(err).Error("Failed to upload result")
		}
	}

	printSummary(result)

	if result.Verdict != sequence.VerdictPass {
		return fmt.Errorf("test finished with verdict %s", result.Verdict)
	}

	return nil
}

// writeResultFile writes the full result document as indented JSON.
func writeResultFile(path string, result *sequence.TestResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing result file: %w", err)
	}

	log.WithFields(logrus.Fields{
		"path": path,
		"size": units.HumanSize(float64(len(data))),
	}).Info("Result file written")

	return nil
}

// printSummary writes a human-readable run summary to stdout.
func printSummary(result *sequence.TestResult) {
	summary := stats.Summarize(result)

	fmt.Printf("\n=== Test summary ===\n")
	fmt.Printf("  execution: %s\n", result.ExecutionID)
	fmt.Printf("  dut:       %s\n", result.DUTSerial)
	fmt.Printf("  verdict:   %s\n", result.Verdict)
	fmt.Printf("  duration:  %s\n", units.HumanDuration(result.Duration()))
	fmt.Printf("  cells:     %d measured, %d passed, %d failed\n",
		summary.Cells, summary.Passed, summary.Failed)

	if summary.Force != nil {
		fmt.Printf("  force:     %.2f..%.2f N, mean %.2f N\n",
			summary.Force.MinN, summary.Force.MaxN, summary.Force.MeanN)
	}

	for _, phase := range result.Phases {
		if phase.Outcome == sequence.OutcomeFailed {
			fmt.Printf("  failed:    %s (%s)\n", phase.Name, phase.Error)
		}
	}

	for _, e := range result.Errors {
		if e.Cell != nil {
			fmt.Printf("  cell fail: repeat %d, %.1f C, %.0f um\n",
				e.Cell.Repeat, e.Cell.TemperatureC, e.Cell.PositionUm)
		}
	}
}
