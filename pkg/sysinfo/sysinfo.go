// Package sysinfo captures a snapshot of the host running the test rig.
// The snapshot is attached to every result record so a measurement can be
// traced back to the station that produced it.
package sysinfo

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

// Snapshot describes the host at collection time.
type Snapshot struct {
	Hostname         string    `json:"hostname"`
	OS               string    `json:"os"`
	Platform         string    `json:"platform"`
	PlatformVersion  string    `json:"platform_version"`
	KernelVersion    string    `json:"kernel_version"`
	CPUModel         string    `json:"cpu_model"`
	CPUCores         int       `json:"cpu_cores"`
	MemoryTotalBytes uint64    `json:"memory_total_bytes"`
	GoVersion        string    `json:"go_version"`
	CollectedAt      time.Time `json:"collected_at"`
}

// Collect gathers the snapshot. Fields that cannot be read are left at
// their zero value; collection never fails the run.
func Collect(ctx context.Context, log logrus.FieldLogger) *Snapshot {
	snap := &Snapshot{
		GoVersion:   runtime.Version(),
		CPUCores:    runtime.NumCPU(),
		CollectedAt: time.Now(),
	}

	if info, err := host.InfoWithContext(ctx); err != nil {
		log.WithError(err).Debug("Failed to read host info")
	} else {
		snap.Hostname = info.Hostname
		snap.OS = info.OS
		snap.Platform = info.Platform
		snap.PlatformVersion = info.PlatformVersion
		snap.KernelVersion = info.KernelVersion
	}

	if infos, err := cpu.InfoWithContext(ctx); err != nil {
		log.WithError(err).Debug("Failed to read cpu info")
	} else if len(infos) > 0 {
		snap.CPUModel = infos[0].ModelName
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		log.WithError(err).Debug("Failed to read memory info")
	} else {
		snap.MemoryTotalBytes = vm.Total
	}

	return snap
}
