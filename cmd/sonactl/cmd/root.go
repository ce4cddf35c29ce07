// Package cmd provides the CLI commands for sonactl.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensona/sona/internal/profiling"
	"github.com/opensona/sona/pkg/version"
)

var (
	profileCPU string
	profileMem string
	profiler   = profiling.NewProfiler()
	cpuCleanup func()
)

// NewRootCmd creates the root command for the sonactl CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sonactl",
		Short: "Diagnostic and maintenance tool for a SONA agent runtime's storage",
		Long: `sonactl inspects the on-disk state of a SONA runtime: HNSW vector
indexes, trajectory logs, and episode databases, reporting what each
file is and whether it needs migration before the runtime can use it.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("sonactl version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write a CPU profile to file while the command runs")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write a heap profile to file after the command completes")

	cmd.PersistentPreRunE = startProfiling
	cmd.PersistentPostRunE = stopProfiling

	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startProfiling(_ *cobra.Command, _ []string) error {
	if profileCPU == "" {
		return nil
	}
	cleanup, err := profiler.StartCPU(profileCPU)
	if err != nil {
		return fmt.Errorf("start cpu profile: %w", err)
	}
	cpuCleanup = cleanup
	return nil
}

func stopProfiling(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("write heap profile: %w", err)
		}
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
