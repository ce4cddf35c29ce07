package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensona/sona/internal/diagnose"
	"github.com/opensona/sona/internal/output"
)

// newScanCmd creates the dimension-detection scan command.
func newScanCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "scan [root]",
		Short: "Scan a storage root and report each file's type, dimension, and migration status",
		Long: `scan walks a directory of SONA runtime storage files and, for
each one, reports its detected type (json, binary, sqlite, hnsw, or
unknown), its embedding dimension if applicable, its stored vector
count, and whether it needs migration before the current runtime can
open it. It also prints an aggregate summary across every file found.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runScan(cmd, root, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the scan report as JSON")

	return cmd
}

func runScan(cmd *cobra.Command, root string, jsonOutput bool) error {
	result, err := diagnose.Scan(root)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := diagnose.EncodeJSON(result)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	w := output.New(cmd.OutOrStdout())
	for _, f := range result.Files {
		line := fmt.Sprintf("%-8s dim=%-4d vectors=%-6d %s", f.Type, f.DetectedDimension, f.VectorCount, f.Path)
		switch {
		case f.NeedsMigration:
			w.Warningf("%s (needs migration)", line)
		case f.Type == diagnose.TypeUnknown:
			w.Error(line)
		default:
			w.Success(line)
		}
	}
	w.Newline()
	w.Statusf("", "scanned %d file(s), %d vector(s) total, %d need migration, %d unknown",
		result.Summary.FilesScanned, result.Summary.TotalVectors,
		result.Summary.NeedsMigration, result.Summary.Unknown)

	return nil
}
