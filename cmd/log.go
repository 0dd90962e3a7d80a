package cmd

import (
	"fmt"

	"github.com/vhsm-dev/vhsm/internal/audit"
	"github.com/vhsm-dev/vhsm/internal/ui"

	"github.com/spf13/cobra"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Shows recent audit log entries",
	Long: `Prints the most recent entries from the audit trail: every protect,
unprotect, run, and clear-cache operation with its provider, envelope path,
and outcome.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := audit.ReadEntries()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to read audit log: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("No audit entries recorded yet")
			return nil
		}

		if logLimit > 0 && len(entries) > logLimit {
			entries = entries[len(entries)-logLimit:]
		}

		for _, entry := range entries {
			line := entry.Timestamp + "  " + ui.Highlight.Sprint(entry.Operation)
			if entry.Provider != "" {
				line += "  " + entry.Provider
			}
			if entry.File != "" {
				line += "  " + ui.Path.Sprint(entry.File)
			}
			if entry.Command != "" {
				line += "  " + ui.Code.Sprint(entry.Command)
			}
			if entry.Removed > 0 {
				line += fmt.Sprintf("  removed=%d", entry.Removed)
			}
			if entry.ErrorKind != "" {
				line += "  " + ui.Error.Sprintf("[%s]", entry.ErrorKind)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	logCmd.Flags().IntVarP(&logLimit, "number", "n", 20, "number of entries to show (0 for all)")
}
