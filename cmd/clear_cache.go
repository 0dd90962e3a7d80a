package cmd

import (
	"fmt"

	"github.com/vhsm-dev/vhsm/internal/audit"
	"github.com/vhsm-dev/vhsm/internal/ui"

	"github.com/spf13/cobra"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Removes every cached decrypted secret",
	Long: `Clears the in-memory session cache, zeroing each cached plaintext. The
next access to any envelope re-runs its provider's ceremony.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		removed := sessionCache.ClearAll()

		audit.Log(audit.Entry{
			Operation: "clear-cache",
			Removed:   removed,
		})

		Logger.Infof("Cleared %d cache entries", removed)
		fmt.Println(ui.Success.Sprint("✓") + " Session cache cleared")
		return nil
	},
}
