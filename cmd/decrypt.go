package cmd

import (
	"fmt"
	"os"

	"github.com/vhsm-dev/vhsm/internal/audit"
	"github.com/vhsm-dev/vhsm/internal/crypto"
	"github.com/vhsm-dev/vhsm/internal/envelope"
	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"
	"github.com/vhsm-dev/vhsm/internal/provider"
	"github.com/vhsm-dev/vhsm/internal/ui"

	"github.com/spf13/cobra"
)

var decryptOutput string

var decryptCmd = &cobra.Command{
	Use:   "decrypt <file>",
	Short: "Unprotects an envelope and prints or writes the secret",
	Long: `Unlocks the envelope through the provider it was created with, running the
provider's ceremony if the session cache has no live entry for it. With no
-o flag the secret goes to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting decrypt command")

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return Logger.ErrorfAndReturn("failed to read envelope at %s: %v", args[0], err)
		}

		env, err := envelope.Unmarshal(raw)
		if err != nil {
			return err
		}
		Logger.Debugf("Envelope provider: %s", env.Provider)

		plaintext, err := provider.Unlock(cmd.Context(), sessionCache, raw, providerConfig)
		if err != nil {
			audit.Log(audit.Entry{
				Operation: "unprotect",
				Provider:  string(env.Provider),
				File:      args[0],
				ErrorKind: vhsmerrors.Kind(err),
			})
			return err
		}
		defer crypto.Zero(plaintext)

		audit.Log(audit.Entry{
			Operation:   "unprotect",
			Provider:    string(env.Provider),
			File:        args[0],
			Fingerprint: envelope.Fingerprint(raw, env.Provider),
		})

		if decryptOutput == "" {
			fmt.Print(string(plaintext))
			return nil
		}

		// #nosec G306 -- The caller asked for a plaintext file they can use.
		if err := os.WriteFile(decryptOutput, plaintext, 0644); err != nil {
			return Logger.ErrorfAndReturn("failed to write secret to %s: %v", decryptOutput, err)
		}
		fmt.Println(ui.Success.Sprint("✓") + " Secret written to " + ui.Path.Sprint(decryptOutput))
		return nil
	},
}

func init() {
	decryptCmd.Flags().StringVarP(&decryptOutput, "output", "o", "", "write the secret to a file instead of stdout")
}
