package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/vhsm-dev/vhsm/internal/audit"
	"github.com/vhsm-dev/vhsm/internal/crypto"
	"github.com/vhsm-dev/vhsm/internal/provider"

	"github.com/spf13/cobra"
)

// PrivateKeyEnv is the variable the unlocked private key is handed to the
// child process in. This is the only path that puts the key in an
// environment, and only ever the child's.
const PrivateKeyEnv = "VHSM_PRIVATE_KEY"

var (
	runKeyEnvelope string
	runEnvFile     string
)

var runCmd = &cobra.Command{
	Use:   "run (-k envelope | -ef envfile) -- <command...>",
	Short: "Runs a command with the unlocked private key in its environment",
	Long: `Unlocks the given envelope and executes the command with the decrypted
private key injected into the child's environment as ` + PrivateKeyEnv + `.
The key is never written to disk.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting run command")

		envelopePath := runKeyEnvelope
		if envelopePath == "" {
			envelopePath = runEnvFile
		}
		if envelopePath == "" {
			return Logger.ErrorfAndReturn("one of -k or --env-file is required")
		}

		raw, err := os.ReadFile(envelopePath)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to read envelope at %s: %v", envelopePath, err)
		}

		plaintext, err := provider.Unlock(cmd.Context(), sessionCache, raw, providerConfig)
		if err != nil {
			return err
		}
		defer crypto.Zero(plaintext)

		child := exec.CommandContext(cmd.Context(), args[0], args[1:]...) // #nosec G204 -- Running the caller's command is this command's purpose.
		child.Stdin = os.Stdin
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		child.Env = append(os.Environ(), PrivateKeyEnv+"="+string(plaintext))

		audit.Log(audit.Entry{
			Operation: "run",
			File:      envelopePath,
			Command:   strings.Join(args, " "),
		})

		Logger.Debugf("Executing: %s", strings.Join(args, " "))
		if err := child.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				// Propagate the child's exit code, not a wrapped error string.
				os.Exit(exitErr.ExitCode())
			}
			return fmt.Errorf("failed to run %s: %w", args[0], err)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runKeyEnvelope, "key-envelope", "k", "", "envelope holding the private key")
	runCmd.Flags().StringVar(&runEnvFile, "env-file", "", "encrypted env file whose key envelope should be unlocked")
	runCmd.Flags().SetInterspersed(false)
}
