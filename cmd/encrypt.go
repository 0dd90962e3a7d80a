package cmd

import (
	"os"

	"github.com/vhsm-dev/vhsm/internal/audit"
	"github.com/vhsm-dev/vhsm/internal/envelope"
	"github.com/vhsm-dev/vhsm/internal/provider"
	"github.com/vhsm-dev/vhsm/internal/ui"
	"github.com/vhsm-dev/vhsm/internal/utils"

	"github.com/spf13/cobra"
)

var (
	encryptOutput   string
	encryptProvider string
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt [file]",
	Short: "Protects a secret inside an encrypted envelope",
	Long: `Reads a secret from the given file (or stdin when no file is given) and
wraps it in an encrypted envelope bound to the chosen protection provider.
Interactive providers perform their ceremony once here to mint the
credential-bound key.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting encrypt command")
		spinner, cleanup := startSpinner("Protecting secret...", verbose)
		defer cleanup()

		providerID := envelope.ProviderID(encryptProvider)
		if !providerID.Valid() {
			return Logger.ErrorfAndReturn("unknown provider %q (want password, os-store, tpm2, or fido2)", encryptProvider)
		}

		var plaintext []byte
		var err error
		inputPath := "stdin"
		if len(args) == 1 {
			inputPath = args[0]
			plaintext, err = os.ReadFile(inputPath)
		} else {
			plaintext, err = utils.ReadStdin()
		}
		if err != nil {
			return Logger.ErrorfAndReturn("failed to read secret: %v", err)
		}

		outputPath := encryptOutput
		if outputPath == "" {
			if len(args) == 1 {
				outputPath = args[0] + ".vhsm"
			} else {
				outputPath = "secret.vhsm"
			}
		}

		p, err := provider.For(providerID)
		if err != nil {
			return Logger.ErrorfAndReturn("failed to select provider: %w", err)
		}

		Logger.Debugf("Protecting %d bytes with provider %s", len(plaintext), providerID)
		spinner.Stop()
		env, err := p.Protect(cmd.Context(), plaintext, providerConfig)
		spinner.Start()
		if err != nil {
			return err
		}

		raw, err := envelope.Marshal(env)
		if err != nil {
			return err
		}

		if err := os.WriteFile(outputPath, raw, 0600); err != nil {
			return Logger.ErrorfAndReturn("failed to write envelope to %s: %v", outputPath, err)
		}

		audit.Log(audit.Entry{
			Operation:   "protect",
			Provider:    string(providerID),
			File:        outputPath,
			Fingerprint: envelope.Fingerprint(raw, providerID),
		})

		Logger.Infof("Encrypt command completed successfully: %s", outputPath)
		spinner.FinalMSG = ui.Success.Sprint("✓") + " Secret protected with " + ui.Highlight.Sprint(string(providerID)) + "\n" +
			ui.Info.Sprint("→") + " Envelope written to " + ui.Path.Sprint(outputPath)
		return nil
	},
}

func init() {
	encryptCmd.Flags().StringVarP(&encryptOutput, "output", "o", "", "envelope output path (default: <file>.vhsm)")
	encryptCmd.Flags().StringVarP(&encryptProvider, "provider", "p", "password", "protection provider: password, os-store, tpm2, fido2")
}
