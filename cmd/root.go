package cmd

import (
	"fmt"
	"os"

	"github.com/vhsm-dev/vhsm/internal/configs"
	"github.com/vhsm-dev/vhsm/internal/crypto"
	logger "github.com/vhsm-dev/vhsm/internal/logging"
	"github.com/vhsm-dev/vhsm/internal/provider"
	"github.com/vhsm-dev/vhsm/internal/session"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	debug   bool
	Logger  logger.Logger

	// Process-wide services, built once in PersistentPreRunE and injected
	// into everything that unlocks envelopes.
	vaultConfig    *configs.Config
	sessionCache   *session.Cache
	providerConfig *provider.Config

	RootCmd = &cobra.Command{
		Use:   "vhsm",
		Short: "Protect secrets behind hardware- and OS-backed providers",
		Long: `vhsm wraps a sensitive key or JSON secret in an encrypted envelope whose
unlocking requires a protection provider: a passphrase, the OS credential
store, a TPM2 chip, or a FIDO2 security key.

Decrypted values are held in a time-bounded in-memory session cache so
repeated access does not repeat passphrase prompts or security key touches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			Logger = logger.Logger{
				Verbose: verbose,
				Debug:   debug,
			}
			Logger.Debugf("Initializing vhsm with verbose=%t, debug=%t", verbose, debug)

			config, err := configs.LoadConfig()
			if err != nil {
				return Logger.ErrorfAndReturn("failed to load config: %v", err)
			}
			vaultConfig = config

			sessionCache = session.New(session.Options{
				TTL:          config.CacheTTL(),
				RefreshOnHit: config.Cache.RefreshOnHit,
			})

			providerConfig = &provider.Config{
				KDF: crypto.KDFParams{
					Time:    config.Password.KDFTime,
					Memory:  config.Password.KDFMemoryKiB,
					Threads: config.Password.KDFThreads,
					KeyLen:  crypto.KeySize,
				},
				ServiceName:      config.OSStore.ServiceName,
				TPMPath:          config.TPM.DevicePath,
				PCRs:             config.TPM.PCRs,
				RelyingPartyID:   config.FIDO2.RelyingPartyID,
				RelyingPartyName: config.FIDO2.RelyingPartyName,
				Timeout:          config.FIDO2Timeout(),
			}
			return nil
		},
	}
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")

	RootCmd.AddCommand(encryptCmd)
	RootCmd.AddCommand(decryptCmd)
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(clearCacheCmd)
	RootCmd.AddCommand(logCmd)
}

// Execute runs the root command and maps any failure to a non-zero exit.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}
