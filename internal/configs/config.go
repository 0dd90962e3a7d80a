package configs

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the admin-controlled vhsm configuration. It is the secondary
// source for the exec security gate and supplies per-provider defaults.
type Config struct {
	Exec     ExecConfig     `toml:"exec"`
	Cache    CacheConfig    `toml:"cache"`
	Password PasswordConfig `toml:"password"`
	FIDO2    FIDO2Config    `toml:"fido2"`
	TPM      TPMConfig      `toml:"tpm"`
	OSStore  OSStoreConfig  `toml:"os_store"`
}

// ExecConfig gates the secure execution sandbox. Only an admin editing this
// file (or the VHSM_ALLOW_EXEC environment variable, which takes precedence)
// can enable execution; call-site options are ignored.
type ExecConfig struct {
	Enabled bool `toml:"enabled"`
}

type CacheConfig struct {
	// TTLSeconds bounds how long a decrypted payload stays in the session
	// cache. Zero disables caching and every access re-runs the ceremony.
	TTLSeconds int `toml:"ttl_seconds"`

	// RefreshOnHit extends an entry's TTL each time it is read.
	RefreshOnHit bool `toml:"refresh_on_hit"`
}

type PasswordConfig struct {
	KDFTime      uint32 `toml:"kdf_time"`
	KDFMemoryKiB uint32 `toml:"kdf_memory_kib"`
	KDFThreads   uint8  `toml:"kdf_threads"`
}

type FIDO2Config struct {
	RelyingPartyID   string `toml:"relying_party_id"`
	RelyingPartyName string `toml:"relying_party_name"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
}

type TPMConfig struct {
	DevicePath string `toml:"device_path"`
	PCRs       []int  `toml:"pcrs"`
}

type OSStoreConfig struct {
	ServiceName string `toml:"service_name"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			TTLSeconds:   900,
			RefreshOnHit: false,
		},
		Password: PasswordConfig{
			KDFTime:      3,
			KDFMemoryKiB: 64 * 1024,
			KDFThreads:   4,
		},
		FIDO2: FIDO2Config{
			RelyingPartyID:   "localhost",
			RelyingPartyName: "vhsm",
			TimeoutSeconds:   120,
		},
		TPM: TPMConfig{
			DevicePath: "/dev/tpmrm0",
			PCRs:       []int{7},
		},
		OSStore: OSStoreConfig{
			ServiceName: "vhsm",
		},
	}
}

// ConfigPath returns the location of the user config file.
func ConfigPath() string {
	return filepath.Join(UserVhsmSettings.UserConfigsPath, "config.toml")
}

// LoadConfig loads the user configuration, returning defaults when the file
// does not exist.
func LoadConfig() (*Config, error) {
	config := DefaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config, nil
	}

	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to load vhsm config: %w", err)
	}

	return config, nil
}

// SaveConfig writes the user configuration to the config file.
func SaveConfig(config *Config) error {
	configPath := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to save vhsm config: %w", err)
	}

	return nil
}

// CacheTTL returns the configured session cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// FIDO2Timeout returns the interactive ceremony timeout as a duration.
func (c *Config) FIDO2Timeout() time.Duration {
	if c.FIDO2.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.FIDO2.TimeoutSeconds) * time.Second
}
