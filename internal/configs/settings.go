package configs

import (
	"log"
	"os"
	"path/filepath"
)

type UserSettings struct {
	UserConfigsPath string
	UserDataPath    string
}

var UserVhsmSettings *UserSettings

func init() {
	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatalf("error getting config directory: %s", err)
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("error getting home directory: %s", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	// These paths are independent of any project, so it is ok to init here.
	UserVhsmSettings = &UserSettings{
		UserConfigsPath: filepath.Join(configDir, "vhsm"),
		UserDataPath:    filepath.Join(dataDir, "vhsm"),
	}
}
