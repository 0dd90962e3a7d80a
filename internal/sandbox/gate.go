package sandbox

import (
	"strings"

	"github.com/vhsm-dev/vhsm/internal/configs"
)

// AllowExecEnv is the admin-controlled environment variable that is the
// primary input to the security gate.
const AllowExecEnv = "VHSM_ALLOW_EXEC"

// ExecAllowed decides whether the secure execution sandbox may run at all.
// It is a pure function of the two trusted inputs, in strict precedence
// order: the environment variable, then the admin config file. It never
// consults caller-supplied options.
func ExecAllowed(lookupEnv func(string) (string, bool), config *configs.Config) bool {
	if value, ok := lookupEnv(AllowExecEnv); ok {
		return truthy(value)
	}
	if config != nil {
		return config.Exec.Enabled
	}
	return false
}

func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
