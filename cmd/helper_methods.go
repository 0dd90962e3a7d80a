package cmd

import (
	"io"
	"log"
	"os"
	"time"

	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"
	"github.com/vhsm-dev/vhsm/internal/ui"

	"github.com/briandowns/spinner"
)

func startSpinner(message string, verbose bool) (*spinner.Spinner, func()) {
	Logger.Debugf("Starting spinner with message: %s", message)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message

	if err := s.Color("cyan"); err != nil {
		// If we can't set spinner color, just continue without it.
		Logger.Warnf("Failed to set spinner color: %v", err)
	}

	if !verbose && !debug {
		s.Start()
		// Ensure log output is discarded unless in verbose mode.
		log.SetOutput(io.Discard)
	}

	cleanup := func() {
		if !verbose && !debug {
			// Restore log output first; the spinner prints FinalMSG on Stop.
			log.SetOutput(os.Stderr)
			if s.FinalMSG != "" && s.FinalMSG[len(s.FinalMSG)-1] != '\n' {
				s.FinalMSG += "\n"
			}
			s.Stop()
		}
	}
	return s, cleanup
}

// formatError renders an error with its taxonomy kind and, when there is
// one, a remediation hint.
func formatError(err error) string {
	msg := ui.Error.Sprint("✗ ") + err.Error()
	if kind := vhsmerrors.Kind(err); kind != "unknown" {
		msg += ui.Info.Sprintf(" [%s]", kind)
	}
	if hint := vhsmerrors.Hint(err); hint != "" {
		msg += "\n" + ui.Info.Sprint("→ ") + hint
	}
	return msg
}
