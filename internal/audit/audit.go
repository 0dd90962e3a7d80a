package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/vhsm-dev/vhsm/internal/configs"
)

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp string `json:"ts"` // RFC3339 with microseconds.
	Operation string `json:"op"` // protect, unprotect, exec, run, clear-cache.

	// Optional fields depending on operation.
	Provider    string `json:"provider,omitempty"`    // For protect/unprotect.
	File        string `json:"file,omitempty"`        // Envelope path.
	Fingerprint string `json:"fingerprint,omitempty"` // Session cache key.
	Command     string `json:"command,omitempty"`     // For run.
	ErrorKind   string `json:"error_kind,omitempty"`  // Taxonomy tag on failure.
	Removed     int    `json:"removed,omitempty"`     // For clear-cache.
}

// Log appends an entry to the audit log.
// If logging fails, the operation continues; an unrecorded audit line must
// never fail a decrypt.
func Log(entry Entry) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
	}

	logPath := LogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	_, _ = f.Write(append(data, '\n'))
}

// LogPath returns the path to the audit log file.
func LogPath() string {
	return filepath.Join(configs.UserVhsmSettings.UserDataPath, "audit.jsonl")
}

// ReadEntries reads all entries from the audit log.
// Returns an empty slice if the log doesn't exist.
func ReadEntries() ([]Entry, error) {
	data, err := os.ReadFile(LogPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return ParseEntries(data)
}

// ParseEntries parses JSON Lines data into audit entries.
// Malformed lines are silently skipped.
func ParseEntries(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var entries []Entry
	start := 0

	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1

			if len(line) == 0 {
				continue
			}

			var entry Entry
			if err := json.Unmarshal(line, &entry); err != nil {
				// Skip malformed entries.
				continue
			}
			entries = append(entries, entry)
		}
	}

	return entries, nil
}
