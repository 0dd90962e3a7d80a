package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	vhsmerrors "github.com/vhsm-dev/vhsm/internal/errors"
)

// tokenPrefix marks a string argument as a secret reference.
const tokenPrefix = "@vhsm"

// tokenPattern is the full reference grammar: "@vhsm <source> [<dot.path>]".
// The source names an envelope file; the optional path projects into the
// decrypted JSON document by dot-separated field names.
var tokenPattern = regexp.MustCompile(`^@vhsm\s+(\S+)(?:\s+([^\s.][^\s]*))?\s*$`)

// Token is a parsed secret reference. Ephemeral: constructed per Exec call
// and discarded after resolution.
type Token struct {
	Source string
	Path   string
}

// ParseToken recognizes and parses a secret reference. The second return
// value reports whether value is a reference at all; a string that starts
// with the @vhsm prefix but does not match the grammar is an InvalidToken
// error rather than a literal.
func ParseToken(value string) (*Token, bool, error) {
	if !strings.HasPrefix(value, tokenPrefix) {
		return nil, false, nil
	}
	// "@vhsmfoo" is a literal, not a malformed reference.
	if rest := value[len(tokenPrefix):]; rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return nil, false, nil
	}

	match := tokenPattern.FindStringSubmatch(value)
	if match == nil {
		return nil, true, fmt.Errorf("malformed reference %q: %w", value, vhsmerrors.ErrInvalidToken)
	}

	token := &Token{Source: match[1], Path: match[2]}
	if token.Path != "" && (strings.HasSuffix(token.Path, ".") || strings.Contains(token.Path, "..")) {
		return nil, true, fmt.Errorf("malformed path in reference %q: %w", value, vhsmerrors.ErrInvalidToken)
	}
	return token, true, nil
}
