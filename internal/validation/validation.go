// Package validation defines the user code alphabet and format per RFC 8628 section 6.1
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// GroupSize is the number of characters on each side of the separator
	GroupSize = 4

	// CodeLength is the total length excluding the separator
	CodeLength = 2 * GroupSize

	// MaxRepeats caps how often one character may appear in a code
	MaxRepeats = 2
)

// ValidCharset contains the allowed characters for user codes.
// I, O, 0 and 1 are left out because they are easily confused.
const ValidCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var codeRegex = regexp.MustCompile(fmt.Sprintf("^[%[1]s]{%[2]d}-[%[1]s]{%[2]d}$", ValidCharset, GroupSize))

// ValidationError represents a code validation error
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid user code %q: %s", e.Code, e.Message)
}

// ValidateUserCode checks that a code is in display format and uses the allowed alphabet.
// Case and surrounding whitespace are ignored.
func ValidateUserCode(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))

	if n := len(strings.ReplaceAll(code, "-", "")); n != CodeLength {
		return &ValidationError{Code: code, Message: fmt.Sprintf("length must be exactly %d characters", CodeLength)}
	}

	if !codeRegex.MatchString(code) {
		return &ValidationError{Code: code, Message: "code must be in format XXXX-XXXX using only allowed characters"}
	}

	counts := make(map[rune]int)
	for _, c := range strings.ReplaceAll(code, "-", "") {
		counts[c]++
		if counts[c] > MaxRepeats {
			return &ValidationError{Code: code, Message: "too many repeated characters"}
		}
	}

	return nil
}

// NormalizeCode converts a user code to canonical lookup form
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}

// FormatCode converts a normalized code back to display format
func FormatCode(code string) string {
	if len(code) != CodeLength {
		return code
	}
	return code[:GroupSize] + "-" + code[GroupSize:]
}
