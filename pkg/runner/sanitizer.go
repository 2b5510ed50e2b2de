package runner

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxInputSize bounds one message in bytes.
const DefaultMaxInputSize = 4096

// EnvMaxInputSize overrides DefaultMaxInputSize when set to a positive integer.
const EnvMaxInputSize = "ESPALIER_MAX_INPUT_SIZE"

var (
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
)

// SanitizeInput checks a user message before it reaches the engine.
// Oversized messages and invalid UTF-8 are rejected, never truncated.
// Control characters other than newline, tab and carriage return are dropped.
func SanitizeInput(input string) (string, error) {
	if limit := maxInputSize(); len(input) > limit {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(input), limit)
	}
	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}
	if strings.IndexFunc(input, unsafeControl) < 0 {
		return input, nil
	}
	return strings.Map(func(r rune) rune {
		if unsafeControl(r) {
			return -1
		}
		return r
	}, input), nil
}

func unsafeControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r'
}

func maxInputSize() int {
	if size, err := strconv.Atoi(os.Getenv(EnvMaxInputSize)); err == nil && size > 0 {
		return size
	}
	return DefaultMaxInputSize
}
