package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOverloaded marks a backend failure caused by upstream throttling or
// capacity exhaustion. Only errors carrying this marker are eligible for
// fallback to the next model candidate; everything else propagates
// immediately so real defects (malformed requests, auth failures) are
// never masked as transient.
var ErrOverloaded = errors.New("backend overloaded")

// BackendError is a generation failure with its provider context.
type BackendError struct {
	// Provider names the backend ("openai", "anthropic", "ollama").
	Provider string

	// StatusCode is the upstream HTTP status, 0 when not applicable.
	StatusCode int

	// Message is the upstream error detail.
	Message string
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap exposes ErrOverloaded for errors.Is when the failure signature
// matches the documented throttling patterns.
func (e *BackendError) Unwrap() error {
	if e.overloaded() {
		return ErrOverloaded
	}
	return nil
}

// overloaded classifies the failure. 429 is the universal rate-limit
// status; 503 and Anthropic's 529 signal capacity exhaustion. Some
// providers tunnel the condition through a message marker instead.
func (e *BackendError) overloaded() bool {
	switch e.StatusCode {
	case 429, 503, 529:
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "resource_exhausted")
}

// IsOverloaded reports whether err is eligible for fallback-chain retry.
func IsOverloaded(err error) bool {
	return errors.Is(err, ErrOverloaded)
}
