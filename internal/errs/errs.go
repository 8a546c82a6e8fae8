// Package errs holds the error taxonomy shared by the resolution pipeline.
// Callers classify failures with Kind for logs and metrics and consult
// Retryable before spending another provider call.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/career-sync/internal/cache"
)

const (
	KindValidation = "validation"
	KindProvider   = "provider"
	KindSchema     = "schema_violation"
	KindCache      = "cache"
	KindUnresolved = "unresolved"
	KindUnknown    = "unknown"
)

// ErrUnresolved marks a key that was neither cached nor resolved by the pipeline.
var ErrUnresolved = errors.New("key could not be resolved")

// ValidationError is a local input error. It is raised before any network
// call and is never retried.
type ValidationError struct {
	Op  string
	Msg string
}

func (e *ValidationError) Error() string {
	if e.Op == "" {
		return "invalid input: " + e.Msg
	}
	return fmt.Sprintf("%s: invalid input: %s", e.Op, e.Msg)
}

func Validationf(op, format string, args ...any) error {
	return &ValidationError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ProviderError wraps a failure reported by an LLM or embedding backend.
type ProviderError struct {
	Provider  string
	Op        string
	Status    int
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString("request failed")
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// SchemaViolationError reports model output that does not satisfy the
// requested structured-output schema.
type SchemaViolationError struct {
	Schema   string
	Problems []string
	Raw      string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("output violates schema %q: %s", e.Schema, strings.Join(e.Problems, "; "))
}

// Kind classifies err into one of the Kind* constants.
func Kind(err error) string {
	var (
		validation *ValidationError
		provider   *ProviderError
		schema     *SchemaViolationError
		cacheErr   *cache.Error
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &schema):
		return KindSchema
	case errors.As(err, &provider):
		return KindProvider
	case errors.As(err, &cacheErr):
		return KindCache
	case errors.Is(err, ErrUnresolved):
		return KindUnresolved
	default:
		return KindUnknown
	}
}

// Retryable reports whether repeating the failed operation may succeed.
// Schema violations are retried because model output is not deterministic.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var (
		validation *ValidationError
		provider   *ProviderError
		schema     *SchemaViolationError
	)
	switch {
	case errors.As(err, &validation):
		return false
	case errors.As(err, &schema):
		return true
	case errors.As(err, &provider):
		return provider.Retryable
	default:
		return false
	}
}

// RetryableStatus reports whether an HTTP status from a provider is worth retrying.
func RetryableStatus(status int) bool {
	return status == 429 || status >= 500
}
