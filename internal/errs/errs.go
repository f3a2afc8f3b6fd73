// Package errs defines the error kinds shared by the ingestion components.
package errs

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrProvider marks failures talking to the odds provider. Always transient.
	ErrProvider = errors.New("provider error")

	// ErrNotFound marks a missing match or snapshot. Terminal for a job.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a unique constraint collision on create.
	ErrConflict = errors.New("already exists")

	// ErrConfig marks invalid or missing configuration. Fatal at startup.
	ErrConfig = errors.New("configuration error")
)

// ProviderError describes a failed provider call.
type ProviderError struct {
	Op         string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("provider %s: timeout: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrProvider) match any ProviderError.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// Malformed builds a ProviderError for a payload that could not be interpreted.
func Malformed(op string, format string, args ...interface{}) error {
	return &ProviderError{Op: op, Err: errors.Newf(format, args...)}
}

// NotFound returns an error marked with ErrNotFound.
func NotFound(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

// Config wraps err as a configuration error.
func Config(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrConfig)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
func IsConfig(err error) bool   { return errors.Is(err, ErrConfig) }

// IsProvider reports whether err is a provider failure.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) || errors.Is(err, ErrProvider)
}

// IsTimeout reports whether err came from a provider call that timed out.
func IsTimeout(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Timeout
}
