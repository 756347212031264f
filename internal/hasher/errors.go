package hasher

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig classifies invalid input configuration.
	ErrConfig = errors.New("invalid input configuration")
	// ErrHash classifies failures that make a fingerprint impossible to establish.
	ErrHash = errors.New("hash computation failed")
)

// ConfigError reports an invalid input declaration. It is fatal for the run.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// HashError reports a hash component that could not be computed, such as a
// failing runtime command. It is fatal for the run.
type HashError struct {
	Component string
	Err       error
}

func (e *HashError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("failed to compute %s: %v", e.Component, e.Err)
}

func (e *HashError) Unwrap() []error { return []error{ErrHash, e.Err} }
