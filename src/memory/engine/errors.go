package engine

import (
	"errors"
	"fmt"
)

// Error kinds. User-invoked operations surface these; background paths log
// and swallow them.
var (
	// ErrConfig marks invalid engine wiring (missing store, dimension mismatch).
	ErrConfig = errors.New("configuration error")
	// ErrProvider marks an embedding or extraction call failure.
	ErrProvider = errors.New("provider error")
	// ErrStore marks a backing-store query or write failure.
	ErrStore = errors.New("store error")
	// ErrValidation marks malformed parameters, rejected before any I/O.
	ErrValidation = errors.New("validation error")
)

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func providerErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
