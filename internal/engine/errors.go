package engine

import (
	"errors"
	"fmt"
)

// ContractError reports a Check return value that matches none of the
// recognized shapes.
type ContractError struct {
	// Path locates the offending value inside the returned value, for
	// example "[2].message". Empty for the value itself.
	Path string

	Message string
}

// Error implements the error interface.
func (e *ContractError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid Check result: %s", e.Message)
	}
	return fmt.Sprintf("invalid Check result at %s: %s", e.Path, e.Message)
}

// IsContractError returns true if err is or wraps a ContractError.
func IsContractError(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}

func contractErrorf(path, format string, args ...any) *ContractError {
	return &ContractError{Path: path, Message: fmt.Sprintf(format, args...)}
}
