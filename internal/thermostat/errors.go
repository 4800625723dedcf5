package thermostat

import (
	"errors"
	"fmt"
)

var (
	ErrStructureUnavailable = errors.New("structure unavailable")
	ErrUnknownDevice        = errors.New("unknown device")
	ErrInvalidTargetState   = errors.New("invalid target state")
	ErrClosed               = errors.New("platform closed")
)

// StructureUnavailableError is returned when the structure could not be
// fetched and nothing was cached yet.
type StructureUnavailableError struct {
	Err error
}

func (e *StructureUnavailableError) Error() string {
	return fmt.Sprintf("structure unavailable: %v", e.Err)
}

func (e *StructureUnavailableError) Unwrap() error { return e.Err }

func (e *StructureUnavailableError) Is(target error) bool {
	return target == ErrStructureUnavailable
}
