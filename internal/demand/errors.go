package demand

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAllocation = errors.New("invalid allocation")
	ErrInvalidEfficiency = errors.New("invalid efficiency")
	ErrTableFull         = errors.New("allocation table full")
)

// AllocationError reports which input row failed validation and why.
type AllocationError struct {
	Row    int // 0-based position in the submitted rows
	Field  string
	Reason string
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("%s: row %d: %s %s", ErrInvalidAllocation, e.Row+1, e.Field, e.Reason)
}

func (e *AllocationError) Unwrap() error { return ErrInvalidAllocation }

// EfficiencyError names the ratio that made the cascade impossible.
type EfficiencyError struct {
	Name  string
	Value float64
}

func (e *EfficiencyError) Error() string {
	return fmt.Sprintf("%s: %s efficiency %v must be in (0, 100]", ErrInvalidEfficiency, e.Name, e.Value)
}

func (e *EfficiencyError) Unwrap() error { return ErrInvalidEfficiency }
