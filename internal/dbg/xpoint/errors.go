package xpoint

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSlot  = errors.New("invalid breakpoint number")
	ErrTableFull    = errors.New("too many breakpoints, please delete some")
	ErrUnresolved   = errors.New("address cannot be resolved")
	ErrNoCondition  = errors.New("condition engine unavailable")
	ErrNotWatchable = errors.New("cannot watch address")
)

func invalidSlot(slot int) error {
	return fmt.Errorf("%w %d", ErrInvalidSlot, slot)
}

// InstallError reports an xpoint that could not be armed and was disabled.
type InstallError struct {
	Slot int
	Addr uint64
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("invalid address (0x%x) for breakpoint %d, disabling it: %v", e.Addr, e.Slot, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// EvalError reports a condition that failed to evaluate.
type EvalError struct {
	Slot int
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("unable to evaluate expression %s for breakpoint %d: %v", e.Expr, e.Slot, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}
