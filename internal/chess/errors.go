package chess

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidShape      = errors.New("invalid score shape")
	ErrInvalidPosition   = errors.New("invalid position")
	ErrNoPositionLoaded  = errors.New("no position loaded")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrProtocolMismatch  = errors.New("engine protocol mismatch")
	ErrEngineFault       = errors.New("engine fault")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// OpError ties a failure kind to the operation that raised it. Both Kind and
// the underlying cause are reachable through errors.Is / errors.As.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Kind == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func newOpError(op string, kind, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}

// Fault reports that talking to the engine failed during op.
func Fault(op string, err error) error { return newOpError(op, ErrEngineFault, err) }

func Shape(op string, got int) error {
	return newOpError(op, ErrInvalidShape, fmt.Errorf("got %d components", got))
}

func Mismatch(op string, err error) error { return newOpError(op, ErrProtocolMismatch, err) }

func Transition(op string, reason string) error {
	return newOpError(op, ErrInvalidTransition, errors.New(reason))
}

func InvalidPosition(op string, err error) error { return newOpError(op, ErrInvalidPosition, err) }

func InvalidArgument(op string, err error) error { return newOpError(op, ErrInvalidArgument, err) }

func NoPosition(op string) error { return newOpError(op, ErrNoPositionLoaded, nil) }
