package utils

import "fmt"

// AppError wraps an operation, the resource it touched, a human-facing message and the cause.
type AppError struct {
	Op     string
	Target string
	Msg    string
	Err    error
}

func (e *AppError) Error() string {
	prefix := e.Op
	if e.Target != "" {
		prefix = fmt.Sprintf("%s %s", e.Op, e.Target)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", prefix, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewTargetError constructs an AppError bound to a target such as a file path.
func NewTargetError(op, target, msg string, err error) error {
	return &AppError{Op: op, Target: target, Msg: msg, Err: err}
}
