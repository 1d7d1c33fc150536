package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrRunTimeout         = errors.New("run exceeded its time budget")
	ErrStepTimeout        = errors.New("step exceeded its time budget")
	ErrCancelled          = errors.New("execution cancelled by operator")
	ErrEngineStopped      = errors.New("engine stopped")
	ErrExecutionNotActive = errors.New("execution is not active")
	ErrInvalidTriggerType = errors.New("invalid trigger type")
	ErrSiteRequired       = errors.New("site id is required")
	ErrCrossSiteChain     = errors.New("chained workflow belongs to another site")
	ErrDispatchFailed     = errors.New("no execution could be recorded for the trigger")
)

// PanicError carries the value recovered from a panicking action handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("action handler panicked: %v", e.Value)
}
