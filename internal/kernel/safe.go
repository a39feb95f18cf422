package kernel

import (
	"fmt"
	"runtime/debug"
)

// runSafely executes fn and converts panics into errors tagged with scope.
// Every goroutine and lifecycle hook owned by the kernel runs through it.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = &PanicError{Scope: scope, Value: recovered, Stack: debug.Stack()}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}

// PanicError carries a recovered panic value and the stack that raised it.
type PanicError struct {
	Scope string
	Value any
	Stack []byte
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic recovered: %v", e.Scope, e.Value)
}
