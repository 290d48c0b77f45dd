package remote

import (
	"errors"
	"fmt"
)

// Result is the envelope returned by every adapter call. Data is meaningful only
// when Success is true; Error and Kind only when it is false.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
}

// OK wraps a successful payload.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail converts err into a failed result. A nil error is treated as an internal
// failure so that a failed result never has an empty reason.
func Fail[T any](err error) Result[T] {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return Result[T]{Error: err.Error(), Kind: KindOf(err)}
}

// Failf builds a failed result with an explicit kind.
func Failf[T any](kind Kind, format string, args ...any) Result[T] {
	return Result[T]{Error: fmt.Sprintf(format, args...), Kind: kind}
}

// Forward re-types a failed result, keeping its reason and kind.
func Forward[T, U any](r Result[U]) Result[T] {
	return Result[T]{Error: r.Error, Kind: r.Kind}
}

// Err returns the failure as a classified error, or nil on success.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	return &Error{Kind: r.Kind, Message: r.Error}
}

// Unwrap returns the payload and the failure as a Go error.
func (r Result[T]) Unwrap() (T, error) {
	return r.Data, r.Err()
}

// String renders a failure as "[kind] message", the format surfaced to tool callers.
func (r Result[T]) String() string {
	if r.Success {
		return "ok"
	}
	return fmt.Sprintf("[%s] %s", r.Kind, r.Error)
}
