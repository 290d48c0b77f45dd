// Package remote defines the uniform result envelope and error taxonomy shared by
// every adapter that talks to an external service.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failure so callers can branch without parsing messages.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindRateLimited       Kind = "rate_limited"
	KindNetwork           Kind = "network"
	KindTimeout           Kind = "timeout"
	KindConflict          Kind = "conflict"
	KindInvalidInput      Kind = "invalid_input"
	KindDimensionMismatch Kind = "dimension_mismatch"
	KindInternal          Kind = "internal"
)

// Retryable reports whether a caller may reasonably try the same call again later.
// Nothing in this module retries automatically.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is a classified failure raised inside an adapter.
type Error struct {
	Kind    Kind
	Op      string // e.g. "figma.fetch_file"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under op. Already classified errors keep their kind.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return &Error{Kind: Classify(err), Op: op, Message: err.Error(), Err: err}
}

// KindOf returns the kind carried by err, classifying unknown errors on the fly.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return Classify(err)
}

// Classify maps transport level errors to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

// KindFromStatus maps an HTTP status code to a Kind. 2xx codes return "".
func KindFromStatus(status int) Kind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindNetwork
	default:
		return KindInvalidInput
	}
}

// Describe returns a short human explanation of a kind, used in tool responses.
func (k Kind) Describe() string {
	switch k {
	case KindNotFound:
		return "resource not found"
	case KindUnauthorized:
		return "credential rejected"
	case KindForbidden:
		return "credential lacks permission"
	case KindRateLimited:
		return "rate limited, back off before retrying"
	case KindNetwork:
		return "network failure"
	case KindTimeout:
		return "timed out"
	case KindConflict:
		return "conflicts with existing state"
	case KindInvalidInput:
		return "invalid input"
	case KindDimensionMismatch:
		return "image dimensions differ"
	default:
		return "internal error"
	}
}
