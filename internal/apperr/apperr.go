// Package apperr defines the error kinds callers use to decide how to present
// a failure and whether offering a retry makes sense.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindInvalidID          Kind = "invalid_id"
	KindNotFound           Kind = "not_found"
	KindSourceMissing      Kind = "source_missing"
	KindServiceUnavailable Kind = "service_unavailable"
	KindUpstream           Kind = "upstream"
	KindTimeout            Kind = "timeout"
	KindInternal           Kind = "internal"
)

// Error is a classified failure. Op names the operation that failed
// (e.g. "forensics", "store.get") and Status carries the remote HTTP status
// for upstream failures.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return string(e.Kind)
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports malformed or missing input.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InvalidID reports an asset identity that cannot be parsed.
func InvalidID(op, id string) *Error {
	return &Error{Kind: KindInvalidID, Op: op, Message: fmt.Sprintf("invalid asset id %q", id)}
}

// NotFound reports an absent asset or module result.
func NotFound(op, what string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: what + " not found"}
}

// SourceMissing reports that a blob backing an asset is gone from storage.
func SourceMissing(op, key string) *Error {
	return &Error{Kind: KindSourceMissing, Op: op, Message: fmt.Sprintf("source file %q is missing from storage", key)}
}

// ServiceUnavailable reports that endpoint could not be reached.
func ServiceUnavailable(op, endpoint string, err error) *Error {
	return &Error{Kind: KindServiceUnavailable, Op: op, Message: fmt.Sprintf("analysis service unreachable at %s", endpoint), Err: err}
}

// Upstream reports a non-2xx response from the analysis provider.
func Upstream(op string, status int, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: KindUpstream, Op: op, Status: status, Message: fmt.Sprintf("analysis service returned %d: %s", status, message)}
}

// Timeout reports that op did not finish in time.
func Timeout(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Message: fmt.Sprintf("%s timed out", op), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether trying the same request again could succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindServiceUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}

// HTTPStatus maps err to the status code the HTTP surface responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindInvalidID:
		return http.StatusBadRequest
	case KindNotFound, KindSourceMissing:
		return http.StatusNotFound
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the human-readable part of err suitable for end users.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return "internal error"
}
