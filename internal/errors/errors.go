// Package errors defines the stable error taxonomy surfaced to MCP
// clients: every error returned by the coordinator, retrieval pipeline,
// or dispatcher carries one of these kinds, never a stack trace or a
// source path.
package errors

import "fmt"

// Kind is the stable, client-visible error classification.
type Kind string

const (
	KindConfig     Kind = "ConfigError"
	KindSchema     Kind = "SchemaError"
	KindValidation Kind = "ValidationError"
	KindNotFound   Kind = "NotFound"
	KindExists     Kind = "AlreadyExists"
	KindStorage    Kind = "StorageError"
	KindTimeout    Kind = "Timeout"
	KindUnavail    Kind = "Unavailable"
	KindInternal   Kind = "Internal"
)

// Backend identifies which storage engine produced a StorageError.
type Backend string

const (
	BackendRelational Backend = "relational"
	BackendVector     Backend = "vector"
	BackendGraph      Backend = "graph"
	BackendCache      Backend = "cache"
)

// Error is the structured error type returned by every LTMC operation.
type Error struct {
	Kind          Kind
	Message       string
	Backend       Backend     // set only when Kind == KindStorage
	RetryPossible bool
	Details       interface{}
	cause         error
}

func (e *Error) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Backend, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Data returns the JSON-RPC error `data` payload:
// {kind, message, backend?, retry_possible?, details?}, where the
// optional keys are present only when set.
func (e *Error) Data() map[string]interface{} {
	d := map[string]interface{}{
		"kind":    string(e.Kind),
		"message": e.Message,
	}
	if e.Backend != "" {
		d["backend"] = string(e.Backend)
	}
	if e.RetryPossible {
		d["retry_possible"] = true
	}
	if e.Details != nil {
		d["details"] = e.Details
	}
	return d
}

func new(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Config(format string, args ...interface{}) *Error {
	return new(KindConfig, format, args...)
}

func Schema(format string, args ...interface{}) *Error {
	return new(KindSchema, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return new(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return new(KindNotFound, format, args...)
}

func AlreadyExists(format string, args ...interface{}) *Error {
	return new(KindExists, format, args...)
}

// Storage wraps cause as a StorageError for the given backend. Relational
// and vector storage errors are fatal to the operation; graph and cache
// are degrading and should not normally be surfaced via this helper
// directly (see coordinator degraded-mode handling).
func Storage(backend Backend, cause error) *Error {
	return &Error{
		Kind:    KindStorage,
		Backend: backend,
		Message: cause.Error(),
		cause:   cause,
	}
}

func Timeout(format string, args ...interface{}) *Error {
	e := new(KindTimeout, format, args...)
	e.RetryPossible = true
	return e
}

func Unavailable(format string, args ...interface{}) *Error {
	e := new(KindUnavail, format, args...)
	e.RetryPossible = true
	return e
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: cause}
}

// As reports whether err is (or wraps) an *Error, returning it if so.
func As(err error) (*Error, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e, true
	}
	return nil, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
