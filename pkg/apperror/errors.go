package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the retry/surfacing policy it carries.
type Kind string

const (
	KindSchemaIncompatible  Kind = "schema_incompatible"
	KindStagingFull         Kind = "staging_full"
	KindObjectStoreTransient Kind = "object_store_transient"
	KindObjectStoreAuth     Kind = "object_store_auth"
	KindObjectStoreNotFound Kind = "object_store_not_found"
	KindManifestCASConflict Kind = "manifest_cas_conflict"
	KindStagingCorrupt      Kind = "staging_corrupt"
	KindNodeUnreachable     Kind = "node_unreachable"
	KindFatal               Kind = "fatal"
)

// Error is a kind-tagged error. Callers switch on Kind() rather than
// string-matching messages.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's taxonomy classification.
func (e *Error) Kind() Kind { return e.kind }

// New creates a kind-tagged error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

// Wrap creates a kind-tagged error wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not a tagged Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return ""
}

// Retryable reports whether the error's kind is recovered locally by the
// caller retrying the same operation (see spec §7).
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindObjectStoreTransient, KindManifestCASConflict:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the status code the (out-of-scope) HTTP
// surface is expected to return for it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindSchemaIncompatible:
		return 400
	case KindStagingFull:
		return 503
	case KindObjectStoreTransient:
		return 503
	case KindObjectStoreAuth:
		return 403
	case KindObjectStoreNotFound:
		return 404
	case KindManifestCASConflict:
		return 503
	case KindNodeUnreachable:
		return 206 // partial content; caller also sets X-P-Partial
	default:
		return 500
	}
}
