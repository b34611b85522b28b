// Package faults defines the error taxonomy shared by the executor and the
// worker runtime.
//
// Errors cross the process boundary as a (kind, message) pair inside the
// response envelope, never as a native stack trace. The caller-side mapping
// from kind back to a concrete error is a pure table lookup (FromKind), so
// a failure raised inside the worker surfaces to the executor's caller as
// if it had occurred in the caller's own context.
package faults

import "fmt"

// Kind identifies an entry in the error taxonomy. The string values are the
// wire identifiers carried in the response envelope's ErrorKind field.
type Kind string

const (
	// KindPrerequisiteNotMet: the external host the native library depends
	// on is not running. Raised before any worker process is spawned, or by
	// the native layer itself during initialization.
	KindPrerequisiteNotMet Kind = "prerequisite_not_met"

	// KindInitialization: the native library reported an initialization
	// failure (e.g. not logged in, interface pointers unavailable).
	KindInitialization Kind = "initialization_failed"

	// KindUnknownTarget: protocol-level bug, the requested call target is
	// not in the registry. Never crashes the worker.
	KindUnknownTarget Kind = "unknown_target"

	// KindNativeCall: the native layer failed a structurally valid call.
	// Carries the native failure message.
	KindNativeCall Kind = "native_call"

	// KindWorkerLost: the worker process terminated or the channel closed
	// without producing a response. The caller cannot know whether the
	// requested effect occurred.
	KindWorkerLost Kind = "worker_lost"

	// KindInvalidState: an API call made in a lifecycle state that forbids
	// it (e.g. Call before Init).
	KindInvalidState Kind = "invalid_state"
)

// Error is the concrete error type for every taxonomy entry.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds a taxonomy error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FromKind maps a wire (kind, message) pair back to an error. Kinds outside
// the taxonomy pass through verbatim so an executor talking to a newer
// worker does not mislabel its failures.
func FromKind(kind, message string) *Error {
	return &Error{Kind: Kind(kind), Message: message}
}

// KindOf extracts the taxonomy kind from an error, or "" if the error did
// not come from this taxonomy.
func KindOf(err error) Kind {
	if fe, ok := err.(*Error); ok {
		return fe.Kind
	}
	return ""
}

// IsWorkerLost reports whether err means the worker died mid-operation.
// Callers are expected to treat this as "retry from Init".
func IsWorkerLost(err error) bool {
	return KindOf(err) == KindWorkerLost
}

// IsInvalidState reports whether err is a lifecycle misuse error.
func IsInvalidState(err error) bool {
	return KindOf(err) == KindInvalidState
}
