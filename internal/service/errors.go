// Package service implements the job and bot lifecycle operations on top of
// the store. Every job state transition and bot lifecycle change goes through
// these services; HTTP handlers, the recovery monitors, and the admin CLI call
// them, so recovery and normal flow share one path. Bot health flags and
// retention deletes are written by the monitors through the store directly,
// not through a service.
package service

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation. The HTTP layer maps kinds onto
// status codes; callers inspect kinds, never message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindBadRequest
	KindUnauthorized
	KindTransient
	KindFatal
)

// Stable error codes; part of the external contract.
const (
	CodeNotFound            = "not_found"
	CodeConflict            = "conflict"
	CodeBadRequest          = "bad_request"
	CodeUnauthorized        = "unauthorized"
	CodeTransient           = "transient"
	CodeFatal               = "fatal"
	CodeUnknownBot          = "unknown_bot"
	CodeBusyBot             = "busy_bot"
	CodeUnknownOperation    = "unknown_operation"
	CodeAlreadyTerminal     = "already_terminal"
	CodeUniqueBotCurrentJob = "unique_bot_current_job"
	CodeJobStateConsistency = "job_state_consistency"
	CodePendingCeiling      = "pending_ceiling_reached"
)

// Error is a classified service error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

func newError(kind Kind, code, message string, wrapped error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, wrapped: wrapped}
}

// NotFound reports an unknown job or bot.
func NotFound(code, message string) *Error {
	return newError(KindNotFound, code, message, nil)
}

// Conflict reports a violated precondition.
func Conflict(code, message string) *Error {
	return newError(KindConflict, code, message, nil)
}

// BadRequest reports malformed input or an unknown operation.
func BadRequest(code, message string) *Error {
	return newError(KindBadRequest, code, message, nil)
}

// Transient reports a retryable store failure.
func Transient(message string, wrapped error) *Error {
	return newError(KindTransient, CodeTransient, message, wrapped)
}

// Fatal reports a runtime invariant violation. These indicate a bug; the
// caller logs them with full context and bumps the fatal counter.
func Fatal(message string, wrapped error) *Error {
	return newError(KindFatal, CodeFatal, message, wrapped)
}

// KindOf extracts the kind from any error chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// CodeOf extracts the stable code from any error chain.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
