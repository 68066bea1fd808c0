// Package mcperrors defines the error taxonomy shared across the daemon and
// bridge so callers can branch on error kind without parsing messages.
package mcperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that need to react differently
// depending on what went wrong (e.g. map PermissionDenied to an MCP
// InvalidParams response).
type Kind string

const (
	// ConfigInvalid covers malformed ServerDefinition/ProjectRecord input:
	// empty name, unknown protocol, missing or unparseable endpoint.
	ConfigInvalid Kind = "config_invalid"
	// NotFound covers a missing server id, project id, or tool name.
	NotFound Kind = "not_found"
	// PermissionDenied covers a tool filtered out by project policy.
	PermissionDenied Kind = "permission_denied"
	// UpstreamTransport covers spawn/connect/protocol failures talking to
	// an upstream MCP server.
	UpstreamTransport Kind = "upstream_transport"
	// HandshakeViolation covers an unexpected message or EOF during the
	// bridge hello sequence.
	HandshakeViolation Kind = "handshake_violation"
	// Internal covers serialisation and disk errors that should surface
	// as an opaque internal error to the caller.
	Internal Kind = "internal"
)

// Error wraps an underlying cause with a Kind and an optional subject
// (server id, project id, or tool name) for message formatting.
type Error struct {
	Kind    Kind
	Subject string
	Msg     string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, target) match when target is (or wraps) an *Error
// of the same Kind, whatever its Subject or message; callers typically
// prefer As to inspect Subject too.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newf(kind Kind, subject string, format string, args ...any) *Error {
	return &Error{Kind: kind, Subject: subject, Msg: fmt.Sprintf(format, args...)}
}

func wrapf(kind Kind, subject string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Subject: subject, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// ConfigInvalidf builds a ConfigInvalid error naming the offending subject
// (server id, typically empty if the definition has none yet).
func ConfigInvalidf(subject, format string, args ...any) *Error {
	return newf(ConfigInvalid, subject, format, args...)
}

// NotFoundf builds a NotFound error for the given subject.
func NotFoundf(subject, format string, args ...any) *Error {
	return newf(NotFound, subject, format, args...)
}

// PermissionDeniedf builds a PermissionDenied error naming the tool.
func PermissionDeniedf(subject, format string, args ...any) *Error {
	return newf(PermissionDenied, subject, format, args...)
}

// UpstreamTransportf wraps a transport-level failure for a server id.
func UpstreamTransportf(subject string, cause error, format string, args ...any) *Error {
	return wrapf(UpstreamTransport, subject, cause, format, args...)
}

// HandshakeViolationf builds a HandshakeViolation error.
func HandshakeViolationf(format string, args ...any) *Error {
	return newf(HandshakeViolation, "", format, args...)
}

// Internalf wraps an internal (serialisation/disk) failure.
func Internalf(cause error, format string, args ...any) *Error {
	return wrapf(Internal, "", cause, format, args...)
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and
// Internal otherwise — useful at a boundary that must always classify.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
