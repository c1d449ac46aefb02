// Package gwerrors defines the gateway's stable, numeric error taxonomy.
//
// Handlers never hand a caller a raw format string: every protocol-level
// failure is wrapped in an Error carrying one of the Code constants below,
// and those numbers are part of the wire contract, not an implementation
// detail that can drift between releases.
package gwerrors

import "fmt"

// Code is a stable numeric error identifier returned in the JSON error
// envelope's "error.code" field. Values must never be renumbered once
// shipped.
type Code int

const (
	Unknown Code = 490 + iota
	UsePost
	MissingRequest
	InvalidJSON
	InvalidJSONObject
	MissingMandatoryElement
	InvalidRequestPath
	SessionNotFound
	HandleNotFound
	PluginNotFound
	PluginAttach
	PluginDetach
	PluginMessage
	JSEPUnknownType
	JSEPInvalidSDP
	UnknownRequest
)

var names = map[Code]string{
	Unknown:                 "JANUS_ERROR_UNKNOWN",
	UsePost:                 "JANUS_ERROR_TRANSPORT_SPECIFIC",
	MissingRequest:          "JANUS_ERROR_MISSING_REQUEST",
	InvalidJSON:             "JANUS_ERROR_INVALID_JSON",
	InvalidJSONObject:       "JANUS_ERROR_INVALID_JSON_OBJECT",
	MissingMandatoryElement: "JANUS_ERROR_MISSING_MANDATORY_ELEMENT",
	InvalidRequestPath:      "JANUS_ERROR_INVALID_REQUEST_PATH",
	SessionNotFound:         "JANUS_ERROR_SESSION_NOT_FOUND",
	HandleNotFound:          "JANUS_ERROR_HANDLE_NOT_FOUND",
	PluginNotFound:          "JANUS_ERROR_PLUGIN_NOT_FOUND",
	PluginAttach:            "JANUS_ERROR_PLUGIN_ATTACH",
	PluginDetach:            "JANUS_ERROR_PLUGIN_DETACH",
	PluginMessage:           "JANUS_ERROR_PLUGIN_MESSAGE",
	JSEPUnknownType:         "JANUS_ERROR_JSEP_UNKNOWN_TYPE",
	JSEPInvalidSDP:          "JANUS_ERROR_JSEP_INVALID_SDP",
	UnknownRequest:          "JANUS_ERROR_UNKNOWN_REQUEST",
}

// String renders the illustrative name for the code, e.g. for logging.
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "JANUS_ERROR_UNKNOWN"
}

// Error is the typed error value carried end to end from a failure site to
// the response envelope. It never exposes the format string that produced
// Reason; callers only ever see the already-rendered text.
type Error struct {
	Code   Code
	Reason string
	cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Code, e.Reason)
}

// Unwrap lets errors.Is/As see through to an underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with a reason formatted from a format string and
// arguments. It is the only place in the package that touches Sprintf, so
// no caller outside gwerrors ever needs to.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around an existing error, preserving it for
// errors.Is/As while giving it a stable code and a client-safe reason.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...), cause: cause}
}

// As is a convenience wrapper over errors.As for the common case of asking
// "is this already one of ours?".
func As(err error) (*Error, bool) {
	var ge *Error
	if ok := asError(err, &ge); ok {
		return ge, true
	}
	return nil, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ge, ok := err.(*Error); ok {
			*target = ge
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
