// Package apperr classifies domain errors into the kinds reported over HTTP.
package apperr

import (
	"errors"
	"net/http"

	"gardenhub/auth"
	"gardenhub/internal/commands"
	"gardenhub/internal/devices"
)

type Kind int

const (
	Internal Kind = iota
	Unauthorized
	InvalidInput
	NotFound
	InvalidMacAddress
	Conflict
)

// Status maps a kind to its HTTP status code
func (k Kind) Status() int {
	switch k {
	case Unauthorized:
		return http.StatusUnauthorized
	case InvalidInput, InvalidMacAddress:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Error is an error with a kind and an optional remediation hint
type Error struct {
	Kind Kind
	Msg  string
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a kind and message to err
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithHint returns e with a remediation hint
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOf classifies err. Unknown errors are Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return Unauthorized
	case errors.Is(err, devices.ErrInvalidMAC):
		return InvalidMacAddress
	case errors.Is(err, devices.ErrInvalidID),
		errors.Is(err, devices.ErrInvalidInput),
		errors.Is(err, commands.ErrUnsupportedAction),
		errors.Is(err, commands.ErrInvalidParameters):
		return InvalidInput
	case errors.Is(err, devices.ErrNotFound), errors.Is(err, commands.ErrNotFound):
		return NotFound
	case errors.Is(err, devices.ErrAlreadyRegistered):
		return Conflict
	}
	return Internal
}

// HintFor returns the remediation hint carried by err, or a default for its kind
func HintFor(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Hint != "" {
		return ae.Hint
	}
	if KindOf(err) == InvalidMacAddress {
		return "Check the MAC address reported by the device firmware; it must be 12 hex digits and not 000000000000."
	}
	return ""
}
