package llm

import (
	"errors"
	"fmt"
)

// Kind classifies a failed completion.
type Kind int

const (
	KindUnauthorized Kind = iota + 1
	KindRateLimited
	KindNetwork
	KindServerError
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindNetwork:
		return "network"
	case KindServerError:
		return "server_error"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is returned by Client.Complete for every failure.
type Error struct {
	Kind   Kind
	Status int    // HTTP status, zero when no response was received
	Detail string // provider or transport detail, for logs only
	Err    error
}

func (e *Error) Error() string {
	msg := "llm " + e.Kind.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err.
func KindOf(err error) (Kind, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return 0, false
}

// User-facing phrases. Raw errors are never shown to the user.
const (
	MsgUnauthorized = "Authentication issue. Check the assistant's API key!"
	MsgRateLimited  = "Too many requests. Please wait a moment."
	MsgNetwork      = "Connection error. Try again soon."
	MsgServerError  = "The assistant service is having trouble. Try again soon."
	MsgMalformed    = "I got a reply I couldn't understand. Please try again."
)

// UserMessage returns the fixed transcript phrase for a completion failure.
// Unclassified errors read as a connectivity problem.
func UserMessage(err error) string {
	kind, _ := KindOf(err)
	switch kind {
	case KindUnauthorized:
		return MsgUnauthorized
	case KindRateLimited:
		return MsgRateLimited
	case KindServerError:
		return MsgServerError
	case KindMalformed:
		return MsgMalformed
	default:
		return MsgNetwork
	}
}
