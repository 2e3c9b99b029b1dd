package session

import (
	"errors"

	"github.com/aspft/authgate/token"
)

// Reason classifies why a request is not authenticated.
// The string values double as error kinds on the wire.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNoSession        Reason = "Unauthenticated"
	ReasonMalformedToken   Reason = "MalformedToken"
	ReasonInvalidSignature Reason = "InvalidSignature"
	ReasonExpired          Reason = "Expired"
)

// ReasonOf maps a Verify error to its Reason. Unknown errors are treated as
// invalid tokens.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrNoSession):
		return ReasonNoSession
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, token.ErrMalformedToken):
		return ReasonMalformedToken
	default:
		return ReasonInvalidSignature
	}
}

// Summary is the short user-facing description of r. A missing session has
// no summary.
func (r Reason) Summary() string {
	switch r {
	case ReasonExpired:
		return "Expired"
	case ReasonMalformedToken, ReasonInvalidSignature:
		return "Invalid token"
	default:
		return ""
	}
}

// Message is a longer description for logs and error envelopes.
func (r Reason) Message() string {
	switch r {
	case ReasonNoSession:
		return "no session"
	case ReasonExpired:
		return "session expired"
	case ReasonMalformedToken:
		return "session token is malformed"
	case ReasonInvalidSignature:
		return "session token signature is invalid"
	default:
		return ""
	}
}
