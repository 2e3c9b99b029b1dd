package auth

import (
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

// Error kinds reported by the auth endpoints in the error envelope.
const (
	KindMissingCode         = "MissingCode"
	KindUpstreamDenied      = "UpstreamDenied"
	KindInvalidState        = "InvalidState"
	KindTokenExchangeFailed = "TokenExchangeFailed"
	KindIdentityFetchFailed = "IdentityFetchFailed"
	KindAccessDenied        = "AccessDenied"
	KindInternal            = "Internal"
)

// Tags classify upstream failures for logs. Only TagRejected changes the
// response status.
var (
	// TagNetwork marks transport failures talking to the provider.
	TagNetwork = goerr.NewTag("network")
	// TagTimeout marks upstream calls that exceeded their deadline.
	TagTimeout = goerr.NewTag("timeout")
	// TagRejected marks well-formed provider responses that refused the
	// request, such as an invalid or already used code.
	TagRejected = goerr.NewTag("rejected")
	// TagBadResponse marks responses that could not be understood.
	TagBadResponse = goerr.NewTag("bad_response")
)

// ProviderError is an error reported by the identity provider, either on the
// callback query string or in a token endpoint response.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error: %s (description: %s)", e.Code, e.Description)
	}
	return fmt.Sprintf("provider error: %s", e.Code)
}

// Upstream failure classes, as reported by Classify.
const (
	ClassNetwork     = "network"
	ClassTimeout     = "timeout"
	ClassRejected    = "rejected"
	ClassBadResponse = "bad_response"
)

// Classify returns the upstream failure class of err, or "" if err carries
// none of the provider tags.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case goerr.HasTag(err, TagTimeout):
		return ClassTimeout
	case goerr.HasTag(err, TagRejected):
		return ClassRejected
	case goerr.HasTag(err, TagNetwork):
		return ClassNetwork
	case goerr.HasTag(err, TagBadResponse):
		return ClassBadResponse
	default:
		return ""
	}
}
