package middleware

import (
	"context"
	"net/http"

	"github.com/aspft/authgate/endpoint"
	"github.com/aspft/authgate/session"
)

// SessionState is the request-scoped result of verifying the session cookie.
type SessionState struct {
	// Payload is nil unless the request carries a valid session.
	Payload *session.Payload
	// Reason is ReasonNone for a valid session.
	Reason session.Reason
}

// Authenticated reports whether the request carries a valid session.
func (s SessionState) Authenticated() bool {
	return s.Payload != nil
}

type sessionContextKey struct{}

// WithSession stores state in ctx and returns the derived context.
func WithSession(ctx context.Context, state SessionState) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, state)
}

// SessionFromContext returns the SessionState stored in ctx. Requests that
// did not pass through a SessionProcessor report ReasonNoSession.
func SessionFromContext(ctx context.Context) SessionState {
	state, ok := ctx.Value(sessionContextKey{}).(SessionState)
	if !ok {
		return SessionState{Reason: session.ReasonNoSession}
	}
	return state
}

// SessionProcessor verifies the session cookie and attaches the outcome to
// the request context. It never rejects a request; pair it with
// RequireSession for endpoints that need a login.
type SessionProcessor struct {
	sessions *session.Manager
}

// NewSessionProcessor returns a SessionProcessor backed by sessions.
func NewSessionProcessor(sessions *session.Manager) *SessionProcessor {
	return &SessionProcessor{sessions: sessions}
}

// Process implements endpoint.Processor.
func (p *SessionProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	payload, err := p.sessions.Verify(r)
	state := SessionState{Payload: payload, Reason: session.ReasonOf(err)}
	*r = *r.WithContext(WithSession(r.Context(), state))
	return next(w, r)
}

// RequireSession rejects requests without a valid session with a 401 whose
// kind names the reason. It must run after a SessionProcessor.
var RequireSession endpoint.ProcessorFunc = func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	state := SessionFromContext(r.Context())
	if !state.Authenticated() {
		reason := state.Reason
		if reason == session.ReasonNone {
			reason = session.ReasonNoSession
		}
		return endpoint.KindError(http.StatusUnauthorized, string(reason), reason.Message(), nil)
	}
	return next(w, r)
}

var _ endpoint.Processor = (*SessionProcessor)(nil)
