// Package auth implements the GitHub sign-in flow: login, callback, verify
// and logout endpoints that issue and check stateless session cookies.
package auth

import (
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/aspft/authgate/endpoint"
	"github.com/aspft/authgate/middleware"
	"github.com/aspft/authgate/session"
)

// DefaultBasePath is where the auth endpoints are mounted.
const DefaultBasePath = "/api/auth"

// DefaultStateCookieName is the login state cookie name used when none is
// configured.
const DefaultStateCookieName = "aspft_oauth_state"

// Handler serves the auth endpoints below its base path:
//
//	GET {base}/login     redirect to the provider
//	GET {base}/callback  finish the flow and set the session cookie
//	GET {base}/verify    report the current session
//	GET {base}/logout    clear the session cookie
//	GET {base}/debug     list the allow-list, when enabled
type Handler struct {
	mux       *http.ServeMux
	provider  Provider
	sessions  *session.Manager
	allow     AllowList
	states    *stateStore
	publicURL string
	basePath  string
	pkce      bool
	debug     bool

	processors      []endpoint.Processor
	stateCookieName string
	cookieOptions   []middleware.CookieOption
	stateTTL        time.Duration
	now             func() time.Time
}

// Option configures the Handler.
type Option func(*Handler)

// WithPublicURL fixes the origin used for redirects, e.g.
// "https://app.example.com". By default it is derived from the request's
// Host and X-Forwarded-Proto headers, which trusts whatever proxy set them.
func WithPublicURL(u string) Option {
	return func(h *Handler) {
		h.publicURL = strings.TrimRight(u, "/")
	}
}

// WithBasePath sets the mount point of the endpoints.
func WithBasePath(p string) Option {
	return func(h *Handler) {
		h.basePath = p
	}
}

// WithProcessors adds processors that run for every auth endpoint.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(h *Handler) {
		h.processors = append(h.processors, p...)
	}
}

// WithStateCookieName sets the login state cookie name.
func WithStateCookieName(name string) Option {
	return func(h *Handler) {
		h.stateCookieName = name
	}
}

// WithStateCookieOptions configures the login state cookie attributes.
func WithStateCookieOptions(opts ...middleware.CookieOption) Option {
	return func(h *Handler) {
		h.cookieOptions = append(h.cookieOptions, opts...)
	}
}

// WithStateTTL sets how long a started login stays valid.
func WithStateTTL(d time.Duration) Option {
	return func(h *Handler) {
		h.stateTTL = d
	}
}

// WithPKCE toggles PKCE. It is on by default.
func WithPKCE(enabled bool) Option {
	return func(h *Handler) {
		h.pkce = enabled
	}
}

// WithDebug enables the debug endpoint.
func WithDebug(enabled bool) Option {
	return func(h *Handler) {
		h.debug = enabled
	}
}

// WithClock overrides the time source for login state.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates the auth endpoints. stateKeys seal the login state
// cookie; the first key seals and all keys open.
func NewHandler(provider Provider, sessions *session.Manager, allow AllowList, stateKeys [][]byte, opts ...Option) (*Handler, error) {
	if provider == nil || sessions == nil || allow == nil {
		return nil, goerr.New("provider, session manager and allow-list are required")
	}
	h := &Handler{
		mux:             http.NewServeMux(),
		provider:        provider,
		sessions:        sessions,
		allow:           allow,
		basePath:        DefaultBasePath,
		pkce:            true,
		stateCookieName: DefaultStateCookieName,
		stateTTL:        DefaultStateTTL,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if !strings.HasPrefix(h.basePath, "/") {
		h.basePath = "/" + h.basePath
	}
	h.basePath = strings.TrimRight(h.basePath, "/")

	cookieOpts := append([]middleware.CookieOption{
		middleware.WithPath(h.basePath),
		middleware.WithCookieClock(h.now),
	}, h.cookieOptions...)
	cookie, err := middleware.NewSealedCookie(h.stateCookieName, stateKeys, cookieOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure login state cookie")
	}
	h.states = &stateStore{cookie: cookie, ttl: h.stateTTL, now: h.now}

	h.mux.Handle("GET "+path.Join(h.basePath, "login"), endpoint.Handler(h.login, h.processors...))
	h.mux.Handle("GET "+path.Join(h.basePath, "callback"), endpoint.Handler(h.callback, h.processors...))
	verifyProcs := append(append([]endpoint.Processor(nil), h.processors...), middleware.NewSessionProcessor(sessions))
	h.mux.Handle("GET "+path.Join(h.basePath, "verify"), endpoint.Handler(h.verify, verifyProcs...))
	h.mux.Handle("GET "+path.Join(h.basePath, "logout"), endpoint.Handler(h.logout, h.processors...))
	h.mux.Handle("GET "+path.Join(h.basePath, "debug"), endpoint.Handler(h.debugInfo, h.processors...))
	h.mux.Handle("OPTIONS "+h.basePath+"/", endpoint.Handler(middleware.Preflight, h.processors...))
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) origin(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	return requestOrigin(r)
}

func (h *Handler) callbackURL(r *http.Request) string {
	return h.origin(r) + path.Join(h.basePath, "callback")
}

// LoginParams are the query parameters of the login endpoint.
type LoginParams struct {
	NextURL string `query:"next_url" maxLength:"2048"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, params LoginParams) (endpoint.Renderer, error) {
	state, err := generateState()
	if err != nil {
		return nil, endpoint.KindError(http.StatusInternalServerError, KindInternal, "failed to generate state", err)
	}
	ls := loginState{NextURL: ValidateNextURLIsLocal(params.NextURL)}

	var opts []oauth2.AuthCodeOption
	if h.pkce {
		ls.PKCEVerifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(ls.PKCEVerifier))
	}

	c, err := h.states.add(r, state, ls)
	if err != nil {
		return nil, endpoint.KindError(http.StatusInternalServerError, KindInternal, "failed to save login state", err)
	}
	http.SetCookie(w, c)

	return &endpoint.RedirectRenderer{URL: h.provider.AuthCodeURL(state, h.callbackURL(r), opts...)}, nil
}

// CallbackParams are the query parameters the provider redirects back with.
type CallbackParams struct {
	Code      string `query:"code"`
	State     string `query:"state"`
	Error     string `query:"error"`
	ErrorDesc string `query:"error_description"`
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request, params CallbackParams) (endpoint.Renderer, error) {
	ctx := r.Context()
	log := zerolog.Ctx(ctx)

	if params.Error != "" {
		err := &ProviderError{Code: params.Error, Description: params.ErrorDesc}
		return nil, endpoint.KindError(http.StatusBadRequest, KindUpstreamDenied, "sign-in was denied by the provider", err)
	}
	if params.Code == "" {
		return nil, endpoint.KindError(http.StatusBadRequest, KindMissingCode, "missing authorization code", nil)
	}

	ls, stateCookie, err := h.states.take(r, params.State)
	if err != nil {
		return nil, endpoint.KindError(http.StatusBadRequest, KindInvalidState, "invalid or expired login state", err)
	}

	var opts []oauth2.AuthCodeOption
	if ls.PKCEVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(ls.PKCEVerifier))
	}
	tok, err := h.provider.Exchange(ctx, params.Code, h.callbackURL(r), opts...)
	if err != nil {
		status := http.StatusInternalServerError
		if goerr.HasTag(err, TagRejected) {
			status = http.StatusUnauthorized
		}
		return nil, endpoint.KindError(status, KindTokenExchangeFailed, "token exchange failed", err)
	}

	id, err := h.provider.Identity(ctx, tok)
	if err != nil {
		return nil, endpoint.KindError(http.StatusInternalServerError, KindIdentityFetchFailed, "failed to fetch user identity", err)
	}

	if !h.allow.Allowed(id.Login) {
		return nil, endpoint.KindError(http.StatusForbidden, KindAccessDenied, "user is not allowed to sign in",
			goerr.New("login not in allow-list", goerr.V("login", id.Login)))
	}

	c, p, err := h.sessions.Issue(id)
	if err != nil {
		return nil, endpoint.KindError(http.StatusInternalServerError, KindInternal, "failed to issue session", err)
	}
	http.SetCookie(w, c)
	http.SetCookie(w, stateCookie)
	log.Info().Str("login", p.Subject).Time("expires", p.Expires()).Msg("session issued")

	return &endpoint.RedirectRenderer{URL: h.origin(r) + withQuery(ls.NextURL, "authenticated", "true")}, nil
}

// VerifyResponse is the body of the verify endpoint.
type VerifyResponse struct {
	Authenticated bool      `json:"authenticated"`
	User          *UserInfo `json:"user,omitempty"`
	// Error is a short reason, omitted when there is simply no session.
	Error string `json:"error,omitempty"`
	*endpoint.ErrorEnvelope
}

// UserInfo is the public identity of a session.
type UserInfo struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

// NewUserInfo returns the public view of p.
func NewUserInfo(p *session.Payload) *UserInfo {
	return &UserInfo{
		Username: p.Subject,
		Name:     p.DisplayName,
		Email:    p.Email,
		Avatar:   p.AvatarURL,
	}
}

func (h *Handler) verify(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	state := middleware.SessionFromContext(r.Context())
	if state.Authenticated() {
		return &endpoint.JSONRenderer{
			Value: VerifyResponse{Authenticated: true, User: NewUserInfo(state.Payload)},
		}, nil
	}
	reason := state.Reason
	if reason == session.ReasonNone {
		reason = session.ReasonNoSession
	}
	zerolog.Ctx(r.Context()).Debug().Str("reason", string(reason)).Msg("unauthenticated")
	return &endpoint.JSONRenderer{
		Status: http.StatusUnauthorized,
		Value: VerifyResponse{
			Error:         reason.Summary(),
			ErrorEnvelope: &endpoint.ErrorEnvelope{Kind: string(reason), Message: reason.Message()},
		},
	}, nil
}

// LogoutParams are the query parameters of the logout endpoint.
type LogoutParams struct {
	NextURL string `query:"next_url" maxLength:"2048"`
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, params LogoutParams) (endpoint.Renderer, error) {
	http.SetCookie(w, h.sessions.Clear())
	return &endpoint.RedirectRenderer{URL: h.origin(r) + ValidateNextURLIsLocal(params.NextURL)}, nil
}

// DebugResponse is the body of the debug endpoint.
type DebugResponse struct {
	ConfiguredUsers []string `json:"configuredUsers"`
}

func (h *Handler) debugInfo(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
	if !h.debug {
		return nil, endpoint.Error(http.StatusNotFound, "", errors.New("debug endpoint disabled"))
	}
	users := h.allow.Entries()
	if users == nil {
		users = []string{}
	}
	return &endpoint.JSONRenderer{Value: DebugResponse{ConfiguredUsers: users}}, nil
}
