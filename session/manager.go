package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aspft/authgate/token"
)

var (
	// ErrNoSession means the request carries no session cookie.
	ErrNoSession = errors.New("session: no session cookie")
	// ErrExpired means the token is authentic but past its expiry.
	ErrExpired = errors.New("session: expired")
)

// DefaultLifetime is the default validity window of a session.
const DefaultLifetime = 24 * time.Hour

// DefaultCookieName is the session cookie name used when none is configured.
const DefaultCookieName = "aspft_session"

// Manager issues, verifies and clears session cookies.
//
// A Manager holds only read-only configuration and is safe for concurrent use.
type Manager struct {
	secret   []byte
	name     string
	path     string
	domain   string
	secure   bool
	lifetime time.Duration
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithCookieName sets the session cookie name.
func WithCookieName(name string) Option {
	return func(m *Manager) {
		m.name = name
	}
}

// WithLifetime sets the session lifetime. It is truncated to whole seconds.
func WithLifetime(d time.Duration) Option {
	return func(m *Manager) {
		m.lifetime = d
	}
}

// WithSecure sets the Secure attribute of the cookie. It defaults to true;
// disable it only for plain-http development servers.
func WithSecure(secure bool) Option {
	return func(m *Manager) {
		m.secure = secure
	}
}

// WithDomain sets the cookie Domain attribute.
func WithDomain(domain string) Option {
	return func(m *Manager) {
		m.domain = domain
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager signing with secret.
//
// Defaults:
//   - Name: aspft_session
//   - Path: /
//   - HttpOnly: always
//   - Secure: true
//   - SameSite: Lax
//   - Lifetime: 24h
func NewManager(secret []byte, opts ...Option) (*Manager, error) {
	if len(secret) == 0 {
		return nil, token.ErrEmptySecret
	}
	m := &Manager{
		secret:   secret,
		name:     DefaultCookieName,
		path:     "/",
		secure:   true,
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lifetime = m.lifetime.Truncate(time.Second)
	if m.lifetime <= 0 {
		return nil, fmt.Errorf("session: lifetime must be at least one second")
	}
	if m.name == "" {
		return nil, fmt.Errorf("session: cookie name must not be empty")
	}
	return m, nil
}

// Name returns the session cookie name.
func (m *Manager) Name() string {
	return m.name
}

// Lifetime returns the session lifetime.
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

// Issue mints a new session for id and returns the cookie that carries it.
func (m *Manager) Issue(id Identity) (*http.Cookie, Payload, error) {
	if id.Login == "" {
		return nil, Payload{}, errors.New("session: identity has no login")
	}
	now := m.now()
	p := NewPayload(id, now, m.lifetime)
	tok, err := token.Sign(p, m.secret)
	if err != nil {
		return nil, Payload{}, err
	}
	maxAge := int(m.lifetime / time.Second)
	return &http.Cookie{
		Name:     m.name,
		Value:    tok,
		Path:     m.path,
		Domain:   m.domain,
		MaxAge:   maxAge,
		Expires:  now.Add(m.lifetime),
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}, p, nil
}

// Verify reads the session cookie from r and returns its payload.
//
// Errors are ErrNoSession, ErrExpired, or wrap token.ErrMalformedToken or
// token.ErrInvalidSignature. Use ReasonOf to classify them.
func (m *Manager) Verify(r *http.Request) (*Payload, error) {
	c, err := r.Cookie(m.name)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}
	return m.VerifyToken(c.Value)
}

// VerifyToken checks a raw session token.
func (m *Manager) VerifyToken(tok string) (*Payload, error) {
	var p Payload
	if err := token.Verify(tok, m.secret, &p); err != nil {
		return nil, err
	}
	if p.Subject == "" {
		return nil, fmt.Errorf("%w: payload has no subject", token.ErrMalformedToken)
	}
	if p.Expired(m.now()) {
		return nil, ErrExpired
	}
	return &p, nil
}

// Clear returns a cookie that removes the session from the client.
func (m *Manager) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     m.name,
		Value:    "",
		Path:     m.path,
		Domain:   m.domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
