package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aspft/authgate/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("session-test-secret")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(testSecret, opts...)
	require.NoError(t, err)
	return m
}

func requestWithCookie(c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
	if c != nil {
		r.AddCookie(c)
	}
	return r
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil)
	assert.ErrorIs(t, err, token.ErrEmptySecret)

	_, err = NewManager(testSecret, WithLifetime(500*time.Millisecond))
	assert.Error(t, err)

	_, err = NewManager(testSecret, WithCookieName(""))
	assert.Error(t, err)
}

func TestNewPayload(t *testing.T) {
	now := time.Unix(1700000000, 0)

	p := NewPayload(Identity{Login: "octocat", Name: "The Octocat", Email: "octo@example.com", AvatarURL: "https://avatars/1"}, now, DefaultLifetime)
	assert.Equal(t, "octocat", p.Subject)
	assert.Equal(t, "The Octocat", p.DisplayName)
	assert.Equal(t, int64(1700000000), p.IssuedAt)
	assert.Equal(t, p.IssuedAt+86400, p.ExpiresAt)

	p = NewPayload(Identity{Login: "toni"}, now, time.Hour)
	assert.Equal(t, "toni", p.DisplayName, "display name falls back to login")
	assert.Empty(t, p.Email)
	assert.Equal(t, p.IssuedAt+3600, p.ExpiresAt)
}

func TestPayload_Expired(t *testing.T) {
	p := Payload{ExpiresAt: 1000}
	assert.False(t, p.Expired(time.Unix(999, 0)))
	assert.True(t, p.Expired(time.Unix(1000, 0)), "expiry is exclusive")
	assert.True(t, p.Expired(time.Unix(1001, 0)))
}

func TestManager_IssueCookieAttributes(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := newTestManager(t, WithClock(fixedClock(now)))

	c, p, err := m.Issue(Identity{Login: "octocat"})
	require.NoError(t, err)

	assert.Equal(t, DefaultCookieName, c.Name)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 86400, c.MaxAge)
	assert.Equal(t, now.Unix()+86400, p.ExpiresAt)

	header := c.String()
	for _, attr := range []string{"Path=/", "HttpOnly", "Secure", "SameSite=Lax", "Max-Age=86400"} {
		assert.Contains(t, header, attr)
	}

	var decoded Payload
	require.NoError(t, token.Verify(c.Value, testSecret, &decoded))
	assert.Equal(t, p, decoded)
}

func TestManager_IssueRequiresLogin(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.Issue(Identity{Name: "nobody"})
	assert.Error(t, err)
}

func TestManager_Verify(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0)
	issuer := newTestManager(t, WithClock(fixedClock(issuedAt)))
	c, _, err := issuer.Issue(Identity{Login: "octocat", Name: "The Octocat"})
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		m := newTestManager(t, WithClock(fixedClock(issuedAt.Add(time.Hour))))
		p, err := m.Verify(requestWithCookie(c))
		require.NoError(t, err)
		assert.Equal(t, "octocat", p.Subject)
		assert.Equal(t, "The Octocat", p.DisplayName)
	})

	t.Run("no cookie", func(t *testing.T) {
		_, err := issuer.Verify(requestWithCookie(nil))
		assert.ErrorIs(t, err, ErrNoSession)
		assert.Equal(t, ReasonNoSession, ReasonOf(err))
	})

	t.Run("empty cookie", func(t *testing.T) {
		_, err := issuer.Verify(requestWithCookie(&http.Cookie{Name: DefaultCookieName, Value: ""}))
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("expired", func(t *testing.T) {
		m := newTestManager(t, WithClock(fixedClock(issuedAt.Add(DefaultLifetime))))
		_, err := m.Verify(requestWithCookie(c))
		assert.ErrorIs(t, err, ErrExpired)
		assert.Equal(t, ReasonExpired, ReasonOf(err))
	})

	t.Run("rotated secret", func(t *testing.T) {
		m, err := NewManager([]byte("rotated"), WithClock(fixedClock(issuedAt)))
		require.NoError(t, err)
		_, err = m.Verify(requestWithCookie(c))
		assert.ErrorIs(t, err, token.ErrInvalidSignature)
		assert.Equal(t, ReasonInvalidSignature, ReasonOf(err))
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := issuer.Verify(requestWithCookie(&http.Cookie{Name: DefaultCookieName, Value: "a.b"}))
		assert.ErrorIs(t, err, token.ErrMalformedToken)
		assert.Equal(t, ReasonMalformedToken, ReasonOf(err))
	})

	t.Run("tampered", func(t *testing.T) {
		parts := strings.Split(c.Value, ".")
		forged, err := token.Sign(Payload{Subject: "admin", ExpiresAt: issuedAt.Unix() + 10}, []byte("guess"))
		require.NoError(t, err)
		tampered := parts[0] + "." + strings.Split(forged, ".")[1] + "." + parts[2]
		_, err = issuer.Verify(requestWithCookie(&http.Cookie{Name: DefaultCookieName, Value: tampered}))
		assert.ErrorIs(t, err, token.ErrInvalidSignature)
	})
}

func TestManager_VerifyRejectsEmptySubject(t *testing.T) {
	m := newTestManager(t, WithClock(fixedClock(time.Unix(100, 0))))
	tok, err := token.Sign(Payload{ExpiresAt: 200}, testSecret)
	require.NoError(t, err)

	_, err = m.VerifyToken(tok)
	assert.ErrorIs(t, err, token.ErrMalformedToken)
}

func TestManager_Clear(t *testing.T) {
	m := newTestManager(t, WithSecure(false))
	c := m.Clear()
	assert.Equal(t, DefaultCookieName, c.Name)
	assert.Empty(t, c.Value)
	assert.False(t, c.Secure)
	assert.Contains(t, c.String(), "Max-Age=0")
}

func TestReason_Descriptions(t *testing.T) {
	assert.Equal(t, "", ReasonNoSession.Summary())
	assert.Equal(t, "Invalid token", ReasonMalformedToken.Summary())
	assert.Equal(t, "Invalid token", ReasonInvalidSignature.Summary())
	assert.Equal(t, "Expired", ReasonExpired.Summary())
	assert.Equal(t, ReasonNone, ReasonOf(nil))
	assert.NotEmpty(t, ReasonNoSession.Message())
}
