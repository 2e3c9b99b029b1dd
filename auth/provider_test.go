package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v74/github"
	"github.com/m-mizutani/goerr/v2"
	"github.com/migueleliasweb/go-github-mock/src/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestProvider(t *testing.T, srv *httptest.Server, opts ...ProviderOption) *GitHubProvider {
	t.Helper()
	base := []ProviderOption{
		WithEndpoint(srv.URL+"/login/oauth/authorize", srv.URL+"/login/oauth/access_token"),
		WithAPIBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithUserAgent("authgate-test"),
	}
	p, err := NewGitHubProvider("client-id", "client-secret", append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func TestNewGitHubProvider_RequiresCredentials(t *testing.T) {
	_, err := NewGitHubProvider("", "secret")
	assert.Error(t, err)
	_, err = NewGitHubProvider("id", "")
	assert.Error(t, err)
}

func TestGitHubProvider_AuthCodeURL(t *testing.T) {
	p, err := NewGitHubProvider("client-id", "client-secret")
	require.NoError(t, err)

	raw := p.AuthCodeURL("st4te", "https://app.example.com/api/auth/callback")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "/login/oauth/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "st4te", q.Get("state"))
	assert.Equal(t, "read:user user:email", q.Get("scope"))
	assert.Equal(t, "https://app.example.com/api/auth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
}

func TestGitHubProvider_Exchange(t *testing.T) {
	var form url.Values
	var ua, accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		ua = r.UserAgent()
		accept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"xyz","token_type":"bearer","scope":"read:user"}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	tok, err := p.Exchange(context.Background(), "abc", "https://app.example.com/api/auth/callback")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok.AccessToken)

	assert.Equal(t, "abc", form.Get("code"))
	assert.Equal(t, "client-id", form.Get("client_id"))
	assert.Equal(t, "client-secret", form.Get("client_secret"))
	assert.Equal(t, "https://app.example.com/api/auth/callback", form.Get("redirect_uri"))
	assert.Equal(t, "authgate-test", ua)
	assert.Equal(t, "application/json", accept)
}

func TestGitHubProvider_ExchangeFormEncoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		_, _ = w.Write([]byte("access_token=xyz&scope=read%3Auser&token_type=bearer"))
	}))
	defer srv.Close()

	tok, err := newTestProvider(t, srv).Exchange(context.Background(), "abc", "")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok.AccessToken)
}

func TestGitHubProvider_ExchangeErrors(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		status      int
		body        string
		class       string
	}{
		{"error field", "application/json", http.StatusOK, `{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`, ClassRejected},
		{"missing token", "application/json", http.StatusOK, `{"token_type":"bearer"}`, ClassRejected},
		{"html body", "text/html", http.StatusOK, `<html>oops</html>`, ClassBadResponse},
		{"plain text body", "text/plain", http.StatusOK, `Service temporarily unavailable`, ClassBadResponse},
		{"no content type", "", http.StatusOK, `access_token=xyz`, ClassBadResponse},
		{"json array", "application/json", http.StatusOK, `[]`, ClassBadResponse},
		{"truncated json", "application/json", http.StatusOK, `{"access_token":`, ClassBadResponse},
		{"bad form encoding", "application/x-www-form-urlencoded", http.StatusOK, `access_token=%zz`, ClassBadResponse},
		{"server error", "text/html", http.StatusBadGateway, `<html>bad gateway</html>`, ClassBadResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.contentType)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestProvider(t, srv).Exchange(context.Background(), "abc", "")
			require.Error(t, err)
			assert.Equal(t, tc.class, Classify(err), "classifying %v", err)
		})
	}
}

func TestGitHubProvider_ExchangeProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"incorrect_client_credentials"}`))
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv).Exchange(context.Background(), "abc", "")
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "incorrect_client_credentials", pe.Code)
}

func TestGitHubProvider_ExchangeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := newTestProvider(t, srv, WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := p.Exchange(context.Background(), "abc", "")
	require.Error(t, err)
	assert.Equal(t, ClassTimeout, Classify(err), "classifying %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGitHubProvider_ExchangeNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	p := newTestProvider(t, srv)
	srv.Close()

	_, err := p.Exchange(context.Background(), "abc", "")
	require.Error(t, err)
	assert.Equal(t, ClassNetwork, Classify(err), "classifying %v", err)
}

func TestGitHubProvider_Identity(t *testing.T) {
	var auth, ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user", r.URL.Path)
		auth = r.Header.Get("Authorization")
		ua = r.UserAgent()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"login":      "octocat",
			"name":       "The Octocat",
			"email":      "octocat@github.com",
			"avatar_url": "https://avatars.githubusercontent.com/u/583231",
		})
	}))
	defer srv.Close()

	id, err := newTestProvider(t, srv).Identity(context.Background(), &oauth2.Token{AccessToken: "xyz"})
	require.NoError(t, err)
	assert.Equal(t, "octocat", id.Login)
	assert.Equal(t, "The Octocat", id.Name)
	assert.Equal(t, "octocat@github.com", id.Email)
	assert.Equal(t, "https://avatars.githubusercontent.com/u/583231", id.AvatarURL)
	assert.Equal(t, "Bearer xyz", auth)
	assert.Equal(t, "authgate-test", ua)
}

func TestGitHubProvider_IdentityWithMockedAPI(t *testing.T) {
	mockedHTTPClient := mock.NewMockedHTTPClient(
		mock.WithRequestMatch(
			mock.GetUser,
			github.User{
				Login:     github.Ptr("toni"),
				AvatarURL: github.Ptr("https://avatars.example.com/toni"),
			},
		),
		mock.WithRequestMatch(
			mock.GetUserEmails,
			[]github.UserEmail{
				{Email: github.Ptr("old@example.com"), Primary: github.Ptr(false), Verified: github.Ptr(true)},
				{Email: github.Ptr("toni@example.com"), Primary: github.Ptr(true), Verified: github.Ptr(true)},
			},
		),
	)

	p, err := NewGitHubProvider("client-id", "client-secret", WithHTTPClient(mockedHTTPClient))
	require.NoError(t, err)

	id, err := p.Identity(context.Background(), &oauth2.Token{AccessToken: "xyz"})
	require.NoError(t, err)
	assert.Equal(t, "toni", id.Login)
	assert.Empty(t, id.Name)
	assert.Equal(t, "toni@example.com", id.Email, "private email comes from the emails API")
}

func TestGitHubProvider_IdentityEmailLookupIsBestEffort(t *testing.T) {
	mockedHTTPClient := mock.NewMockedHTTPClient(
		mock.WithRequestMatch(mock.GetUser, github.User{Login: github.Ptr("toni")}),
		mock.WithRequestMatchHandler(
			mock.GetUserEmails,
			http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				mock.WriteError(w, http.StatusForbidden, "scope missing")
			}),
		),
	)
	p, err := NewGitHubProvider("client-id", "client-secret", WithHTTPClient(mockedHTTPClient))
	require.NoError(t, err)

	id, err := p.Identity(context.Background(), &oauth2.Token{AccessToken: "xyz"})
	require.NoError(t, err)
	assert.Equal(t, "toni", id.Login)
	assert.Empty(t, id.Email)
}

func TestGitHubProvider_IdentityErrors(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		mockedHTTPClient := mock.NewMockedHTTPClient(
			mock.WithRequestMatchHandler(
				mock.GetUser,
				http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					mock.WriteError(w, http.StatusUnauthorized, "Bad credentials")
				}),
			),
		)
		p, err := NewGitHubProvider("client-id", "client-secret", WithHTTPClient(mockedHTTPClient))
		require.NoError(t, err)

		_, err = p.Identity(context.Background(), &oauth2.Token{AccessToken: "xyz"})
		require.Error(t, err)
		assert.True(t, goerr.HasTag(err, TagRejected))
	})

	t.Run("no login", func(t *testing.T) {
		mockedHTTPClient := mock.NewMockedHTTPClient(
			mock.WithRequestMatch(mock.GetUser, github.User{Name: github.Ptr("Nobody")}),
		)
		p, err := NewGitHubProvider("client-id", "client-secret", WithHTTPClient(mockedHTTPClient))
		require.NoError(t, err)

		_, err = p.Identity(context.Background(), &oauth2.Token{AccessToken: "xyz"})
		require.Error(t, err)
		assert.True(t, goerr.HasTag(err, TagBadResponse))
	})

	t.Run("no token", func(t *testing.T) {
		p, err := NewGitHubProvider("client-id", "client-secret")
		require.NoError(t, err)
		_, err = p.Identity(context.Background(), nil)
		assert.Error(t, err)
	})
}
