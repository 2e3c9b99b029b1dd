package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v74/github"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/aspft/authgate/session"
)

// Provider is an upstream OAuth2 identity provider.
type Provider interface {
	// AuthCodeURL returns the URL that starts the authorization flow.
	AuthCodeURL(state, redirectURL string, opts ...oauth2.AuthCodeOption) string
	// Exchange trades an authorization code for an access token.
	Exchange(ctx context.Context, code, redirectURL string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
	// Identity fetches the identity behind an access token.
	Identity(ctx context.Context, tok *oauth2.Token) (session.Identity, error)
}

// DefaultScopes request the profile and email addresses of the user.
var DefaultScopes = []string{"read:user", "user:email"}

// DefaultUpstreamTimeout bounds each call to the provider.
const DefaultUpstreamTimeout = 10 * time.Second

// GitHubProvider implements Provider for GitHub OAuth apps.
type GitHubProvider struct {
	config      oauth2.Config
	apiURL      *url.URL
	client      *http.Client
	tokenClient *http.Client
	userAgent   string
	timeout     time.Duration
}

// ProviderOption configures a GitHubProvider.
type ProviderOption func(*GitHubProvider) error

// WithEndpoint overrides the authorize and token URLs, e.g. for GitHub
// Enterprise Server.
func WithEndpoint(authURL, tokenURL string) ProviderOption {
	return func(p *GitHubProvider) error {
		if authURL != "" {
			p.config.Endpoint.AuthURL = authURL
		}
		if tokenURL != "" {
			p.config.Endpoint.TokenURL = tokenURL
		}
		return nil
	}
}

// WithAPIBaseURL overrides the REST API base URL.
func WithAPIBaseURL(raw string) ProviderOption {
	return func(p *GitHubProvider) error {
		if raw == "" {
			return nil
		}
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return goerr.Wrap(err, "invalid API base URL", goerr.V("url", raw))
		}
		p.apiURL = u
		return nil
	}
}

// WithHTTPClient sets the client used for all upstream calls.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *GitHubProvider) error {
		p.client = c
		return nil
	}
}

// WithUserAgent sets the User-Agent sent upstream. GitHub rejects API
// requests without one.
func WithUserAgent(ua string) ProviderOption {
	return func(p *GitHubProvider) error {
		p.userAgent = ua
		return nil
	}
}

// WithTimeout bounds each upstream call. Zero disables the bound.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *GitHubProvider) error {
		p.timeout = d
		return nil
	}
}

// WithScopes replaces the requested scopes.
func WithScopes(scopes ...string) ProviderOption {
	return func(p *GitHubProvider) error {
		p.config.Scopes = scopes
		return nil
	}
}

// NewGitHubProvider creates a provider for the OAuth app identified by
// clientID and clientSecret.
func NewGitHubProvider(clientID, clientSecret string, opts ...ProviderOption) (*GitHubProvider, error) {
	if clientID == "" || clientSecret == "" {
		return nil, goerr.New("GitHub client id and secret are required")
	}
	endpoint := githuboauth.Endpoint
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	p := &GitHubProvider{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
			Scopes:       DefaultScopes,
		},
		userAgent: "authgate",
		timeout:   DefaultUpstreamTimeout,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	base := p.client
	if base == nil {
		base = http.DefaultClient
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	c := *base
	c.Transport = &userAgentTransport{next: transport, userAgent: p.userAgent}
	p.client = &c
	tc := c
	tc.Transport = &tokenTransport{next: c.Transport}
	p.tokenClient = &tc
	return p, nil
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(r)
}

// maxTokenResponse matches the body limit applied by x/oauth2.
const maxTokenResponse = 1 << 20

// tokenResponseError reports a token endpoint body that is neither
// well-formed JSON nor a well-formed form encoding.
type tokenResponseError struct {
	Status      int
	ContentType string
	Err         error
}

func (e *tokenResponseError) Error() string {
	msg := fmt.Sprintf("token endpoint returned status %d with unreadable %q body", e.Status, e.ContentType)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *tokenResponseError) Unwrap() error { return e.Err }

// tokenTransport asks the token endpoint for JSON and rejects bodies that are
// neither a JSON object nor form data. x/oauth2 parses every non-JSON content
// type as form data.
type tokenTransport struct {
	next http.RoundTripper
}

func (t *tokenTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("Accept") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("Accept", "application/json")
	}
	resp, err := t.next.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	ct := resp.Header.Get("Content-Type")
	if err := checkTokenBody(ct, body); err != nil {
		return nil, &tokenResponseError{Status: resp.StatusCode, ContentType: ct, Err: err}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func checkTokenBody(contentType string, body []byte) error {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "application/json":
		var obj map[string]json.RawMessage
		return json.Unmarshal(body, &obj)
	case "application/x-www-form-urlencoded":
		_, err := url.ParseQuery(string(body))
		return err
	default:
		return errors.New("unexpected content type")
	}
}

func (p *GitHubProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *GitHubProvider) AuthCodeURL(state, redirectURL string, opts ...oauth2.AuthCodeOption) string {
	conf := p.config
	conf.RedirectURL = redirectURL
	return conf.AuthCodeURL(state, opts...)
}

func (p *GitHubProvider) Exchange(ctx context.Context, code, redirectURL string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.tokenClient)

	conf := p.config
	conf.RedirectURL = redirectURL
	tok, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, classifyExchangeError(err)
	}
	return tok, nil
}

// classifyExchangeError tags an error from oauth2.Config.Exchange. Once
// tokenTransport has vetted the body, the only untyped error x/oauth2 can
// still return is a response without an access token.
func classifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	var bad *tokenResponseError
	switch {
	case isTimeout(err):
		return goerr.Wrap(err, "token exchange timed out", goerr.Tag(TagTimeout))
	case errors.As(err, &bad):
		return goerr.Wrap(err, "token endpoint returned an unreadable response", goerr.Tag(TagBadResponse),
			goerr.V("status", bad.Status), goerr.V("content_type", bad.ContentType))
	case errors.As(err, &re) && re.ErrorCode != "":
		return goerr.Wrap(&ProviderError{Code: re.ErrorCode, Description: re.ErrorDescription},
			"token endpoint rejected the code", goerr.Tag(TagRejected), goerr.V("status", retrieveStatus(re)))
	case errors.As(err, &re):
		return goerr.Wrap(err, "token endpoint returned an unexpected response", goerr.Tag(TagBadResponse), goerr.V("status", retrieveStatus(re)))
	case isNetwork(err):
		return goerr.Wrap(err, "token endpoint unreachable", goerr.Tag(TagNetwork))
	default:
		return goerr.Wrap(err, "token endpoint returned no access token", goerr.Tag(TagRejected))
	}
}

func retrieveStatus(re *oauth2.RetrieveError) int {
	if re.Response == nil {
		return 0
	}
	return re.Response.StatusCode
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isNetwork(err error) bool {
	var ue *url.Error
	return errors.As(err, &ue)
}

func (p *GitHubProvider) newClient(tok *oauth2.Token) *github.Client {
	c := github.NewClient(p.client).WithAuthToken(tok.AccessToken)
	c.UserAgent = p.userAgent
	if p.apiURL != nil {
		c.BaseURL = p.apiURL
	}
	return c
}

func (p *GitHubProvider) Identity(ctx context.Context, tok *oauth2.Token) (session.Identity, error) {
	if tok == nil || tok.AccessToken == "" {
		return session.Identity{}, goerr.New("no access token", goerr.Tag(TagBadResponse))
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	client := p.newClient(tok)
	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return session.Identity{}, classifyAPIError(err, "failed to fetch user")
	}
	id := session.Identity{
		Login:     user.GetLogin(),
		Name:      user.GetName(),
		Email:     user.GetEmail(),
		AvatarURL: user.GetAvatarURL(),
	}
	if id.Login == "" {
		return session.Identity{}, goerr.New("user response has no login", goerr.Tag(TagBadResponse))
	}
	if id.Email == "" {
		// Users with a private email only expose it through the emails API.
		id.Email = primaryEmail(ctx, client)
	}
	return id, nil
}

// primaryEmail returns the primary verified address, or "" if it cannot be
// determined.
func primaryEmail(ctx context.Context, client *github.Client) string {
	emails, _, err := client.Users.ListEmails(ctx, nil)
	if err != nil {
		return ""
	}
	for _, e := range emails {
		if e.GetPrimary() && e.GetVerified() {
			return e.GetEmail()
		}
	}
	return ""
}

func classifyAPIError(err error, msg string) error {
	var er *github.ErrorResponse
	switch {
	case isTimeout(err):
		return goerr.Wrap(err, msg, goerr.Tag(TagTimeout))
	case errors.As(err, &er):
		status := 0
		if er.Response != nil {
			status = er.Response.StatusCode
		}
		return goerr.Wrap(err, msg, goerr.Tag(TagRejected), goerr.V("status", status))
	case isNetwork(err):
		return goerr.Wrap(err, msg, goerr.Tag(TagNetwork))
	default:
		return goerr.Wrap(err, msg, goerr.Tag(TagBadResponse))
	}
}

var _ Provider = (*GitHubProvider)(nil)
