// Package server assembles the gateway's HTTP routes.
package server

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aspft/authgate/auth"
	"github.com/aspft/authgate/endpoint"
	"github.com/aspft/authgate/internal/config"
	"github.com/aspft/authgate/middleware"
	"github.com/aspft/authgate/session"
)

// New builds the root handler:
//
//	/api/auth/...  sign-in endpoints
//	GET /api/me    the signed-in user, 401 otherwise
//	OPTIONS        CORS preflight for both of the above
//	GET /healthz   liveness
func New(c *config.Config, logger zerolog.Logger) (http.Handler, error) {
	provider, err := auth.NewGitHubProvider(c.ClientID, c.ClientSecret,
		auth.WithEndpoint(c.GitHubAuthURL, c.GitHubTokenURL),
		auth.WithAPIBaseURL(c.GitHubAPIURL),
		auth.WithTimeout(c.UpstreamTimeout),
		auth.WithUserAgent(c.AppName+"-authgate"),
	)
	if err != nil {
		return nil, err
	}
	return NewWithProvider(c, logger, provider)
}

// NewWithProvider is New with an explicit upstream provider.
func NewWithProvider(c *config.Config, logger zerolog.Logger, provider auth.Provider) (http.Handler, error) {
	sessions, err := session.NewManager(c.JWTSecret,
		session.WithCookieName(c.SessionCookieName()),
		session.WithLifetime(c.SessionLifetime),
		session.WithSecure(c.CookieSecure),
	)
	if err != nil {
		return nil, err
	}

	common := []endpoint.Processor{
		middleware.NewRequestLogger(logger),
		middleware.NewSecurityHeadersProcessor(c.CookieSecure, c.CORSOrigins...),
	}

	authHandler, err := auth.NewHandler(provider, sessions, auth.NewEnvAllowList(config.AllowedUsersEnvVar), [][]byte{c.StateKey},
		auth.WithPublicURL(c.PublicURL),
		auth.WithProcessors(common...),
		auth.WithStateCookieName(c.StateCookieName()),
		auth.WithStateCookieOptions(middleware.WithSecure(c.CookieSecure)),
		auth.WithDebug(c.Debug),
	)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(auth.DefaultBasePath+"/", authHandler)

	meProcs := append(append([]endpoint.Processor(nil), common...), middleware.NewSessionProcessor(sessions), middleware.RequireSession)
	mux.Handle("GET /api/me", endpoint.Handler(me, meProcs...))
	mux.Handle("OPTIONS /api/me", endpoint.Handler(middleware.Preflight, common...))
	mux.Handle("GET /healthz", endpoint.Handler(healthz))
	return mux, nil
}

func me(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	state := middleware.SessionFromContext(r.Context())
	return &endpoint.JSONRenderer{Value: auth.NewUserInfo(state.Payload)}, nil
}

func healthz(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.StringRenderer{Body: "ok"}, nil
}
