// Package config loads the gateway configuration from the environment.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	portEnvVar            = "PORT"
	publicURLEnvVar       = "PUBLIC_URL"
	appNameEnvVar         = "APP_NAME"
	clientIDEnvVar        = "GITHUB_CLIENT_ID"
	clientSecretEnvVar    = "GITHUB_CLIENT_SECRET"
	jwtSecretEnvVar       = "JWT_SECRET"
	sessionLifetimeEnvVar = "SESSION_LIFETIME"
	upstreamTimeoutEnvVar = "UPSTREAM_TIMEOUT"
	cookieSecureEnvVar    = "COOKIE_SECURE"
	stateKeyEnvVar        = "STATE_KEY"
	debugEnvVar           = "AUTH_DEBUG"
	corsOriginsEnvVar     = "CORS_ORIGINS"
	logLevelEnvVar        = "LOG_LEVEL"
	logFormatEnvVar       = "LOG_FORMAT"
	authURLEnvVar         = "GITHUB_AUTH_URL"
	tokenURLEnvVar        = "GITHUB_TOKEN_URL"
	apiURLEnvVar          = "GITHUB_API_URL"

	// AllowedUsersEnvVar holds the comma-separated allow-list. It is read on
	// every login rather than at startup.
	AllowedUsersEnvVar = "ALLOWED_GITHUB_USERS"
)

// stateKeySize is the length of the login state cookie key.
const stateKeySize = 32

// Config is the process-wide, read-only configuration.
type Config struct {
	Port            string
	PublicURL       string
	AppName         string
	ClientID        string
	ClientSecret    string
	JWTSecret       []byte
	SessionLifetime time.Duration
	UpstreamTimeout time.Duration
	CookieSecure    bool
	// StateKey seals the login state cookie. When STATE_KEY is unset it is
	// random, so logins in flight do not survive a restart.
	StateKey    []byte
	Debug       bool
	CORSOrigins []string
	LogLevel    string
	LogFormat   string

	GitHubAuthURL  string
	GitHubTokenURL string
	GitHubAPIURL   string
}

// SessionCookieName is the session cookie name for the app.
func (c *Config) SessionCookieName() string {
	return c.AppName + "_session"
}

// StateCookieName is the login state cookie name for the app.
func (c *Config) StateCookieName() string {
	return c.AppName + "_oauth_state"
}

// Addr is the listen address.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the configuration from the environment only.
func FromEnv() (*Config, error) {
	var errs []error
	c := &Config{
		Port:           GetEnv(portEnvVar, "8080"),
		PublicURL:      strings.TrimRight(GetEnv(publicURLEnvVar, ""), "/"),
		AppName:        GetEnv(appNameEnvVar, "aspft"),
		ClientID:       GetEnv(clientIDEnvVar, ""),
		ClientSecret:   GetEnv(clientSecretEnvVar, ""),
		JWTSecret:      []byte(GetEnv(jwtSecretEnvVar, "")),
		Debug:          getBool(debugEnvVar, false, &errs),
		CookieSecure:   getBool(cookieSecureEnvVar, true, &errs),
		CORSOrigins:    splitList(GetEnv(corsOriginsEnvVar, "")),
		LogLevel:       GetEnv(logLevelEnvVar, "info"),
		LogFormat:      GetEnv(logFormatEnvVar, "json"),
		GitHubAuthURL:  GetEnv(authURLEnvVar, ""),
		GitHubTokenURL: GetEnv(tokenURLEnvVar, ""),
		GitHubAPIURL:   GetEnv(apiURLEnvVar, ""),
	}
	c.SessionLifetime = getDuration(sessionLifetimeEnvVar, 24*time.Hour, &errs)
	c.UpstreamTimeout = getDuration(upstreamTimeoutEnvVar, 10*time.Second, &errs)

	if len(c.JWTSecret) == 0 {
		errs = append(errs, fmt.Errorf("%s must be set", jwtSecretEnvVar))
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		errs = append(errs, fmt.Errorf("%s and %s must be set", clientIDEnvVar, clientSecretEnvVar))
	}
	if c.SessionLifetime < time.Second {
		errs = append(errs, fmt.Errorf("%s must be at least 1s", sessionLifetimeEnvVar))
	}

	key, err := stateKey(GetEnv(stateKeyEnvVar, ""))
	if err != nil {
		errs = append(errs, err)
	}
	c.StateKey = key

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return c, nil
}

func stateKey(raw string) ([]byte, error) {
	if raw == "" {
		key := make([]byte, stateKeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate state key: %w", err)
		}
		return key, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil || len(key) != stateKeySize {
		return nil, fmt.Errorf("%s must be %d hex-encoded bytes", stateKeyEnvVar, stateKeySize)
	}
	return key, nil
}

// GetEnv returns the value of envVar, or defaultValue when it is empty.
func GetEnv(envVar, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(envVar))
	if value == "" {
		return defaultValue
	}
	return value
}

func getBool(envVar string, defaultValue bool, errs *[]error) bool {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", envVar, raw))
		return defaultValue
	}
	return v
}

func getDuration(envVar string, defaultValue time.Duration, errs *[]error) time.Duration {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		// Plain integers are seconds.
		n, nerr := strconv.Atoi(raw)
		if nerr != nil {
			*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", envVar, raw))
			return defaultValue
		}
		d = time.Duration(n) * time.Second
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
