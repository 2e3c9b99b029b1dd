package auth

import (
	"net/http"
	"net/url"
	"strings"
)

// ValidateNextURLIsLocal returns nextURL if it is a local absolute path and
// "/" otherwise.
func ValidateNextURLIsLocal(nextURL string) string {
	if nextURL == "" || !strings.HasPrefix(nextURL, "/") || strings.HasPrefix(nextURL, "//") || strings.HasPrefix(nextURL, "/\\") {
		return "/"
	}
	u, err := url.Parse(nextURL)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return nextURL
}

// withQuery appends key=value to a local URL, keeping any existing query.
func withQuery(local, key, value string) string {
	u, err := url.Parse(local)
	if err != nil {
		return local
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// requestOrigin derives scheme://host from the request. X-Forwarded-Proto
// is honoured so deployments behind a TLS terminating proxy get https.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
