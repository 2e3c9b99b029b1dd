package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/aspft/authgate/endpoint"
)

// SecurityHeadersProcessor sets response headers suitable for an auth API.
//
// Every response gets:
//   - Cache-Control: no-store
//   - X-Content-Type-Options: nosniff
//   - X-Frame-Options: DENY
//   - Referrer-Policy: no-referrer
//
// HSTS is sent when HSTSMaxAge > 0. When AllowedOrigins is non-empty,
// credentialed CORS is enabled for exactly those origins and preflight
// requests are answered with 204.
type SecurityHeadersProcessor struct {
	HSTSMaxAge     int
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	// MaxAge is the preflight cache lifetime in seconds.
	MaxAge int
}

// NewSecurityHeadersProcessor returns a processor for the given CORS origins.
// HSTS is enabled for one year when hsts is true.
func NewSecurityHeadersProcessor(hsts bool, origins ...string) *SecurityHeadersProcessor {
	p := &SecurityHeadersProcessor{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         600,
	}
	if hsts {
		p.HSTSMaxAge = 31536000
	}
	return p
}

// Process implements endpoint.Processor.
func (p *SecurityHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
	if p.HSTSMaxAge > 0 {
		h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(p.HSTSMaxAge)+"; includeSubDomains")
	}

	if len(p.AllowedOrigins) > 0 {
		h.Add("Vary", "Origin")
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(p.AllowedOrigins, origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", strings.Join(p.AllowedMethods, ", "))
				h.Set("Access-Control-Allow-Headers", strings.Join(p.AllowedHeaders, ", "))
				if p.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(p.MaxAge))
				}
				return endpoint.Error(http.StatusNoContent, "", nil)
			}
		}
	}
	return next(w, r)
}

// Preflight is the endpoint for OPTIONS routes behind a
// SecurityHeadersProcessor. Allowed CORS preflights never reach it; any
// other OPTIONS request gets 405.
func Preflight(w http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
	w.Header().Set("Allow", http.MethodGet)
	return nil, endpoint.Error(http.StatusMethodNotAllowed, "", nil)
}

var _ endpoint.Processor = (*SecurityHeadersProcessor)(nil)
