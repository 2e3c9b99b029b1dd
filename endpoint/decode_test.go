package endpoint

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUnmarshal_QueryCookieHeader(t *testing.T) {
	type params struct {
		Code    string   `query:"code"`
		Scopes  []string `query:"scope"`
		Debug   bool     `query:"debug"`
		N       int      `query:"n"`
		Session string   `cookie:"aspft_session"`
		Agent   string   `header:"user-agent"`
		Ignored string   `query:"-"`
		Default string   `query:""`
	}
	req := httptest.NewRequest(http.MethodGet, "/?code=abc&scope=a&scope=b&debug=true&n=7&ignored=x&default=d", nil)
	req.AddCookie(&http.Cookie{Name: "aspft_session", Value: "tok"})
	req.Header.Set("User-Agent", "test-agent")

	var p params
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Code != "abc" || p.Session != "tok" || p.Agent != "test-agent" || !p.Debug || p.N != 7 {
		t.Fatalf("unexpected params %+v", p)
	}
	if strings.Join(p.Scopes, ",") != "a,b" {
		t.Fatalf("unexpected scopes %v", p.Scopes)
	}
	if p.Ignored != "" {
		t.Fatalf("ignored field was set: %q", p.Ignored)
	}
	if p.Default != "d" {
		t.Fatalf("empty tag name should default to field name, got %q", p.Default)
	}
}

func TestUnmarshal_Precedence_QueryOverridesCookie(t *testing.T) {
	var p struct {
		State string `query:"state" cookie:"state"`
	}
	req := httptest.NewRequest(http.MethodGet, "/?state=from-query", nil)
	req.AddCookie(&http.Cookie{Name: "state", Value: "from-cookie"})
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.State != "from-query" {
		t.Fatalf("expected query to win, got %q", p.State)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "state", Value: "from-cookie"})
	if err := Unmarshal(req, &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.State != "from-cookie" {
		t.Fatalf("expected cookie fallback, got %q", p.State)
	}
}

func TestUnmarshal_MaxLength(t *testing.T) {
	var p struct {
		Code string `query:"code" maxLength:"4"`
	}
	err := Unmarshal(httptest.NewRequest(http.MethodGet, "/?code=12345", nil), &p)
	var ee *EndpointError
	if !errors.As(err, &ee) || ee.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 EndpointError, got %v", err)
	}

	var unlimited struct {
		Code string `query:"code" maxLength:"0"`
	}
	long := strings.Repeat("x", defaultFieldLimit+1)
	if err := Unmarshal(httptest.NewRequest(http.MethodGet, "/?code="+long, nil), &unlimited); err != nil {
		t.Fatalf("maxLength 0 should disable the limit: %v", err)
	}

	var defaulted struct {
		Code string `query:"code"`
	}
	if err := Unmarshal(httptest.NewRequest(http.MethodGet, "/?code="+long, nil), &defaulted); err == nil {
		t.Fatalf("expected default limit to apply")
	}
}

func TestUnmarshal_InvalidMaxLengthTag_Is500(t *testing.T) {
	var p struct {
		Code string `query:"code" maxLength:"abc"`
	}
	err := Unmarshal(httptest.NewRequest(http.MethodGet, "/", nil), &p)
	var ee *EndpointError
	if !errors.As(err, &ee) || ee.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 EndpointError, got %v", err)
	}
}

func TestUnmarshal_NonStructParams_ReturnsError(t *testing.T) {
	var s string
	if err := Unmarshal(httptest.NewRequest(http.MethodGet, "/", nil), &s); err == nil {
		t.Fatalf("expected error for non-struct params")
	}
	if err := Unmarshal(httptest.NewRequest(http.MethodGet, "/", nil), nil); err == nil {
		t.Fatalf("expected error for nil dst")
	}
}

func TestUnmarshal_UnsupportedFieldType_IsBadRequest(t *testing.T) {
	var p struct {
		F float64 `query:"f"`
	}
	err := Unmarshal(httptest.NewRequest(http.MethodGet, "/?f=1.5", nil), &p)
	var ee *EndpointError
	if !errors.As(err, &ee) || ee.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 EndpointError, got %v", err)
	}
}
