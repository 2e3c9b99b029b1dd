package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/aspft/authgate/middleware"
)

var (
	errStateMissing  = errors.New("auth: state parameter missing")
	errStateNoCookie = errors.New("auth: no login state cookie")
	errStateUnknown  = errors.New("auth: state not found")
	errStateExpired  = errors.New("auth: state expired")
)

// loginStates is the value sealed in the state cookie, keyed by the state
// parameter sent upstream. Several entries allow logins started in more
// than one tab.
type loginStates map[string]loginState

// loginState is one in-flight authorization flow.
type loginState struct {
	NextURL      string    `cbor:"1,keyasint,omitempty"`
	PKCEVerifier string    `cbor:"2,keyasint,omitempty"`
	ExpiresAt    time.Time `cbor:"3,keyasint"`
}

// maxStates caps concurrent flows per browser.
const maxStates = 3

// DefaultStateTTL is how long a login may take to come back.
const DefaultStateTTL = 10 * time.Minute

// stateLength is the number of random bytes in a state value.
const stateLength = 32

func generateState() (string, error) {
	b := make([]byte, stateLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type stateStore struct {
	cookie *middleware.SealedCookie
	ttl    time.Duration
	now    func() time.Time
}

func (s *stateStore) load(r *http.Request) loginStates {
	var states loginStates
	if err := s.cookie.Open(r, &states); err != nil || states == nil {
		return loginStates{}
	}
	return states
}

// add records a new flow and returns the cookie carrying it.
func (s *stateStore) add(r *http.Request, state string, ls loginState) (*http.Cookie, error) {
	now := s.now()
	states := s.load(r)
	for k, v := range states {
		if !now.Before(v.ExpiresAt) {
			delete(states, k)
		}
	}
	for len(states) >= maxStates {
		var oldest string
		for k, v := range states {
			if oldest == "" || v.ExpiresAt.Before(states[oldest].ExpiresAt) {
				oldest = k
			}
		}
		delete(states, oldest)
	}
	ls.ExpiresAt = now.Add(s.ttl)
	states[state] = ls
	return s.cookie.Seal(states, s.ttl)
}

// take looks up state. On success it also returns the cookie that removes
// the consumed entry; the caller decides whether to send it.
func (s *stateStore) take(r *http.Request, state string) (loginState, *http.Cookie, error) {
	if state == "" {
		return loginState{}, nil, errStateMissing
	}
	var states loginStates
	if err := s.cookie.Open(r, &states); err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return loginState{}, nil, errStateNoCookie
		}
		return loginState{}, nil, err
	}

	var (
		found loginState
		key   string
	)
	for k, v := range states {
		if subtle.ConstantTimeCompare([]byte(k), []byte(state)) == 1 {
			found, key = v, k
		}
	}
	if key == "" {
		return loginState{}, nil, errStateUnknown
	}
	if !s.now().Before(found.ExpiresAt) {
		return loginState{}, nil, errStateExpired
	}

	delete(states, key)
	if len(states) == 0 {
		return found, s.cookie.Clear(), nil
	}
	c, err := s.cookie.Seal(states, s.ttl)
	if err != nil {
		return loginState{}, nil, err
	}
	return found, c, nil
}
