package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("middleware: invalid sealed cookie format")
	ErrCookieInvalid = errors.New("middleware: invalid sealed cookie")
	ErrCookieConfig  = errors.New("middleware: invalid sealed cookie configuration")
)

// maxCookieLen bounds the attacker-controlled data decoded for a cookie value.
const maxCookieLen = 4096

// KeySize is the key length expected by the default AEAD.
const KeySize = chacha20poly1305.KeySize

// SealedCookie seals short-lived values, such as OAuth login state, into an
// encrypted and authenticated cookie.
//
// Format: [keyID] "." base64url(nonce || AEAD.Seal(plaintext, aad))
//
// keyID is derived from the key itself, so a SealedCookie configured with
// several keys seals with the first and opens with any of them. The aad binds
// the cookie name, domain, path and secure flag to the value. Values are
// serialized with CBOR.
type SealedCookie struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite

	sealID string
	aeads  map[string]cipher.AEAD
	now    func() time.Time
}

// CookieOption configures a SealedCookie.
type CookieOption func(*cookieConfig)

type cookieConfig struct {
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite
	newAEAD  func([]byte) (cipher.AEAD, error)
	now      func() time.Time
}

// WithPath sets the cookie path.
func WithPath(path string) CookieOption {
	return func(c *cookieConfig) { c.path = path }
}

// WithDomain sets the cookie domain.
func WithDomain(domain string) CookieOption {
	return func(c *cookieConfig) { c.domain = domain }
}

// WithSecure sets the cookie Secure flag.
func WithSecure(secure bool) CookieOption {
	return func(c *cookieConfig) { c.secure = secure }
}

// WithSameSite sets the cookie SameSite attribute.
func WithSameSite(sameSite http.SameSite) CookieOption {
	return func(c *cookieConfig) { c.sameSite = sameSite }
}

// WithAEAD replaces the AEAD constructor, e.g. with AES-GCM.
func WithAEAD(f func([]byte) (cipher.AEAD, error)) CookieOption {
	return func(c *cookieConfig) { c.newAEAD = f }
}

// WithCookieClock overrides the time source used for cookie expiry.
func WithCookieClock(now func() time.Time) CookieOption {
	return func(c *cookieConfig) { c.now = now }
}

// NewSealedCookie creates a SealedCookie. keys[0] seals new values; every key
// is accepted when opening.
//
// Defaults:
//   - Path: /
//   - HttpOnly: always
//   - Secure: true
//   - SameSite: Lax
//   - AEAD: XChaCha20-Poly1305
func NewSealedCookie(name string, keys [][]byte, opts ...CookieOption) (*SealedCookie, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty cookie name", ErrCookieConfig)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no keys", ErrCookieConfig)
	}
	cfg := cookieConfig{
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
		newAEAD:  chacha20poly1305.NewX,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.path == "" {
		cfg.path = "/"
	}

	sc := &SealedCookie{
		name:     name,
		path:     cfg.path,
		domain:   cfg.domain,
		secure:   cfg.secure,
		sameSite: cfg.sameSite,
		aeads:    make(map[string]cipher.AEAD, len(keys)),
		now:      cfg.now,
	}
	for i, k := range keys {
		aead, err := cfg.newAEAD(k)
		if err != nil {
			return nil, fmt.Errorf("%w: key %d: %v", ErrCookieConfig, i, err)
		}
		id := keyID(k)
		if i == 0 {
			sc.sealID = id
		}
		sc.aeads[id] = aead
	}
	return sc, nil
}

func keyID(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:4])
}

// Name returns the cookie name.
func (sc *SealedCookie) Name() string {
	return sc.name
}

func (sc *SealedCookie) aad() []byte {
	secure := "f"
	if sc.secure {
		secure = "t"
	}
	return []byte(sc.name + ":" + sc.domain + ":" + sc.path + ":" + secure)
}

// Seal serializes and encrypts v and returns a cookie that lives for maxAge.
func (sc *SealedCookie) Seal(v any, maxAge time.Duration) (*http.Cookie, error) {
	seconds := int(maxAge / time.Second)
	if seconds <= 0 {
		return nil, fmt.Errorf("%w: max age must be at least one second", ErrCookieConfig)
	}
	plain, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	aead := sc.aeads[sc.sealID]
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, plain, sc.aad())

	return &http.Cookie{
		Name:     sc.name,
		Value:    sc.sealID + "." + base64.RawURLEncoding.EncodeToString(sealed),
		Path:     sc.path,
		Domain:   sc.domain,
		MaxAge:   seconds,
		Expires:  sc.now().Add(time.Duration(seconds) * time.Second),
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sc.sameSite,
	}, nil
}

// Open reads the cookie from r and decrypts it into v. It returns
// http.ErrNoCookie when the request does not carry the cookie.
func (sc *SealedCookie) Open(r *http.Request, v any) error {
	c, err := r.Cookie(sc.name)
	if err != nil {
		return err
	}
	return sc.OpenValue(c.Value, v)
}

// OpenValue decrypts a raw cookie value into v.
func (sc *SealedCookie) OpenValue(value string, v any) error {
	if value == "" || len(value) > maxCookieLen {
		return ErrCookieFormat
	}
	id, enc, ok := strings.Cut(value, ".")
	if !ok || id == "" || enc == "" {
		return ErrCookieFormat
	}
	aead, ok := sc.aeads[id]
	if !ok {
		return ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return ErrCookieFormat
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, sc.aad())
	if err != nil {
		return ErrCookieInvalid
	}
	if err := cbor.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCookieInvalid, err)
	}
	return nil
}

// Clear returns a cookie that removes this cookie from the client.
func (sc *SealedCookie) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     sc.name,
		Value:    "",
		Path:     sc.path,
		Domain:   sc.domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sc.sameSite,
	}
}
