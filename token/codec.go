// Package token signs and verifies compact HS256 tokens.
//
// A token is three base64url segments joined by '.':
//
//	base64url(header) "." base64url(payload) "." base64url(HMAC-SHA256(header "." payload))
//
// The header is always {"alg":"HS256","typ":"JWT"}. It is never read back on
// verification; the signature covers the received header and payload segments
// exactly as they appear on the wire.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedToken   = errors.New("token: malformed token")
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrEmptySecret      = errors.New("token: empty secret")
)

// MaxLength bounds the size of a token accepted by Verify. Tokens travel in
// cookies, which browsers cap at around 4KB.
const MaxLength = 8192

// Header is the JOSE header carried by every token.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// DefaultHeader is the only header this package emits.
var DefaultHeader = Header{Alg: "HS256", Typ: "JWT"}

// Sign serializes payload as JSON and returns a signed compact token.
func Sign(payload any, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	hb, err := json.Marshal(DefaultHeader)
	if err != nil {
		return "", fmt.Errorf("token: encode header: %w", err)
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("token: encode payload: %w", err)
	}
	signingInput := Encode(hb) + "." + Encode(pb)
	return signingInput + "." + Encode(sign(signingInput, secret)), nil
}

// Verify checks the signature of tok and unmarshals its payload into dst.
//
// The payload JSON is only parsed after the signature has been checked.
// Verify does not look at any claim; expiry is the caller's concern.
func Verify(tok string, secret []byte, dst any) error {
	if len(secret) == 0 {
		return ErrEmptySecret
	}
	if len(tok) > MaxLength {
		return fmt.Errorf("%w: token exceeds %d bytes", ErrMalformedToken, MaxLength)
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}
	for i, p := range parts {
		if _, err := Decode(p); err != nil {
			return fmt.Errorf("%w: segment %d: %v", ErrMalformedToken, i, err)
		}
	}

	// Compare canonical encodings so that alternate spellings of the same
	// digest (non-zero trailing bits, explicit padding) are rejected too.
	expected := Encode(sign(parts[0]+"."+parts[1], secret))
	if !hmac.Equal([]byte(parts[2]), []byte(expected)) {
		return ErrInvalidSignature
	}

	pb, err := Decode(parts[1])
	if err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	if err := json.Unmarshal(pb, dst); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	return nil
}

func sign(signingInput string, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signingInput))
	return mac.Sum(nil)
}
