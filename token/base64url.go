package token

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrEncoding is returned by Decode for input that is not base64url.
var ErrEncoding = errors.New("token: invalid base64url encoding")

// Encode returns the base64url encoding of b with trailing padding removed.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode reverses Encode.
//
// Padding is restored to a multiple of four before decoding, so both padded
// and unpadded input is accepted. Characters outside the URL-safe alphabet
// (including '+', '/' and line breaks) are rejected.
func Decode(s string) ([]byte, error) {
	if strings.ContainsAny(s, "\r\n") {
		return nil, ErrEncoding
	}
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Join(ErrEncoding, err)
	}
	return b, nil
}
