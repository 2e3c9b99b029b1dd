// Package session mints and checks the signed session cookie.
//
// The session is entirely client-held: the cookie carries an HS256 token
// (see package token) whose payload is a Payload. Nothing is stored
// server-side, so a session ends when it expires, when the cookie is
// cleared, or when the signing secret is rotated.
package session

import "time"

// Identity is what the identity provider reports about a user.
type Identity struct {
	// Login is the provider's stable user handle.
	Login     string
	Name      string
	Email     string
	AvatarURL string
}

// Payload is the signed content of a session token.
//
// ExpiresAt is always IssuedAt plus the session lifetime.
type Payload struct {
	Subject     string `json:"sub"`
	DisplayName string `json:"name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar,omitempty"`
	IssuedAt    int64  `json:"iat"`
	ExpiresAt   int64  `json:"exp"`
}

// NewPayload builds the payload for id, issued at now.
// DisplayName falls back to the login when the provider has no name.
func NewPayload(id Identity, now time.Time, lifetime time.Duration) Payload {
	iat := now.Unix()
	name := id.Name
	if name == "" {
		name = id.Login
	}
	return Payload{
		Subject:     id.Login,
		DisplayName: name,
		Email:       id.Email,
		AvatarURL:   id.AvatarURL,
		IssuedAt:    iat,
		ExpiresAt:   iat + int64(lifetime/time.Second),
	}
}

// Expired reports whether p is no longer valid at now.
// A payload is valid only while ExpiresAt is strictly in the future.
func (p *Payload) Expired(now time.Time) bool {
	return p.ExpiresAt <= now.Unix()
}

// Expires returns ExpiresAt as a time.
func (p *Payload) Expires() time.Time {
	return time.Unix(p.ExpiresAt, 0)
}
