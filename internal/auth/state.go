// Package auth holds the identity-provider side of sign-in: OAuth state
// tokens, the Google provider and the session middleware.
//
// SIGN-IN FLOW OVERVIEW:
// 1. User visits /auth/google/login. The server sets a nonce cookie and
//    redirects to Google with a signed state token carrying the same nonce.
// 2. Google redirects to /auth/callback. The callback page posts its full
//    URL, hash included, back to the server.
// 3. The resolver asks GoogleProvider for the session: state is verified
//    against the nonce cookie and the code is exchanged for a token.
// 4. The identity is written to the auth cookie and the Profile Gate
//    decides where the user lands.
//
// WHY A SIGNED STATE TOKEN?
// The state parameter round-trips through the provider. Signing it means the
// server needs no storage to recognise its own logins, and binding it to a
// nonce cookie means a state captured from one browser is useless in another.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	stateIssuer = "job-tracker-web"

	// StateTTL bounds how long a user may sit on the provider's consent screen.
	StateTTL = 10 * time.Minute
)

// StateTokens issues and verifies OAuth state tokens.
type StateTokens struct {
	secret []byte
	now    func() time.Time
}

func NewStateTokens(secret []byte) (*StateTokens, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: state secret must be at least 16 bytes")
	}
	return &StateTokens{secret: secret, now: time.Now}, nil
}

type stateClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// Generate signs a state token bound to nonce.
func (s *StateTokens) Generate(nonce string) (string, error) {
	return s.GenerateWithDuration(nonce, StateTTL)
}

// GenerateWithDuration is Generate with a custom lifetime. Used in tests.
func (s *StateTokens) GenerateWithDuration(nonce string, d time.Duration) (string, error) {
	if nonce == "" {
		return "", errors.New("auth: state nonce is empty")
	}

	now := s.now()
	c := stateClaims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    stateIssuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing state: %w", err)
	}
	return signed, nil
}

// Validate verifies token and checks that it was issued for nonce.
func (s *StateTokens) Validate(token, nonce string) error {
	if token == "" {
		return errors.New("auth: state is missing")
	}
	if nonce == "" {
		return errors.New("auth: login nonce is missing")
	}

	parsed, err := jwt.ParseWithClaims(
		token,
		&stateClaims{},
		func(t *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return errors.New("auth: state expired")
		}
		return fmt.Errorf("auth: invalid state: %w", err)
	}

	c, ok := parsed.Claims.(*stateClaims)
	if !ok || !parsed.Valid {
		return errors.New("auth: invalid state claims")
	}
	if c.Nonce != nonce {
		return errors.New("auth: state does not match this browser")
	}
	return nil
}
