package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Keys are the independent secrets derived from SESSION_SECRET.
type Keys struct {
	// Cookie signs the authentication cookie.
	Cookie []byte
	// State signs OAuth state tokens.
	State []byte
}

const keyLen = 32

// DeriveKeys expands one operator-supplied secret into per-purpose keys, so
// a state token can never be replayed as a cookie signature or vice versa.
func DeriveKeys(secret string) (Keys, error) {
	if len(secret) < 16 {
		return Keys{}, errors.New("auth: session secret must be at least 16 characters")
	}

	cookie, err := derive(secret, "job-tracker-web cookie v1")
	if err != nil {
		return Keys{}, err
	}
	state, err := derive(secret, "job-tracker-web oauth-state v1")
	if err != nil {
		return Keys{}, err
	}
	return Keys{Cookie: cookie, State: state}, nil
}

func derive(secret, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("auth: deriving %q key: %w", info, err)
	}
	return key, nil
}
