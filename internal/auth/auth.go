// Package auth verifies the identity a connection claims during the
// authenticate handshake. Two modes exist: "none" trusts the declared
// identity (development and tests), "jwt" requires a signed token and takes
// the identity from its subject claim.
package auth

import (
	"errors"
	"fmt"
)

const (
	ModeNone = "none"
	ModeJWT  = "jwt"
)

var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidToken       = errors.New("auth: invalid token")
)

// Verifier resolves the claimed identity/token pair to a verified identity.
type Verifier interface {
	Verify(identity, token string) (string, error)
}

// NewVerifier selects the verifier for the configured auth mode.
func NewVerifier(mode, jwtSecret string) (Verifier, error) {
	switch mode {
	case ModeNone, "":
		return noneVerifier{}, nil
	case ModeJWT:
		if jwtSecret == "" {
			return nil, errors.New("auth: jwt mode requires a secret")
		}
		return &jwtVerifier{secret: []byte(jwtSecret)}, nil
	default:
		return nil, fmt.Errorf("auth: unknown auth mode %q", mode)
	}
}

type noneVerifier struct{}

func (noneVerifier) Verify(identity, _ string) (string, error) {
	if identity == "" {
		return "", ErrMissingCredentials
	}
	return identity, nil
}
