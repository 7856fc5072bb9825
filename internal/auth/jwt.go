package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// jwtVerifier validates an HS256 token and binds the connection to the
// token's subject. A declared identity, if present, must match the subject;
// a mismatch is rejected rather than silently overridden.
type jwtVerifier struct {
	secret []byte
}

func (v *jwtVerifier) Verify(identity, token string) (string, error) {
	if token == "" {
		return "", ErrMissingCredentials
	}

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	if identity != "" && identity != claims.Subject {
		return "", fmt.Errorf("%w: subject mismatch", ErrInvalidToken)
	}
	return claims.Subject, nil
}
