// Package auth verifies bearer credentials issued by the identity provider.
package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer is the token issuer of the identity provider.
const DefaultIssuer = "privy.io"

var (
	// ErrInvalidToken is returned for any token that fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

type contextKey string

const userIDKey contextKey = "auth.user_id"

// Verifier checks ES256-signed access tokens against the provider's P-256
// public key, pinning issuer and audience.
type Verifier struct {
	key      *ecdsa.PublicKey
	issuer   string
	audience string
}

// NewVerifier parses a PEM (SPKI) encoded P-256 public key and builds a
// verifier bound to the given application id as audience.
func NewVerifier(publicKeyPEM, appID, issuer string) (*Verifier, error) {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if appID == "" {
		return nil, errors.New("app id required")
	}

	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("verification key is not PEM encoded")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse verification key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("verification key is not an ECDSA public key")
	}

	return &Verifier{key: key, issuer: issuer, audience: appID}, nil
}

// Verify validates the token and returns the subject claim, the owning-user
// key used throughout the service.
func (v *Verifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return v.key, nil
		},
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{"ES256"}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// WithUserID stores the authenticated user id in the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID retrieves the authenticated user id from the context.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
