package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

// Claims are the token claims the dashboard reads.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the claims of a JWT without verifying its signature.
// Only use the result for display and expiry hints; authorization goes
// through the OIDC verifier.
func ParseClaims(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// TokenSource yields the current access token.
type TokenSource interface {
	AccessToken() string
}

// TokenIntrospector answers the JWT status check locally from the token's
// claims. It is used when the backend has no introspection RPC.
type TokenIntrospector struct {
	tokens TokenSource
	now    func() time.Time
}

// NewTokenIntrospector creates an introspector over tokens.
func NewTokenIntrospector(tokens TokenSource) *TokenIntrospector {
	return &TokenIntrospector{tokens: tokens, now: time.Now}
}

// JWTStatus reports whether a parseable JWT is present and whether its exp
// claim has passed.
func (t *TokenIntrospector) JWTStatus(context.Context) (models.JWTStatus, error) {
	raw := t.tokens.AccessToken()
	if raw == "" {
		return models.JWTStatus{}, nil
	}
	claims, err := ParseClaims(raw)
	if err != nil {
		return models.JWTStatus{}, nil
	}
	status := models.JWTStatus{JWTPresent: true}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(t.now()) {
		status.IsExpired = true
	}
	return status, nil
}
