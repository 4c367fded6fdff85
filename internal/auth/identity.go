// Package auth gates requests: the shared-secret check and the contract for
// turning a bearer token into a caller identity.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrMissingToken is returned when a request carries no bearer token.
var ErrMissingToken = errors.New("bearer token missing")

// ErrInvalidToken is wrapped by every validator failure: non-success
// responses, missing identity fields, and transport errors alike.
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the caller derived from a validated token, normally an email
// address.
type Identity string

func (i Identity) String() string {
	return string(i)
}

// IdentityValidator resolves a bearer token to an Identity. Implementations
// must return an error wrapping ErrInvalidToken on any failure.
type IdentityValidator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// ValidatorFunc adapts a function to IdentityValidator.
type ValidatorFunc func(ctx context.Context, token string) (Identity, error)

func (f ValidatorFunc) Validate(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// ExtractBearerToken returns the token from an "Authorization: Bearer" header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
