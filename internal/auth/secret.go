package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"
)

// DenialReason classifies why a supplied secret was refused.
type DenialReason string

const (
	DenialMissing   DenialReason = "missing"
	DenialMalformed DenialReason = "malformed"
	DenialMismatch  DenialReason = "mismatch"
)

// SecretDenial is returned by SecretGate.Authorize when the caller's secret is
// not accepted.
type SecretDenial struct {
	Reason DenialReason
}

func (d *SecretDenial) Error() string {
	switch d.Reason {
	case DenialMissing:
		return "no secret provided"
	case DenialMalformed:
		return "secret is not valid base64 text"
	default:
		return "secret does not match"
	}
}

// ErrSecretRequired is returned by NewSecretGate when the server secret is empty.
var ErrSecretRequired = errors.New("server secret is required")

// SecretGate compares a caller-supplied base64 secret with the server secret.
// It holds no per-request state and is safe for concurrent use.
type SecretGate struct {
	secret []byte
}

// NewSecretGate builds a gate for the provided server secret.
func NewSecretGate(secret string) (*SecretGate, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}
	return &SecretGate{secret: []byte(secret)}, nil
}

// Authorize returns nil when encoded decodes to the server secret and a
// *SecretDenial otherwise.
func (g *SecretGate) Authorize(encoded string) error {
	if strings.TrimSpace(encoded) == "" {
		return &SecretDenial{Reason: DenialMissing}
	}
	decoded, ok := decodeSecret(encoded)
	if !ok {
		return &SecretDenial{Reason: DenialMalformed}
	}
	if subtle.ConstantTimeCompare(decoded, g.secret) != 1 {
		return &SecretDenial{Reason: DenialMismatch}
	}
	return nil
}

var secretEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.RawURLEncoding,
}

// decodeSecret accepts standard and URL-safe alphabets with or without
// padding. Query strings decode '+' to a space, so spaces are read back as '+'.
func decodeSecret(encoded string) ([]byte, bool) {
	normalized := strings.ReplaceAll(strings.TrimSpace(encoded), " ", "+")
	for _, encoding := range secretEncodings {
		decoded, err := encoding.DecodeString(normalized)
		if err != nil {
			continue
		}
		if !utf8.Valid(decoded) {
			return nil, false
		}
		return decoded, true
	}
	return nil, false
}

// DenialFrom extracts the denial reason from err when it is a *SecretDenial.
func DenialFrom(err error) (DenialReason, bool) {
	var denial *SecretDenial
	if errors.As(err, &denial) {
		return denial.Reason, true
	}
	return "", false
}
