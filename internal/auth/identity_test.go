package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "missing", header: "", wantErr: true},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantErr: true},
		{name: "scheme only", header: "Bearer", wantErr: true},
		{name: "empty token", header: "Bearer   ", wantErr: true},
		{name: "bearer", header: "Bearer abc.def", want: "abc.def"},
		{name: "case insensitive scheme", header: "bearer   tok  ", want: "tok"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rate-limit", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			got, err := ExtractBearerToken(req)
			if tc.wantErr {
				if !errors.Is(err, ErrMissingToken) {
					t.Fatalf("expected ErrMissingToken, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected token %q, got %q", tc.want, got)
			}
		})
	}
}

func TestValidatorFunc(t *testing.T) {
	var validator IdentityValidator = ValidatorFunc(func(_ context.Context, token string) (Identity, error) {
		if token == "good" {
			return Identity("alice@example.com"), nil
		}
		return "", ErrInvalidToken
	})

	identity, err := validator.Validate(context.Background(), "good")
	if err != nil || identity.String() != "alice@example.com" {
		t.Fatalf("unexpected result %q, %v", identity, err)
	}
	if _, err := validator.Validate(context.Background(), "bad"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
