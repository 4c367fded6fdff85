package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"audiofetch/internal/auth"
)

const (
	// DefaultUserInfoURL is Google's OpenID Connect userinfo endpoint.
	DefaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	// DefaultIdentityField is the userinfo field used as identity.
	DefaultIdentityField = "email"

	defaultTimeout  = 5 * time.Second
	maxUserInfoBody = 1 << 20
)

// Option customises a validator.
type Option func(*options)

type options struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// WithHTTPClient overrides the base HTTP client used to reach the provider.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.client = client
		}
	}
}

// WithTimeout bounds each validation call.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithLogger records why tokens were rejected.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func resolveOptions(opts []Option) options {
	resolved := options{
		client:  &http.Client{},
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}
	return resolved
}

// UserInfoValidator resolves identities by calling an OpenID Connect userinfo
// endpoint with the caller's access token.
type UserInfoValidator struct {
	url   string
	field string
	opts  options
}

// NewUserInfoValidator constructs a validator for the given endpoint. An empty
// url or field falls back to the Google defaults. field may be a dotted path
// into nested objects.
func NewUserInfoValidator(url, field string, opts ...Option) *UserInfoValidator {
	url = strings.TrimSpace(url)
	if url == "" {
		url = DefaultUserInfoURL
	}
	field = strings.TrimSpace(field)
	if field == "" {
		field = DefaultIdentityField
	}
	return &UserInfoValidator{url: url, field: field, opts: resolveOptions(opts)}
}

// Validate implements auth.IdentityValidator.
func (v *UserInfoValidator) Validate(ctx context.Context, token string) (auth.Identity, error) {
	identity, err := v.fetch(ctx, token)
	if err != nil {
		v.opts.logger.Debug("userinfo rejected token", "error", err)
		return "", fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	return identity, nil
}

func (v *UserInfoValidator) fetch(ctx context.Context, token string) (auth.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return "", auth.ErrMissingToken
	}
	ctx, cancel := context.WithTimeout(ctx, v.opts.timeout)
	defer cancel()

	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, v.opts.client), source)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return "", fmt.Errorf("create userinfo request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(io.LimitReader(response.Body, maxUserInfoBody))
	if err != nil {
		return "", fmt.Errorf("read userinfo response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		snippet := string(bytes.TrimSpace(body))
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return "", fmt.Errorf("userinfo request failed with status %d: %s", response.StatusCode, snippet)
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode userinfo response: %w", err)
	}
	value, err := lookupProfileValue(parsed, v.field)
	if err != nil {
		return "", err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("profile field %s empty", v.field)
	}
	return auth.Identity(value), nil
}

func lookupProfileValue(data map[string]any, path string) (string, error) {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		typed, ok := current.(map[string]any)
		if !ok {
			return "", fmt.Errorf("profile field %s missing", path)
		}
		next, ok := typed[part]
		if !ok {
			return "", fmt.Errorf("profile field %s missing", path)
		}
		current = next
	}
	return stringFromAny(current), nil
}

func stringFromAny(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
