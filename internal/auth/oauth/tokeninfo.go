package oauth

import (
	"context"
	"fmt"
	"strings"

	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"audiofetch/internal/auth"
)

// TokenInfoValidator introspects access tokens through Google's tokeninfo
// endpoint. When an audience is configured the token must have been issued to
// it.
type TokenInfoValidator struct {
	service  *oauth2api.Service
	audience string
	opts     options
}

// NewTokenInfoValidator builds a validator. endpoint overrides the Google API
// base URL and is normally empty outside tests.
func NewTokenInfoValidator(ctx context.Context, endpoint, audience string, opts ...Option) (*TokenInfoValidator, error) {
	resolved := resolveOptions(opts)
	clientOpts := []option.ClientOption{option.WithHTTPClient(resolved.client)}
	if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
		if !strings.HasSuffix(endpoint, "/") {
			endpoint += "/"
		}
		clientOpts = append(clientOpts, option.WithEndpoint(endpoint))
	}
	service, err := oauth2api.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create tokeninfo service: %w", err)
	}
	return &TokenInfoValidator{
		service:  service,
		audience: strings.TrimSpace(audience),
		opts:     resolved,
	}, nil
}

// Validate implements auth.IdentityValidator.
func (v *TokenInfoValidator) Validate(ctx context.Context, token string) (auth.Identity, error) {
	identity, err := v.introspect(ctx, token)
	if err != nil {
		v.opts.logger.Debug("tokeninfo rejected token", "error", err)
		return "", fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	return identity, nil
}

func (v *TokenInfoValidator) introspect(ctx context.Context, token string) (auth.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return "", auth.ErrMissingToken
	}
	ctx, cancel := context.WithTimeout(ctx, v.opts.timeout)
	defer cancel()

	info, err := v.service.Tokeninfo().AccessToken(token).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("tokeninfo: %w", err)
	}
	if v.audience != "" && info.Audience != v.audience && info.IssuedTo != v.audience {
		return "", fmt.Errorf("token audience %q not accepted", info.Audience)
	}
	email := strings.TrimSpace(info.Email)
	if email == "" {
		return "", fmt.Errorf("tokeninfo response has no email")
	}
	return auth.Identity(email), nil
}
