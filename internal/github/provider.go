// Package github provides GitHub App installation tokens as sessions.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/go-github/v80/github"
	"github.com/rs/zerolog/log"
	"github.com/thomasreuvers/apiease/internal/config"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Session is an installation access token.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Provider creates installation access tokens, authenticating as the GitHub
// App with a signed JWT.
type Provider struct {
	client         *github.Client
	installationID int64
	options        *github.InstallationTokenOptions
}

type providerConfig struct {
	base   http.RoundTripper
	signer ghinstallation.Signer
}

type ProviderOption func(*providerConfig)

// WithTransport sets the transport used for calls to the GitHub API.
func WithTransport(base http.RoundTripper) ProviderOption {
	return func(c *providerConfig) {
		if base != nil {
			c.base = base
		}
	}
}

// WithSigner replaces the signer derived from the settings' private key.
func WithSigner(signer ghinstallation.Signer) ProviderOption {
	return func(c *providerConfig) {
		c.signer = signer
	}
}

// NewProvider creates a Provider for the installation named in settings.
func NewProvider(ctx context.Context, settings config.GitHubAppSettings, opts ...ProviderOption) (*Provider, error) {
	cfg := &providerConfig{base: http.DefaultTransport}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.signer == nil {
		signer, err := createSigner(ctx, settings)
		if err != nil {
			return nil, fmt.Errorf("could not create signer for GitHub transport: %w", err)
		}
		cfg.signer = signer
	}

	// creating installation tokens is JWT authenticated, so the client uses
	// the AppsTransport
	appTransport, err := ghinstallation.NewAppsTransportWithOptions(
		cfg.base,
		settings.ApplicationID,
		ghinstallation.WithSigner(cfg.signer),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create GitHub transport: %w", err)
	}

	client := github.NewClient(&http.Client{Transport: appTransport})

	if settings.APIURL != "" {
		apiURL := settings.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		u, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", settings.APIURL, err)
		}
		client.BaseURL = u
	}

	var options *github.InstallationTokenOptions
	if len(settings.Repositories) > 0 || len(settings.Permissions) > 0 {
		options = &github.InstallationTokenOptions{Repositories: settings.Repositories}
		if len(settings.Permissions) > 0 {
			permissions, err := ScopesToPermissions(settings.Permissions)
			if err != nil {
				return nil, err
			}
			options.Permissions = permissions
		}
	}

	return &Provider{
		client:         client,
		installationID: settings.InstallationID,
		options:        options,
	}, nil
}

func (p *Provider) RefreshSession(ctx context.Context) (Session, error) {
	tok, r, err := p.client.Apps.CreateInstallationToken(ctx, p.installationID, p.options)
	if err != nil {
		return Session{}, fmt.Errorf("could not create installation token: %w", err)
	}

	log.Ctx(ctx).Info().
		Int64("installation_id", p.installationID).
		Int("limit", r.Rate.Limit).
		Int("remaining", r.Rate.Remaining).
		Msg("github token API rate")

	return Session{
		Token:     tok.GetToken(),
		ExpiresAt: tok.GetExpiresAt().Time,
	}, nil
}

func (p *Provider) AccessToken(s Session) string {
	return s.Token
}

func createSigner(ctx context.Context, settings config.GitHubAppSettings) (ghinstallation.Signer, error) {
	if settings.PrivateKeyARN != "" {
		return NewAWSKMSSigner(ctx, settings.PrivateKeyARN)
	}

	if settings.PrivateKey != "" {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(settings.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("could not parse private key: %w", err)
		}

		return ghinstallation.NewRSASigner(jwt.SigningMethodRS256, key), nil
	}

	return nil, errors.New("no private key configuration specified")
}

// ScopesToPermissions converts "<aspect>:<action>" scopes, such as
// "pull_requests:write", to installation permissions. Malformed or unknown
// scopes are skipped; it is an error for none to be valid.
func ScopesToPermissions(scopes []string) (*github.InstallationPermissions, error) {
	validScopes := 0
	validPermissionActions := []string{"read", "write"}

	permissions := &github.InstallationPermissions{}
	permissionsValue := reflect.ValueOf(permissions).Elem()

	for _, scope := range scopes {
		aspect, action, ok := strings.Cut(scope, ":")
		if !ok || strings.Contains(action, ":") {
			log.Warn().
				Str("scope", scope).
				Msg("malformed scope detected, skipping permission")
			continue
		}

		// struct fields are the PascalCase form of the snake_case aspect
		field := permissionsValue.FieldByName(snakeToPascalCase(aspect))

		if !field.IsValid() {
			log.Warn().
				Str("aspect", aspect).
				Msg("invalid permission aspect detected, skipping permission")
			continue
		}

		if !slices.Contains(validPermissionActions, action) {
			log.Warn().
				Str("permission", action).
				Msg("invalid permission action detected, skipping permission")
			continue
		}

		field.Set(reflect.ValueOf(github.Ptr(action)))
		validScopes++
	}

	if validScopes == 0 {
		return permissions, errors.New("no valid permissions found")
	}

	return permissions, nil
}

func snakeToPascalCase(input string) string {
	c := cases.Title(language.English)

	var result strings.Builder
	for part := range strings.SplitSeq(input, "_") {
		result.WriteString(c.String(part))
	}

	return result.String()
}
