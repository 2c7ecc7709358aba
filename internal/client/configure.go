package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/thomasreuvers/apiease/internal/cache"
	"github.com/thomasreuvers/apiease/internal/config"
	"github.com/thomasreuvers/apiease/internal/github"
	"github.com/thomasreuvers/apiease/internal/oauth"
	"github.com/thomasreuvers/apiease/internal/retry"
	"github.com/thomasreuvers/apiease/internal/session"
	"golang.org/x/oauth2"
)

// Configured is a registry populated from a settings document, together with
// the session stores its clients use.
type Configured struct {
	*Registry

	ctx       context.Context
	cacheCfg  config.CacheConfig
	transport http.RoundTripper

	oauthStore  *session.Store[oauth2.Token]
	githubStore *session.Store[github.Session]
}

// Configure registers a client for every section in doc. Sections with a
// session block authenticate with refreshable sessions held in caches built
// from cfg.Cache; all others use their static credentials. Every client gets
// its own policy built from cfg.Retry, so circuit breakers are per upstream.
//
// The transport in opts (WithTransport) is also used for token requests.
func Configure(ctx context.Context, cfg config.Config, doc *config.APISettingsDocument, opts ...RegistryOption) (*Configured, error) {
	c := &Configured{
		Registry: NewRegistry(doc, opts...),
		ctx:      ctx,
		cacheCfg: cfg.Cache,
	}
	c.transport = c.Registry.base

	for _, name := range doc.Names() {
		settings, err := doc.LookupSection(name)
		if err != nil {
			return nil, errors.Join(err, c.Close())
		}

		policy, err := retry.NewFromConfig(cfg.Retry)
		if err != nil {
			return nil, errors.Join(err, c.Close())
		}

		auth, err := c.authFor(settings)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("client %s: %w", name, err), c.Close())
		}

		if _, err := c.Register(Registration{Name: name, Auth: auth, Policy: policy}); err != nil {
			return nil, errors.Join(err, c.Close())
		}
	}

	return c, nil
}

func (c *Configured) authFor(settings config.APISettings) (AuthFactory, error) {
	if settings.Session == nil {
		return nil, nil
	}

	switch settings.Session.Provider {
	case "oauth2":
		store, err := c.oauthSessions()
		if err != nil {
			return nil, err
		}
		provider := oauth.NewProvider(*settings.Session.OAuth2, &http.Client{Transport: c.transport})
		return SessionAuth(store, session.Provider[oauth2.Token](provider)), nil

	case "github":
		store, err := c.githubSessions()
		if err != nil {
			return nil, err
		}
		provider, err := github.NewProvider(c.ctx, *settings.Session.GitHub, github.WithTransport(c.transport))
		if err != nil {
			return nil, err
		}
		return SessionAuth(store, session.Provider[github.Session](provider)), nil

	default:
		return nil, fmt.Errorf("%w: unknown session provider %q", config.ErrInvalidSettings, settings.Session.Provider)
	}
}

func (c *Configured) oauthSessions() (*session.Store[oauth2.Token], error) {
	if c.oauthStore == nil {
		sc, err := cache.NewFromConfig[oauth2.Token](c.ctx, c.cacheCfg)
		if err != nil {
			return nil, fmt.Errorf("session cache configuration failed: %w", err)
		}
		c.oauthStore = session.NewStore(sc)
	}
	return c.oauthStore, nil
}

func (c *Configured) githubSessions() (*session.Store[github.Session], error) {
	if c.githubStore == nil {
		sc, err := cache.NewFromConfig[github.Session](c.ctx, c.cacheCfg)
		if err != nil {
			return nil, fmt.Errorf("session cache configuration failed: %w", err)
		}
		c.githubStore = session.NewStore(sc)
	}
	return c.githubStore, nil
}

// Close releases the session stores.
func (c *Configured) Close() error {
	var errs []error
	if c.oauthStore != nil {
		errs = append(errs, c.oauthStore.Close())
	}
	if c.githubStore != nil {
		errs = append(errs, c.githubStore.Close())
	}
	return errors.Join(errs...)
}
