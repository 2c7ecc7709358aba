package client

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/thomasreuvers/apiease/internal/authheader"
	"github.com/thomasreuvers/apiease/internal/config"
	"github.com/thomasreuvers/apiease/internal/retry"
	"github.com/thomasreuvers/apiease/internal/session"
	"golang.org/x/text/cases"
)

// ErrDuplicateClient is returned when a client name is registered twice.
var ErrDuplicateClient = errors.New("client already registered")

// AuthFactory creates the authenticating transport for a client, sending
// requests through base.
type AuthFactory func(settings config.APISettings, base http.RoundTripper) (http.RoundTripper, error)

// StaticAuth attaches the header derived from the section's credentials to
// every request. It is the default for registrations without an AuthFactory.
func StaticAuth(settings config.APISettings, base http.RoundTripper) (http.RoundTripper, error) {
	return authheader.NewTransport(settings.Settings(), base), nil
}

// SessionAuth authenticates with sessions from provider, held in store under
// the section's session cache key.
func SessionAuth[T any](store *session.Store[T], provider session.Provider[T]) AuthFactory {
	return func(settings config.APISettings, base http.RoundTripper) (http.RoundTripper, error) {
		return session.NewTransport(settings.SessionCacheKey(), store, provider, session.WithBase(base)), nil
	}
}

// Registration describes a client to build.
type Registration struct {
	// Name selects the settings section 'ApiSettings:<Name>'.
	Name string

	// Settings overrides the section from the settings document.
	Settings *config.APISettings

	// Auth creates the authenticating transport. Defaults to StaticAuth.
	Auth AuthFactory

	// Policy overrides the registry's default policy.
	Policy retry.Policy

	// ExceptionHandler receives faults escaping the policy. Defaults to
	// retry.Rethrow.
	ExceptionHandler retry.ExceptionHandler
}

// Registry builds and holds the clients of an application.
type Registry struct {
	settings   *config.APISettingsDocument
	base       http.RoundTripper
	instrument func(http.RoundTripper) http.RoundTripper
	policy     retry.Policy

	mu      sync.RWMutex
	clients map[string]*Base
}

type RegistryOption func(*Registry)

// WithTransport sets the transport beneath every client's authentication.
// Defaults to http.DefaultTransport.
func WithTransport(base http.RoundTripper) RegistryOption {
	return func(r *Registry) {
		if base != nil {
			r.base = base
		}
	}
}

// WithInstrumentation wraps every client's authenticating transport, so one
// observation covers the original request and any re-send after a refresh.
func WithInstrumentation(wrap func(http.RoundTripper) http.RoundTripper) RegistryOption {
	return func(r *Registry) {
		r.instrument = wrap
	}
}

// WithPolicy sets the policy for registrations that do not name one.
// Defaults to retry.NoOp.
func WithPolicy(policy retry.Policy) RegistryOption {
	return func(r *Registry) {
		if policy != nil {
			r.policy = policy
		}
	}
}

// NewRegistry creates a Registry resolving sections from settings.
func NewRegistry(settings *config.APISettingsDocument, opts ...RegistryOption) *Registry {
	r := &Registry{
		settings: settings,
		base:     http.DefaultTransport,
		policy:   retry.NoOp,
		clients:  map[string]*Base{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register builds the client described by reg. A missing or invalid settings
// section is reported here rather than on first use.
func (r *Registry) Register(reg Registration) (*Base, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cases.Fold().String(reg.Name)
	if _, exists := r.clients[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClient, reg.Name)
	}

	settings, err := r.section(reg)
	if err != nil {
		return nil, err
	}

	auth := reg.Auth
	if auth == nil {
		auth = StaticAuth
	}

	transport, err := auth(settings, r.base)
	if err != nil {
		return nil, fmt.Errorf("could not create authentication for client %s: %w", reg.Name, err)
	}
	if r.instrument != nil {
		transport = r.instrument(transport)
	}

	policy := reg.Policy
	if policy == nil {
		policy = r.policy
	}

	client, err := NewBase(reg.Name, settings.URL, transport, retry.New(policy, retry.WithExceptionHandler(reg.ExceptionHandler)))
	if err != nil {
		return nil, err
	}

	r.clients[key] = client

	log.Info().
		Str("client", reg.Name).
		Str("base_url", settings.URL).
		Str("auth", authKind(reg, settings)).
		Msg("client registered")

	return client, nil
}

func (r *Registry) section(reg Registration) (config.APISettings, error) {
	if reg.Settings != nil {
		s := *reg.Settings
		if s.Name == "" {
			s.Name = reg.Name
		}
		return s, s.Validate()
	}

	if r.settings == nil {
		return config.APISettings{}, fmt.Errorf("configuration for 'ApiSettings:%s' is not set: %w", reg.Name, config.ErrMissingSection)
	}

	return r.settings.LookupSection(reg.Name)
}

// Client returns the registered client with the given name, matched
// case-insensitively.
func (r *Registry) Client(name string) (*Base, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[cases.Fold().String(name)]
	return c, ok
}

// Names lists the registered client names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		names = append(names, c.Name())
	}
	slices.Sort(names)
	return names
}

func authKind(reg Registration, settings config.APISettings) string {
	if reg.Auth != nil {
		return "custom"
	}
	return authheader.Classify(settings.Settings()).String()
}
