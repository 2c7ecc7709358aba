package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingSection is returned when a client has no settings section.
	ErrMissingSection = errors.New("configuration section not set")

	// ErrInvalidSettings is returned when a settings section is unusable.
	ErrInvalidSettings = errors.New("invalid client settings")
)

// BaseSettings is the settings value of a client that sends no credentials.
type BaseSettings struct {
	URL string
}

func (s BaseSettings) BaseURL() string { return s.URL }

// BasicAuthSettings carries username/password credentials.
type BasicAuthSettings struct {
	BaseSettings
	Username string
	Password string
}

func (s BasicAuthSettings) Credentials() (string, string) { return s.Username, s.Password }

// BearerAuthSettings carries a static bearer token.
type BearerAuthSettings struct {
	BaseSettings
	Token string
}

func (s BearerAuthSettings) BearerToken() string { return s.Token }

// APISettings is a single client section of the settings document.
type APISettings struct {
	Name     string           `yaml:"-"`
	URL      string           `yaml:"baseUrl"`
	Username string           `yaml:"username,omitempty"`
	Password string           `yaml:"password,omitempty"`
	Token    string           `yaml:"token,omitempty"`
	Session  *SessionSettings `yaml:"session,omitempty"`
}

// SessionSettings selects a refreshable session for clients whose tokens
// expire. Exactly one provider block is expected, matching Provider.
type SessionSettings struct {
	// Provider is "oauth2" or "github".
	Provider string `yaml:"provider"`

	// CacheKey overrides the session cache key, allowing clients to share a
	// session. Defaults to the section name.
	CacheKey string `yaml:"cacheKey,omitempty"`

	OAuth2 *OAuth2Settings    `yaml:"oauth2,omitempty"`
	GitHub *GitHubAppSettings `yaml:"github,omitempty"`
}

// OAuth2Settings configures a client-credentials token source.
type OAuth2Settings struct {
	TokenURL     string            `yaml:"tokenUrl"`
	ClientID     string            `yaml:"clientId"`
	ClientSecret string            `yaml:"clientSecret"`
	Scopes       []string          `yaml:"scopes,omitempty"`
	Params       map[string]string `yaml:"params,omitempty"`
}

// GitHubAppSettings configures GitHub App installation token sessions.
type GitHubAppSettings struct {
	APIURL string `yaml:"apiUrl,omitempty"`

	PrivateKey    string `yaml:"privateKey,omitempty"`
	PrivateKeyARN string `yaml:"privateKeyArn,omitempty"`

	ApplicationID  int64 `yaml:"applicationId"`
	InstallationID int64 `yaml:"installationId"`

	// Repositories and Permissions narrow the installation token. Both are
	// optional; permissions are written as "<aspect>:<read|write>".
	Repositories []string `yaml:"repositories,omitempty"`
	Permissions  []string `yaml:"permissions,omitempty"`
}

// Settings returns the capability-specific view of the section: basic
// credentials win over a token, and a section with neither sends no
// Authorization header.
func (a APISettings) Settings() any {
	base := BaseSettings{URL: a.URL}

	switch {
	case a.Username != "" || a.Password != "":
		return BasicAuthSettings{BaseSettings: base, Username: a.Username, Password: a.Password}
	case a.Token != "":
		return BearerAuthSettings{BaseSettings: base, Token: a.Token}
	default:
		return base
	}
}

// SessionCacheKey is the cache key used for the session of this section.
func (a APISettings) SessionCacheKey() string {
	if a.Session != nil && a.Session.CacheKey != "" {
		return a.Session.CacheKey
	}
	return "session://" + a.Name
}

// Validate reports configuration faults in the section.
func (a APISettings) Validate() error {
	u, err := url.Parse(a.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: 'ApiSettings:%s' baseUrl must be an absolute URL, got %q", ErrInvalidSettings, a.Name, a.URL)
	}

	if a.Session == nil {
		return nil
	}

	switch a.Session.Provider {
	case "oauth2":
		o := a.Session.OAuth2
		if o == nil || o.TokenURL == "" || o.ClientID == "" {
			return fmt.Errorf("%w: 'ApiSettings:%s' oauth2 session requires tokenUrl and clientId", ErrInvalidSettings, a.Name)
		}
	case "github":
		g := a.Session.GitHub
		if g == nil || g.ApplicationID == 0 || g.InstallationID == 0 {
			return fmt.Errorf("%w: 'ApiSettings:%s' github session requires applicationId and installationId", ErrInvalidSettings, a.Name)
		}
		if g.PrivateKey == "" && g.PrivateKeyARN == "" {
			return fmt.Errorf("%w: 'ApiSettings:%s' github session requires privateKey or privateKeyArn", ErrInvalidSettings, a.Name)
		}
	default:
		return fmt.Errorf("%w: 'ApiSettings:%s' unknown session provider %q", ErrInvalidSettings, a.Name, a.Session.Provider)
	}

	return nil
}

// APISettingsDocument is the parsed settings file. Section names are matched
// case-insensitively.
type APISettingsDocument struct {
	sections map[string]APISettings
}

type apiSettingsFile struct {
	APISettings map[string]APISettings `yaml:"apiSettings"`
}

// LoadAPISettings reads the settings document at path. Environment
// references ($VAR or ${VAR}) in the file are expanded before parsing so
// secrets need not be written to disk.
func LoadAPISettings(path string) (*APISettingsDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open API settings file: %w", err)
	}
	defer f.Close()

	return ParseAPISettings(f)
}

// ParseAPISettings parses a settings document from r.
func ParseAPISettings(r io.Reader) (*APISettingsDocument, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("could not read API settings: %w", err)
	}

	var file apiSettingsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &file); err != nil {
		return nil, fmt.Errorf("could not parse API settings: %w", err)
	}

	doc := &APISettingsDocument{sections: make(map[string]APISettings, len(file.APISettings))}
	fold := cases.Fold()
	for name, section := range file.APISettings {
		key := fold.String(name)
		if _, exists := doc.sections[key]; exists {
			return nil, fmt.Errorf("%w: duplicate section 'ApiSettings:%s'", ErrInvalidSettings, name)
		}
		section.Name = name
		doc.sections[key] = section
	}

	return doc, nil
}

// LookupSection returns the validated section with the given name.
func (d *APISettingsDocument) LookupSection(name string) (APISettings, error) {
	section, ok := d.sections[cases.Fold().String(name)]
	if !ok {
		return APISettings{}, fmt.Errorf("configuration for 'ApiSettings:%s' is not set: %w", name, ErrMissingSection)
	}

	if err := section.Validate(); err != nil {
		return APISettings{}, err
	}

	return section, nil
}

// Names lists the section names in the document, sorted.
func (d *APISettingsDocument) Names() []string {
	names := make([]string, 0, len(d.sections))
	for _, s := range d.sections {
		names = append(names, s.Name)
	}
	slices.Sort(names)
	return names
}
