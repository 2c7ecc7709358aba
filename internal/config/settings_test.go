package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thomasreuvers/apiease/internal/authheader"
	"github.com/thomasreuvers/apiease/internal/config"
)

const settingsDocument = `
apiSettings:
  Buildkite:
    baseUrl: https://api.buildkite.com/
    token: ${TEST_BUILDKITE_TOKEN}
  legacy:
    baseUrl: https://legacy.example.com/
    username: user
    password: pass
  public:
    baseUrl: https://public.example.com/
  identity:
    baseUrl: https://identity.example.com/
    session:
      provider: oauth2
      oauth2:
        tokenUrl: https://identity.example.com/oauth/token
        clientId: client
        clientSecret: secret
        scopes: [read]
  broken:
    baseUrl: not-a-url
`

func parse(t *testing.T) *config.APISettingsDocument {
	t.Helper()
	t.Setenv("TEST_BUILDKITE_TOKEN", "bk-token")

	doc, err := config.ParseAPISettings(strings.NewReader(settingsDocument))
	require.NoError(t, err)
	return doc
}

func TestLookupSection_CaseInsensitive(t *testing.T) {
	doc := parse(t)

	section, err := doc.LookupSection("buildkite")
	require.NoError(t, err)

	assert.Equal(t, "Buildkite", section.Name)
	assert.Equal(t, "https://api.buildkite.com/", section.URL)
	assert.Equal(t, "bk-token", section.Token, "environment references should be expanded")
}

func TestLookupSection_Missing(t *testing.T) {
	doc := parse(t)

	_, err := doc.LookupSection("Stripe")

	assert.ErrorIs(t, err, config.ErrMissingSection)
	assert.ErrorContains(t, err, "configuration for 'ApiSettings:Stripe' is not set")
}

func TestLookupSection_InvalidBaseURL(t *testing.T) {
	doc := parse(t)

	_, err := doc.LookupSection("broken")

	assert.ErrorIs(t, err, config.ErrInvalidSettings)
	assert.ErrorContains(t, err, "baseUrl must be an absolute URL")
}

func TestAPISettings_SettingsCapabilities(t *testing.T) {
	doc := parse(t)

	cases := []struct {
		section string
		kind    authheader.Kind
	}{
		{"buildkite", authheader.KindBearer},
		{"legacy", authheader.KindBasic},
		{"public", authheader.KindNone},
	}

	for _, tc := range cases {
		t.Run(tc.section, func(t *testing.T) {
			section, err := doc.LookupSection(tc.section)
			require.NoError(t, err)

			settings := section.Settings()
			assert.Equal(t, tc.kind, authheader.Classify(settings))
			assert.Equal(t, section.URL, settings.(authheader.Settings).BaseURL())
		})
	}
}

func TestAPISettings_SessionCacheKey(t *testing.T) {
	doc := parse(t)

	section, err := doc.LookupSection("identity")
	require.NoError(t, err)
	assert.Equal(t, "session://identity", section.SessionCacheKey())

	section.Session.CacheKey = "shared-identity"
	assert.Equal(t, "shared-identity", section.SessionCacheKey())
}

func TestAPISettings_ValidateSession(t *testing.T) {
	cases := []struct {
		name    string
		session *config.SessionSettings
		message string
	}{
		{"oauth2 missing block", &config.SessionSettings{Provider: "oauth2"}, "requires tokenUrl and clientId"},
		{"github missing ids", &config.SessionSettings{Provider: "github", GitHub: &config.GitHubAppSettings{PrivateKey: "k"}}, "requires applicationId and installationId"},
		{"github missing key", &config.SessionSettings{Provider: "github", GitHub: &config.GitHubAppSettings{ApplicationID: 1, InstallationID: 2}}, "requires privateKey or privateKeyArn"},
		{"unknown provider", &config.SessionSettings{Provider: "saml"}, "unknown session provider"},
		{"github valid", &config.SessionSettings{Provider: "github", GitHub: &config.GitHubAppSettings{ApplicationID: 1, InstallationID: 2, PrivateKeyARN: "arn"}}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := config.APISettings{Name: "x", URL: "https://x.example.com", Session: tc.session}.Validate()
			if tc.message == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, config.ErrInvalidSettings)
			assert.ErrorContains(t, err, tc.message)
		})
	}
}

func TestParseAPISettings_DuplicateSection(t *testing.T) {
	_, err := config.ParseAPISettings(strings.NewReader(`
apiSettings:
  GitHub:
    baseUrl: https://api.github.com/
  github:
    baseUrl: https://api.github.com/
`))

	assert.ErrorIs(t, err, config.ErrInvalidSettings)
	assert.ErrorContains(t, err, "duplicate section")
}

func TestLoadAPISettings_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apisettings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("apiSettings:\n  public:\n    baseUrl: https://public.example.com/\n"), 0o600))

	doc, err := config.LoadAPISettings(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"public"}, doc.Names())
}

func TestLoadAPISettings_MissingFile(t *testing.T) {
	_, err := config.LoadAPISettings(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.ErrorContains(t, err, "could not open API settings file")
}
