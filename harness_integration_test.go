//go:build integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thomasreuvers/apiease/internal/client"
	"github.com/thomasreuvers/apiease/internal/config"
	"github.com/thomasreuvers/apiease/internal/server"
	"github.com/thomasreuvers/apiease/internal/testhelpers"
)

// APITestHarness manages the complete test environment for API integration
// tests: an upstream for each kind of authentication, the identity servers
// issuing their sessions, and the API server proxying to them.
type APITestHarness struct {
	t      *testing.T
	Server *httptest.Server

	Clients *client.Configured

	// Orders authenticates with OAuth2 client-credentials sessions.
	OrdersAPI   *testhelpers.MockAPIServer
	TokenServer *testhelpers.MockTokenServer

	// Repos authenticates with GitHub App installation tokens.
	ReposAPI   *testhelpers.MockAPIServer
	GitHubMock *testhelpers.MockGitHubServer

	// Buildkite authenticates with a static token.
	BuildkiteMock *testhelpers.MockBuildkiteServer
}

// APITestHarnessOption configures the API test harness.
type APITestHarnessOption func(*config.Config)

// WithRetryPolicy sets the retry policy of every client.
func WithRetryPolicy(policy string, attempts int) APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.Retry.Policy = policy
		cfg.Retry.MaxAttempts = attempts
	}
}

const settingsTemplate = `
apiSettings:
  Orders:
    baseUrl: %s
    session:
      provider: oauth2
      oauth2:
        tokenUrl: %s
        clientId: orders-client
        clientSecret: orders-secret
        scopes: [orders.read]
  Repos:
    baseUrl: %s
    session:
      provider: github
      github:
        apiUrl: %s
        privateKey: |
%s
        applicationId: 12345
        installationId: 67890
  Buildkite:
    baseUrl: %s
    token: bk-token
`

// NewAPITestHarness creates a complete test harness with all mock servers
// and the API server. Cleanup is handled automatically via t.Cleanup().
func NewAPITestHarness(t *testing.T, options ...APITestHarnessOption) *APITestHarness {
	t.Helper()
	hooks := server.ShutdownHooks{}

	t.Cleanup(func() {
		hooks.Execute(t.Context())
	})

	harness := &APITestHarness{
		t:             t,
		TokenServer:   testhelpers.SetupMockTokenServer(t, "orders-t1", "orders-t2"),
		OrdersAPI:     testhelpers.SetupMockAPIServer(t, "orders-t1"),
		GitHubMock:    testhelpers.SetupMockGitHubServer(t),
		BuildkiteMock: testhelpers.SetupMockBuildkiteServer(t),
	}
	harness.ReposAPI = testhelpers.SetupMockAPIServer(t, harness.GitHubMock.Token)

	t.Cleanup(harness.GitHubMock.Close)
	t.Cleanup(harness.BuildkiteMock.Close)

	cfg := config.Config{
		Cache: config.CacheConfig{
			Type: "memory",
		},
		Retry: config.RetryConfig{
			Policy: "none",
		},
		Observe: config.ObserveConfig{
			Enabled: false, // Disable observability for tests
		},
	}

	for _, opt := range options {
		opt(&cfg)
	}

	settings, err := config.ParseAPISettings(strings.NewReader(fmt.Sprintf(settingsTemplate,
		harness.OrdersAPI.URL(),
		harness.TokenServer.TokenURL(),
		harness.ReposAPI.URL(),
		harness.GitHubMock.Server.URL,
		indent(testhelpers.GeneratePrivateKeyPEM(t), "          "),
		harness.BuildkiteMock.Server.URL,
	)))
	require.NoError(t, err)

	harness.Clients, err = client.Configure(t.Context(), cfg, settings)
	require.NoError(t, err)
	hooks.AddClose("clients", harness.Clients)

	harness.Server = httptest.NewServer(configureServerRoutes(harness.Clients))
	hooks.AddContext("api-server", func(_ context.Context) error {
		harness.Server.Close()
		return nil
	})

	return harness
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// Client returns a TestClient configured for this harness.
func (h *APITestHarness) Client() *TestClient {
	return &TestClient{
		baseURL: h.Server.URL,
		client:  http.DefaultClient,
	}
}

// TestClient provides access to the proxy endpoints for testing.
type TestClient struct {
	baseURL string
	client  *http.Client
}

// Response wraps raw HTTP response for low-level assertions.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Request performs a low-level HTTP request and returns the raw response.
func (c *TestClient) Request(method, path string, body io.Reader) (*Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       bodyBytes,
		Headers:    resp.Header,
	}, nil
}

// Echo sends a request through the proxy to an upstream answering with
// testhelpers.EchoResponse.
func (c *TestClient) Echo(method, path string, body io.Reader) (*testhelpers.EchoResponse, error) {
	resp, err := c.Request(method, path, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, resp.Body)
	}

	var echo testhelpers.EchoResponse
	if err := json.Unmarshal(resp.Body, &echo); err != nil {
		return nil, fmt.Errorf("unmarshal echo response: %w", err)
	}

	return &echo, nil
}
