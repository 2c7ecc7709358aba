package testhelpers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v80/github"
	"github.com/justinas/alice"
)

// MockAPIServer is an upstream API that only accepts requests bearing its
// current token. Every other request is answered with 401.
type MockAPIServer struct {
	Server *httptest.Server

	mu         sync.Mutex
	validToken string
	lastAuth   string
	bodies     []string

	requests     atomic.Int32
	unauthorized atomic.Int32
}

// SetupMockAPIServer starts a MockAPIServer accepting "Bearer <validToken>".
// Authorized requests are answered with a JSON echo of the request. The
// server is closed when the test ends.
func SetupMockAPIServer(t *testing.T, validToken string) *MockAPIServer {
	t.Helper()

	mock := &MockAPIServer{validToken: validToken}

	chain := alice.New(mock.recordRequest, mock.requireToken)

	router := http.NewServeMux()
	router.Handle("/", chain.ThenFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, EchoResponse{
			Method: r.Method,
			Path:   r.URL.Path,
			Body:   mock.lastBody(),
		})
	}))

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// EchoResponse is the body returned by MockAPIServer for authorized requests.
type EchoResponse struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Body   string `json:"body"`
}

func (m *MockAPIServer) recordRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requests.Add(1)

		body, _ := io.ReadAll(r.Body)

		m.mu.Lock()
		m.lastAuth = r.Header.Get("Authorization")
		m.bodies = append(m.bodies, string(body))
		m.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (m *MockAPIServer) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		expected := "Bearer " + m.validToken
		m.mu.Unlock()

		if r.Header.Get("Authorization") != expected {
			m.unauthorized.Add(1)
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SetValidToken changes the token the server accepts, expiring the previous
// one.
func (m *MockAPIServer) SetValidToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validToken = token
}

// URL returns the base URL of the server.
func (m *MockAPIServer) URL() string {
	return m.Server.URL
}

// Requests returns the number of requests received.
func (m *MockAPIServer) Requests() int {
	return int(m.requests.Load())
}

// Unauthorized returns the number of requests rejected with 401.
func (m *MockAPIServer) Unauthorized() int {
	return int(m.unauthorized.Load())
}

// LastAuthorization returns the Authorization header of the last request.
func (m *MockAPIServer) LastAuthorization() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuth
}

// Bodies returns the request bodies received, in order.
func (m *MockAPIServer) Bodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.bodies...)
}

func (m *MockAPIServer) lastBody() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.bodies) == 0 {
		return ""
	}
	return m.bodies[len(m.bodies)-1]
}

// MockTokenServer is an OAuth2 token endpoint issuing a new access token for
// every client-credentials grant.
type MockTokenServer struct {
	Server *httptest.Server

	// Tokens are issued in order; once exhausted the last one repeats.
	Tokens []string

	// StatusCode overrides the response status when not 200.
	StatusCode int

	mu       sync.Mutex
	requests int
	form     map[string][]string
}

// SetupMockTokenServer starts a MockTokenServer at /oauth/token. The server
// is closed when the test ends.
func SetupMockTokenServer(t *testing.T, tokens ...string) *MockTokenServer {
	t.Helper()

	mock := &MockTokenServer{
		Tokens:     tokens,
		StatusCode: http.StatusOK,
	}

	router := http.NewServeMux()
	router.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		mock.mu.Lock()
		mock.requests++
		mock.form = r.PostForm
		n := mock.requests
		status := mock.StatusCode
		mock.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, `{"error":"invalid_client"}`, status)
			return
		}

		token := ""
		if len(mock.Tokens) > 0 {
			token = mock.Tokens[min(n, len(mock.Tokens))-1]
		}

		WriteJSON(w, map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// TokenURL returns the URL of the token endpoint.
func (m *MockTokenServer) TokenURL() string {
	return m.Server.URL + "/oauth/token"
}

// Requests returns the number of token requests received.
func (m *MockTokenServer) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// LastForm returns the form values of the last token request.
func (m *MockTokenServer) LastForm() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.form
}

// MockGitHubServer provides a configurable mock GitHub API server for testing.
type MockGitHubServer struct {
	Server       *httptest.Server
	Token        string    // Token to return from CreateAccessToken
	Expiry       time.Time // Expiry time for the token
	StatusCode   int       // HTTP status code to return (200 if not set)
	RequestCount int       // Number of requests received
}

// SetupMockGitHubServer creates a mock GitHub API server that handles token creation requests.
// Returns a MockGitHubServer with configurable response values and request tracking.
func SetupMockGitHubServer(t *testing.T) *MockGitHubServer {
	t.Helper()

	mock := &MockGitHubServer{
		Token:      "test-github-token",
		Expiry:     time.Now().Add(1 * time.Hour),
		StatusCode: http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("/app/installations/{installationID}/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		mock.RequestCount++

		if mock.StatusCode != http.StatusOK {
			w.WriteHeader(mock.StatusCode)
			return
		}

		expiryTimestamp := github.Timestamp{Time: mock.Expiry}
		token := &github.InstallationToken{
			Token:     &mock.Token,
			ExpiresAt: &expiryTimestamp,
		}

		WriteJSON(w, token)
	})

	mock.Server = httptest.NewServer(router)
	return mock
}

// Close shuts down the mock server.
func (m *MockGitHubServer) Close() {
	m.Server.Close()
}

// MockBuildkiteServer provides a configurable mock Buildkite API server for testing.
type MockBuildkiteServer struct {
	Server         *httptest.Server
	RepositoryURL  string // Repository URL to return from pipeline lookup
	StatusCode     int    // HTTP status code to return (200 if not set)
	RequestCount   int    // Number of requests received
	LastAuthHeader string // Captured Authorization header from last request
}

// SetupMockBuildkiteServer creates a mock Buildkite API server that handles pipeline lookups.
// Returns a MockBuildkiteServer with configurable response values and request tracking.
func SetupMockBuildkiteServer(t *testing.T) *MockBuildkiteServer {
	t.Helper()

	mock := &MockBuildkiteServer{
		RepositoryURL: "https://github.com/test-org/test-repo",
		StatusCode:    http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("/v2/organizations/{organization}/pipelines/{pipeline}", func(w http.ResponseWriter, r *http.Request) {
		mock.RequestCount++
		mock.LastAuthHeader = r.Header.Get("Authorization")

		if mock.StatusCode != http.StatusOK {
			w.WriteHeader(mock.StatusCode)
			return
		}

		pipeline := r.PathValue("pipeline")

		response := struct {
			Name       string `json:"name"`
			Slug       string `json:"slug"`
			Repository string `json:"repository"`
		}{
			Name:       pipeline,
			Slug:       pipeline,
			Repository: mock.RepositoryURL,
		}

		WriteJSON(w, response)
	})

	mock.Server = httptest.NewServer(router)
	return mock
}

// Close shuts down the mock server.
func (m *MockBuildkiteServer) Close() {
	m.Server.Close()
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
