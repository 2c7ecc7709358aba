package buildkite_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thomasreuvers/apiease/internal/buildkite"
	"github.com/thomasreuvers/apiease/internal/client"
	"github.com/thomasreuvers/apiease/internal/config"
	"github.com/thomasreuvers/apiease/internal/retry"
	"github.com/thomasreuvers/apiease/internal/testhelpers"
)

func newLookup(t *testing.T, url string, policy retry.Policy) buildkite.PipelineLookup {
	t.Helper()

	registry := client.NewRegistry(nil, client.WithPolicy(policy))
	base, err := registry.Register(client.Registration{
		Name: buildkite.ClientName,
		Settings: &config.APISettings{
			URL:   url,
			Token: "bk-token",
		},
	})
	require.NoError(t, err)

	return buildkite.New(base)
}

func TestRepositoryLookup_Succeeds(t *testing.T) {
	mock := testhelpers.SetupMockBuildkiteServer(t)
	defer mock.Close()

	lookup := newLookup(t, mock.Server.URL, nil)

	repo, err := lookup.RepositoryLookup(t.Context(), "test-org", "test-pipeline")

	require.NoError(t, err)
	assert.Equal(t, "https://github.com/test-org/test-repo", repo)
	assert.Equal(t, "Bearer bk-token", mock.LastAuthHeader)
	assert.Equal(t, 1, mock.RequestCount)
}

func TestRepositoryLookup_NoRepository(t *testing.T) {
	mock := testhelpers.SetupMockBuildkiteServer(t)
	defer mock.Close()
	mock.RepositoryURL = ""

	lookup := newLookup(t, mock.Server.URL, nil)

	_, err := lookup.RepositoryLookup(t.Context(), "test-org", "test-pipeline")

	assert.ErrorContains(t, err, "no configured repository for pipeline test-org/test-pipeline")
}

func TestRepositoryLookup_NotFoundIsNotRetried(t *testing.T) {
	mock := testhelpers.SetupMockBuildkiteServer(t)
	defer mock.Close()
	mock.StatusCode = http.StatusNotFound

	lookup := newLookup(t, mock.Server.URL, retry.Attempts(3, time.Millisecond))

	_, err := lookup.RepositoryLookup(t.Context(), "test-org", "missing")

	assert.ErrorContains(t, err, "failed to get pipeline called test-org/missing")
	assert.Equal(t, 1, mock.RequestCount)
}

func TestRepositoryLookup_ServerErrorIsRetried(t *testing.T) {
	mock := testhelpers.SetupMockBuildkiteServer(t)
	defer mock.Close()
	mock.StatusCode = http.StatusBadGateway

	lookup := newLookup(t, mock.Server.URL, retry.Attempts(3, time.Millisecond))

	_, err := lookup.RepositoryLookup(t.Context(), "test-org", "test-pipeline")

	assert.Error(t, err)
	assert.Equal(t, 3, mock.RequestCount)
}
