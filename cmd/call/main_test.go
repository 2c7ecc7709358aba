package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thomasreuvers/apiease/internal/buildkite"
	"github.com/thomasreuvers/apiease/internal/client"
	"github.com/thomasreuvers/apiease/internal/config"
	"github.com/thomasreuvers/apiease/internal/testhelpers"
)

func TestParsePipeline(t *testing.T) {
	tests := []struct {
		name         string
		pipeline     string
		expectedOrg  string
		expectedSlug string
		expectedErr  string
	}{
		{name: "valid", pipeline: "acme/deploy", expectedOrg: "acme", expectedSlug: "deploy"},
		{name: "hyphenated slugs", pipeline: "acme-corp/deploy-prod", expectedOrg: "acme-corp", expectedSlug: "deploy-prod"},
		{name: "no separator", pipeline: "acme", expectedErr: `invalid pipeline "acme"`},
		{name: "missing organization", pipeline: "/deploy", expectedErr: "expected <organization>/<pipeline>"},
		{name: "missing pipeline", pipeline: "acme/", expectedErr: "expected <organization>/<pipeline>"},
		{name: "too many segments", pipeline: "acme/deploy/extra", expectedErr: "expected <organization>/<pipeline>"},
		{name: "empty", pipeline: "", expectedErr: "expected <organization>/<pipeline>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			org, slug, err := parsePipeline(tt.pipeline)

			if tt.expectedErr != "" {
				require.ErrorContains(t, err, tt.expectedErr)
				assert.Empty(t, org)
				assert.Empty(t, slug)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedOrg, org)
			assert.Equal(t, tt.expectedSlug, slug)
		})
	}
}

func TestLookupPipeline_ClientNotConfigured(t *testing.T) {
	registry := client.NewRegistry(nil)
	var out bytes.Buffer

	err := lookupPipeline(t.Context(), registry, "acme/deploy", &out)

	require.ErrorContains(t, err, "client Buildkite is not configured")
	assert.Empty(t, out.String())
}

func TestLookupPipeline_InvalidPipelineSkipsLookup(t *testing.T) {
	mock := testhelpers.SetupMockBuildkiteServer(t)
	defer mock.Close()

	registry := newBuildkiteRegistry(t, mock.Server.URL)
	var out bytes.Buffer

	err := lookupPipeline(t.Context(), registry, "acme", &out)

	require.ErrorContains(t, err, "invalid pipeline")
	assert.Zero(t, mock.RequestCount)
}

func TestLookupPipeline_PrintsRepository(t *testing.T) {
	mock := testhelpers.SetupMockBuildkiteServer(t)
	defer mock.Close()

	registry := newBuildkiteRegistry(t, mock.Server.URL)
	var out bytes.Buffer

	err := lookupPipeline(t.Context(), registry, "acme/deploy", &out)

	require.NoError(t, err)
	assert.Equal(t, "https://github.com/test-org/test-repo\n", out.String())
	assert.Equal(t, "Bearer bk-token", mock.LastAuthHeader)
}

func TestRun_RequiresClient(t *testing.T) {
	t.Setenv("UTIL_CLIENT", "")
	require.NoError(t, os.Unsetenv("UTIL_CLIENT"))

	err := run(t.Context())

	require.ErrorContains(t, err, "error reading config")
}

func newBuildkiteRegistry(t *testing.T, url string) *client.Registry {
	t.Helper()

	registry := client.NewRegistry(nil)
	_, err := registry.Register(client.Registration{
		Name: buildkite.ClientName,
		Settings: &config.APISettings{
			URL:   url,
			Token: "bk-token",
		},
	})
	require.NoError(t, err)

	return registry
}
