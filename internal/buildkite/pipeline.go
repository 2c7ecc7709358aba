// Package buildkite is a typed Buildkite REST client built on a registered
// API client, so its requests share the client's authentication and policy.
package buildkite

import (
	"context"
	"fmt"
	"net/http"

	"github.com/buildkite/go-buildkite/v4"
	"github.com/thomasreuvers/apiease/internal/client"
	"github.com/thomasreuvers/apiease/internal/retry"
)

// ClientName is the settings section used for the Buildkite API.
const ClientName = "Buildkite"

type PipelineLookup struct {
	base *client.Base
}

// New creates a PipelineLookup sending requests through base.
func New(base *client.Base) PipelineLookup {
	return PipelineLookup{base: base}
}

// Pipeline returns the named pipeline. Transient upstream faults are retried
// under the client's policy.
func (p PipelineLookup) Pipeline(ctx context.Context, organizationSlug, pipelineSlug string) (buildkite.Pipeline, error) {
	bk, err := p.createClient(ctx)
	if err != nil {
		return buildkite.Pipeline{}, err
	}

	return retry.Execute(ctx, p.base.Executor(), func(ctx context.Context) (buildkite.Pipeline, error) {
		pipeline, resp, err := bk.Pipelines.Get(ctx, organizationSlug, pipelineSlug)
		if err != nil {
			err = fmt.Errorf("failed to get pipeline called %s/%s: %w", organizationSlug, pipelineSlug, err)
			if resp != nil && !retryableStatus(resp.StatusCode) {
				return buildkite.Pipeline{}, retry.Permanent(err)
			}
			return buildkite.Pipeline{}, err
		}
		return pipeline, nil
	})
}

// RepositoryLookup returns the repository URL configured for a pipeline.
func (p PipelineLookup) RepositoryLookup(ctx context.Context, organizationSlug, pipelineSlug string) (string, error) {
	pipeline, err := p.Pipeline(ctx, organizationSlug, pipelineSlug)
	if err != nil {
		return "", err
	}

	repo := pipeline.Repository
	if repo == "" {
		return "", fmt.Errorf("no configured repository for pipeline %s/%s", organizationSlug, pipelineSlug)
	}

	return repo, nil
}

// createClient creates a new Buildkite API client. A client is required for
// every invocation, so the current context can be included in the request.
// Without this, HTTP client traces are not attached to their parent request.
func (p PipelineLookup) createClient(ctx context.Context) (*buildkite.Client, error) {
	rt := p.base.HTTPClient().Transport

	ctxTransport := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return rt.RoundTrip(req.WithContext(ctx))
	})

	// authentication is applied by the registered client's transport
	bk, err := buildkite.NewClient(
		buildkite.WithHTTPClient(&http.Client{Transport: ctxTransport}),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create Buildkite client: %w", err)
	}

	bk.BaseURL = p.base.BaseURL()

	return bk, nil
}

func retryableStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
