// This command is only used for local testing: it sends a single request
// through a configured client, exercising the same authentication and
// resilience stack as the server.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
	"github.com/thomasreuvers/apiease/internal/buildkite"
	"github.com/thomasreuvers/apiease/internal/client"
	"github.com/thomasreuvers/apiease/internal/config"
)

type Config struct {
	Client string `env:"UTIL_CLIENT, required"`
	Method string `env:"UTIL_METHOD, default=GET"`
	Path   string `env:"UTIL_PATH"`
	Body   string `env:"UTIL_BODY"`

	// BuildkitePipeline is "<organization>/<pipeline>". When set, the
	// pipeline's repository is looked up with the Buildkite client instead
	// of sending a raw request.
	BuildkitePipeline string `env:"UTIL_BUILDKITE_PIPELINE"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	zerolog.DefaultContextLogger = &log.Logger

	ctx := context.Background()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := Config{}
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return fmt.Errorf("error reading config: %w", err)
	}

	appCfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	settings, err := config.LoadAPISettings(appCfg.APISettingsFile)
	if err != nil {
		return fmt.Errorf("API settings load failed: %w", err)
	}

	clients, err := client.Configure(ctx, appCfg, settings)
	if err != nil {
		return fmt.Errorf("client configuration failed: %w", err)
	}
	defer clients.Close()

	if cfg.BuildkitePipeline != "" {
		return lookupPipeline(ctx, clients, cfg.BuildkitePipeline, os.Stdout)
	}

	c, ok := clients.Client(cfg.Client)
	if !ok {
		return fmt.Errorf("client %s is not configured, have: %s", cfg.Client, strings.Join(clients.Names(), ", "))
	}

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}

	req, err := c.NewRequest(ctx, cfg.Method, cfg.Path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	defer resp.Body.Close()

	fmt.Fprintln(os.Stderr, resp.Status)
	_, err = io.Copy(os.Stdout, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("request failed with status %s", resp.Status)
	}

	return err
}

type clientSource interface {
	Client(name string) (*client.Base, bool)
}

func lookupPipeline(ctx context.Context, clients clientSource, pipeline string, out io.Writer) error {
	org, slug, err := parsePipeline(pipeline)
	if err != nil {
		return err
	}

	c, ok := clients.Client(buildkite.ClientName)
	if !ok {
		return fmt.Errorf("client %s is not configured", buildkite.ClientName)
	}

	repo, err := buildkite.New(c).RepositoryLookup(ctx, org, slug)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, repo)
	return err
}

// parsePipeline splits "<organization>/<pipeline>" into its slugs.
func parsePipeline(pipeline string) (org, slug string, err error) {
	org, slug, ok := strings.Cut(pipeline, "/")
	if !ok || org == "" || slug == "" || strings.Contains(slug, "/") {
		return "", "", fmt.Errorf("invalid pipeline %q: expected <organization>/<pipeline>", pipeline)
	}
	return org, slug, nil
}
