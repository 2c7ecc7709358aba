// Package oauth provides sessions obtained with the OAuth2 client
// credentials grant.
package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/thomasreuvers/apiease/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Provider requests a new access token from the token endpoint on every
// refresh. Token expiry is not tracked: the upstream's 401 decides when a
// token is renewed.
type Provider struct {
	cfg    clientcredentials.Config
	client *http.Client
}

// NewProvider creates a Provider from settings. A nil client uses
// http.DefaultClient for token requests.
func NewProvider(settings config.OAuth2Settings, client *http.Client) *Provider {
	params := url.Values{}
	for k, v := range settings.Params {
		params.Set(k, v)
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &Provider{
		cfg: clientcredentials.Config{
			ClientID:       settings.ClientID,
			ClientSecret:   settings.ClientSecret,
			TokenURL:       settings.TokenURL,
			Scopes:         settings.Scopes,
			EndpointParams: params,
		},
		client: client,
	}
}

func (p *Provider) RefreshSession(ctx context.Context) (oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.cfg.Token(ctx)
	if err != nil {
		return oauth2.Token{}, fmt.Errorf("could not obtain client credentials token from %s: %w", p.cfg.TokenURL, err)
	}

	return *token, nil
}

func (p *Provider) AccessToken(token oauth2.Token) string {
	return token.AccessToken
}
