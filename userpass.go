package authcache

import (
	"context"
	"fmt"

	"github.com/giantswarm/authcache/wire"
	"github.com/giantswarm/authcache/wstrust"
)

// AcquireTokenByUsernamePassword acquires a token with the resource-owner
// password grant. Realm discovery decides the route: managed accounts go
// straight to the token endpoint; federated accounts first trade the password
// for a SAML assertion over WS-Trust and redeem that instead.
//
// This flow exists for legacy integrations that cannot run an interactive
// sign-in. It defeats multi-factor authentication and should be a last resort.
func (c *Client) AcquireTokenByUsernamePassword(ctx context.Context, username, password string, scopes []string) (*wire.TokenResponse, error) {
	decorated, err := decorateScopes(scopes, c.clientID)
	if err != nil {
		return nil, err
	}

	params := c.exchangeParams(c.authority)
	realm, err := c.exchanger.UserRealmDiscovery(ctx, params, username)
	if err != nil {
		return nil, fmt.Errorf("user realm discovery failed: %w", err)
	}

	start := c.now()
	var resp *wire.TokenResponse
	if realm.Federated() {
		resp, err = c.federatedPassword(ctx, params, realm, username, password, decorated)
	} else {
		if err := c.throttleWait(ctx); err != nil {
			return nil, err
		}
		resp, err = c.exchanger.ExchangePassword(ctx, params, username, password, decorated)
	}
	if err != nil {
		return nil, err
	}

	c.registerResult(ctx, flowUsernamePassword, resp, c.authority, decorated, "", start)
	return resp, nil
}

// federatedPassword runs the WS-Trust leg: fetch federation metadata, select
// the username/password endpoint, exchange the password for a SAML assertion,
// and redeem the assertion with the matching SAML bearer grant.
func (c *Client) federatedPassword(ctx context.Context, params wire.ExchangeParams, realm *wire.UserRealm, username, password string, scopes []string) (*wire.TokenResponse, error) {
	if c.mex == nil || c.wstrust == nil {
		return nil, ErrFederationNotConfigured
	}
	if realm.FederationMetadataURL == "" {
		return nil, fmt.Errorf("federated account has no federation metadata URL: %w", wstrust.ErrNoFederationEndpoint)
	}

	doc, err := c.mex.Fetch(ctx, realm.FederationMetadataURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch federation metadata: %w", err)
	}
	endpoint, err := wstrust.SelectEndpoint(doc)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Exchanging password for SAML assertion over WS-Trust",
		"endpoint", endpoint.URL, "version", endpoint.Version)
	result, err := c.wstrust.Exchange(ctx, endpoint, realm.CloudAudienceURN, username, password)
	if err != nil {
		return nil, fmt.Errorf("WS-Trust exchange failed: %w", err)
	}
	grant, err := wstrust.GrantForResult(result)
	if err != nil {
		return nil, err
	}

	if err := c.throttleWait(ctx); err != nil {
		return nil, err
	}
	return c.exchanger.ExchangeSAMLAssertion(ctx, params, grant, result.Token, scopes)
}
