// Package authcache implements an OAuth2/OIDC token cache and acquisition
// client: a normalized credential store, authority alias resolution, a silent
// (no user interaction) token resolver, and the acquisition flows that feed
// it — authorization code, client credentials, on-behalf-of, device code, and
// username/password with WS-Trust federation fallback.
//
// Protocol failures are values: every flow returns a *wire.TokenResponse the
// caller inspects, and silent acquisition signals "nothing usable" with a nil
// response and nil error so callers can fall back to an interactive flow
// without error ceremony.
package authcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/giantswarm/authcache/authority"
	"github.com/giantswarm/authcache/cache"
	"github.com/giantswarm/authcache/instrumentation"
	"github.com/giantswarm/authcache/internal/util"
	"github.com/giantswarm/authcache/security"
	"github.com/giantswarm/authcache/wire"
	"github.com/giantswarm/authcache/wstrust"
)

// Flow names used in metrics and audit events.
const (
	flowAuthCode          = "authorization_code"
	flowSilent            = "silent"
	flowClientCredentials = "client_credentials"
	flowOnBehalfOf        = "on_behalf_of"
	flowDeviceCode        = "device_code"
	flowUsernamePassword  = "username_password"
)

// Client is the token acquisition orchestrator. All collaborators are
// explicit: the credential store, the authority resolver, and the protocol
// exchanger are injected, never process-global.
type Client struct {
	clientID   string
	credential wire.Credential
	authority  *authority.Authority

	store     *cache.Store
	resolver  *authority.Resolver
	exchanger wire.TokenExchanger
	mex       wstrust.MexFetcher
	wstrust   wstrust.Exchanger

	refreshMargin time.Duration
	throttle      *rate.Limiter
	logger        *slog.Logger
	metrics       *instrumentation.Metrics
	auditor       *security.Auditor
	now           func() time.Time

	validateAuthority bool
}

// New creates a Client. With ValidateAuthority set, the authority host is
// checked against instance discovery here, so construction may perform one
// network call.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.Authority == "" {
		return nil, fmt.Errorf("authority URL is required")
	}
	if cfg.Exchanger == nil {
		return nil, fmt.Errorf("token exchanger is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = cache.NewStore(cache.WithLogger(logger))
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = authority.NewResolver(nil, authority.WithLogger(logger))
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = security.DefaultRefreshMargin
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	resolved, err := resolver.Resolve(ctx, cfg.Authority, cfg.ValidateAuthority)
	if err != nil {
		return nil, err
	}

	c := &Client{
		clientID:          cfg.ClientID,
		credential:        cfg.Credential,
		authority:         resolved,
		store:             store,
		resolver:          resolver,
		exchanger:         cfg.Exchanger,
		mex:               cfg.Mex,
		wstrust:           cfg.WSTrust,
		refreshMargin:     margin,
		throttle:          cfg.Throttle,
		logger:            logger,
		auditor:           cfg.Auditor,
		now:               now,
		validateAuthority: cfg.ValidateAuthority,
	}
	if cfg.Instrumentation != nil {
		c.metrics = cfg.Instrumentation.Metrics()
		store.SetInstrumentation(cfg.Instrumentation)
	}
	return c, nil
}

// AuthCodeURL builds the URL to send a user to for interactive authorization,
// using the authorization-code response type.
func (c *Client) AuthCodeURL(scopes []string, opts AuthCodeURLOptions) (string, error) {
	decorated, err := decorateScopes(scopes, c.clientID)
	if err != nil {
		return "", err
	}

	conf := oauth2.Config{
		ClientID:    c.clientID,
		RedirectURL: opts.RedirectURI,
		Scopes:      decorated,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.authority.AuthorizationEndpoint,
			TokenURL: c.authority.TokenEndpoint,
		},
	}

	var urlOpts []oauth2.AuthCodeOption
	if opts.ResponseType != "" {
		urlOpts = append(urlOpts, oauth2.SetAuthURLParam("response_type", opts.ResponseType))
	}
	if opts.LoginHint != "" {
		urlOpts = append(urlOpts, oauth2.SetAuthURLParam("login_hint", opts.LoginHint))
	}
	if opts.Prompt != "" {
		urlOpts = append(urlOpts, oauth2.SetAuthURLParam("prompt", opts.Prompt))
	}
	return conf.AuthCodeURL(opts.State, urlOpts...), nil
}

// AcquireTokenByAuthCode redeems an authorization code for tokens and records
// the result in the credential store.
func (c *Client) AcquireTokenByAuthCode(ctx context.Context, code string, scopes []string, opts AuthCodeOptions) (*wire.TokenResponse, error) {
	decorated, err := decorateScopes(scopes, c.clientID)
	if err != nil {
		return nil, err
	}

	start := c.now()
	resp, err := c.exchanger.ExchangeAuthCode(ctx, c.exchangeParams(c.authority), code, opts.RedirectURI, decorated)
	if err != nil {
		return nil, err
	}

	c.registerResult(ctx, flowAuthCode, resp, c.authority, decorated, "", start)
	return resp, nil
}

// AcquireTokenForClient acquires an app-only token with the client
// credentials grant. Scopes are used verbatim, without decoration.
// Confidential clients only.
func (c *Client) AcquireTokenForClient(ctx context.Context, scopes []string) (*wire.TokenResponse, error) {
	if !c.credential.IsConfidential() {
		return nil, ErrConfidentialOnly
	}

	start := c.now()
	resp, err := c.exchanger.ExchangeClientCredentials(ctx, c.exchangeParams(c.authority), scopes)
	if err != nil {
		return nil, err
	}

	c.registerResult(ctx, flowClientCredentials, resp, c.authority, scopes, "", start)
	return resp, nil
}

// AcquireTokenOnBehalfOf exchanges an inbound, already-validated user
// assertion for a downstream token representing that user. The decorated
// scopes force the server to issue refresh and ID tokens this grant type
// would not otherwise return. Confidential clients only.
func (c *Client) AcquireTokenOnBehalfOf(ctx context.Context, userAssertion string, scopes []string) (*wire.TokenResponse, error) {
	if !c.credential.IsConfidential() {
		return nil, ErrConfidentialOnly
	}
	decorated, err := decorateScopes(scopes, c.clientID)
	if err != nil {
		return nil, err
	}

	start := c.now()
	resp, err := c.exchanger.ExchangeOnBehalfOf(ctx, c.exchangeParams(c.authority), userAssertion, decorated)
	if err != nil {
		return nil, err
	}

	c.registerResult(ctx, flowOnBehalfOf, resp, c.authority, decorated, "", start)
	return resp, nil
}

// Accounts returns the signed-in accounts known to the credential store for
// this client's authority environment and its aliases, optionally filtered by
// username.
func (c *Client) Accounts(ctx context.Context, username string) []cache.Account {
	var out []cache.Account
	for _, env := range c.environments(ctx) {
		out = append(out, c.store.FindAccounts(ctx, cache.Query{
			Environment: env,
			Username:    username,
		})...)
	}
	return out
}

// RemoveAccount signs an account out: the account record, its ID tokens, and
// transitively all of its access and refresh tokens are removed across every
// environment alias.
func (c *Client) RemoveAccount(ctx context.Context, account cache.Account) error {
	removed, err := c.store.RemoveAccountCascade(ctx, account, c.environments(ctx))
	if err != nil {
		return err
	}
	c.auditor.LogAccountRemoved(account.HomeAccountID, c.clientID, removed)
	return nil
}

// environments returns the primary authority instance plus its alias hosts.
func (c *Client) environments(ctx context.Context) []string {
	envs := []string{c.authority.Instance}
	return append(envs, c.resolver.Aliases(ctx, c.authority.Instance)...)
}

// exchangeParams builds the shared request context for one token-endpoint
// call, including a fresh correlation ID.
func (c *Client) exchangeParams(a *authority.Authority) wire.ExchangeParams {
	return wire.ExchangeParams{
		ClientID:      c.clientID,
		Credential:    c.credential,
		TokenEndpoint: a.TokenEndpoint,
		CorrelationID: uuid.NewString(),
	}
}

// throttleWait applies the optional token-endpoint rate limiter.
func (c *Client) throttleWait(ctx context.Context) error {
	if c.throttle == nil {
		return nil
	}
	return c.throttle.Wait(ctx)
}

// registerResult feeds a successful exchange back into the credential store
// and records metrics and audit events. Persistence failures are logged, not
// propagated: the caller still gets its token.
func (c *Client) registerResult(ctx context.Context, flow string, resp *wire.TokenResponse, a *authority.Authority, scopes []string, keyID string, start time.Time) {
	durationMs := float64(c.now().Sub(start).Milliseconds())
	c.metrics.RecordAcquisition(ctx, flow, resp.Succeeded(), durationMs)

	if !resp.Succeeded() {
		c.logger.Debug("Token exchange returned a protocol error",
			"flow", flow,
			"error", resp.Error,
			"description", resp.ErrorDescription)
		return
	}

	authType := cache.AuthorityTypeAAD
	if a.Type == authority.TypeADFS {
		authType = cache.AuthorityTypeADFS
	}
	err := c.store.Add(ctx, cache.AddEvent{
		Response:      resp,
		ClientID:      c.clientID,
		Environment:   a.Instance,
		Realm:         a.Tenant,
		AuthorityType: authType,
		Scopes:        scopes,
		KeyID:         keyID,
		Now:           c.now(),
	})
	if err != nil {
		c.logger.Warn("Failed to persist acquired credentials", "flow", flow, "error", err)
	}

	homeAccountID := ""
	if resp.ClientInfo != "" {
		if info, err := wire.ParseClientInfo(resp.ClientInfo); err == nil {
			homeAccountID = info.HomeAccountID()
		}
	}
	c.auditor.LogTokenAcquired(flow, homeAccountID, c.clientID, util.JoinScopes(scopes))
}
