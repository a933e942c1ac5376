package authcache

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/giantswarm/authcache/authority"
	"github.com/giantswarm/authcache/cache"
	"github.com/giantswarm/authcache/instrumentation"
	"github.com/giantswarm/authcache/security"
	"github.com/giantswarm/authcache/wire"
	"github.com/giantswarm/authcache/wstrust"
)

// Config holds the client configuration. ClientID, Authority, and Exchanger
// are required; everything else has a working default.
type Config struct {
	// ClientID is the application (client) ID registered with the authority.
	ClientID string

	// Credential selects public vs confidential behavior. The zero value is
	// a public client.
	Credential wire.Credential

	// Authority is the issuer base URL, e.g. "https://login.microsoftonline.com/common".
	Authority string

	// ValidateAuthority enables instance-discovery validation of the
	// authority host at construction time.
	ValidateAuthority bool

	// Exchanger performs the actual token-endpoint HTTP exchanges.
	Exchanger wire.TokenExchanger

	// Store is the credential cache. Defaults to a fresh in-memory store.
	Store *cache.Store

	// Resolver resolves authorities and discovery aliases. Defaults to a
	// resolver without a discoverer (no validation, no alias widening).
	Resolver *authority.Resolver

	// Mex and WSTrust enable the federated username/password path.
	Mex     wstrust.MexFetcher
	WSTrust wstrust.Exchanger

	// RefreshMargin is how long before expiry a cached access token stops
	// being served. Defaults to security.DefaultRefreshMargin (5 minutes).
	RefreshMargin time.Duration

	// Throttle, when set, limits token-endpoint traffic (refresh-token
	// redemption and device-flow polling).
	Throttle *rate.Limiter

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Instrumentation enables OpenTelemetry metrics and tracing.
	Instrumentation *instrumentation.Instrumentation

	// Auditor, when set, records PII-hashed security audit events.
	Auditor *security.Auditor

	// Clock overrides the time source, for tests. Defaults to time.Now.
	Clock func() time.Time
}

// AuthCodeURLOptions configures building an authorization-request URL.
type AuthCodeURLOptions struct {
	RedirectURI string
	State       string
	LoginHint   string
	Prompt      string // e.g. "select_account", "consent"

	// ResponseType overrides the OAuth2 response_type. Defaults to "code".
	ResponseType string
}

// AuthCodeOptions configures the authorization-code exchange.
type AuthCodeOptions struct {
	RedirectURI string
}

// SilentOptions configures silent acquisition.
type SilentOptions struct {
	// Account scopes the search to one signed-in user. Nil searches across
	// all cached users.
	Account *cache.Account

	// Authority overrides the client's default authority for this call.
	Authority string

	// ForceRefresh skips the access-token cache and goes straight to
	// refresh-token redemption.
	ForceRefresh bool

	// KeyID requests a bound (proof-of-possession / SSH-cert) token. Cache
	// lookups match it exactly.
	KeyID string
}
