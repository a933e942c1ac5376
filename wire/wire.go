// Package wire defines the contract between the authcache orchestration layer
// and the OAuth2/OIDC protocol client that performs the actual token-endpoint
// exchanges. The protocol client is an external collaborator: implementations
// own HTTP transport, request encoding, and response parsing, and hand back
// TokenResponse values.
//
// Protocol-level failures (the server answered with an OAuth error body) are
// values carried inside TokenResponse, not Go errors. Go errors from exchanger
// methods mean transport failure only.
package wire

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2 grant type constants used by the acquisition flows.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	GrantSAML11Bearer      = "urn:ietf:params:oauth:grant-type:saml1_1-bearer"
	GrantSAML20Bearer      = "urn:ietf:params:oauth:grant-type:saml2-bearer"
)

// Well-known OAuth error codes and sub-errors surfaced in TokenResponse.
const (
	ErrorAuthorizationPending = "authorization_pending"
	ErrorSlowDown             = "slow_down"
	ErrorExpiredToken         = "expired_token"
	ErrorInvalidGrant         = "invalid_grant"

	// SuberrorClientMismatch is the additional-info flag the server returns
	// when a family refresh token is redeemed by a client that is not in the
	// family. Seeing it proves the family probe is pointless for this app.
	SuberrorClientMismatch = "client_mismatch"
)

// CredentialKind discriminates how the client authenticates to the token endpoint.
type CredentialKind int

const (
	// CredentialPublic is a public client: no secret, identified by client_id only.
	CredentialPublic CredentialKind = iota

	// CredentialSecret is a confidential client authenticating with a shared secret.
	CredentialSecret

	// CredentialAssertion is a confidential client authenticating with a signed
	// client assertion (certificate-backed JWT or workload federation token).
	CredentialAssertion
)

// Credential is the client credential sum type. The zero value is a public client.
type Credential struct {
	Kind      CredentialKind
	Secret    string // set for CredentialSecret
	Assertion string // set for CredentialAssertion
}

// Public returns a public-client credential.
func Public() Credential { return Credential{Kind: CredentialPublic} }

// Secret returns a confidential-client credential backed by a shared secret.
func Secret(secret string) Credential {
	return Credential{Kind: CredentialSecret, Secret: secret}
}

// Assertion returns a confidential-client credential backed by a signed assertion.
func Assertion(assertion string) Credential {
	return Credential{Kind: CredentialAssertion, Assertion: assertion}
}

// IsConfidential reports whether the credential can be used for app-only grants.
func (c Credential) IsConfidential() bool {
	return c.Kind != CredentialPublic
}

// ExchangeParams carries the request context shared by every token-endpoint call.
type ExchangeParams struct {
	ClientID      string
	Credential    Credential
	TokenEndpoint string

	// CorrelationID is a per-request UUID echoed into logs and sent to the
	// token endpoint for cross-service troubleshooting.
	CorrelationID string
}

// TokenResponse is the parsed result of a token-endpoint exchange. It is a
// tagged value: either the success fields or the error fields are populated,
// never both. Use Succeeded to branch.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64 // seconds
	RefreshToken string
	IDToken      string
	ClientInfo   string // base64url {"uid","utid"} blob, present when requested
	Scope        string // granted scopes, space-separated; may differ from requested
	FamilyID     string // "foci" field: set when the client is in a token-sharing family
	KeyID        string // set for proof-of-possession / SSH-cert bound tokens

	Error               string
	ErrorDescription    string
	ErrorAdditionalInfo []string
}

// Succeeded reports whether the server issued an access token.
func (r *TokenResponse) Succeeded() bool {
	return r != nil && r.Error == "" && r.AccessToken != ""
}

// HasClientMismatch reports whether the error carries the client_mismatch flag.
func (r *TokenResponse) HasClientMismatch() bool {
	if r == nil {
		return false
	}
	for _, info := range r.ErrorAdditionalInfo {
		if info == SuberrorClientMismatch {
			return true
		}
	}
	return false
}

// ExpiresOn converts the relative expires_in to an absolute instant.
func (r *TokenResponse) ExpiresOn(now time.Time) time.Time {
	if r.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(r.ExpiresIn) * time.Second)
}

// Token converts a successful response into a standard *oauth2.Token, carrying
// id_token, client_info, and scope as extra fields. Returns nil for failures.
func (r *TokenResponse) Token(now time.Time) *oauth2.Token {
	if !r.Succeeded() {
		return nil
	}
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
		Expiry:       r.ExpiresOn(now),
	}
	extra := map[string]interface{}{}
	if r.IDToken != "" {
		extra["id_token"] = r.IDToken
	}
	if r.ClientInfo != "" {
		extra["client_info"] = r.ClientInfo
	}
	if r.Scope != "" {
		extra["scope"] = r.Scope
	}
	if len(extra) > 0 {
		tok = tok.WithExtra(extra)
	}
	return tok
}

// DeviceCodeResult is the outcome of initiating a device-code flow.
type DeviceCodeResult struct {
	UserCode        string // code the user types at the verification URI
	DeviceCode      string // code this client polls the token endpoint with
	VerificationURI string
	Message         string // human-readable instruction from the server

	ExpiresAt time.Time     // after this, polling must stop
	Interval  time.Duration // server-dictated minimum delay between polls
}

// UserRealm describes how a username's identity is managed, from realm discovery.
type UserRealm struct {
	AccountType           string // "Managed" or "Federated"
	DomainName            string
	FederationMetadataURL string // MEX document URL, set for federated accounts
	CloudAudienceURN      string
}

// Federated reports whether the account authenticates through an on-prem
// federation service rather than the cloud directory.
func (u *UserRealm) Federated() bool {
	return u != nil && u.AccountType == "Federated"
}

// TokenExchanger performs token-endpoint and realm-discovery HTTP exchanges.
// Methods return a non-nil error only for transport failures; OAuth protocol
// errors come back inside the TokenResponse.
type TokenExchanger interface {
	// ExchangeAuthCode redeems an authorization code with its redirect URI.
	ExchangeAuthCode(ctx context.Context, p ExchangeParams, code, redirectURI string, scopes []string) (*TokenResponse, error)

	// ExchangeRefreshToken redeems a refresh token for a new access token.
	ExchangeRefreshToken(ctx context.Context, p ExchangeParams, refreshToken string, scopes []string) (*TokenResponse, error)

	// ExchangeClientCredentials acquires an app-only token.
	ExchangeClientCredentials(ctx context.Context, p ExchangeParams, scopes []string) (*TokenResponse, error)

	// ExchangeOnBehalfOf trades an inbound user assertion for a downstream token.
	ExchangeOnBehalfOf(ctx context.Context, p ExchangeParams, userAssertion string, scopes []string) (*TokenResponse, error)

	// ExchangePassword performs the resource-owner password grant for managed accounts.
	ExchangePassword(ctx context.Context, p ExchangeParams, username, password string, scopes []string) (*TokenResponse, error)

	// ExchangeSAMLAssertion redeems a WS-Trust SAML assertion using the given
	// SAML bearer grant type (GrantSAML11Bearer or GrantSAML20Bearer).
	ExchangeSAMLAssertion(ctx context.Context, p ExchangeParams, grantType, assertion string, scopes []string) (*TokenResponse, error)

	// InitiateDeviceCode starts a device-code flow at the device authorization endpoint.
	InitiateDeviceCode(ctx context.Context, p ExchangeParams, deviceCodeEndpoint string, scopes []string) (*DeviceCodeResult, error)

	// ExchangeDeviceCode polls the token endpoint once with a device code.
	ExchangeDeviceCode(ctx context.Context, p ExchangeParams, deviceCode string, scopes []string) (*TokenResponse, error)

	// UserRealmDiscovery resolves how a username's identity is managed.
	UserRealmDiscovery(ctx context.Context, p ExchangeParams, username string) (*UserRealm, error)
}
