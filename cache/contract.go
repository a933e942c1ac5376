// Package cache implements the normalized credential store: accounts, access
// tokens, refresh tokens, ID tokens, and app metadata, with structural-key
// lookup and pluggable persistence.
package cache

import (
	"strings"
	"time"

	"github.com/giantswarm/authcache/internal/util"
)

// Credential type discriminators as persisted in the serialized contract.
const (
	CredentialTypeAccessToken  = "AccessToken"
	CredentialTypeRefreshToken = "RefreshToken"
	CredentialTypeIDToken      = "IdToken"
)

// Authority types recorded on accounts.
const (
	AuthorityTypeAAD  = "MSSTS"
	AuthorityTypeADFS = "ADFS"
)

// Account identifies a signed-in end user. Accounts never expire on their own;
// they are removed only by an explicit sign-out cascade.
type Account struct {
	HomeAccountID  string `json:"home_account_id"`
	Environment    string `json:"environment"`
	Realm          string `json:"realm"`
	LocalAccountID string `json:"local_account_id,omitempty"`
	Username       string `json:"username,omitempty"`
	AuthorityType  string `json:"authority_type,omitempty"`
}

// Key returns the account's composite cache key. Writing an account with the
// same key overwrites the previous record.
func (a Account) Key() string {
	return strings.ToLower(strings.Join([]string{a.HomeAccountID, a.Environment, a.Realm}, "-"))
}

// AccessToken is a short-lived bearer credential. Records are never mutated
// after creation: lifetime handling is purely a comparison of ExpiresOn
// against the clock at lookup time.
type AccessToken struct {
	HomeAccountID string    `json:"home_account_id"`
	Environment   string    `json:"environment"`
	Realm         string    `json:"realm"`
	ClientID      string    `json:"client_id"`
	Target        string    `json:"target"` // granted scopes, space-joined
	Secret        string    `json:"secret"`
	TokenType     string    `json:"token_type,omitempty"`
	KeyID         string    `json:"key_id,omitempty"` // bound (PoP / SSH-cert) tokens
	CachedAt      time.Time `json:"cached_at"`
	ExpiresOn     time.Time `json:"expires_on"`
}

// Key returns the token's composite cache key.
func (t AccessToken) Key() string {
	return credentialKey(t.HomeAccountID, t.Environment, CredentialTypeAccessToken, t.ClientID, t.Realm, t.Target, t.KeyID)
}

// Scopes returns the target field as a scope set.
func (t AccessToken) Scopes() []string {
	return util.SplitScopes(t.Target)
}

// RefreshToken is a long-lived credential used to mint access tokens without
// user interaction. Refresh tokens are tenant-independent: no realm.
type RefreshToken struct {
	HomeAccountID string `json:"home_account_id"`
	Environment   string `json:"environment"`
	ClientID      string `json:"client_id"`
	FamilyID      string `json:"family_id,omitempty"` // set when shared across a client family
	Secret        string `json:"secret"`
}

// Key returns the token's composite cache key. The family ID takes the place
// of the client ID for family tokens so one shared record serves every family
// member.
func (t RefreshToken) Key() string {
	owner := t.ClientID
	if t.FamilyID != "" {
		owner = t.FamilyID
	}
	return credentialKey(t.HomeAccountID, t.Environment, CredentialTypeRefreshToken, owner, "", "", "")
}

// IDToken is an OpenID Connect identity assertion, kept for completeness and
// removed together with its account on sign-out.
type IDToken struct {
	HomeAccountID string `json:"home_account_id"`
	Environment   string `json:"environment"`
	Realm         string `json:"realm"`
	ClientID      string `json:"client_id"`
	Secret        string `json:"secret"`
}

// Key returns the token's composite cache key.
func (t IDToken) Key() string {
	return credentialKey(t.HomeAccountID, t.Environment, CredentialTypeIDToken, t.ClientID, t.Realm, "", "")
}

// AppMetadata records, per (environment, client_id), whether this client
// belongs to a token-sharing family. Its presence also marks "this client has
// seen a token response here before", which gates the family probe.
type AppMetadata struct {
	Environment string `json:"environment"`
	ClientID    string `json:"client_id"`
	FamilyID    string `json:"family_id,omitempty"`
}

// Key returns the metadata record's composite cache key.
func (m AppMetadata) Key() string {
	return strings.ToLower(strings.Join([]string{"appmetadata", m.Environment, m.ClientID}, "-"))
}

// credentialKey builds the composite key shared by all credential kinds:
// lowercased, dash-joined, empty components kept so keys stay unambiguous.
func credentialKey(homeAccountID, environment, credType, clientID, realm, target, keyID string) string {
	key := strings.Join([]string{homeAccountID, environment, credType, clientID, realm, target}, "-")
	if keyID != "" {
		key += "-" + keyID
	}
	return strings.ToLower(key)
}

// Contract is the serialized shape of the whole store: one keyed section per
// record kind. Round-trip fidelity of every field is the only format
// requirement placed on persisted storage.
type Contract struct {
	AccessTokens  map[string]AccessToken  `json:"AccessToken,omitempty"`
	RefreshTokens map[string]RefreshToken `json:"RefreshToken,omitempty"`
	IDTokens      map[string]IDToken      `json:"IdToken,omitempty"`
	Accounts      map[string]Account      `json:"Account,omitempty"`
	AppMetadata   map[string]AppMetadata  `json:"AppMetadata,omitempty"`
}

// NewContract returns an empty contract with all sections allocated.
func NewContract() *Contract {
	return &Contract{
		AccessTokens:  map[string]AccessToken{},
		RefreshTokens: map[string]RefreshToken{},
		IDTokens:      map[string]IDToken{},
		Accounts:      map[string]Account{},
		AppMetadata:   map[string]AppMetadata{},
	}
}
