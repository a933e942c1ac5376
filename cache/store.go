package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/authcache/instrumentation"
	"github.com/giantswarm/authcache/internal/util"
	"github.com/giantswarm/authcache/wire"
)

const secretLogLength = 8

// Query selects credential records by exact field match. Empty fields are
// wildcards. Access-token key IDs are the one exception: they are always
// compared exactly, so a bearer request never receives a bound token.
type Query struct {
	HomeAccountID string
	Environment   string
	Realm         string
	ClientID      string
	FamilyID      string // refresh tokens only
	Username      string // accounts only
}

// AddEvent carries a raw token-exchange response plus the request context the
// response does not repeat. Store.Add synthesizes cache records from it.
type AddEvent struct {
	Response *wire.TokenResponse

	ClientID      string
	Environment   string // authority host the exchange ran against
	Realm         string // tenant
	AuthorityType string // defaults to AuthorityTypeAAD
	Scopes        []string
	KeyID         string // for bound-token requests

	// Now is the instant the response was received. Zero means time.Now().
	Now time.Time
}

// Store holds all credential records and answers structural queries.
// It is safe for concurrent use. State is lazily loaded from the external
// cache on first use and flushed back after every mutation.
type Store struct {
	mu       sync.RWMutex
	loadOnce sync.Once

	contract *Contract
	external ExternalCache

	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Store.
type Option func(*Store)

// WithExternalCache attaches persisted storage. Load failures degrade to an
// empty cache; they are never fatal.
func WithExternalCache(external ExternalCache) Option {
	return func(s *Store) { s.external = external }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates an empty credential store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		contract: NewContract(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInstrumentation enables OpenTelemetry tracing of store operations.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst != nil {
		s.tracer = inst.Tracer("cache")
	}
}

// ensureLoaded populates the store from the external cache exactly once.
func (s *Store) ensureLoaded() {
	s.loadOnce.Do(func() {
		if s.external == nil {
			return
		}

		data, err := s.external.Read()
		if err != nil {
			s.logger.Warn("Failed to read persisted credential cache, starting empty", "error", err)
			return
		}
		if len(data) == 0 {
			return
		}

		contract := NewContract()
		if err := json.Unmarshal(data, contract); err != nil {
			s.logger.Warn("Persisted credential cache is corrupt, starting empty", "error", err)
			return
		}

		s.mu.Lock()
		s.contract = contract
		s.mu.Unlock()

		s.logger.Debug("Loaded persisted credential cache",
			"access_tokens", len(contract.AccessTokens),
			"refresh_tokens", len(contract.RefreshTokens),
			"accounts", len(contract.Accounts))
	})
}

// persist flushes the contract to the external cache. Must be called with the
// write lock held.
func (s *Store) persist() error {
	if s.external == nil {
		return nil
	}

	data, err := json.Marshal(s.contract)
	if err != nil {
		return fmt.Errorf("failed to serialize credential cache: %w", err)
	}
	if err := s.external.Write(data); err != nil {
		return fmt.Errorf("failed to write credential cache: %w", err)
	}
	return nil
}

// ============================================================
// Queries
// ============================================================

// FindAccessTokens returns access tokens matching the query whose target is a
// superset of scopes, and whose key ID equals keyID exactly. Returns an empty
// slice on no match, never an error.
func (s *Store) FindAccessTokens(ctx context.Context, q Query, scopes []string, keyID string) []AccessToken {
	s.ensureLoaded()

	_, span := s.startSpan(ctx, "find_access_tokens")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AccessToken
	for _, at := range s.contract.AccessTokens {
		if !matches(q.HomeAccountID, at.HomeAccountID) ||
			!matchesHost(q.Environment, at.Environment) ||
			!matches(q.Realm, at.Realm) ||
			!matches(q.ClientID, at.ClientID) {
			continue
		}
		if at.KeyID != keyID {
			continue
		}
		if len(scopes) > 0 && !util.ScopeSuperset(at.Scopes(), scopes) {
			continue
		}
		out = append(out, at)
	}

	span.SetAttributes(attribute.Int("matches", len(out)))
	return out
}

// FindRefreshTokens returns refresh tokens matching the query.
func (s *Store) FindRefreshTokens(ctx context.Context, q Query) []RefreshToken {
	s.ensureLoaded()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RefreshToken
	for _, rt := range s.contract.RefreshTokens {
		if !matches(q.HomeAccountID, rt.HomeAccountID) ||
			!matchesHost(q.Environment, rt.Environment) ||
			!matches(q.ClientID, rt.ClientID) ||
			!matches(q.FamilyID, rt.FamilyID) {
			continue
		}
		out = append(out, rt)
	}
	return out
}

// FindIDTokens returns ID tokens matching the query.
func (s *Store) FindIDTokens(ctx context.Context, q Query) []IDToken {
	s.ensureLoaded()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []IDToken
	for _, idt := range s.contract.IDTokens {
		if !matches(q.HomeAccountID, idt.HomeAccountID) ||
			!matchesHost(q.Environment, idt.Environment) ||
			!matches(q.Realm, idt.Realm) ||
			!matches(q.ClientID, idt.ClientID) {
			continue
		}
		out = append(out, idt)
	}
	return out
}

// FindAccounts returns accounts matching the query.
func (s *Store) FindAccounts(ctx context.Context, q Query) []Account {
	s.ensureLoaded()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Account
	for _, a := range s.contract.Accounts {
		if !matches(q.HomeAccountID, a.HomeAccountID) ||
			!matchesHost(q.Environment, a.Environment) ||
			!matches(q.Realm, a.Realm) ||
			!matches(q.Username, a.Username) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// ReadAppMetadata returns the app metadata record for (environment, clientID),
// if one exists. Its absence means this client has never completed an exchange
// against this environment.
func (s *Store) ReadAppMetadata(ctx context.Context, environment, clientID string) (AppMetadata, bool) {
	s.ensureLoaded()

	s.mu.RLock()
	defer s.mu.RUnlock()

	key := AppMetadata{Environment: environment, ClientID: clientID}.Key()
	m, ok := s.contract.AppMetadata[key]
	return m, ok
}

func matches(want, got string) bool {
	return want == "" || want == got
}

func matchesHost(want, got string) bool {
	return want == "" || util.CanonicalHost(want) == util.CanonicalHost(got)
}

// ============================================================
// Mutations
// ============================================================

// Add synthesizes and upserts credential records from a token-exchange
// response. Same-key records are overwritten, never duplicated. The returned
// error reports persistence failure only; the in-memory upsert always wins.
func (s *Store) Add(ctx context.Context, event AddEvent) error {
	s.ensureLoaded()

	_, span := s.startSpan(ctx, "add")
	defer span.End()

	resp := event.Response
	if resp == nil || !resp.Succeeded() {
		return fmt.Errorf("cannot cache an unsuccessful token response")
	}

	now := event.Now
	if now.IsZero() {
		now = time.Now()
	}
	authorityType := event.AuthorityType
	if authorityType == "" {
		authorityType = AuthorityTypeAAD
	}

	homeAccountID := ""
	if resp.ClientInfo != "" {
		info, err := wire.ParseClientInfo(resp.ClientInfo)
		if err != nil {
			s.logger.Warn("Ignoring unparseable client_info in token response", "error", err)
		} else {
			homeAccountID = info.HomeAccountID()
		}
	}

	target := resp.Scope
	if target == "" {
		target = util.JoinScopes(event.Scopes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	at := AccessToken{
		HomeAccountID: homeAccountID,
		Environment:   event.Environment,
		Realm:         event.Realm,
		ClientID:      event.ClientID,
		Target:        target,
		Secret:        resp.AccessToken,
		TokenType:     tokenType,
		KeyID:         event.KeyID,
		CachedAt:      now,
		ExpiresOn:     resp.ExpiresOn(now),
	}
	s.contract.AccessTokens[at.Key()] = at
	s.logger.Debug("Cached access token",
		"client_id", event.ClientID,
		"realm", event.Realm,
		"secret_prefix", util.SafeTruncate(at.Secret, secretLogLength),
		"expires_on", at.ExpiresOn)

	if resp.RefreshToken != "" {
		rt := RefreshToken{
			HomeAccountID: homeAccountID,
			Environment:   event.Environment,
			ClientID:      event.ClientID,
			FamilyID:      resp.FamilyID,
			Secret:        resp.RefreshToken,
		}
		s.contract.RefreshTokens[rt.Key()] = rt

		// An app metadata record is written alongside every refresh token,
		// even with an empty family ID. Its existence is what tells the
		// silent resolver the family probe is no longer needed here.
		meta := AppMetadata{
			Environment: event.Environment,
			ClientID:    event.ClientID,
			FamilyID:    resp.FamilyID,
		}
		s.contract.AppMetadata[meta.Key()] = meta
	}

	var claims wire.IDTokenClaims
	if resp.IDToken != "" {
		idt := IDToken{
			HomeAccountID: homeAccountID,
			Environment:   event.Environment,
			Realm:         event.Realm,
			ClientID:      event.ClientID,
			Secret:        resp.IDToken,
		}
		s.contract.IDTokens[idt.Key()] = idt

		decoded, err := wire.DecodeIDTokenClaims(resp.IDToken)
		if err != nil {
			s.logger.Warn("Ignoring undecodable id_token in token response", "error", err)
		} else {
			claims = decoded
		}
	}

	// The account exists whenever the response identified the user through
	// client_info, with or without an id_token; identity claims just enrich it.
	if homeAccountID != "" {
		account := Account{
			HomeAccountID:  homeAccountID,
			Environment:    event.Environment,
			Realm:          event.Realm,
			LocalAccountID: claims.ObjectID,
			Username:       claims.Username(),
			AuthorityType:  authorityType,
		}
		s.contract.Accounts[account.Key()] = account
	}

	return s.persist()
}

// RemoveAccessToken deletes a single access token record by key.
func (s *Store) RemoveAccessToken(ctx context.Context, at AccessToken) error {
	s.ensureLoaded()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contract.AccessTokens, at.Key())
	return s.persist()
}

// RemoveRefreshToken deletes a single refresh token record by key.
func (s *Store) RemoveRefreshToken(ctx context.Context, rt RefreshToken) error {
	s.ensureLoaded()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contract.RefreshTokens, rt.Key())
	return s.persist()
}

// RemoveIDToken deletes a single ID token record by key.
func (s *Store) RemoveIDToken(ctx context.Context, idt IDToken) error {
	s.ensureLoaded()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contract.IDTokens, idt.Key())
	return s.persist()
}

// RemoveAccount deletes a single account record by key, leaving the account's
// credentials in place. Most callers want RemoveAccountCascade instead.
func (s *Store) RemoveAccount(ctx context.Context, a Account) error {
	s.ensureLoaded()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contract.Accounts, a.Key())
	return s.persist()
}

// UpdateRefreshToken replaces a refresh token's secret in place, for servers
// that rotate the token on every use. The record keeps its key, and therefore
// its identity in persisted storage, so a concurrent reload sees either the
// old or the new secret but never a gap.
func (s *Store) UpdateRefreshToken(ctx context.Context, old RefreshToken, newSecret string) error {
	s.ensureLoaded()
	s.mu.Lock()
	defer s.mu.Unlock()

	key := old.Key()
	rt, ok := s.contract.RefreshTokens[key]
	if !ok {
		rt = old
	}
	rt.Secret = newSecret
	s.contract.RefreshTokens[key] = rt

	s.logger.Debug("Rotated refresh token in place",
		"client_id", rt.ClientID,
		"secret_prefix", util.SafeTruncate(newSecret, secretLogLength))
	return s.persist()
}

// RemoveAccountCascade implements "forget me": it removes the account together
// with all of its ID, access, and refresh tokens across every environment
// alias. Returns the number of records removed.
func (s *Store) RemoveAccountCascade(ctx context.Context, account Account, envAliases []string) (int, error) {
	s.ensureLoaded()

	_, span := s.startSpan(ctx, "remove_account_cascade")
	defer span.End()

	if len(envAliases) == 0 {
		envAliases = []string{account.Environment}
	}
	envs := make(map[string]struct{}, len(envAliases))
	for _, e := range envAliases {
		envs[util.CanonicalHost(e)] = struct{}{}
	}
	owned := func(homeAccountID, environment string) bool {
		if homeAccountID != account.HomeAccountID {
			return false
		}
		_, ok := envs[util.CanonicalHost(environment)]
		return ok
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, at := range s.contract.AccessTokens {
		if owned(at.HomeAccountID, at.Environment) {
			delete(s.contract.AccessTokens, key)
			removed++
		}
	}
	for key, rt := range s.contract.RefreshTokens {
		if owned(rt.HomeAccountID, rt.Environment) {
			delete(s.contract.RefreshTokens, key)
			removed++
		}
	}
	for key, idt := range s.contract.IDTokens {
		if owned(idt.HomeAccountID, idt.Environment) {
			delete(s.contract.IDTokens, key)
			removed++
		}
	}
	for key, a := range s.contract.Accounts {
		if owned(a.HomeAccountID, a.Environment) {
			delete(s.contract.Accounts, key)
			removed++
		}
	}

	s.logger.Debug("Removed account and owned credentials",
		"environments", len(envs),
		"records_removed", removed)

	span.SetAttributes(attribute.Int("records_removed", removed))
	return removed, s.persist()
}

func (s *Store) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, "cache."+operation,
		trace.WithAttributes(attribute.String("operation", operation)))
}
