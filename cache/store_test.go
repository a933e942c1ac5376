package cache

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/authcache/wire"
)

const (
	testEnvironment = "login.microsoftonline.com"
	testRealm       = "contoso-tenant"
	testClientID    = "client-1"
)

func encodeSegment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func testClientInfo() string {
	return encodeSegment(`{"uid":"user-oid","utid":"contoso-tenant"}`)
}

func testIDToken() string {
	return "hdr." + encodeSegment(`{"oid":"user-oid","tid":"contoso-tenant","preferred_username":"user@contoso.com"}`) + ".sig"
}

func testResponse() *wire.TokenResponse {
	return &wire.TokenResponse{
		AccessToken:  "at-secret",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		RefreshToken: "rt-secret",
		IDToken:      testIDToken(),
		ClientInfo:   testClientInfo(),
		Scope:        "openid profile offline_access User.Read",
	}
}

func addTestResponse(t *testing.T, s *Store, resp *wire.TokenResponse, now time.Time) {
	t.Helper()
	err := s.Add(context.Background(), AddEvent{
		Response:    resp,
		ClientID:    testClientID,
		Environment: testEnvironment,
		Realm:       testRealm,
		Scopes:      []string{"User.Read"},
		Now:         now,
	})
	require.NoError(t, err)
}

func TestStore_Add_SynthesizesAllRecords(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	addTestResponse(t, s, testResponse(), now)

	ats := s.FindAccessTokens(ctx, Query{ClientID: testClientID}, nil, "")
	require.Len(t, ats, 1)
	assert.Equal(t, "at-secret", ats[0].Secret)
	assert.Equal(t, "user-oid.contoso-tenant", ats[0].HomeAccountID)
	assert.Equal(t, "openid profile offline_access User.Read", ats[0].Target)
	assert.Equal(t, now.Add(time.Hour), ats[0].ExpiresOn)
	assert.Equal(t, "Bearer", ats[0].TokenType)

	rts := s.FindRefreshTokens(ctx, Query{ClientID: testClientID})
	require.Len(t, rts, 1)
	assert.Equal(t, "rt-secret", rts[0].Secret)
	assert.Empty(t, rts[0].FamilyID)

	idts := s.FindIDTokens(ctx, Query{ClientID: testClientID})
	require.Len(t, idts, 1)

	accounts := s.FindAccounts(ctx, Query{})
	require.Len(t, accounts, 1)
	assert.Equal(t, "user@contoso.com", accounts[0].Username)
	assert.Equal(t, AuthorityTypeAAD, accounts[0].AuthorityType)
	assert.Equal(t, "user-oid", accounts[0].LocalAccountID)

	meta, ok := s.ReadAppMetadata(ctx, testEnvironment, testClientID)
	require.True(t, ok)
	assert.Empty(t, meta.FamilyID)
}

func TestStore_Add_FamilyID(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	resp := testResponse()
	resp.FamilyID = "1"
	addTestResponse(t, s, resp, time.Now())

	rts := s.FindRefreshTokens(ctx, Query{FamilyID: "1"})
	require.Len(t, rts, 1)

	meta, ok := s.ReadAppMetadata(ctx, testEnvironment, testClientID)
	require.True(t, ok)
	assert.Equal(t, "1", meta.FamilyID)
}

func TestStore_Add_SameKeyOverwrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()

	addTestResponse(t, s, testResponse(), now)
	second := testResponse()
	second.AccessToken = "at-secret-2"
	addTestResponse(t, s, second, now)

	ats := s.FindAccessTokens(ctx, Query{ClientID: testClientID}, nil, "")
	require.Len(t, ats, 1, "same-key write must overwrite, not duplicate")
	assert.Equal(t, "at-secret-2", ats[0].Secret)

	assert.Len(t, s.FindAccounts(ctx, Query{}), 1)
}

func TestStore_Add_RejectsFailedResponse(t *testing.T) {
	s := NewStore()
	err := s.Add(context.Background(), AddEvent{
		Response: &wire.TokenResponse{Error: "invalid_grant"},
	})
	assert.Error(t, err)
}

func TestStore_FindAccessTokens_ScopeSuperset(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	addTestResponse(t, s, testResponse(), time.Now())

	assert.Len(t, s.FindAccessTokens(ctx, Query{}, []string{"User.Read"}, ""), 1)
	assert.Len(t, s.FindAccessTokens(ctx, Query{}, []string{"user.read", "openid"}, ""), 1)
	assert.Empty(t, s.FindAccessTokens(ctx, Query{}, []string{"Mail.Read"}, ""),
		"scope not in target must not match")
}

func TestStore_FindAccessTokens_KeyIDExactMatch(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()

	bound := testResponse()
	require.NoError(t, s.Add(ctx, AddEvent{
		Response:    bound,
		ClientID:    testClientID,
		Environment: testEnvironment,
		Realm:       testRealm,
		KeyID:       "ssh-key-1",
		Now:         now,
	}))

	// A bearer lookup must not return the bound token
	assert.Empty(t, s.FindAccessTokens(ctx, Query{}, nil, ""))

	got := s.FindAccessTokens(ctx, Query{}, nil, "ssh-key-1")
	require.Len(t, got, 1)
	assert.Equal(t, "ssh-key-1", got[0].KeyID)
}

func TestStore_FindAccessTokens_EnvironmentCanonicalized(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	addTestResponse(t, s, testResponse(), time.Now())

	got := s.FindAccessTokens(ctx, Query{Environment: "Login.MicrosoftOnline.com/"}, nil, "")
	assert.Len(t, got, 1)
}

func TestStore_Find_NoMatchReturnsEmpty(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	assert.Empty(t, s.FindAccessTokens(ctx, Query{ClientID: "nope"}, nil, ""))
	assert.Empty(t, s.FindRefreshTokens(ctx, Query{ClientID: "nope"}))
	assert.Empty(t, s.FindAccounts(ctx, Query{Username: "nobody"}))
}

func TestStore_UpdateRefreshToken_RotatesInPlace(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	addTestResponse(t, s, testResponse(), time.Now())

	rts := s.FindRefreshTokens(ctx, Query{ClientID: testClientID})
	require.Len(t, rts, 1)

	require.NoError(t, s.UpdateRefreshToken(ctx, rts[0], "rt-secret-rotated"))

	after := s.FindRefreshTokens(ctx, Query{ClientID: testClientID})
	require.Len(t, after, 1, "rotation must not add a second record")
	assert.Equal(t, "rt-secret-rotated", after[0].Secret)
	assert.Equal(t, rts[0].Key(), after[0].Key(), "rotation must preserve record identity")
}

func TestStore_RemoveAccountCascade(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	addTestResponse(t, s, testResponse(), time.Now())

	accounts := s.FindAccounts(ctx, Query{})
	require.Len(t, accounts, 1)

	removed, err := s.RemoveAccountCascade(ctx, accounts[0], []string{testEnvironment, "login.windows.net"})
	require.NoError(t, err)
	assert.Equal(t, 4, removed) // AT + RT + IDT + Account

	homeID := accounts[0].HomeAccountID
	assert.Empty(t, s.FindAccessTokens(ctx, Query{HomeAccountID: homeID}, nil, ""))
	assert.Empty(t, s.FindRefreshTokens(ctx, Query{HomeAccountID: homeID}))
	assert.Empty(t, s.FindIDTokens(ctx, Query{HomeAccountID: homeID}))
	assert.Empty(t, s.FindAccounts(ctx, Query{HomeAccountID: homeID}))
}

func TestStore_RemoveAccountCascade_OtherAccountsSurvive(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	addTestResponse(t, s, testResponse(), time.Now())

	other := testResponse()
	other.ClientInfo = encodeSegment(`{"uid":"other-oid","utid":"contoso-tenant"}`)
	other.IDToken = "hdr." + encodeSegment(`{"oid":"other-oid","tid":"contoso-tenant","preferred_username":"other@contoso.com"}`) + ".sig"
	addTestResponse(t, s, other, time.Now())

	victims := s.FindAccounts(ctx, Query{Username: "user@contoso.com"})
	require.Len(t, victims, 1)

	_, err := s.RemoveAccountCascade(ctx, victims[0], nil)
	require.NoError(t, err)

	assert.Len(t, s.FindAccounts(ctx, Query{}), 1)
	assert.Len(t, s.FindRefreshTokens(ctx, Query{HomeAccountID: "other-oid.contoso-tenant"}), 1)
}

func TestStore_RemoveSingleRecords(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	addTestResponse(t, s, testResponse(), time.Now())

	at := s.FindAccessTokens(ctx, Query{}, nil, "")[0]
	require.NoError(t, s.RemoveAccessToken(ctx, at))
	assert.Empty(t, s.FindAccessTokens(ctx, Query{}, nil, ""))

	rt := s.FindRefreshTokens(ctx, Query{})[0]
	require.NoError(t, s.RemoveRefreshToken(ctx, rt))
	assert.Empty(t, s.FindRefreshTokens(ctx, Query{}))

	idt := s.FindIDTokens(ctx, Query{})[0]
	require.NoError(t, s.RemoveIDToken(ctx, idt))
	assert.Empty(t, s.FindIDTokens(ctx, Query{}))

	a := s.FindAccounts(ctx, Query{})[0]
	require.NoError(t, s.RemoveAccount(ctx, a))
	assert.Empty(t, s.FindAccounts(ctx, Query{}))
}

func TestStore_Add_NoClientInfo_NoAccount(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	resp := testResponse()
	resp.ClientInfo = ""
	addTestResponse(t, s, resp, time.Now())

	// No home account ID means no account record, but the tokens still cache
	assert.Empty(t, s.FindAccounts(ctx, Query{}))
	assert.Len(t, s.FindAccessTokens(ctx, Query{}, nil, ""), 1)
}

func TestStore_Add_ClientInfoWithoutIDToken_CreatesAccount(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	resp := testResponse()
	resp.IDToken = ""
	addTestResponse(t, s, resp, time.Now())

	// client_info alone identifies the user; identity claims are optional
	accounts := s.FindAccounts(ctx, Query{HomeAccountID: "user-oid.contoso-tenant"})
	require.Len(t, accounts, 1)
	assert.Empty(t, accounts[0].Username)
	assert.Empty(t, s.FindIDTokens(ctx, Query{}))

	// A later response with an id_token enriches the same account record
	addTestResponse(t, s, testResponse(), time.Now())
	accounts = s.FindAccounts(ctx, Query{HomeAccountID: "user-oid.contoso-tenant"})
	require.Len(t, accounts, 1)
	assert.Equal(t, "user@contoso.com", accounts[0].Username)
}
