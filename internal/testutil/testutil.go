// Package testutil provides scripted collaborators for flow tests: a settable
// clock, a scripted token exchanger, and canned protocol payload builders.
package testutil

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/giantswarm/authcache/wire"
)

// ============================================================
// Clock
// ============================================================

// Clock is a settable time source for deterministic lifetime tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current frozen instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ============================================================
// Scripted exchanger
// ============================================================

// Method names recorded per call and used to script responses.
const (
	MethodAuthCode          = "auth_code"
	MethodRefreshToken      = "refresh_token"
	MethodClientCredentials = "client_credentials"
	MethodOnBehalfOf        = "on_behalf_of"
	MethodPassword          = "password"
	MethodSAMLAssertion     = "saml_assertion"
	MethodDeviceCode        = "device_code"
)

// Call records one exchanger invocation.
type Call struct {
	Method    string
	Params    wire.ExchangeParams
	Secret    string // code, refresh token, assertion, password, or device code
	GrantType string // SAML exchanges only
	Scopes    []string
}

type scripted struct {
	resp *wire.TokenResponse
	err  error
}

// Exchanger is a scripted wire.TokenExchanger: responses are queued per
// method and handed out in order. An unscripted call fails the exchange with
// a descriptive transport error.
type Exchanger struct {
	mu     sync.Mutex
	calls  []Call
	queues map[string][]scripted

	Realm     *wire.UserRealm
	RealmErr  error
	Device    *wire.DeviceCodeResult
	DeviceErr error
}

var _ wire.TokenExchanger = (*Exchanger)(nil)

// NewExchanger returns an empty scripted exchanger.
func NewExchanger() *Exchanger {
	return &Exchanger{queues: map[string][]scripted{}}
}

// Queue appends a scripted outcome for one method.
func (e *Exchanger) Queue(method string, resp *wire.TokenResponse, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queues[method] = append(e.queues[method], scripted{resp: resp, err: err})
}

// Calls returns a copy of all recorded invocations.
func (e *Exchanger) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallsTo returns the recorded invocations of one method.
func (e *Exchanger) CallsTo(method string) []Call {
	var out []Call
	for _, c := range e.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (e *Exchanger) pop(call Call) (*wire.TokenResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, call)
	queue := e.queues[call.Method]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unscripted %s exchange", call.Method)
	}
	next := queue[0]
	e.queues[call.Method] = queue[1:]
	return next.resp, next.err
}

func (e *Exchanger) ExchangeAuthCode(ctx context.Context, p wire.ExchangeParams, code, redirectURI string, scopes []string) (*wire.TokenResponse, error) {
	return e.pop(Call{Method: MethodAuthCode, Params: p, Secret: code, Scopes: scopes})
}

func (e *Exchanger) ExchangeRefreshToken(ctx context.Context, p wire.ExchangeParams, refreshToken string, scopes []string) (*wire.TokenResponse, error) {
	return e.pop(Call{Method: MethodRefreshToken, Params: p, Secret: refreshToken, Scopes: scopes})
}

func (e *Exchanger) ExchangeClientCredentials(ctx context.Context, p wire.ExchangeParams, scopes []string) (*wire.TokenResponse, error) {
	return e.pop(Call{Method: MethodClientCredentials, Params: p, Scopes: scopes})
}

func (e *Exchanger) ExchangeOnBehalfOf(ctx context.Context, p wire.ExchangeParams, userAssertion string, scopes []string) (*wire.TokenResponse, error) {
	return e.pop(Call{Method: MethodOnBehalfOf, Params: p, Secret: userAssertion, Scopes: scopes})
}

func (e *Exchanger) ExchangePassword(ctx context.Context, p wire.ExchangeParams, username, password string, scopes []string) (*wire.TokenResponse, error) {
	return e.pop(Call{Method: MethodPassword, Params: p, Secret: password, Scopes: scopes})
}

func (e *Exchanger) ExchangeSAMLAssertion(ctx context.Context, p wire.ExchangeParams, grantType, assertion string, scopes []string) (*wire.TokenResponse, error) {
	return e.pop(Call{Method: MethodSAMLAssertion, Params: p, Secret: assertion, GrantType: grantType, Scopes: scopes})
}

func (e *Exchanger) InitiateDeviceCode(ctx context.Context, p wire.ExchangeParams, deviceCodeEndpoint string, scopes []string) (*wire.DeviceCodeResult, error) {
	if e.DeviceErr != nil {
		return nil, e.DeviceErr
	}
	if e.Device == nil {
		return nil, fmt.Errorf("unscripted device code initiation")
	}
	return e.Device, nil
}

func (e *Exchanger) ExchangeDeviceCode(ctx context.Context, p wire.ExchangeParams, deviceCode string, scopes []string) (*wire.TokenResponse, error) {
	return e.pop(Call{Method: MethodDeviceCode, Params: p, Secret: deviceCode, Scopes: scopes})
}

func (e *Exchanger) UserRealmDiscovery(ctx context.Context, p wire.ExchangeParams, username string) (*wire.UserRealm, error) {
	if e.RealmErr != nil {
		return nil, e.RealmErr
	}
	if e.Realm == nil {
		return &wire.UserRealm{AccountType: "Managed", DomainName: "example.com"}, nil
	}
	return e.Realm, nil
}

// ============================================================
// Canned payloads
// ============================================================

func encodeSegment(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// ClientInfo builds the base64url client_info blob for uid and utid.
func ClientInfo(uid, utid string) string {
	return encodeSegment(map[string]string{"uid": uid, "utid": utid})
}

// IDToken builds an unsigned three-segment JWT with the given identity claims.
func IDToken(objectID, username, tenantID string) string {
	header := encodeSegment(map[string]string{"alg": "none", "typ": "JWT"})
	payload := encodeSegment(map[string]string{
		"oid":                objectID,
		"preferred_username": username,
		"tid":                tenantID,
	})
	return header + "." + payload + "."
}

// SuccessResponse builds a full successful token response for a user whose
// home account is uid.utid.
func SuccessResponse(accessToken, refreshToken, scope, uid, utid, username string) *wire.TokenResponse {
	return &wire.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		RefreshToken: refreshToken,
		IDToken:      IDToken("oid-"+uid, username, utid),
		ClientInfo:   ClientInfo(uid, utid),
		Scope:        scope,
	}
}

// ErrorResponse builds a protocol-error token response.
func ErrorResponse(code, description string, additionalInfo ...string) *wire.TokenResponse {
	return &wire.TokenResponse{
		Error:               code,
		ErrorDescription:    description,
		ErrorAdditionalInfo: additionalInfo,
	}
}
