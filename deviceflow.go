package authcache

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/authcache/authority"
	"github.com/giantswarm/authcache/wire"
)

// slowDownBackoff is added to the polling interval each time the server
// answers slow_down.
const slowDownBackoff = 5 * time.Second

// DeviceFlow is an in-progress device-code authorization. Show the user the
// Result, then call Token to poll until they complete sign-in.
type DeviceFlow struct {
	client *Client
	auth   *authority.Authority
	scopes []string
	result wire.DeviceCodeResult

	mu        sync.Mutex
	cancelled bool
}

// AcquireTokenByDeviceCode starts a device-code flow: the returned DeviceFlow
// carries the user code and verification URI to display.
func (c *Client) AcquireTokenByDeviceCode(ctx context.Context, scopes []string) (*DeviceFlow, error) {
	decorated, err := decorateScopes(scopes, c.clientID)
	if err != nil {
		return nil, err
	}

	result, err := c.exchanger.InitiateDeviceCode(ctx, c.exchangeParams(c.authority), c.authority.DeviceCodeEndpoint, decorated)
	if err != nil {
		return nil, err
	}

	return &DeviceFlow{
		client: c,
		auth:   c.authority,
		scopes: decorated,
		result: *result,
	}, nil
}

// Result returns the codes and instructions to present to the user.
func (f *DeviceFlow) Result() wire.DeviceCodeResult {
	return f.result
}

// Cancel stops any in-flight Token call at its next poll. Subsequent polls
// report expired_token.
func (f *DeviceFlow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
}

func (f *DeviceFlow) done(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled || now.After(f.result.ExpiresAt)
}

// Token polls the token endpoint at the server-dictated interval until the
// user completes sign-in, the device code expires, or ctx is done. On success
// the result is recorded in the credential store. Protocol-level terminal
// failures (declined consent, expiry) come back as a TokenResponse value.
func (f *DeviceFlow) Token(ctx context.Context) (*wire.TokenResponse, error) {
	c := f.client
	interval := f.result.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.done(c.now()) {
			return &wire.TokenResponse{
				Error:            wire.ErrorExpiredToken,
				ErrorDescription: "device code expired before the user completed sign-in",
			}, nil
		}
		if err := c.throttleWait(ctx); err != nil {
			return nil, err
		}

		start := c.now()
		resp, err := c.exchanger.ExchangeDeviceCode(ctx, c.exchangeParams(f.auth), f.result.DeviceCode, f.scopes)
		if err != nil {
			return nil, err
		}
		c.metrics.RecordDeviceFlowPoll(ctx)

		if resp.Succeeded() {
			c.registerResult(ctx, flowDeviceCode, resp, f.auth, f.scopes, "", start)
			return resp, nil
		}

		switch resp.Error {
		case wire.ErrorAuthorizationPending:
			// keep polling
		case wire.ErrorSlowDown:
			interval += slowDownBackoff
		default:
			// Terminal protocol error: declined, expired server-side, bad code.
			return resp, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
