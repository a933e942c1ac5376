package authcache

import (
	"context"
	"time"

	"github.com/giantswarm/authcache/authority"
	"github.com/giantswarm/authcache/cache"
	"github.com/giantswarm/authcache/internal/util"
	"github.com/giantswarm/authcache/security"
	"github.com/giantswarm/authcache/wire"
)

// FamilyIDProbe is the family ID redeemed when a client does not yet know
// whether it belongs to a token-sharing family. The server either honors the
// shared token or answers with client_mismatch, and either outcome settles the
// question for good.
const FamilyIDProbe = "1"

// AcquireTokenSilent returns a token without user interaction: first from
// cached access tokens that are still comfortably inside their lifetime, then
// by redeeming cached refresh tokens. Without an account the search runs
// across every cached user.
//
// A (nil, nil) return means the silent path is exhausted — no cached access
// token was fresh and no refresh token candidate could be redeemed — and the
// caller should fall back to an interactive flow. A non-nil error is reserved
// for invalid input and authority resolution failure.
func (c *Client) AcquireTokenSilent(ctx context.Context, scopes []string, opts SilentOptions) (*wire.TokenResponse, error) {
	decorated, err := decorateScopes(scopes, c.clientID)
	if err != nil {
		return nil, err
	}

	auth := c.authority
	if opts.Authority != "" {
		auth, err = c.resolver.Resolve(ctx, opts.Authority, c.validateAuthority)
		if err != nil {
			return nil, err
		}
	}

	envs := []string{auth.Instance}
	envs = append(envs, c.resolver.Aliases(ctx, auth.Instance)...)
	homeAccountID := ""
	if opts.Account != nil {
		homeAccountID = opts.Account.HomeAccountID
	}
	now := c.now()

	if !opts.ForceRefresh {
		if resp := c.cachedAccessToken(ctx, auth, envs, homeAccountID, decorated, opts.KeyID, now); resp != nil {
			c.metrics.RecordCacheLookup(ctx, true)
			return resp, nil
		}
	}
	c.metrics.RecordCacheLookup(ctx, false)
	c.auditor.LogSilentMiss(homeAccountID, c.clientID, util.JoinScopes(decorated))

	return c.redeemRefreshTokens(ctx, auth, envs, homeAccountID, decorated, opts.KeyID)
}

// cachedAccessToken returns a response synthesized from a cached access token
// that is still fresh at now, or nil when none qualifies. Freshness includes
// the refresh margin: a token about to expire is treated as a miss so the
// refresh path runs while the old token still works.
func (c *Client) cachedAccessToken(ctx context.Context, auth *authority.Authority, envs []string, homeAccountID string, scopes []string, keyID string, now time.Time) *wire.TokenResponse {
	for _, env := range envs {
		q := cache.Query{
			HomeAccountID: homeAccountID,
			Environment:   env,
			Realm:         auth.Tenant,
			ClientID:      c.clientID,
		}
		for _, at := range c.store.FindAccessTokens(ctx, q, scopes, keyID) {
			if !security.IsFreshAt(at.ExpiresOn, now, c.refreshMargin) {
				continue
			}

			resp := &wire.TokenResponse{
				AccessToken: at.Secret,
				TokenType:   at.TokenType,
				ExpiresIn:   int64(at.ExpiresOn.Sub(now) / time.Second),
				Scope:       at.Target,
				KeyID:       at.KeyID,
			}
			idq := q
			idq.HomeAccountID = at.HomeAccountID
			if idts := c.store.FindIDTokens(ctx, idq); len(idts) > 0 {
				resp.IDToken = idts[0].Secret
			}
			return resp
		}
	}
	return nil
}

// redeemRefreshTokens walks the refresh token candidates in precedence order
// and redeems the first one the server accepts, each against the authority
// rebuilt on the environment host the token was cached under. Transport
// failures and protocol errors both just advance to the next candidate;
// redeeming is opportunistic.
func (c *Client) redeemRefreshTokens(ctx context.Context, auth *authority.Authority, envs []string, homeAccountID string, scopes []string, keyID string) (*wire.TokenResponse, error) {
	candidates := c.refreshCandidates(ctx, envs, homeAccountID)

	for len(candidates) > 0 {
		rt := candidates[0]
		candidates = candidates[1:]

		if err := c.throttleWait(ctx); err != nil {
			return nil, err
		}

		rtAuth := auth
		if util.CanonicalHost(rt.Environment) != util.CanonicalHost(auth.Instance) {
			rtAuth = auth.WithTenantOnHost(rt.Environment)
		}

		start := c.now()
		resp, err := c.exchanger.ExchangeRefreshToken(ctx, c.exchangeParams(rtAuth), rt.Secret, scopes)
		if err != nil {
			c.logger.Debug("Refresh token redemption failed in transport, trying next candidate",
				"family_id", rt.FamilyID, "error", err)
			c.metrics.RecordRefreshRedemption(ctx, "transport_error")
			continue
		}

		if resp.Succeeded() {
			c.metrics.RecordRefreshRedemption(ctx, "success")
			if resp.RefreshToken != "" && resp.RefreshToken != rt.Secret {
				if err := c.store.UpdateRefreshToken(ctx, rt, resp.RefreshToken); err != nil {
					c.logger.Warn("Failed to persist rotated refresh token", "error", err)
				}
			}
			c.registerResult(ctx, flowSilent, resp, rtAuth, scopes, keyID, start)
			return resp, nil
		}

		c.metrics.RecordRefreshRedemption(ctx, resp.Error)
		if rt.FamilyID != "" && resp.HasClientMismatch() {
			// The server just proved this client is not in the family; the
			// remaining family candidates would fail the same way.
			c.logger.Debug("Family refresh token rejected with client_mismatch, abandoning family candidates",
				"family_id", rt.FamilyID)
			candidates = dropFamilyCandidates(candidates)
			continue
		}
		c.logger.Debug("Refresh token redemption rejected, trying next candidate",
			"error", resp.Error, "description", resp.ErrorDescription)
	}

	return nil, nil
}

// refreshCandidates gathers refresh tokens across environment aliases in
// precedence order:
//
//   - With no app metadata — first use of this client here — the default
//     family "1" is probed ahead of the client's own tokens.
//   - With app metadata naming a family, that family's shared token comes
//     first, then the client's own.
//   - With app metadata and no family ID the probe is settled: own tokens
//     only.
func (c *Client) refreshCandidates(ctx context.Context, envs []string, homeAccountID string) []cache.RefreshToken {
	familyID := FamilyIDProbe
	probe := true
	for _, env := range envs {
		meta, ok := c.store.ReadAppMetadata(ctx, env, c.clientID)
		if !ok {
			continue
		}
		if meta.FamilyID == "" {
			probe = false
		} else {
			familyID = meta.FamilyID
		}
		break
	}

	var family, own []cache.RefreshToken
	seen := map[string]struct{}{}
	appendUnique := func(dst []cache.RefreshToken, rts []cache.RefreshToken) []cache.RefreshToken {
		for _, rt := range rts {
			if _, dup := seen[rt.Key()]; dup {
				continue
			}
			seen[rt.Key()] = struct{}{}
			dst = append(dst, rt)
		}
		return dst
	}

	for _, env := range envs {
		if probe {
			family = appendUnique(family, c.store.FindRefreshTokens(ctx, cache.Query{
				HomeAccountID: homeAccountID,
				Environment:   env,
				FamilyID:      familyID,
			}))
		}
		own = appendUnique(own, c.store.FindRefreshTokens(ctx, cache.Query{
			HomeAccountID: homeAccountID,
			Environment:   env,
			ClientID:      c.clientID,
		}))
	}

	return append(family, own...)
}

// dropFamilyCandidates filters family tokens out of the remaining candidates.
func dropFamilyCandidates(candidates []cache.RefreshToken) []cache.RefreshToken {
	out := make([]cache.RefreshToken, 0, len(candidates))
	for _, rt := range candidates {
		if rt.FamilyID == "" {
			out = append(out, rt)
		}
	}
	return out
}
