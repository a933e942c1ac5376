package security

import "time"

const (
	// DefaultRefreshMargin is how long before its stated expiry an access token
	// stops being served from the cache. Tokens inside this window fall through
	// to refresh-token redemption instead.
	//
	// The 5 minute value absorbs clock skew between this process and the
	// resource server: a token returned with 10 seconds of nominal life left
	// would likely be rejected downstream before the caller can use it.
	DefaultRefreshMargin = 5 * time.Minute
)

// IsFreshAt reports whether a credential expiring at expiresOn is still usable
// at instant now, requiring at least margin of remaining lifetime.
// A zero expiresOn means the credential never expires.
func IsFreshAt(expiresOn, now time.Time, margin time.Duration) bool {
	if expiresOn.IsZero() {
		return true
	}
	return expiresOn.Sub(now) >= margin
}

// IsExpiredAt reports whether a credential expiring at expiresOn has fully
// expired at instant now, with no margin applied. Used for hard cutoffs such
// as device-flow expiry.
func IsExpiredAt(expiresOn, now time.Time) bool {
	if expiresOn.IsZero() {
		return false
	}
	return now.After(expiresOn)
}
