package authcache

import "strings"

// The three reserved OIDC scopes every user-facing flow requests implicitly.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeOfflineAccess = "offline_access"
)

var reservedScopes = []string{ScopeOpenID, ScopeProfile, ScopeOfflineAccess}

// decorateScopes normalizes a caller-supplied scope list by unioning it with
// the reserved scopes. Two misuses are rejected before any network call:
//
//   - passing a reserved scope explicitly (they are always implied), and
//   - combining the client's own ID (a self-referential app-token request)
//     with any other scope. The client ID alone decorates to exactly the
//     reserved set.
func decorateScopes(scopes []string, clientID string) ([]string, error) {
	seen := make(map[string]struct{}, len(scopes))
	hasClientID := false
	for _, s := range scopes {
		if isReservedScope(s) {
			return nil, &InvalidScopeError{
				Reason: "reserved scopes (openid, profile, offline_access) are always implied and must not be requested explicitly",
				Scopes: scopes,
			}
		}
		if s == clientID {
			hasClientID = true
		}
		seen[s] = struct{}{}
	}

	if hasClientID {
		if len(seen) > 1 {
			return nil, &InvalidScopeError{
				Reason: "the client ID cannot be combined with other scopes in the same request",
				Scopes: scopes,
			}
		}
		return append([]string(nil), reservedScopes...), nil
	}

	decorated := make([]string, 0, len(scopes)+len(reservedScopes))
	for _, s := range scopes {
		decorated = append(decorated, s)
	}
	decorated = append(decorated, reservedScopes...)
	return decorated, nil
}

func isReservedScope(s string) bool {
	s = strings.ToLower(s)
	for _, r := range reservedScopes {
		if s == r {
			return true
		}
	}
	return false
}
