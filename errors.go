package authcache

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for misconfigured or misused clients.
var (
	// ErrConfidentialOnly is returned when an app-only flow is invoked on a
	// public client. Client-credentials and on-behalf-of both require a
	// client secret or assertion.
	ErrConfidentialOnly = errors.New("flow requires a confidential client credential")

	// ErrFederationNotConfigured is returned when a federated username is
	// encountered but no MEX fetcher / WS-Trust exchanger was supplied.
	ErrFederationNotConfigured = errors.New("federated account support is not configured")
)

// InvalidScopeError reports a malformed scope request. It is raised
// synchronously, before any network call, and is never retried.
type InvalidScopeError struct {
	Reason string
	Scopes []string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("invalid scopes [%s]: %s", strings.Join(e.Scopes, " "), e.Reason)
}
