// Package wstrust defines the contracts for legacy federated authentication:
// MEX federation-metadata lookup and the WS-Trust RST/RSTR exchange that
// yields a SAML assertion for federated usernames. The request builders and
// XML plumbing live behind the interfaces; this package owns endpoint
// selection and the mapping from SAML token types to OAuth2 grant types.
//
// Failures here are runtime errors, not protocol-error values: a missing
// federation endpoint or a malformed RSTR is a local environment problem the
// caller cannot recover from by inspecting a token response.
package wstrust

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/authcache/wire"
)

// WS-Trust protocol versions an endpoint may speak.
const (
	Version2005 = "wstrust2005"
	Version13   = "wstrust13"
)

// The four SAML token-profile URIs a compliant RSTR may carry.
const (
	TokenTypeSAML11    = "urn:oasis:names:tc:SAML:1.0:assertion"
	TokenTypeSAML11Alt = "http://docs.oasis-open.org/wss/oasis-wss-saml-token-profile-1.1#SAMLV1.1"
	TokenTypeSAML20    = "urn:oasis:names:tc:SAML:2.0:assertion"
	TokenTypeSAML20Alt = "http://docs.oasis-open.org/wss/oasis-wss-saml-token-profile-1.1#SAMLV2.0"
)

// Sentinel errors for federation failure modes.
var (
	// ErrNoFederationEndpoint means MEX resolved no usable WS-Trust endpoint.
	// Common for consumer (MSA) accounts, which cannot use this flow at all.
	ErrNoFederationEndpoint = errors.New("federation metadata exposes no usable WS-Trust endpoint")

	// ErrMalformedResponse means the RSTR carried neither token nor type.
	ErrMalformedResponse = errors.New("WS-Trust response is missing token and type")

	// ErrUnsupportedTokenType means the RSTR token type is not a recognized
	// SAML profile URI.
	ErrUnsupportedTokenType = errors.New("WS-Trust response carries an unsupported token type")
)

// Endpoint is a WS-Trust endpoint advertised by a MEX document.
type Endpoint struct {
	URL     string
	Version string // Version2005 or Version13
}

// MexDocument is the parsed federation-metadata result.
type MexDocument struct {
	UsernamePasswordEndpoint *Endpoint
}

// MexFetcher retrieves and parses a federation-metadata (MEX) document.
type MexFetcher interface {
	Fetch(ctx context.Context, metadataURL string) (*MexDocument, error)
}

// Result is the token of an RSTR: the SAML assertion plus its profile URI.
type Result struct {
	Token string
	Type  string
}

// Exchanger performs the WS-Trust RST/RSTR exchange against an endpoint.
type Exchanger interface {
	Exchange(ctx context.Context, endpoint Endpoint, cloudAudienceURN, username, password string) (*Result, error)
}

// SelectEndpoint picks the username/password endpoint from a MEX document.
func SelectEndpoint(doc *MexDocument) (Endpoint, error) {
	if doc == nil || doc.UsernamePasswordEndpoint == nil || doc.UsernamePasswordEndpoint.URL == "" {
		return Endpoint{}, ErrNoFederationEndpoint
	}
	return *doc.UsernamePasswordEndpoint, nil
}

// GrantForResult validates an RSTR result and returns the OAuth2 SAML-bearer
// grant type matching its token subtype.
func GrantForResult(r *Result) (string, error) {
	if r == nil || (r.Token == "" && r.Type == "") {
		return "", ErrMalformedResponse
	}
	if r.Token == "" {
		return "", fmt.Errorf("%w: empty token for type %q", ErrMalformedResponse, r.Type)
	}

	switch r.Type {
	case TokenTypeSAML11, TokenTypeSAML11Alt:
		return wire.GrantSAML11Bearer, nil
	case TokenTypeSAML20, TokenTypeSAML20Alt:
		return wire.GrantSAML20Bearer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTokenType, r.Type)
	}
}
