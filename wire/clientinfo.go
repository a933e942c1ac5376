package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// ClientInfo is the decoded client_info blob returned by the token endpoint
// when client_info=1 is requested. uid and utid together form the stable
// home account ID for the signed-in user.
type ClientInfo struct {
	UID  string `json:"uid"`
	UTID string `json:"utid"`
}

// HomeAccountID renders the directory-qualified account identifier "uid.utid".
func (c ClientInfo) HomeAccountID() string {
	if c.UID == "" && c.UTID == "" {
		return ""
	}
	return c.UID + "." + c.UTID
}

// ParseClientInfo decodes the base64url client_info blob from a token response.
func ParseClientInfo(raw string) (ClientInfo, error) {
	var info ClientInfo
	if raw == "" {
		return info, fmt.Errorf("client_info is empty")
	}
	payload, err := decodeBase64URLSegment(raw)
	if err != nil {
		return info, fmt.Errorf("failed to decode client_info: %w", err)
	}
	if err := json.Unmarshal(payload, &info); err != nil {
		return info, fmt.Errorf("failed to parse client_info: %w", err)
	}
	return info, nil
}

// IDTokenClaims holds the subset of ID-token claims the credential cache
// needs to synthesize account records. The token is decoded without signature
// verification: it arrived over the same TLS channel as the access token and
// is used only for cache bookkeeping, never for authorization decisions.
type IDTokenClaims struct {
	Issuer            string `json:"iss"`
	Subject           string `json:"sub"`
	ObjectID          string `json:"oid"`
	TenantID          string `json:"tid"`
	PreferredUsername string `json:"preferred_username"`
	UPN               string `json:"upn"`
	Name              string `json:"name"`
}

// Username returns the best display identifier available in the claims.
func (c IDTokenClaims) Username() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return c.UPN
}

// DecodeIDTokenClaims decodes the payload segment of a compact JWT.
func DecodeIDTokenClaims(idToken string) (IDTokenClaims, error) {
	var claims IDTokenClaims
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return claims, fmt.Errorf("id_token is not a compact JWT (got %d segments)", len(parts))
	}
	payload, err := decodeBase64URLSegment(parts[1])
	if err != nil {
		return claims, fmt.Errorf("failed to decode id_token payload: %w", err)
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return claims, fmt.Errorf("failed to parse id_token claims: %w", err)
	}
	return claims, nil
}

// decodeBase64URLSegment decodes base64url data with or without padding.
// Token-endpoint blobs are inconsistent about padding across server versions.
func decodeBase64URLSegment(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
