package wstrust

import (
	"errors"
	"testing"

	"github.com/giantswarm/authcache/wire"
)

func TestGrantForResult(t *testing.T) {
	tests := []struct {
		name      string
		result    *Result
		wantGrant string
		wantErr   error
	}{
		{
			"saml 1.1 urn",
			&Result{Token: "assertion", Type: TokenTypeSAML11},
			wire.GrantSAML11Bearer, nil,
		},
		{
			"saml 1.1 profile uri",
			&Result{Token: "assertion", Type: TokenTypeSAML11Alt},
			wire.GrantSAML11Bearer, nil,
		},
		{
			"saml 2.0 urn",
			&Result{Token: "assertion", Type: TokenTypeSAML20},
			wire.GrantSAML20Bearer, nil,
		},
		{
			"saml 2.0 profile uri",
			&Result{Token: "assertion", Type: TokenTypeSAML20Alt},
			wire.GrantSAML20Bearer, nil,
		},
		{
			"unrecognized type",
			&Result{Token: "assertion", Type: "urn:something:else"},
			"", ErrUnsupportedTokenType,
		},
		{
			"missing both token and type",
			&Result{},
			"", ErrMalformedResponse,
		},
		{
			"nil result",
			nil,
			"", ErrMalformedResponse,
		},
		{
			"type without token",
			&Result{Type: TokenTypeSAML20},
			"", ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant, err := GrantForResult(tt.result)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("GrantForResult() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GrantForResult() error = %v", err)
			}
			if grant != tt.wantGrant {
				t.Errorf("GrantForResult() = %q, want %q", grant, tt.wantGrant)
			}
		})
	}
}

func TestSelectEndpoint(t *testing.T) {
	doc := &MexDocument{
		UsernamePasswordEndpoint: &Endpoint{URL: "https://sts.contoso.com/trust/13/usernamemixed", Version: Version13},
	}

	ep, err := SelectEndpoint(doc)
	if err != nil {
		t.Fatalf("SelectEndpoint() error = %v", err)
	}
	if ep.Version != Version13 {
		t.Errorf("Version = %q", ep.Version)
	}
}

func TestSelectEndpoint_NoEndpoint(t *testing.T) {
	for _, doc := range []*MexDocument{
		nil,
		{},
		{UsernamePasswordEndpoint: &Endpoint{}},
	} {
		if _, err := SelectEndpoint(doc); !errors.Is(err, ErrNoFederationEndpoint) {
			t.Errorf("SelectEndpoint(%+v) error = %v, want ErrNoFederationEndpoint", doc, err)
		}
	}
}
