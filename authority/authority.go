// Package authority resolves authority base URLs into instance/tenant pairs
// and their OAuth2 endpoints, and exposes the discovery-backed alias groups of
// equivalent sovereign-cloud instances used to widen cache lookups.
package authority

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/giantswarm/authcache/internal/util"
)

// Authority type discriminators.
const (
	TypeAAD  = "MSSTS"
	TypeADFS = "ADFS"
)

// adfsTenantSegment marks an ADFS-style authority in the URL path.
const adfsTenantSegment = "adfs"

// Authority is a resolved issuer endpoint base.
type Authority struct {
	Instance string // host, e.g. "login.microsoftonline.com"
	Tenant   string // tenant segment, e.g. "common" or a tenant GUID
	Type     string // TypeAAD or TypeADFS

	AuthorizationEndpoint string
	TokenEndpoint         string
	DeviceCodeEndpoint    string
}

// ValidationError reports that an authority instance was not recognized by
// the discovery metadata. Transport failures while validating are returned
// as-is, never wrapped into this type.
type ValidationError struct {
	Instance string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("authority instance %q is not recognized by instance discovery", e.Instance)
}

// InstanceMetadata is the discovery endpoint's alias grouping document.
type InstanceMetadata struct {
	Metadata []AliasGroup `json:"metadata"`
}

// AliasGroup is one set of equivalent authority hostnames.
type AliasGroup struct {
	Aliases []string `json:"aliases"`
}

// Discoverer fetches instance-discovery metadata. It is an external
// collaborator; implementations own the HTTP exchange.
type Discoverer interface {
	InstanceDiscovery(ctx context.Context) (*InstanceMetadata, error)
}

// Resolver resolves authority URLs and caches discovery metadata for the
// lifetime of the process. The first Aliases or validated Resolve call
// triggers the single discovery fetch.
type Resolver struct {
	discoverer Discoverer
	logger     *slog.Logger

	mu       sync.Mutex
	metadata *InstanceMetadata
	fetched  bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a Resolver. A nil discoverer disables validation and
// alias widening; Resolve(validate=true) then fails.
func NewResolver(discoverer Discoverer, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		discoverer: discoverer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve parses an authority base URL of the form https://instance/tenant.
// With validate set, the instance is checked against discovery metadata:
// unrecognized instances fail with *ValidationError, and discovery transport
// errors propagate unmodified.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, validate bool) (*Authority, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid authority URL: %w", err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("authority URL must use https, got %q", rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("authority URL has no host: %q", rawURL)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return nil, fmt.Errorf("authority URL must carry a tenant path, e.g. https://%s/common", u.Host)
	}
	tenant := segments[0]
	instance := util.CanonicalHost(u.Host)

	if validate {
		recognized, err := r.instanceKnown(ctx, instance)
		if err != nil {
			return nil, err
		}
		if !recognized {
			return nil, &ValidationError{Instance: instance}
		}
	}

	a := &Authority{
		Instance: instance,
		Tenant:   tenant,
		Type:     TypeAAD,
	}
	base := "https://" + instance + "/" + tenant
	if tenant == adfsTenantSegment {
		a.Type = TypeADFS
		a.AuthorizationEndpoint = base + "/oauth2/authorize"
		a.TokenEndpoint = base + "/oauth2/token"
		a.DeviceCodeEndpoint = base + "/oauth2/devicecode"
		return a, nil
	}
	a.AuthorizationEndpoint = base + "/oauth2/v2.0/authorize"
	a.TokenEndpoint = base + "/oauth2/v2.0/token"
	a.DeviceCodeEndpoint = base + "/oauth2/v2.0/devicecode"
	return a, nil
}

// WithTenantOnHost rebuilds the authority against a different instance host,
// keeping tenant and type. Used by silent resolution to retry the same lookup
// against each environment alias.
func (a *Authority) WithTenantOnHost(instance string) *Authority {
	clone := *a
	host := util.CanonicalHost(instance)
	clone.Instance = host
	replaceHost := func(endpoint string) string {
		return strings.Replace(endpoint, "://"+a.Instance+"/", "://"+host+"/", 1)
	}
	clone.AuthorizationEndpoint = replaceHost(a.AuthorizationEndpoint)
	clone.TokenEndpoint = replaceHost(a.TokenEndpoint)
	clone.DeviceCodeEndpoint = replaceHost(a.DeviceCodeEndpoint)
	return &clone
}

// Aliases returns the other members of the alias group containing instance.
// Discovery failure degrades gracefully: the result is empty and silent
// resolution simply examines fewer environments.
func (r *Resolver) Aliases(ctx context.Context, instance string) []string {
	md, err := r.loadMetadata(ctx)
	if err != nil {
		r.logger.Warn("Instance discovery failed, proceeding without authority aliases", "error", err)
		return nil
	}

	canonical := util.CanonicalHost(instance)
	for _, group := range md.Metadata {
		inGroup := false
		for _, alias := range group.Aliases {
			if util.CanonicalHost(alias) == canonical {
				inGroup = true
				break
			}
		}
		if !inGroup {
			continue
		}
		var others []string
		for _, alias := range group.Aliases {
			if host := util.CanonicalHost(alias); host != canonical {
				others = append(others, host)
			}
		}
		return others
	}
	return nil
}

// instanceKnown reports whether the instance appears in discovery metadata.
func (r *Resolver) instanceKnown(ctx context.Context, instance string) (bool, error) {
	md, err := r.loadMetadata(ctx)
	if err != nil {
		return false, err
	}

	canonical := util.CanonicalHost(instance)
	for _, group := range md.Metadata {
		for _, alias := range group.Aliases {
			if util.CanonicalHost(alias) == canonical {
				return true, nil
			}
		}
	}
	return false, nil
}

// loadMetadata fetches discovery metadata once per process. A successful
// fetch is cached forever; failures are retried on the next call.
func (r *Resolver) loadMetadata(ctx context.Context) (*InstanceMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fetched {
		return r.metadata, nil
	}
	if r.discoverer == nil {
		return nil, fmt.Errorf("no instance discoverer configured")
	}

	md, err := r.discoverer.InstanceDiscovery(ctx)
	if err != nil {
		return nil, err
	}

	r.metadata = md
	r.fetched = true
	r.logger.Debug("Cached instance discovery metadata", "alias_groups", len(md.Metadata))
	return md, nil
}
