package tenant

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Resolver extracts a tenant reference (id or org slug) from a request.
// An empty result means the request carries no reference.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(r *http.Request) (string, error)

func (f ResolverFunc) Resolve(r *http.Request) (string, error) {
	return f(r)
}

// HeaderResolver reads the reference from a header.
type HeaderResolver struct {
	HeaderName string
}

// NewHeaderResolver defaults to X-Tenant-ID.
func NewHeaderResolver(headerName string) *HeaderResolver {
	if headerName == "" {
		headerName = "X-Tenant-ID"
	}
	return &HeaderResolver{HeaderName: headerName}
}

// Resolve reads the configured header.
func (r *HeaderResolver) Resolve(req *http.Request) (string, error) {
	return strings.TrimSpace(req.Header.Get(r.HeaderName)), nil
}

// SubdomainResolver takes the left-most label of hosts ending in Suffix,
// e.g. "acme" for "acme.auth.example.com" with Suffix ".auth.example.com".
type SubdomainResolver struct {
	Suffix string
}

// NewSubdomainResolver resolves "acme" from "acme" + suffix hosts.
func NewSubdomainResolver(suffix string) *SubdomainResolver {
	return &SubdomainResolver{Suffix: suffix}
}

func (r *SubdomainResolver) Resolve(req *http.Request) (string, error) {
	host := req.Host
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	if r.Suffix == "" || !strings.HasSuffix(host, r.Suffix) {
		return "", nil
	}

	sub := strings.TrimSuffix(host, r.Suffix)
	if sub == "" || sub == "www" || strings.Contains(sub, ".") {
		return "", nil
	}
	return sub, nil
}

// PathResolver reads a 1-based path segment, e.g. 2 for /orgs/{org}/...
type PathResolver struct {
	Position int
}

// NewPathResolver reads the path segment at position, counting from 1.
func NewPathResolver(position int) *PathResolver {
	return &PathResolver{Position: position}
}

func (r *PathResolver) Resolve(req *http.Request) (string, error) {
	if r.Position < 1 {
		return "", errors.New("tenant: invalid path position")
	}

	path := strings.Trim(req.URL.Path, "/")
	if path == "" {
		return "", nil
	}

	parts := strings.Split(path, "/")
	if r.Position > len(parts) {
		return "", nil
	}
	return parts[r.Position-1], nil
}

// CompositeResolver returns the first non-empty reference.
type CompositeResolver struct {
	Resolvers []Resolver
}

// NewCompositeResolver tries resolvers in order.
func NewCompositeResolver(resolvers ...Resolver) *CompositeResolver {
	return &CompositeResolver{Resolvers: resolvers}
}

// Resolve returns the first non-empty result.
func (c *CompositeResolver) Resolve(r *http.Request) (string, error) {
	var errs []error
	for _, resolver := range c.Resolvers {
		ref, err := resolver.Resolve(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ref != "" {
			return ref, nil
		}
	}
	if len(errs) > 0 {
		return "", fmt.Errorf("tenant: composite resolver: %w", errors.Join(errs...))
	}
	return "", nil
}
