// Package permission defines permission keys of the form "resource.action",
// the "*" wildcard and the catalog entries tenants and the platform publish.
package permission

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
)

const (
	// Wildcard grants every permission.
	Wildcard = "*"

	// Delimiter separates the resource and action segments.
	Delimiter = "."
)

var segmentPattern = regexp.MustCompile(`^[a-z0-9_:-]+$`)

// Definition is a permission catalog entry. TenantID is uuid.Nil for system
// permissions, which are visible to every tenant.
type Definition struct {
	TenantID    uuid.UUID `json:"tenant_id" yaml:"-"`
	Key         string    `json:"key" yaml:"key"`
	Category    string    `json:"category,omitempty" yaml:"category"`
	Description string    `json:"description,omitempty" yaml:"description"`
	IsSystem    bool      `json:"is_system" yaml:"-"`
}

// ScopeTenantID returns the owning tenant, uuid.Nil for system entries.
func (d Definition) ScopeTenantID() uuid.UUID { return d.TenantID }

// Key builds a permission key from resource and action.
func Key(resource, action string) string {
	return strings.ToLower(strings.TrimSpace(resource)) + Delimiter + strings.ToLower(strings.TrimSpace(action))
}

// Parse normalizes and validates a key, returning its resource and action.
// The wildcard parses to ("*", "").
func Parse(key string) (resource, action string, err error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == Wildcard {
		return Wildcard, "", nil
	}

	resource, action, ok := strings.Cut(key, Delimiter)
	if !ok || strings.Contains(action, Delimiter) {
		return "", "", fmt.Errorf("%w: %q must be resource.action", ErrInvalidKey, key)
	}
	if !segmentPattern.MatchString(resource) || !segmentPattern.MatchString(action) {
		return "", "", fmt.Errorf("%w: %q has invalid characters", ErrInvalidKey, key)
	}
	return resource, action, nil
}

// Normalize returns the canonical form of key or an error if it is invalid.
func Normalize(key string) (string, error) {
	resource, action, err := Parse(key)
	if err != nil {
		return "", err
	}
	if resource == Wildcard {
		return Wildcard, nil
	}
	return resource + Delimiter + action, nil
}

// NormalizeAll validates every key and returns a sorted, de-duplicated slice.
// Errors from individual keys are reported for the first invalid key only.
func NormalizeAll(keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		n, err := Normalize(k)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
