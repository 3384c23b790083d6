package rbac

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/authzkit/pkg/permission"
)

// Seed is the default catalog and role set applied to new tenants.
//
//	permissions:
//	  - key: user.read
//	    category: users
//	roles:
//	  - name: viewer
//	    permissions: [user.read]
//	  - name: admin
//	    system: true
//	    priority: 0
//	    permissions: ["*"]
//	    inherits: [viewer]
//	templates:
//	  - name: support
//	    permissions: [user.read]
//	    inherits: [viewer]
//
// Templates are not created by seeding. CreateRoleFromTemplate turns one
// into a tenant role on demand.
type Seed struct {
	Permissions []permission.Definition `yaml:"permissions"`
	Roles       []SeedRole              `yaml:"roles"`
	Templates   []SeedRole              `yaml:"templates"`
}

// SeedRole names its parents; they must appear earlier in the seed.
type SeedRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Priority    int      `yaml:"priority"`
	System      bool     `yaml:"system"`
	Permissions []string `yaml:"permissions"`
	Inherits    []string `yaml:"inherits"`
}

// LoadSeed decodes and validates a YAML seed.
func LoadSeed(r io.Reader) (*Seed, error) {
	var s Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrInvalidSeed, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate normalizes keys in place and checks names and references.
func (s *Seed) Validate() error {
	catalog := make(permission.Set, len(s.Permissions))
	for i, d := range s.Permissions {
		key, err := permission.Normalize(d.Key)
		if err != nil {
			return errors.Join(ErrInvalidSeed, err)
		}
		if catalog.Contains(key) {
			return fmt.Errorf("%w: duplicate permission %q", ErrInvalidSeed, key)
		}
		catalog.Add(key)
		s.Permissions[i].Key = key
	}

	defined := make(map[string]bool, len(s.Roles))
	for i, r := range s.Roles {
		name, err := normalizeRoleName(r.Name)
		if err != nil {
			return errors.Join(ErrInvalidSeed, err)
		}
		if defined[name] {
			return fmt.Errorf("%w: duplicate role %q", ErrInvalidSeed, name)
		}

		keys, err := s.catalogKeys(catalog, name, r.Permissions)
		if err != nil {
			return err
		}
		for j, parent := range r.Inherits {
			parent = strings.TrimSpace(parent)
			if !defined[parent] {
				return fmt.Errorf("%w: role %q inherits %q which is not defined before it", ErrInvalidSeed, name, parent)
			}
			s.Roles[i].Inherits[j] = parent
		}

		defined[name] = true
		s.Roles[i].Name = name
		s.Roles[i].Permissions = keys
	}

	templates := make(map[string]bool, len(s.Templates))
	for i, t := range s.Templates {
		name, err := normalizeRoleName(t.Name)
		if err != nil {
			return errors.Join(ErrInvalidSeed, err)
		}
		if templates[name] {
			return fmt.Errorf("%w: duplicate template %q", ErrInvalidSeed, name)
		}
		if t.System {
			return fmt.Errorf("%w: template %q cannot be a system role", ErrInvalidSeed, name)
		}
		keys, err := s.catalogKeys(catalog, name, t.Permissions)
		if err != nil {
			return err
		}
		for j, parent := range t.Inherits {
			parent = strings.TrimSpace(parent)
			if !defined[parent] {
				return fmt.Errorf("%w: template %q inherits %q which is not a seeded role", ErrInvalidSeed, name, parent)
			}
			s.Templates[i].Inherits[j] = parent
		}

		templates[name] = true
		s.Templates[i].Name = name
		s.Templates[i].Permissions = keys
	}
	return nil
}

// catalogKeys normalizes the keys of role or template name and checks
// them against a non-empty catalog.
func (s *Seed) catalogKeys(catalog permission.Set, name string, keys []string) ([]string, error) {
	keys, err := permission.NormalizeAll(keys)
	if err != nil {
		return nil, errors.Join(ErrInvalidSeed, fmt.Errorf("%q: %w", name, err))
	}
	for _, k := range keys {
		if len(catalog) > 0 && k != permission.Wildcard && !catalog.Contains(k) {
			return nil, fmt.Errorf("%w: %q uses unknown permission %q", ErrInvalidSeed, name, k)
		}
	}
	return keys, nil
}

// Template returns the template called name.
func (s *Seed) Template(name string) (SeedRole, bool) {
	name = strings.TrimSpace(name)
	for _, t := range s.Templates {
		if t.Name == name {
			return t, true
		}
	}
	return SeedRole{}, false
}

// Seed applies s to tenantID in one transaction. Catalog entries are
// upserted. Roles that already exist by name are left untouched; the others
// are created with one role.created event each.
func (m *Manager) Seed(ctx context.Context, tenantID, actorID uuid.UUID, s *Seed) ([]Role, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil seed", ErrInvalidSeed)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var created []Role
	err := m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		created = created[:0]
		for _, d := range s.Permissions {
			d.TenantID = tenantID
			d.IsSystem = true
			if err := tx.UpsertPermission(ctx, tenantID, d); err != nil {
				return err
			}
		}

		ids := make(map[string]uuid.UUID, len(s.Roles))
		now := m.now().UTC()
		for _, sr := range s.Roles {
			existing, err := tx.GetRoleByName(ctx, tenantID, sr.Name)
			if err == nil {
				ids[sr.Name] = existing.ID
				continue
			}
			if !errors.Is(err, ErrRoleNotFound) {
				return err
			}

			parents := make([]uuid.UUID, 0, len(sr.Inherits))
			for _, p := range sr.Inherits {
				parents = append(parents, ids[p])
			}
			role := Role{
				ID:          uuid.New(),
				TenantID:    tenantID,
				Name:        sr.Name,
				Description: sr.Description,
				Permissions: sr.Permissions,
				IsSystem:    sr.System,
				Priority:    sr.Priority,
				Version:     1,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := m.createRole(ctx, tx, actorID, &role, parents, ""); err != nil {
				return err
			}
			ids[sr.Name] = role.ID
			created = append(created, role)
		}
		return nil
	})
	if err != nil {
		return nil, m.txErr(ctx, tenantID, err)
	}
	return created, nil
}
