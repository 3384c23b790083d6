package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/pg"
)

const auditColumns = `id, tenant_id, actor_id, action, entity_type, entity_id, details, result,
	request_id, ip, user_agent, created_at, prev_hash, hash`

// AuditStore implements audit.Storage and audit.Reader. Events are sealed
// into their tenant's hash chain under the tenant lock.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore keeps the audit trail in the audit_events table.
func NewAuditStore(db *sql.DB) *AuditStore {
	if db == nil {
		panic("postgres: db is required")
	}
	return &AuditStore{db: db}
}

// Store writes all events in one transaction or none of them.
func (s *AuditStore) Store(ctx context.Context, events ...audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	tenants := make([]uuid.UUID, 0, 1)
	for _, e := range events {
		if !slices.Contains(tenants, e.TenantID) {
			tenants = append(tenants, e.TenantID)
		}
	}
	// A fixed lock order keeps concurrent batches from deadlocking.
	slices.SortFunc(tenants, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })

	return withTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for _, id := range tenants {
			if err := lockTenant(ctx, tx, id); err != nil {
				return err
			}
		}
		return appendAudit(ctx, tx, events...)
	})
}

// Find returns the tenant's events oldest first.
func (s *AuditStore) Find(ctx context.Context, tenantID uuid.UUID, filter audit.Filter) ([]audit.Event, error) {
	query, args := buildAuditQuery(tenantID, filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find audit events: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: find audit events: %w", err)
	}
	return out, nil
}

func buildAuditQuery(tenantID uuid.UUID, f audit.Filter) (string, []any) {
	var (
		b    strings.Builder
		args = []any{tenantID}
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	b.WriteString(`SELECT ` + auditColumns + ` FROM audit_events WHERE tenant_id = $1`)
	if len(f.Actions) > 0 {
		b.WriteString(` AND action = ANY(` + arg(f.Actions) + `::text[])`)
	}
	if f.EntityType != "" {
		b.WriteString(` AND entity_type = ` + arg(f.EntityType))
	}
	if f.EntityID != "" {
		b.WriteString(` AND entity_id = ` + arg(f.EntityID))
	}
	if f.ActorID != uuid.Nil {
		b.WriteString(` AND actor_id = ` + arg(f.ActorID))
	}
	if !f.Since.IsZero() {
		b.WriteString(` AND created_at >= ` + arg(f.Since.UTC()))
	}
	if !f.Until.IsZero() {
		b.WriteString(` AND created_at < ` + arg(f.Until.UTC()))
	}
	b.WriteString(` ORDER BY seq`)
	if f.Limit > 0 {
		b.WriteString(` LIMIT ` + arg(f.Limit))
	}
	if f.Offset > 0 {
		b.WriteString(` OFFSET ` + arg(f.Offset))
	}
	return b.String(), args
}

// appendAudit seals and inserts events. The caller holds the lock of every
// tenant involved.
func appendAudit(ctx context.Context, q dbtx, events ...audit.Event) error {
	heads := make(map[uuid.UUID]string)

	for _, e := range events {
		prev, ok := heads[e.TenantID]
		if !ok {
			err := q.QueryRowContext(ctx,
				`SELECT hash FROM audit_events WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1`,
				e.TenantID,
			).Scan(&prev)
			if err != nil && !pg.IsNotFoundError(err) {
				return fmt.Errorf("postgres: audit chain head: %w", err)
			}
		}

		e.CreatedAt = dbTime(e.CreatedAt)
		audit.Seal(prev, &e)

		var details []byte
		if e.Details != nil {
			var err error
			if details, err = json.Marshal(e.Details); err != nil {
				return fmt.Errorf("postgres: encode audit details: %w", err)
			}
		}

		_, err := q.ExecContext(ctx,
			`INSERT INTO audit_events (`+auditColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			e.ID, e.TenantID, e.ActorID, e.Action, e.EntityType, e.EntityID, details, string(e.Result),
			e.RequestID, e.IP, e.UserAgent, e.CreatedAt, e.PrevHash, e.Hash,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert audit event: %w", err)
		}
		heads[e.TenantID] = e.Hash
	}
	return nil
}

func scanEvent(row scanner) (audit.Event, error) {
	var (
		e       audit.Event
		details []byte
		result  string
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &details, &result,
		&e.RequestID, &e.IP, &e.UserAgent, &e.CreatedAt, &e.PrevHash, &e.Hash)
	if err != nil {
		return audit.Event{}, fmt.Errorf("postgres: scan audit event: %w", err)
	}
	e.Result = audit.Result(result)
	e.CreatedAt = e.CreatedAt.UTC()
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return audit.Event{}, fmt.Errorf("postgres: decode audit details: %w", err)
		}
	}
	return e, nil
}
