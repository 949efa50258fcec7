package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgStore appends audit events to the audit_events table.
type PgStore struct {
	db execer
}

func NewPgStore(db execer) *PgStore {
	if db == nil {
		panic("audit: pgx pool required")
	}
	return &PgStore{db: db}
}

func (s *PgStore) Append(ctx context.Context, ev Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	meta, err := json.Marshal(ev.Meta)
	if err != nil {
		return fmt.Errorf("audit: marshal meta: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_events (id, tenant_id, actor_id, action, subject_id, occurred_at, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.TenantID, ev.ActorID, string(ev.Action), ev.SubjectID, ev.OccurredAt, meta)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}

	return nil
}
