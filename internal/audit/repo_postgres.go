package audit

import (
	"context"
	"database/sql"
)

// Schema creates the audit_events table; safe to run on every start.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
  id uuid PRIMARY KEY,
  type text NOT NULL,
  actor_user_id text NOT NULL,
  call_sid text,
  phone_number text,
  number_id text,
  recording_sid text,
  message text,
  metadata jsonb,
  created_at timestamptz NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS audit_events_actor_created_idx ON audit_events (actor_user_id, created_at)`,
}

// PostgresRepo appends events to audit_events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, actor_user_id, call_sid, phone_number, number_id, recording_sid, message, metadata, created_at
) VALUES (
  $1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),$8,NULLIF($9,'')::jsonb,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		e.ActorUserID,
		e.CallSID,
		e.PhoneNumber,
		e.NumberID,
		e.RecordingSID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
