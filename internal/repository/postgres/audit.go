package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fernshop/admingate/internal/audit"
)

var _ audit.Store = (*AuditRepository)(nil)

// AuditRepository persists audit events. Rows are append-only; there is no
// update or delete path.
type AuditRepository struct {
	db *Connection
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *Connection) *AuditRepository {
	return &AuditRepository{db: db}
}

// Write inserts one event.
func (r *AuditRepository) Write(ctx context.Context, e audit.Event) error {
	detail := e.Detail
	if detail == nil {
		detail = map[string]string{}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_log (id, action, actor_id, actor_email, target_type, target_id, detail, ip, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Action, e.ActorID, e.ActorEmail, e.TargetType, e.TargetID, detail, e.IP, e.UserAgent, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Query returns events matching the filter, newest first.
func (r *AuditRepository) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	query := `SELECT id, action, actor_id, actor_email, target_type, target_id, detail, ip, user_agent, created_at
		FROM audit_log WHERE TRUE`
	args := []any{}

	if f.ActorEmail != "" {
		args = append(args, f.ActorEmail)
		query += fmt.Sprintf(" AND actor_email = $%d", len(args))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorID, &e.ActorEmail, &e.TargetType, &e.TargetID, &e.Detail, &e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				break
			}
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
