package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fernshop/admingate/internal/model"
)

const uniqueViolation = "23505"

// AdminRepository persists staff identities and their backup codes.
type AdminRepository struct {
	db *Connection
}

// NewAdminRepository creates an AdminRepository.
func NewAdminRepository(db *Connection) *AdminRepository {
	return &AdminRepository{db: db}
}

const adminColumns = `id, email, name, password_verifier, role, active,
	challenge_secret, challenge_enabled, last_login_at, created_at, updated_at`

func scanAdmin(row pgx.Row) (model.AdminUser, error) {
	var u model.AdminUser
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordVerifier, &u.Role, &u.Active,
		&u.ChallengeSecret, &u.ChallengeEnabled, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AdminUser{}, model.ErrNotFound
		}
		return model.AdminUser{}, fmt.Errorf("failed to scan admin user: %w", err)
	}
	return u, nil
}

// GetByEmail looks up an identity by its lower-cased email.
func (r *AdminRepository) GetByEmail(ctx context.Context, email string) (model.AdminUser, error) {
	query := `SELECT ` + adminColumns + ` FROM admin_users WHERE lower(email) = lower($1)`
	return scanAdmin(r.db.QueryRow(ctx, query, strings.TrimSpace(email)))
}

// GetByID looks up an identity by id.
func (r *AdminRepository) GetByID(ctx context.Context, id uuid.UUID) (model.AdminUser, error) {
	query := `SELECT ` + adminColumns + ` FROM admin_users WHERE id = $1`
	return scanAdmin(r.db.QueryRow(ctx, query, id))
}

// List returns all identities, newest first.
func (r *AdminRepository) List(ctx context.Context) ([]model.AdminUser, error) {
	query := `SELECT ` + adminColumns + ` FROM admin_users ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin users: %w", err)
	}
	defer rows.Close()

	var users []model.AdminUser
	for rows.Next() {
		u, err := scanAdmin(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Create inserts a new identity. Emails colliding under case-fold map to
// model.ErrDuplicateEmail.
func (r *AdminRepository) Create(ctx context.Context, u model.AdminUser) (model.AdminUser, error) {
	query := `INSERT INTO admin_users
		(id, email, name, password_verifier, role, active, challenge_secret, challenge_enabled, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING ` + adminColumns

	saved, err := scanAdmin(r.db.QueryRow(ctx, query,
		u.ID, u.Email, u.Name, u.PasswordVerifier, u.Role, u.Active,
		u.ChallengeSecret, u.ChallengeEnabled, u.CreatedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.AdminUser{}, model.ErrDuplicateEmail
		}
		return model.AdminUser{}, fmt.Errorf("failed to create admin user: %w", err)
	}
	return saved, nil
}

// Update writes the mutable profile fields.
func (r *AdminRepository) Update(ctx context.Context, u model.AdminUser) (model.AdminUser, error) {
	query := `UPDATE admin_users
		SET name = $2, role = $3, active = $4, updated_at = now()
		WHERE id = $1
		RETURNING ` + adminColumns
	return scanAdmin(r.db.QueryRow(ctx, query, u.ID, u.Name, u.Role, u.Active))
}

// SetActive flips the soft-delete flag.
func (r *AdminRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE admin_users SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// CountActiveByRole supports the sole-owner protection check.
func (r *AdminRepository) CountActiveByRole(ctx context.Context, role string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM admin_users WHERE role = $1 AND active`, role).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active admins: %w", err)
	}
	return n, nil
}

// UpdateVerifier upgrades the password verifier in place.
func (r *AdminRepository) UpdateVerifier(ctx context.Context, id uuid.UUID, verifier string) error {
	tag, err := r.db.Exec(ctx, `UPDATE admin_users SET password_verifier = $2, updated_at = now() WHERE id = $1`, id, verifier)
	if err != nil {
		return fmt.Errorf("failed to update verifier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// RecordLogin stamps last_login_at.
func (r *AdminRepository) RecordLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE admin_users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// SetChallengeSecret stores a pending enrollment secret; the challenge
// stays disabled until verified.
func (r *AdminRepository) SetChallengeSecret(ctx context.Context, id uuid.UUID, secret string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE admin_users SET challenge_secret = $2, challenge_enabled = FALSE, updated_at = now() WHERE id = $1`,
		id, secret)
	if err != nil {
		return fmt.Errorf("failed to set challenge secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// EnableChallenge flips the enabled flag once the first code verified.
func (r *AdminRepository) EnableChallenge(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE admin_users SET challenge_enabled = TRUE, updated_at = now() WHERE id = $1 AND challenge_secret <> ''`,
		id)
	if err != nil {
		return fmt.Errorf("failed to enable challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ConsumeBackupCode marks a matching unused code as used in one atomic
// update and reports how many unused codes remain. A concurrent submission
// of the same code can win on at most one connection.
func (r *AdminRepository) ConsumeBackupCode(ctx context.Context, userID uuid.UUID, codeHash string) (int, bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE admin_backup_codes SET used = TRUE WHERE user_id = $1 AND code_hash = $2 AND NOT used`,
		userID, codeHash)
	if err != nil {
		return 0, false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, false, nil
	}

	var remaining int
	err = r.db.QueryRow(ctx,
		`SELECT count(*) FROM admin_backup_codes WHERE user_id = $1 AND NOT used`, userID).Scan(&remaining)
	if err != nil {
		return 0, true, fmt.Errorf("failed to count backup codes: %w", err)
	}
	return remaining, true, nil
}

// ReplaceBackupCodes swaps the full code set atomically.
func (r *AdminRepository) ReplaceBackupCodes(ctx context.Context, userID uuid.UUID, codeHashes []string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM admin_backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete backup codes: %w", err)
	}
	for _, hash := range codeHashes {
		_, err := tx.Exec(ctx,
			`INSERT INTO admin_backup_codes (id, user_id, code_hash) VALUES ($1, $2, $3)`,
			uuid.New(), userID, hash)
		if err != nil {
			return fmt.Errorf("failed to insert backup code: %w", err)
		}
	}
	return tx.Commit(ctx)
}
