package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fernshop/admingate/internal/model"
)

// SettingsRepository persists the single-row store configuration.
type SettingsRepository struct {
	db *Connection
}

// NewSettingsRepository creates a SettingsRepository.
func NewSettingsRepository(db *Connection) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the settings row. A missing row maps to model.ErrNotFound;
// the storefront then falls back to its embedded defaults.
func (r *SettingsRepository) Get(ctx context.Context) (model.Settings, error) {
	var s model.Settings
	err := r.db.QueryRow(ctx,
		`SELECT store_name, support_email, currency, updated_at FROM store_settings WHERE id = 1`).
		Scan(&s.StoreName, &s.SupportEmail, &s.Currency, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Settings{}, model.ErrNotFound
		}
		return model.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	return s, nil
}

// Upsert writes the settings row.
func (r *SettingsRepository) Upsert(ctx context.Context, s model.Settings) (model.Settings, error) {
	var saved model.Settings
	err := r.db.QueryRow(ctx,
		`INSERT INTO store_settings (id, store_name, support_email, currency, updated_at)
		 VALUES (1, $1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE
		 SET store_name = $1, support_email = $2, currency = $3, updated_at = now()
		 RETURNING store_name, support_email, currency, updated_at`,
		s.StoreName, s.SupportEmail, s.Currency).
		Scan(&saved.StoreName, &saved.SupportEmail, &saved.Currency, &saved.UpdatedAt)
	if err != nil {
		return model.Settings{}, fmt.Errorf("failed to upsert settings: %w", err)
	}
	return saved, nil
}

// Delete removes the settings row, resetting to defaults.
func (r *SettingsRepository) Delete(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM store_settings WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to delete settings: %w", err)
	}
	return nil
}
