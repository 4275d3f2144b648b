package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"finch/internal/domain/notification"
)

// DeviceTokenRepository implements notification.Repository for PostgreSQL
type DeviceTokenRepository struct {
	db *DB
}

// NewDeviceTokenRepository creates a new PostgreSQL device token repository
func NewDeviceTokenRepository(db *DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

// UpsertDeviceToken registers a device token; a token already registered to
// another user is reassigned (device changed hands or user re-logged-in)
func (r *DeviceTokenRepository) UpsertDeviceToken(ctx context.Context, params notification.RegisterParams) (*notification.DeviceToken, error) {
	query := `
		INSERT INTO device_tokens (id, user_id, token, platform, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (token)
		DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			active = TRUE,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, user_id, token, platform, active, created_at, updated_at
	`

	var dt notification.DeviceToken
	err := r.db.QueryRowContext(
		ctx, query,
		uuid.NewString(), params.UserID, params.Token, params.Platform,
	).Scan(
		&dt.ID, &dt.UserID, &dt.Token, &dt.Platform, &dt.Active,
		&dt.CreatedAt, &dt.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device token: %w", err)
	}
	return &dt, nil
}

// ListActiveTokens returns the active push tokens for a user
func (r *DeviceTokenRepository) ListActiveTokens(ctx context.Context, userID int64) ([]string, error) {
	query := `SELECT token FROM device_tokens WHERE user_id = $1 AND active`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device tokens: %w", err)
	}
	return tokens, nil
}

// DeactivateToken marks a token inactive after the push service rejects it
func (r *DeviceTokenRepository) DeactivateToken(ctx context.Context, token string) error {
	query := `UPDATE device_tokens SET active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE token = $1`
	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("failed to deactivate device token: %w", err)
	}
	return nil
}
