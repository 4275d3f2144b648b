package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"finch/internal/domain/reconnect"
)

// StashRepository implements reconnect.Stash for PostgreSQL, so prepared
// reconnections survive process restarts and work across replicas.
type StashRepository struct {
	db *DB
}

// NewStashRepository creates a new PostgreSQL reconnection stash
func NewStashRepository(db *DB) *StashRepository {
	return &StashRepository{db: db}
}

// Put stores a prepared reconnection
func (r *StashRepository) Put(ctx context.Context, entry *reconnect.Entry) error {
	query := `
		INSERT INTO reconnect_stash (
			id, item_id, user_id, access_token, external_item_id,
			institution_id, institution_name, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(
		ctx, query,
		entry.ID, entry.ItemID, entry.UserID, entry.EncryptedAccessToken,
		entry.ExternalItemID, entry.InstitutionID, entry.InstitutionName,
		entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to stash reconnection: %w", err)
	}
	return nil
}

// Get retrieves a stashed reconnection. Expired entries are not returned.
func (r *StashRepository) Get(ctx context.Context, id string) (*reconnect.Entry, error) {
	query := `
		SELECT id, item_id, user_id, access_token, external_item_id,
		       institution_id, institution_name, created_at, expires_at
		FROM reconnect_stash
		WHERE id = $1 AND expires_at > CURRENT_TIMESTAMP
	`

	var entry reconnect.Entry
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&entry.ID, &entry.ItemID, &entry.UserID, &entry.EncryptedAccessToken,
		&entry.ExternalItemID, &entry.InstitutionID, &entry.InstitutionName,
		&entry.CreatedAt, &entry.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stashed reconnection: %w", err)
	}
	return &entry, nil
}

// Delete removes a stashed reconnection
func (r *StashRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM reconnect_stash WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete stashed reconnection: %w", err)
	}
	return nil
}

// PurgeExpired drops entries past their expiry
func (r *StashRepository) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reconnect_stash WHERE expires_at <= CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge reconnection stash: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}
