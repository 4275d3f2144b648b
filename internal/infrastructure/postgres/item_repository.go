package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"finch/internal/domain/item"
)

// ItemRepository implements the item.Repository interface for PostgreSQL
type ItemRepository struct {
	db *DB
}

// NewItemRepository creates a new PostgreSQL item repository
func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `id, user_id, external_item_id, access_token, institution_id, institution_name,
       status, transactions_cursor, investments_cursor, last_synced_at, created_at, updated_at`

func scanItem(scanner interface{ Scan(...any) error }) (*item.Item, error) {
	var it item.Item
	var txCursor, invCursor sql.NullString
	var lastSynced sql.NullTime

	err := scanner.Scan(
		&it.ID, &it.UserID, &it.ExternalItemID, &it.AccessToken,
		&it.InstitutionID, &it.InstitutionName, &it.Status,
		&txCursor, &invCursor, &lastSynced,
		&it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	it.TransactionsCursor = strPtr(txCursor)
	it.InvestmentsCursor = strPtr(invCursor)
	it.LastSyncedAt = timePtr(lastSynced)
	return &it, nil
}

// Create creates a new item
func (r *ItemRepository) Create(ctx context.Context, params item.CreateParams) (*item.Item, error) {
	query := `
		INSERT INTO items (id, user_id, external_item_id, access_token, institution_id, institution_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + itemColumns

	it, err := scanItem(r.db.QueryRowContext(
		ctx, query,
		uuid.NewString(), params.UserID, params.ExternalItemID, params.AccessToken,
		params.InstitutionID, params.InstitutionName, item.StatusActive,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return it, nil
}

// GetByID retrieves an item by its ID. Returns (nil, nil) when absent.
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`

	it, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

// GetByExternalID retrieves an item by the provider's item id.
func (r *ItemRepository) GetByExternalID(ctx context.Context, externalItemID string) (*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE external_item_id = $1`

	it, err := scanItem(r.db.QueryRowContext(ctx, query, externalItemID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by external id: %w", err)
	}
	return it, nil
}

// ListByUserID retrieves all items for a specific user
func (r *ItemRepository) ListByUserID(ctx context.Context, userID int64) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

// ListSyncable retrieves every ACTIVE item across all users
func (r *ItemRepository) ListSyncable(ctx context.Context) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE status = $1 ORDER BY last_synced_at ASC NULLS FIRST`
	return r.list(ctx, query, item.StatusActive)
}

func (r *ItemRepository) list(ctx context.Context, query string, args ...any) ([]*item.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

// UpdateStatus updates the item status
func (r *ItemRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	if !item.IsValidStatus(status) {
		return item.ErrInvalidStatus
	}
	query := `UPDATE items SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	return r.exec(ctx, query, status, id)
}

// UpdateAccessToken replaces the stored (encrypted) credential in place
func (r *ItemRepository) UpdateAccessToken(ctx context.Context, id string, accessToken string) error {
	query := `UPDATE items SET access_token = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	return r.exec(ctx, query, accessToken, id)
}

// SetTransactionsCursor persists the transactions cursor; nil clears it
func (r *ItemRepository) SetTransactionsCursor(ctx context.Context, id string, cursor *string) error {
	query := `UPDATE items SET transactions_cursor = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	return r.exec(ctx, query, nullString(cursor), id)
}

// SetInvestmentsCursor persists the investments cursor; nil clears it
func (r *ItemRepository) SetInvestmentsCursor(ctx context.Context, id string, cursor *string) error {
	query := `UPDATE items SET investments_cursor = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	return r.exec(ctx, query, nullString(cursor), id)
}

// ReplaceCredentials overwrites the provider identity, resets status to
// ACTIVE and clears both cursors so the next sync replays full history.
func (r *ItemRepository) ReplaceCredentials(ctx context.Context, id string, params item.ReplaceCredentialsParams) error {
	query := `
		UPDATE items
		SET external_item_id = $1,
		    access_token = $2,
		    institution_id = $3,
		    institution_name = $4,
		    status = $5,
		    transactions_cursor = NULL,
		    investments_cursor = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $6
	`
	return r.exec(ctx, query,
		params.ExternalItemID, params.AccessToken,
		params.InstitutionID, params.InstitutionName,
		item.StatusActive, id,
	)
}

// TouchLastSynced stamps a successful sync
func (r *ItemRepository) TouchLastSynced(ctx context.Context, id string) error {
	query := `UPDATE items SET last_synced_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	return r.exec(ctx, query, id)
}

// Delete removes an item (accounts and transactions cascade)
func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM items WHERE id = $1`
	return r.exec(ctx, query, id)
}

func (r *ItemRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return item.ErrItemNotFound
	}
	return nil
}
