package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"finch/internal/domain/tag"
)

// TagRepository implements the tag.Repository interface for PostgreSQL
type TagRepository struct {
	db *DB
}

// NewTagRepository creates a new PostgreSQL tag repository
func NewTagRepository(db *DB) *TagRepository {
	return &TagRepository{db: db}
}

// Create creates a new tag
func (r *TagRepository) Create(ctx context.Context, userID int64, params tag.CreateTagParams) (*tag.Tag, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO tags (id, user_id, name, color)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, name, color, created_at, updated_at
	`

	var t tag.Tag
	err := r.db.QueryRowContext(ctx, query, uuid.NewString(), userID, params.Name, params.Color).Scan(
		&t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tag: %w", err)
	}
	return &t, nil
}

// GetByID retrieves a tag by its ID. Returns (nil, nil) when absent.
func (r *TagRepository) GetByID(ctx context.Context, id string) (*tag.Tag, error) {
	query := `SELECT id, user_id, name, color, created_at, updated_at FROM tags WHERE id = $1`

	var t tag.Tag
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return &t, nil
}

// ListByUserID retrieves all tags for a specific user
func (r *TagRepository) ListByUserID(ctx context.Context, userID int64) ([]*tag.Tag, error) {
	query := `SELECT id, user_id, name, color, created_at, updated_at FROM tags WHERE user_id = $1 ORDER BY name ASC`
	return r.list(ctx, query, userID)
}

// ListByTransactionID retrieves the tags attached to a transaction
func (r *TagRepository) ListByTransactionID(ctx context.Context, transactionID string) ([]*tag.Tag, error) {
	query := `
		SELECT t.id, t.user_id, t.name, t.color, t.created_at, t.updated_at
		FROM tags t
		JOIN transaction_tags tt ON tt.tag_id = t.id
		WHERE tt.transaction_id = $1
		ORDER BY t.name ASC
	`
	return r.list(ctx, query, transactionID)
}

func (r *TagRepository) list(ctx context.Context, query string, args ...any) ([]*tag.Tag, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []*tag.Tag
	for rows.Next() {
		var t tag.Tag
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, &t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}
	return tags, nil
}

// Update modifies a tag's name or color
func (r *TagRepository) Update(ctx context.Context, id string, params tag.UpdateTagParams) (*tag.Tag, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		UPDATE tags
		SET name = COALESCE($1, name),
		    color = COALESCE($2, color),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
		RETURNING id, user_id, name, color, created_at, updated_at
	`

	var t tag.Tag
	err := r.db.QueryRowContext(ctx, query, nullString(params.Name), nullString(params.Color), id).Scan(
		&t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, tag.ErrTagNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update tag: %w", err)
	}
	return &t, nil
}

// Delete removes a tag; association rows go first, then the tag itself
func (r *TagRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transaction_tags WHERE tag_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tag associations: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM tags WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tag: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return tag.ErrTagNotFound
	}
	return nil
}

// SetTransactionTags replaces the tag set on a transaction
func (r *TagRepository) SetTransactionTags(ctx context.Context, transactionID string, tagIDs []string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transaction_tags WHERE transaction_id = $1`, transactionID); err != nil {
		return fmt.Errorf("failed to clear transaction tags: %w", err)
	}
	if len(tagIDs) == 0 {
		return nil
	}

	query := `
		INSERT INTO transaction_tags (transaction_id, tag_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, transactionID, pq.Array(tagIDs)); err != nil {
		return fmt.Errorf("failed to set transaction tags: %w", err)
	}
	return nil
}
