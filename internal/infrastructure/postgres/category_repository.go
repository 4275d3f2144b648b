package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"finch/internal/domain/category"
)

// CategoryRepository implements the category.Repository interface for PostgreSQL
type CategoryRepository struct {
	db *DB
}

// NewCategoryRepository creates a new PostgreSQL category repository
func NewCategoryRepository(db *DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// Create creates a new category
func (r *CategoryRepository) Create(ctx context.Context, userID int64, params category.CreateParams) (*category.Category, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO categories (id, user_id, name, category_group, display_order)
		VALUES ($1, $2, $3, $4, COALESCE($5, (SELECT COUNT(*) FROM categories WHERE user_id = $2)))
		RETURNING id, user_id, name, category_group, display_order, created_at, updated_at
	`

	var cat category.Category
	var order sql.NullInt32
	if params.DisplayOrder != nil {
		order = sql.NullInt32{Int32: int32(*params.DisplayOrder), Valid: true}
	}

	err := r.db.QueryRowContext(
		ctx, query,
		uuid.NewString(), userID, params.Name, params.Group, order,
	).Scan(
		&cat.ID, &cat.UserID, &cat.Name, &cat.Group, &cat.DisplayOrder,
		&cat.CreatedAt, &cat.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return &cat, nil
}

// GetByID retrieves a category with its subcategories. Returns (nil, nil) when absent.
func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*category.Category, error) {
	query := `
		SELECT id, user_id, name, category_group, display_order, created_at, updated_at
		FROM categories
		WHERE id = $1
	`

	var cat category.Category
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&cat.ID, &cat.UserID, &cat.Name, &cat.Group, &cat.DisplayOrder,
		&cat.CreatedAt, &cat.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}

	if err := r.attachSubcategories(ctx, []*category.Category{&cat}); err != nil {
		return nil, err
	}
	return &cat, nil
}

// ListByUserID retrieves the user's categories with subcategories populated
func (r *CategoryRepository) ListByUserID(ctx context.Context, userID int64) ([]*category.Category, error) {
	query := `
		SELECT id, user_id, name, category_group, display_order, created_at, updated_at
		FROM categories
		WHERE user_id = $1
		ORDER BY display_order ASC, name ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var cats []*category.Category
	for rows.Next() {
		var cat category.Category
		err := rows.Scan(
			&cat.ID, &cat.UserID, &cat.Name, &cat.Group, &cat.DisplayOrder,
			&cat.CreatedAt, &cat.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		cats = append(cats, &cat)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	if err := r.attachSubcategories(ctx, cats); err != nil {
		return nil, err
	}
	return cats, nil
}

func (r *CategoryRepository) attachSubcategories(ctx context.Context, cats []*category.Category) error {
	if len(cats) == 0 {
		return nil
	}

	byID := make(map[string]*category.Category, len(cats))
	ids := make([]string, 0, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	query := `
		SELECT id, category_id, name, display_order, created_at, updated_at
		FROM subcategories
		WHERE category_id = ANY($1)
		ORDER BY display_order ASC, name ASC
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to list subcategories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sub category.Subcategory
		err := rows.Scan(
			&sub.ID, &sub.CategoryID, &sub.Name, &sub.DisplayOrder,
			&sub.CreatedAt, &sub.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan subcategory: %w", err)
		}
		if cat, ok := byID[sub.CategoryID]; ok {
			cat.Subcategories = append(cat.Subcategories, sub)
		}
	}
	return rows.Err()
}

// Update modifies a category's name, group or display order
func (r *CategoryRepository) Update(ctx context.Context, id string, params category.UpdateParams) (*category.Category, error) {
	query := `
		UPDATE categories
		SET name = COALESCE($1, name),
		    category_group = COALESCE($2, category_group),
		    display_order = COALESCE($3, display_order),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
		RETURNING id, user_id, name, category_group, display_order, created_at, updated_at
	`

	var order sql.NullInt32
	if params.DisplayOrder != nil {
		order = sql.NullInt32{Int32: int32(*params.DisplayOrder), Valid: true}
	}

	var cat category.Category
	err := r.db.QueryRowContext(
		ctx, query,
		nullString(params.Name), nullString(params.Group), order, id,
	).Scan(
		&cat.ID, &cat.UserID, &cat.Name, &cat.Group, &cat.DisplayOrder,
		&cat.CreatedAt, &cat.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, category.ErrCategoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update category: %w", err)
	}

	if err := r.attachSubcategories(ctx, []*category.Category{&cat}); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Delete removes a category; subcategories cascade and referencing
// transactions are left uncategorized by the schema
func (r *CategoryRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return category.ErrCategoryNotFound
	}
	return nil
}

// CreateSubcategory adds a subcategory under a category
func (r *CategoryRepository) CreateSubcategory(ctx context.Context, categoryID, name string, displayOrder *int) (*category.Subcategory, error) {
	query := `
		INSERT INTO subcategories (id, category_id, name, display_order)
		VALUES ($1, $2, $3, COALESCE($4, (SELECT COUNT(*) FROM subcategories WHERE category_id = $2)))
		RETURNING id, category_id, name, display_order, created_at, updated_at
	`

	var order sql.NullInt32
	if displayOrder != nil {
		order = sql.NullInt32{Int32: int32(*displayOrder), Valid: true}
	}

	var sub category.Subcategory
	err := r.db.QueryRowContext(ctx, query, uuid.NewString(), categoryID, name, order).Scan(
		&sub.ID, &sub.CategoryID, &sub.Name, &sub.DisplayOrder,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subcategory: %w", err)
	}
	return &sub, nil
}

// DeleteSubcategory removes a subcategory
func (r *CategoryRepository) DeleteSubcategory(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM subcategories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subcategory: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return category.ErrCategoryNotFound
	}
	return nil
}
