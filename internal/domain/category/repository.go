package category

import "context"

// Repository defines the interface for category data access.
type Repository interface {
	Create(ctx context.Context, userID int64, params CreateParams) (*Category, error)
	GetByID(ctx context.Context, id string) (*Category, error)

	// ListByUserID returns the user's categories with subcategories
	// populated, ordered by display order.
	ListByUserID(ctx context.Context, userID int64) ([]*Category, error)

	Update(ctx context.Context, id string, params UpdateParams) (*Category, error)

	// Delete removes the category and its subcategories; transactions
	// referencing them are left uncategorized by the schema's ON DELETE
	// SET NULL.
	Delete(ctx context.Context, id string) error

	CreateSubcategory(ctx context.Context, categoryID, name string, displayOrder *int) (*Subcategory, error)
	DeleteSubcategory(ctx context.Context, id string) error
}
