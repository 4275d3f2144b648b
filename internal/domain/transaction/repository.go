package transaction

import "context"

// Repository defines the interface for transaction data access.
// Defined in the domain layer, implemented in the infrastructure layer.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Transaction, error)
	GetByExternalID(ctx context.Context, externalTransactionID string) (*Transaction, error)
	ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*Transaction, error)
	ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*Transaction, error)
	ListChildren(ctx context.Context, parentID string) ([]*Transaction, error)

	// ListSplitChildrenByItem returns every split child under any account
	// of the item (used when reconnection detaches children).
	ListSplitChildrenByItem(ctx context.Context, itemID string) ([]*Transaction, error)

	// ListUncategorized returns rows with no category, newest first.
	ListUncategorized(ctx context.Context, userID int64, limit int) ([]*Transaction, error)

	// Upsert inserts or updates a provider-sourced row keyed by external
	// transaction id. A user-assigned category on the existing row is
	// preserved; only unset categories take the mapped value.
	Upsert(ctx context.Context, params UpsertParams) (*Transaction, error)

	// CreateManual inserts a user-entered row with a synthetic external id.
	CreateManual(ctx context.Context, params CreateManualParams) (*Transaction, error)

	// CreateChild inserts a split child with a synthetic external id.
	CreateChild(ctx context.Context, params CreateChildParams) (*Transaction, error)

	Patch(ctx context.Context, id string, params PatchParams) (*Transaction, error)
	UpdateFlags(ctx context.Context, id string, params UpdateFlagsParams) error

	// SetCategory assigns a category/subcategory (assistant or user).
	SetCategory(ctx context.Context, id string, categoryID, subcategoryID *string) error

	// DeleteByExternalID removes a provider-sourced row unless it is
	// manual or a split parent. Reports whether a row was deleted.
	DeleteByExternalID(ctx context.Context, externalTransactionID string) (bool, error)

	// DeleteChildren removes all direct children of a split parent.
	DeleteChildren(ctx context.Context, parentID string) (int64, error)

	// CountNonManualByItem counts rows a reconnection mass-delete would
	// remove (non-manual, non-split-child rows across the item's accounts).
	CountNonManualByItem(ctx context.Context, itemID string) (int64, error)

	// DeleteNonManualByItem performs the reconnection mass-delete,
	// preserving manual rows and (already converted) split children.
	DeleteNonManualByItem(ctx context.Context, itemID string) (int64, error)
}
