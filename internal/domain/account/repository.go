package account

import "context"

// Repository defines the interface for account data access.
// Defined in the domain layer, implemented in the infrastructure layer.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByExternalID(ctx context.Context, externalAccountID string) (*Account, error)
	ListByItemID(ctx context.Context, itemID string) ([]*Account, error)
	ListByUserID(ctx context.Context, userID int64) ([]*Account, error)

	// Upsert creates or updates an account keyed by external account id.
	Upsert(ctx context.Context, params UpsertParams) (*Account, error)

	// Remap patches the row's provider identity in place, preserving the
	// row id so historical transactions stay attached.
	Remap(ctx context.Context, id string, params RemapParams) error

	Delete(ctx context.Context, id string) error
}
