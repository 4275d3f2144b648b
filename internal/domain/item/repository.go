package item

import "context"

// Repository defines the interface for item data access.
// Defined in the domain layer, implemented in the infrastructure layer.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Item, error)
	GetByID(ctx context.Context, id string) (*Item, error)
	GetByExternalID(ctx context.Context, externalItemID string) (*Item, error)
	ListByUserID(ctx context.Context, userID int64) ([]*Item, error)

	// ListSyncable returns every item eligible for a scheduled sync
	// (status ACTIVE, across all users).
	ListSyncable(ctx context.Context) ([]*Item, error)

	UpdateStatus(ctx context.Context, id string, status string) error

	// UpdateAccessToken refreshes the stored credential in place
	// (simple reauth: external item id unchanged).
	UpdateAccessToken(ctx context.Context, id string, accessToken string) error

	// SetTransactionsCursor persists the transactions cursor; nil clears it.
	SetTransactionsCursor(ctx context.Context, id string, cursor *string) error

	// SetInvestmentsCursor persists the investments cursor; nil clears it.
	SetInvestmentsCursor(ctx context.Context, id string, cursor *string) error

	// ReplaceCredentials overwrites external id, token and institution,
	// resets status to ACTIVE and clears both cursors (full resync).
	ReplaceCredentials(ctx context.Context, id string, params ReplaceCredentialsParams) error

	TouchLastSynced(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
