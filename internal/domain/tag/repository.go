package tag

import "context"

type Repository interface {
	Create(ctx context.Context, userID int64, params CreateTagParams) (*Tag, error)
	GetByID(ctx context.Context, id string) (*Tag, error)
	ListByUserID(ctx context.Context, userID int64) ([]*Tag, error)
	Update(ctx context.Context, id string, params UpdateTagParams) (*Tag, error)

	// Delete removes the tag after removing its transaction associations.
	// The association rows are deleted first, then the tag, sequenced by
	// the implementation (single-row atomicity only).
	Delete(ctx context.Context, id string) error

	// SetTransactionTags replaces the tag set on a transaction.
	SetTransactionTags(ctx context.Context, transactionID string, tagIDs []string) error
	ListByTransactionID(ctx context.Context, transactionID string) ([]*Tag, error)
}
