// Package transaction defines the transaction entity, including the
// one-level split tree (parent/children) and the manual flag that shields
// user-owned rows from provider-driven deletion.
package transaction

import (
	"errors"
	"time"
)

// Domain errors
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrForbidden           = errors.New("transaction does not belong to user")
	ErrAlreadySplit        = errors.New("transaction is already split")
	ErrIsSplitChild        = errors.New("split children cannot be split again")
	ErrNotSplit            = errors.New("transaction is not split")
	ErrEmptySplits         = errors.New("at least one split is required")
)

// Transaction represents a single ledger row. Amounts are signed:
// negative = outflow/expense, positive = inflow.
type Transaction struct {
	ID                    string     `json:"id"`
	AccountID             string     `json:"accountId"`
	UserID                int64      `json:"userId"`
	ExternalTransactionID string     `json:"externalTransactionId"`
	Amount                float64    `json:"amount"`
	Currency              string     `json:"currency"`
	Date                  time.Time  `json:"date"`
	AuthorizedAt          *time.Time `json:"authorizedAt,omitempty"`
	Name                  string     `json:"name"`
	MerchantName          *string    `json:"merchantName,omitempty"`
	ProviderCategory      *string    `json:"providerCategory,omitempty"`
	ProviderSubcategory   *string    `json:"providerSubcategory,omitempty"`
	CategoryID            *string    `json:"categoryId,omitempty"`
	SubcategoryID         *string    `json:"subcategoryId,omitempty"`
	Pending               bool       `json:"pending"`
	IsManual              bool       `json:"isManual"`
	IsSplit               bool       `json:"isSplit"`
	ParentTransactionID   *string    `json:"parentTransactionId,omitempty"`
	OriginalTransactionID *string    `json:"originalTransactionId,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// IsSplitChild reports whether t is a child in a split tree.
func (t *Transaction) IsSplitChild() bool {
	return t.ParentTransactionID != nil && *t.ParentTransactionID != ""
}

// UpsertParams carries a provider-sourced row keyed by external id.
type UpsertParams struct {
	AccountID             string
	UserID                int64
	ExternalTransactionID string
	Amount                float64
	Currency              string
	Date                  time.Time
	AuthorizedAt          *time.Time
	Name                  string
	MerchantName          *string
	ProviderCategory      *string
	ProviderSubcategory   *string
	// CategoryID/SubcategoryID are the deterministic provider-string
	// mapping; an existing user assignment always wins over them.
	CategoryID    *string
	SubcategoryID *string
	Pending       bool
}

// Validate validates the upsert parameters.
func (p UpsertParams) Validate() error {
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.ExternalTransactionID == "" {
		return errors.New("external transaction ID is required")
	}
	if p.Name == "" {
		return errors.New("transaction name is required")
	}
	if p.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	return nil
}

// CreateManualParams creates a user-entered row. Manual rows are never
// touched by provider removal deltas or reconnection mass-deletes.
type CreateManualParams struct {
	AccountID     string
	UserID        int64
	Amount        float64
	Currency      string
	Date          time.Time
	Name          string
	MerchantName  *string
	CategoryID    *string
	SubcategoryID *string
}

// Validate validates the manual-create parameters.
func (p CreateManualParams) Validate() error {
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.Name == "" {
		return errors.New("transaction name is required")
	}
	if p.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	return nil
}

// CreateChildParams creates a split child under a parent.
type CreateChildParams struct {
	AccountID             string
	UserID                int64
	ExternalTransactionID string
	ParentTransactionID   string
	OriginalTransactionID string
	Amount                float64
	Currency              string
	Date                  time.Time
	Name                  string
	MerchantName          *string
	CategoryID            *string
	SubcategoryID         *string
}

// PatchParams applies a user edit. Nil fields are left unchanged.
type PatchParams struct {
	Name          *string
	MerchantName  *string
	CategoryID    *string
	SubcategoryID *string
	ClearCategory bool
	Date          *time.Time
	Amount        *float64
}

// UpdateFlagsParams mutates the split/manual lineage fields.
type UpdateFlagsParams struct {
	IsSplit         *bool
	IsManual        *bool
	ClearParent     bool
	SetCategoryID   *string
	SetSubcategory  *string
}
