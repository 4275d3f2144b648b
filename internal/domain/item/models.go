// Package item defines the domain model for a connected financial
// institution (one provider "item" per bank login).
package item

import (
	"errors"
	"time"
)

// Item statuses, driven by provider webhooks and sync errors.
const (
	StatusActive            = "ACTIVE"
	StatusError             = "ERROR"
	StatusPendingExpiration = "PENDING_EXPIRATION"
	StatusPendingDisconnect = "PENDING_DISCONNECT"
)

var validStatuses = map[string]struct{}{
	StatusActive:            {},
	StatusError:             {},
	StatusPendingExpiration: {},
	StatusPendingDisconnect: {},
}

// Domain errors
var (
	ErrItemNotFound   = errors.New("item not found")
	ErrInvalidStatus  = errors.New("invalid item status")
	ErrForbidden      = errors.New("item does not belong to user")
	ErrSyncInProgress = errors.New("a sync or reconnection is already running for this item")
)

// Item represents one linked external bank/brokerage connection.
// AccessToken is stored encrypted; repositories never see plaintext.
type Item struct {
	ID                 string     `json:"id"`
	UserID             int64      `json:"userId"`
	ExternalItemID     string     `json:"externalItemId"`
	AccessToken        string     `json:"-"`
	InstitutionID      string     `json:"institutionId"`
	InstitutionName    string     `json:"institutionName"`
	Status             string     `json:"status"`
	TransactionsCursor *string    `json:"-"`
	InvestmentsCursor  *string    `json:"-"`
	LastSyncedAt       *time.Time `json:"lastSyncedAt"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// CreateParams contains parameters for creating an item on first link.
type CreateParams struct {
	UserID          int64
	ExternalItemID  string
	AccessToken     string
	InstitutionID   string
	InstitutionName string
}

// Validate validates the create parameters.
func (p CreateParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.ExternalItemID == "" {
		return errors.New("external item ID is required")
	}
	if p.AccessToken == "" {
		return errors.New("access token is required")
	}
	return nil
}

// ReplaceCredentialsParams carries the wholesale credential swap applied on
// reconnection: new external id, new token, cursors cleared by the repository.
type ReplaceCredentialsParams struct {
	ExternalItemID  string
	AccessToken     string
	InstitutionID   string
	InstitutionName string
}

// Validate validates the replace parameters.
func (p ReplaceCredentialsParams) Validate() error {
	if p.ExternalItemID == "" {
		return errors.New("external item ID is required")
	}
	if p.AccessToken == "" {
		return errors.New("access token is required")
	}
	return nil
}

// IsValidStatus reports whether s is an allowed item status.
func IsValidStatus(s string) bool {
	_, ok := validStatuses[s]
	return ok
}
