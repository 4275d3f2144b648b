package account

import (
	"errors"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

var (
	// Allowed account types (provider vocabulary).
	accountTypes = map[string]struct{}{
		"depository": {},
		"credit":     {},
		"loan":       {},
		"investment": {},
		"other":      {},
	}
	// Common ISO 4217 currency codes
	validCurrencies = map[string]struct{}{
		"USD": {}, "EUR": {}, "GBP": {}, "JPY": {}, "CHF": {},
		"CAD": {}, "AUD": {}, "NZD": {}, "CNY": {}, "INR": {},
		"MXN": {}, "BRL": {}, "ZAR": {}, "SEK": {}, "NOK": {},
		"DKK": {}, "PLN": {}, "TRY": {}, "KRW": {}, "SGD": {},
		"HKD": {}, "ARS": {}, "CLP": {}, "COP": {},
	}
)

// Domain errors
var (
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrAccountNotFound    = errors.New("account not found")
	ErrForbidden          = errors.New("access forbidden")
	ErrInvalidCurrency    = errors.New("valid ISO 4217 currency is required")
)

// Account represents a financial account under an item.
type Account struct {
	ID                string     `json:"id"`
	ItemID            string     `json:"itemId"`
	UserID            int64      `json:"userId"`
	ExternalAccountID string     `json:"externalAccountId"`
	Name              string     `json:"name"`
	OfficialName      *string    `json:"officialName,omitempty"`
	Mask              *string    `json:"mask,omitempty"`
	AccountType       string     `json:"accountType"`
	Subtype           *string    `json:"subtype,omitempty"`
	Currency          string     `json:"currency"`
	CurrentBalance    *float64   `json:"currentBalance,omitempty"`
	AvailableBalance  *float64   `json:"availableBalance,omitempty"`
	CreditLimit       *float64   `json:"creditLimit,omitempty"`
	BalanceAsOf       *time.Time `json:"balanceAsOf,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// UpsertParams contains parameters for upserting an account during link,
// balance refresh or reconnection.
type UpsertParams struct {
	ItemID            string
	UserID            int64
	ExternalAccountID string
	Name              string
	OfficialName      *string
	Mask              *string
	AccountType       string
	Subtype           *string
	Currency          string
	CurrentBalance    *float64
	AvailableBalance  *float64
	CreditLimit       *float64
	BalanceAsOf       *time.Time
}

// Validate validates the upsert parameters.
func (p UpsertParams) Validate() error {
	if p.ItemID == "" {
		return errors.New("item ID is required")
	}
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.ExternalAccountID == "" {
		return errors.New("external account ID is required")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if !IsValidAccountType(p.AccountType) {
		return ErrInvalidAccountType
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// RemapParams patches an existing account row to a new provider identity
// while keeping the row (and its transaction history) intact.
type RemapParams struct {
	ExternalAccountID string
	Name              string
	OfficialName      *string
	Mask              *string
	CurrentBalance    *float64
	AvailableBalance  *float64
	CreditLimit       *float64
	BalanceAsOf       *time.Time
}

// IsValidAccountType checks if the provided account type is valid.
func IsValidAccountType(t string) bool {
	_, ok := accountTypes[t]
	return ok
}

// IsValidCurrency checks if the provided currency is a valid ISO 4217 code.
func IsValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	_, ok := validCurrencies[c]
	return ok
}

// Signature returns the (name, mask) identity used to match account rows
// across reconnections, when the institution issues fresh external ids.
func (a *Account) Signature() string {
	return MakeSignature(a.Name, a.Mask)
}

// MakeSignature builds the normalized (name, mask) matching key.
func MakeSignature(name string, mask *string) string {
	m := ""
	if mask != nil {
		m = *mask
	}
	return strings.ToLower(strings.TrimSpace(name)) + "|" + m
}

// maxNameDistance bounds the levenshtein fallback so "Checking" still
// matches a renamed "Checking Acct" with the same mask, but unrelated
// accounts that happen to share a mask do not.
const maxNameDistance = 8

// MatchBySignature finds the existing account matching the given provider
// identity. Exact (name, mask) match first; otherwise the closest name with
// the same mask within the edit-distance bound. Returns nil when nothing
// matches.
func MatchBySignature(existing []*Account, name string, mask *string) *Account {
	want := MakeSignature(name, mask)
	for _, a := range existing {
		if a.Signature() == want {
			return a
		}
	}

	if mask == nil || *mask == "" {
		return nil
	}

	var best *Account
	bestDist := maxNameDistance + 1
	normName := strings.ToLower(strings.TrimSpace(name))
	for _, a := range existing {
		if a.Mask == nil || *a.Mask != *mask {
			continue
		}
		d := levenshtein.ComputeDistance(normName, strings.ToLower(strings.TrimSpace(a.Name)))
		if d < bestDist {
			bestDist = d
			best = a
		}
	}
	if best == nil || bestDist > maxNameDistance {
		return nil
	}
	return best
}
