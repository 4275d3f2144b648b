// Package plaid implements the banking-aggregation provider client:
// incremental transaction sync, public-token exchange and account metadata.
package plaid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout = 60 * time.Second

	transactionsSyncPath = "/transactions/sync"
	investmentsSyncPath  = "/investments/transactions/sync"
	exchangePath         = "/item/public_token/exchange"
	accountsPath         = "/accounts/get"
	itemPath             = "/item/get"
)

// Environment base URLs.
var envBaseURLs = map[string]string{
	"sandbox":    "https://sandbox.plaid.com",
	"production": "https://production.plaid.com",
}

// Client handles communication with the aggregation provider's API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a provider client for the given environment.
// Unknown environments fall back to sandbox.
func NewClient(environment, clientID, secret string) *Client {
	baseURL, ok := envBaseURLs[environment]
	if !ok {
		baseURL = envBaseURLs["sandbox"]
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		clientID:   clientID,
		secret:     secret,
	}
}

// NewClientWithBaseURL is used by tests to point the client at a fake server.
func NewClientWithBaseURL(baseURL, clientID, secret string) *Client {
	c := NewClient("sandbox", clientID, secret)
	c.baseURL = baseURL
	return c
}

// ProviderError is a structured error response from the provider.
type ProviderError struct {
	StatusCode int    `json:"-"`
	ErrorType  string `json:"error_type"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"error_message"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (status %d): %s - %s", e.StatusCode, e.ErrorCode, e.Message)
}

// credentialErrorCodes are the error codes meaning the stored access token
// is dead and the user must reauthenticate.
var credentialErrorCodes = map[string]struct{}{
	"ITEM_LOGIN_REQUIRED": {},
	"ITEM_LOCKED":         {},
	"ACCESS_NOT_GRANTED":  {},
	"INVALID_ACCESS_TOKEN": {},
}

// CredentialInvalid reports whether the error means the credential is dead
// (as opposed to a transient failure worth retrying).
func (e *ProviderError) CredentialInvalid() bool {
	_, ok := credentialErrorCodes[e.ErrorCode]
	return ok
}

// IsCredentialError reports whether err wraps a dead-credential provider error.
func IsCredentialError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.CredentialInvalid()
}

// SyncTransactionsResponse is one page of the incremental change feed.
type SyncTransactionsResponse struct {
	Added      []Transaction        `json:"added"`
	Modified   []Transaction        `json:"modified"`
	Removed    []RemovedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
}

// Transaction is a provider-sourced transaction row.
type Transaction struct {
	TransactionID           string                   `json:"transaction_id"`
	AccountID               string                   `json:"account_id"`
	Amount                  float64                  `json:"amount"`
	ISOCurrencyCode         string                   `json:"iso_currency_code"`
	Date                    string                   `json:"date"`                // "2006-01-02"
	AuthorizedDatetime      *string                  `json:"authorized_datetime"` // RFC 3339
	Name                    string                   `json:"name"`
	MerchantName            *string                  `json:"merchant_name"`
	Pending                 bool                     `json:"pending"`
	PersonalFinanceCategory *PersonalFinanceCategory `json:"personal_finance_category"`
}

// PersonalFinanceCategory carries the provider's own categorization strings.
type PersonalFinanceCategory struct {
	Primary  string `json:"primary"`
	Detailed string `json:"detailed"`
}

// RemovedTransaction identifies a deleted provider row.
type RemovedTransaction struct {
	TransactionID string `json:"transaction_id"`
}

// GetDate parses the transaction date.
func (t *Transaction) GetDate() (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", t.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", t.Date, err)
	}
	return parsed, nil
}

// GetAuthorizedAt parses the authorized datetime if present.
func (t *Transaction) GetAuthorizedAt() (*time.Time, error) {
	if t.AuthorizedDatetime == nil || *t.AuthorizedDatetime == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, *t.AuthorizedDatetime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorized_datetime %q: %w", *t.AuthorizedDatetime, err)
	}
	return &parsed, nil
}

// ExchangeResponse is the result of a public-token exchange.
type ExchangeResponse struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
}

// AccountsResponse lists accounts visible under an access token.
type AccountsResponse struct {
	Accounts []Account `json:"accounts"`
	Item     Item      `json:"item"`
}

// Account is provider account metadata with a balance snapshot.
type Account struct {
	AccountID    string   `json:"account_id"`
	Name         string   `json:"name"`
	OfficialName *string  `json:"official_name"`
	Mask         *string  `json:"mask"`
	Type         string   `json:"type"`
	Subtype      *string  `json:"subtype"`
	Balances     Balances `json:"balances"`
}

// Balances is a point-in-time balance snapshot.
type Balances struct {
	Current         *float64 `json:"current"`
	Available       *float64 `json:"available"`
	Limit           *float64 `json:"limit"`
	ISOCurrencyCode *string  `json:"iso_currency_code"`
}

// Item is provider item metadata.
type Item struct {
	ItemID          string  `json:"item_id"`
	InstitutionID   *string `json:"institution_id"`
	InstitutionName *string `json:"institution_name"`
}

// ItemResponse wraps item metadata.
type ItemResponse struct {
	Item Item `json:"item"`
}

type syncRequest struct {
	ClientID    string  `json:"client_id"`
	Secret      string  `json:"secret"`
	AccessToken string  `json:"access_token"`
	Cursor      *string `json:"cursor,omitempty"`
	Count       int     `json:"count,omitempty"`
}

// SyncTransactions fetches one page of the transactions change feed.
// A nil cursor starts from the beginning of the item's history.
func (c *Client) SyncTransactions(ctx context.Context, accessToken string, cursor *string) (*SyncTransactionsResponse, error) {
	var resp SyncTransactionsResponse
	err := c.post(ctx, transactionsSyncPath, syncRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: accessToken,
		Cursor:      cursor,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncInvestmentTransactions fetches one page of the investment
// transactions change feed (independent cursor).
func (c *Client) SyncInvestmentTransactions(ctx context.Context, accessToken string, cursor *string) (*SyncTransactionsResponse, error) {
	var resp SyncTransactionsResponse
	err := c.post(ctx, investmentsSyncPath, syncRequest{
		ClientID:    c.clientID,
		Secret:      c.secret,
		AccessToken: accessToken,
		Cursor:      cursor,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExchangePublicToken trades a link-flow public token for a permanent
// access token and the item's external id.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*ExchangeResponse, error) {
	var resp ExchangeResponse
	err := c.post(ctx, exchangePath, map[string]string{
		"client_id":    c.clientID,
		"secret":       c.secret,
		"public_token": publicToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAccounts fetches the account list with balance snapshots.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) (*AccountsResponse, error) {
	var resp AccountsResponse
	err := c.post(ctx, accountsPath, map[string]string{
		"client_id":    c.clientID,
		"secret":       c.secret,
		"access_token": accessToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetItem fetches item metadata (institution identity).
func (c *Client) GetItem(ctx context.Context, accessToken string) (*ItemResponse, error) {
	var resp ItemResponse
	err := c.post(ctx, itemPath, map[string]string{
		"client_id":    c.clientID,
		"secret":       c.secret,
		"access_token": accessToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		pe := &ProviderError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, pe); err != nil {
			return fmt.Errorf("provider request failed with status %d: %s", resp.StatusCode, string(body))
		}
		return pe
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
