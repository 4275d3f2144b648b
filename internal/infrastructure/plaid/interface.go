package plaid

import "context"

// ClientInterface abstracts the provider API so domain services can be
// tested against mocks.
type ClientInterface interface {
	SyncTransactions(ctx context.Context, accessToken string, cursor *string) (*SyncTransactionsResponse, error)
	SyncInvestmentTransactions(ctx context.Context, accessToken string, cursor *string) (*SyncTransactionsResponse, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (*ExchangeResponse, error)
	GetAccounts(ctx context.Context, accessToken string) (*AccountsResponse, error)
	GetItem(ctx context.Context, accessToken string) (*ItemResponse, error)
}
