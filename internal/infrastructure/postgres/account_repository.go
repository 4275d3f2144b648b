package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"finch/internal/domain/account"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, item_id, user_id, external_account_id, name, official_name, mask,
       account_type, subtype, currency, current_balance, available_balance, credit_limit,
       balance_as_of, created_at, updated_at`

func scanAccount(scanner interface{ Scan(...any) error }) (*account.Account, error) {
	var acc account.Account
	var officialName, mask, subtype sql.NullString
	var current, available, limit sql.NullFloat64
	var balanceAsOf sql.NullTime

	err := scanner.Scan(
		&acc.ID, &acc.ItemID, &acc.UserID, &acc.ExternalAccountID,
		&acc.Name, &officialName, &mask, &acc.AccountType, &subtype,
		&acc.Currency, &current, &available, &limit, &balanceAsOf,
		&acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	acc.OfficialName = strPtr(officialName)
	acc.Mask = strPtr(mask)
	acc.Subtype = strPtr(subtype)
	acc.CurrentBalance = floatPtr(current)
	acc.AvailableBalance = floatPtr(available)
	acc.CreditLimit = floatPtr(limit)
	acc.BalanceAsOf = timePtr(balanceAsOf)
	return &acc, nil
}

// GetByID retrieves an account by its ID. Returns (nil, nil) when absent.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// GetByExternalID retrieves an account by the provider's account id.
func (r *AccountRepository) GetByExternalID(ctx context.Context, externalAccountID string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE external_account_id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, externalAccountID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by external id: %w", err)
	}
	return acc, nil
}

// ListByItemID retrieves all accounts under an item
func (r *AccountRepository) ListByItemID(ctx context.Context, itemID string) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE item_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, query, itemID)
}

// ListByUserID retrieves all accounts for a specific user
func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY created_at ASC`
	return r.list(ctx, query, userID)
}

func (r *AccountRepository) list(ctx context.Context, query string, args ...any) ([]*account.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// Upsert creates or updates an account keyed by the provider's account id
func (r *AccountRepository) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO accounts (
			id, item_id, user_id, external_account_id, name, official_name, mask,
			account_type, subtype, currency, current_balance, available_balance,
			credit_limit, balance_as_of
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (external_account_id)
		DO UPDATE SET
			name = EXCLUDED.name,
			official_name = EXCLUDED.official_name,
			mask = EXCLUDED.mask,
			subtype = EXCLUDED.subtype,
			current_balance = EXCLUDED.current_balance,
			available_balance = EXCLUDED.available_balance,
			credit_limit = EXCLUDED.credit_limit,
			balance_as_of = EXCLUDED.balance_as_of,
			updated_at = CURRENT_TIMESTAMP
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.db.QueryRowContext(
		ctx, query,
		uuid.NewString(), params.ItemID, params.UserID, params.ExternalAccountID,
		params.Name, nullString(params.OfficialName), nullString(params.Mask),
		params.AccountType, nullString(params.Subtype), params.Currency,
		nullFloat64(params.CurrentBalance), nullFloat64(params.AvailableBalance),
		nullFloat64(params.CreditLimit), nullTime(params.BalanceAsOf),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, nil
}

// Remap patches the row's provider identity in place, preserving the row id
// so historical transactions stay attached
func (r *AccountRepository) Remap(ctx context.Context, id string, params account.RemapParams) error {
	query := `
		UPDATE accounts
		SET external_account_id = $1,
		    name = $2,
		    official_name = $3,
		    mask = $4,
		    current_balance = $5,
		    available_balance = $6,
		    credit_limit = $7,
		    balance_as_of = $8,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $9
	`

	result, err := r.db.ExecContext(ctx, query,
		params.ExternalAccountID, params.Name,
		nullString(params.OfficialName), nullString(params.Mask),
		nullFloat64(params.CurrentBalance), nullFloat64(params.AvailableBalance),
		nullFloat64(params.CreditLimit), nullTime(params.BalanceAsOf),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to remap account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}

// Delete removes an account
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM accounts WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}
