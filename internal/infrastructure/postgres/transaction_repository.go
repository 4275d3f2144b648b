package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"finch/internal/domain/transaction"
)

// TransactionRepository implements the transaction.Repository interface for PostgreSQL
type TransactionRepository struct {
	db *DB
}

// NewTransactionRepository creates a new PostgreSQL transaction repository
func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, account_id, user_id, external_transaction_id, amount, currency,
       date, authorized_at, name, merchant_name, provider_category, provider_subcategory,
       category_id, subcategory_id, pending, is_manual, is_split,
       parent_transaction_id, original_transaction_id, created_at, updated_at`

func scanTransaction(scanner interface{ Scan(...any) error }) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	var authorizedAt sql.NullTime
	var merchantName, providerCategory, providerSubcategory sql.NullString
	var categoryID, subcategoryID, parentID, originalID sql.NullString

	err := scanner.Scan(
		&tx.ID, &tx.AccountID, &tx.UserID, &tx.ExternalTransactionID,
		&tx.Amount, &tx.Currency, &tx.Date, &authorizedAt,
		&tx.Name, &merchantName, &providerCategory, &providerSubcategory,
		&categoryID, &subcategoryID, &tx.Pending, &tx.IsManual, &tx.IsSplit,
		&parentID, &originalID, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.AuthorizedAt = timePtr(authorizedAt)
	tx.MerchantName = strPtr(merchantName)
	tx.ProviderCategory = strPtr(providerCategory)
	tx.ProviderSubcategory = strPtr(providerSubcategory)
	tx.CategoryID = strPtr(categoryID)
	tx.SubcategoryID = strPtr(subcategoryID)
	tx.ParentTransactionID = strPtr(parentID)
	tx.OriginalTransactionID = strPtr(originalID)
	return &tx, nil
}

// GetByID retrieves a transaction by its ID. Returns (nil, nil) when absent.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// GetByExternalID retrieves a transaction by the provider's transaction id.
func (r *TransactionRepository) GetByExternalID(ctx context.Context, externalTransactionID string) (*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_transaction_id = $1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, externalTransactionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by external id: %w", err)
	}
	return tx, nil
}

// ListByAccountID retrieves transactions for an account, newest first
func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.list(ctx, query, accountID, limit, offset)
}

// ListByUserID retrieves transactions for a user, newest first
func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY date DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.list(ctx, query, userID, limit, offset)
}

// ListChildren retrieves the direct children of a split parent
func (r *TransactionRepository) ListChildren(ctx context.Context, parentID string) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE parent_transaction_id = $1
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, parentID)
}

// ListSplitChildrenByItem retrieves every split child under any account of the item
func (r *TransactionRepository) ListSplitChildrenByItem(ctx context.Context, itemID string) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumnsPrefixed("t") + `
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.item_id = $1 AND t.parent_transaction_id IS NOT NULL
		ORDER BY t.created_at ASC
	`
	return r.list(ctx, query, itemID)
}

// ListUncategorized retrieves rows with no category, newest first
func (r *TransactionRepository) ListUncategorized(ctx context.Context, userID int64, limit int) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1 AND category_id IS NULL AND is_split = FALSE
		ORDER BY date DESC, created_at DESC
		LIMIT $2
	`
	return r.list(ctx, query, userID, limit)
}

func (r *TransactionRepository) list(ctx context.Context, query string, args ...any) ([]*transaction.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

// Upsert inserts or updates a provider-sourced row keyed by external
// transaction id. COALESCE keeps an existing user-assigned category: the
// mapped category only lands when the column is still NULL.
func (r *TransactionRepository) Upsert(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO transactions (
			id, account_id, user_id, external_transaction_id, amount, currency,
			date, authorized_at, name, merchant_name, provider_category,
			provider_subcategory, category_id, subcategory_id, pending
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (external_transaction_id)
		DO UPDATE SET
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			date = EXCLUDED.date,
			authorized_at = EXCLUDED.authorized_at,
			name = EXCLUDED.name,
			merchant_name = EXCLUDED.merchant_name,
			provider_category = EXCLUDED.provider_category,
			provider_subcategory = EXCLUDED.provider_subcategory,
			category_id = COALESCE(transactions.category_id, EXCLUDED.category_id),
			subcategory_id = CASE
				WHEN transactions.category_id IS NULL THEN EXCLUDED.subcategory_id
				ELSE transactions.subcategory_id
			END,
			pending = EXCLUDED.pending,
			updated_at = CURRENT_TIMESTAMP
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRowContext(
		ctx, query,
		uuid.NewString(), params.AccountID, params.UserID, params.ExternalTransactionID,
		params.Amount, params.Currency, params.Date, nullTime(params.AuthorizedAt),
		params.Name, nullString(params.MerchantName),
		nullString(params.ProviderCategory), nullString(params.ProviderSubcategory),
		nullString(params.CategoryID), nullString(params.SubcategoryID),
		params.Pending,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert transaction: %w", err)
	}
	return tx, nil
}

// CreateManual inserts a user-entered row
func (r *TransactionRepository) CreateManual(ctx context.Context, params transaction.CreateManualParams) (*transaction.Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO transactions (
			id, account_id, user_id, external_transaction_id, amount, currency,
			date, name, merchant_name, category_id, subcategory_id, is_manual
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
		RETURNING ` + transactionColumns

	id := uuid.NewString()
	tx, err := scanTransaction(r.db.QueryRowContext(
		ctx, query,
		id, params.AccountID, params.UserID, "manual:"+id,
		params.Amount, params.Currency, params.Date, params.Name,
		nullString(params.MerchantName),
		nullString(params.CategoryID), nullString(params.SubcategoryID),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create manual transaction: %w", err)
	}
	return tx, nil
}

// CreateChild inserts a split child under a parent
func (r *TransactionRepository) CreateChild(ctx context.Context, params transaction.CreateChildParams) (*transaction.Transaction, error) {
	query := `
		INSERT INTO transactions (
			id, account_id, user_id, external_transaction_id, amount, currency,
			date, name, merchant_name, category_id, subcategory_id,
			parent_transaction_id, original_transaction_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRowContext(
		ctx, query,
		uuid.NewString(), params.AccountID, params.UserID, params.ExternalTransactionID,
		params.Amount, params.Currency, params.Date, params.Name,
		nullString(params.MerchantName),
		nullString(params.CategoryID), nullString(params.SubcategoryID),
		params.ParentTransactionID, params.OriginalTransactionID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create split child: %w", err)
	}
	return tx, nil
}

// Patch applies a user edit; nil fields are left unchanged
func (r *TransactionRepository) Patch(ctx context.Context, id string, params transaction.PatchParams) (*transaction.Transaction, error) {
	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}
	n := 1

	add := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, val)
		n++
	}

	if params.Name != nil {
		add("name", *params.Name)
	}
	if params.MerchantName != nil {
		add("merchant_name", *params.MerchantName)
	}
	if params.ClearCategory {
		sets = append(sets, "category_id = NULL", "subcategory_id = NULL")
	} else if params.CategoryID != nil {
		add("category_id", *params.CategoryID)
		add("subcategory_id", nullString(params.SubcategoryID))
	}
	if params.Date != nil {
		add("date", *params.Date)
	}
	if params.Amount != nil {
		add("amount", *params.Amount)
	}

	query := fmt.Sprintf(
		`UPDATE transactions SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), n, transactionColumns,
	)
	args = append(args, id)

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to patch transaction: %w", err)
	}
	return tx, nil
}

// UpdateFlags mutates the split/manual lineage fields
func (r *TransactionRepository) UpdateFlags(ctx context.Context, id string, params transaction.UpdateFlagsParams) error {
	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}
	n := 1

	add := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, val)
		n++
	}

	if params.IsSplit != nil {
		add("is_split", *params.IsSplit)
	}
	if params.IsManual != nil {
		add("is_manual", *params.IsManual)
	}
	if params.ClearParent {
		sets = append(sets, "parent_transaction_id = NULL")
	}
	if params.SetCategoryID != nil {
		add("category_id", *params.SetCategoryID)
	}
	if params.SetSubcategory != nil {
		add("subcategory_id", *params.SetSubcategory)
	}

	query := fmt.Sprintf(`UPDATE transactions SET %s WHERE id = $%d`, strings.Join(sets, ", "), n)
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update transaction flags: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return transaction.ErrTransactionNotFound
	}
	return nil
}

// SetCategory assigns a category/subcategory
func (r *TransactionRepository) SetCategory(ctx context.Context, id string, categoryID, subcategoryID *string) error {
	query := `
		UPDATE transactions
		SET category_id = $1, subcategory_id = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, nullString(categoryID), nullString(subcategoryID), id)
	if err != nil {
		return fmt.Errorf("failed to set transaction category: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return transaction.ErrTransactionNotFound
	}
	return nil
}

// DeleteByExternalID removes a provider-sourced row. Manual rows and split
// parents are shielded in the WHERE clause, so a removal delta for them is
// silently ignored and the method reports false.
func (r *TransactionRepository) DeleteByExternalID(ctx context.Context, externalTransactionID string) (bool, error) {
	query := `
		DELETE FROM transactions
		WHERE external_transaction_id = $1
		  AND is_manual = FALSE
		  AND is_split = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, externalTransactionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// DeleteChildren removes all direct children of a split parent
func (r *TransactionRepository) DeleteChildren(ctx context.Context, parentID string) (int64, error) {
	query := `DELETE FROM transactions WHERE parent_transaction_id = $1`

	result, err := r.db.ExecContext(ctx, query, parentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete split children: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

// CountNonManualByItem counts the rows a reconnection mass-delete would remove
func (r *TransactionRepository) CountNonManualByItem(ctx context.Context, itemID string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.item_id = $1 AND t.is_manual = FALSE
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, itemID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// DeleteNonManualByItem performs the reconnection mass-delete. Manual rows
// survive, which includes split children already detached to manual.
func (r *TransactionRepository) DeleteNonManualByItem(ctx context.Context, itemID string) (int64, error) {
	query := `
		DELETE FROM transactions t
		USING accounts a
		WHERE a.id = t.account_id
		  AND a.item_id = $1
		  AND t.is_manual = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete item transactions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

// transactionColumnsPrefixed qualifies the shared column list for joins.
func transactionColumnsPrefixed(alias string) string {
	cols := strings.Split(transactionColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
