// Package sync drives the incremental reconciliation of the provider's
// change feed (added/modified/removed transactions, paginated by cursor)
// into the local ledger.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"finch/internal/domain/account"
	"finch/internal/domain/categorize"
	"finch/internal/domain/category"
	"finch/internal/domain/item"
	"finch/internal/domain/notification"
	"finch/internal/domain/transaction"
	"finch/internal/infrastructure/plaid"
)

var (
	syncTracer       = otel.Tracer("finch/sync")
	syncMeter        = otel.Meter("finch/sync")
	syncPages, _     = syncMeter.Int64Counter("sync.pages.total", metric.WithDescription("Provider feed pages fetched"))
	syncRows, _      = syncMeter.Int64Counter("sync.rows.total", metric.WithDescription("Delta rows applied by operation"))
	syncFailures, _  = syncMeter.Int64Counter("sync.failures.total", metric.WithDescription("Item syncs that ended in error"))
	syncDuration, _  = syncMeter.Float64Histogram("sync.item.duration", metric.WithDescription("Per-item sync duration in seconds"), metric.WithUnit("s"))
)

// ErrCredentialInvalid means the provider rejected the stored access token.
// The item status has already been flipped to ERROR; the user must
// reauthenticate. Batch runs continue with the next item.
var ErrCredentialInvalid = errors.New("provider access credential is invalid")

// TokenDecrypter decrypts the stored access token.
type TokenDecrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Config carries the engine's retry and categorization knobs.
type Config struct {
	MaxRetries    int           // bounded retries per page fetch, transient errors only
	RetryBackoff  time.Duration // initial backoff, doubled per attempt
	MinConfidence float64       // suggestions below this are discarded
}

// Stats summarizes one item sync.
type Stats struct {
	ItemID      string   `json:"itemId"`
	Pages       int      `json:"pages"`
	Added       int      `json:"added"`
	Modified    int      `json:"modified"`
	Removed     int      `json:"removed"`
	Skipped     int      `json:"skipped"` // rows with no matching account
	Categorized int      `json:"categorized"`
	Errors      []string `json:"errors,omitempty"`
}

// Engine reconciles provider deltas into the ledger store.
type Engine struct {
	client       plaid.ClientInterface
	items        item.Repository
	accounts     account.Repository
	transactions transaction.Repository
	categories   category.Repository
	assistant    categorize.Assistant
	notifier     *notification.Service
	decrypter    TokenDecrypter
	locks        *item.Locks
	cfg          Config
}

// NewEngine creates a sync engine. notifier may be nil; assistant must not
// be nil (use categorize.Nop to disable).
func NewEngine(
	client plaid.ClientInterface,
	items item.Repository,
	accounts account.Repository,
	transactions transaction.Repository,
	categories category.Repository,
	assistant categorize.Assistant,
	notifier *notification.Service,
	decrypter TokenDecrypter,
	locks *item.Locks,
	cfg Config,
) *Engine {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Engine{
		client:       client,
		items:        items,
		accounts:     accounts,
		transactions: transactions,
		categories:   categories,
		assistant:    assistant,
		notifier:     notifier,
		decrypter:    decrypter,
		locks:        locks,
		cfg:          cfg,
	}
}

// delta is the accumulated change feed for one cursor window.
type delta struct {
	added    []plaid.Transaction
	modified []plaid.Transaction
	removed  []plaid.RemovedTransaction
	cursor   string
	pages    int
}

// SyncItem runs one full sync cycle for the item: page the transactions
// feed to exhaustion, apply the accumulated delta, persist the new cursor,
// then categorize new rows best-effort. The investments feed runs the same
// way on its own cursor when the item has investment accounts.
func (e *Engine) SyncItem(ctx context.Context, itemID string) (*Stats, error) {
	start := time.Now()

	ctx, span := syncTracer.Start(ctx, "sync.item", trace.WithAttributes(
		attribute.String("item.id", itemID),
	))
	defer span.End()

	it, err := e.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	if it == nil {
		return nil, item.ErrItemNotFound
	}

	// Reconnection confirm holds the same lock; never interleave.
	if !e.locks.TryLock(it.ID) {
		return nil, item.ErrSyncInProgress
	}
	defer e.locks.Unlock(it.ID)

	stats := &Stats{ItemID: it.ID}

	token, err := e.decrypter.Decrypt(it.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	accounts, err := e.accounts.ListByItemID(ctx, it.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list item accounts: %w", err)
	}
	accountsByExternalID := make(map[string]*account.Account, len(accounts))
	hasInvestment := false
	for _, a := range accounts {
		accountsByExternalID[a.ExternalAccountID] = a
		if a.AccountType == "investment" {
			hasInvestment = true
		}
	}

	cats, err := e.categories.ListByUserID(ctx, it.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	newRows, err := e.syncFeed(ctx, it, token, it.TransactionsCursor, e.client.SyncTransactions,
		e.items.SetTransactionsCursor, accountsByExternalID, cats, stats)
	if err != nil {
		return stats, e.classifyFailure(ctx, it, stats, err)
	}

	if hasInvestment {
		invRows, err := e.syncFeed(ctx, it, token, it.InvestmentsCursor, e.client.SyncInvestmentTransactions,
			e.items.SetInvestmentsCursor, accountsByExternalID, cats, stats)
		if err != nil {
			return stats, e.classifyFailure(ctx, it, stats, err)
		}
		newRows = append(newRows, invRows...)
	}

	e.categorizeNew(ctx, newRows, cats, stats)

	if err := e.items.TouchLastSynced(ctx, it.ID); err != nil {
		log.Printf("Sync: failed to touch last_synced for item %s: %v", it.ID, err)
	}

	if e.notifier != nil {
		e.notifier.SendSyncComplete(ctx, it.UserID, stats.Added)
	}

	syncDuration.Record(ctx, time.Since(start).Seconds())
	log.Printf("Sync: item %s complete - pages=%d added=%d modified=%d removed=%d skipped=%d categorized=%d",
		it.ID, stats.Pages, stats.Added, stats.Modified, stats.Removed, stats.Skipped, stats.Categorized)

	span.SetAttributes(
		attribute.Int("sync.added", stats.Added),
		attribute.Int("sync.modified", stats.Modified),
		attribute.Int("sync.removed", stats.Removed),
	)
	return stats, nil
}

// fetchPage is the shape shared by the transactions and investments feeds.
type fetchPage func(ctx context.Context, accessToken string, cursor *string) (*plaid.SyncTransactionsResponse, error)

// persistCursor persists the advanced cursor for one of the two feeds.
type persistCursor func(ctx context.Context, id string, cursor *string) error

// syncFeed pages one change feed to exhaustion, applies the accumulated
// delta and only then persists the cursor. A failure anywhere leaves the
// old cursor in place so the next run retries the same window; upserts by
// external id make the replay idempotent.
func (e *Engine) syncFeed(
	ctx context.Context,
	it *item.Item,
	token string,
	cursor *string,
	fetch fetchPage,
	persist persistCursor,
	accountsByExternalID map[string]*account.Account,
	cats []*category.Category,
	stats *Stats,
) ([]*transaction.Transaction, error) {
	d, err := e.collect(ctx, token, cursor, fetch)
	if err != nil {
		return nil, err
	}
	stats.Pages += d.pages

	newRows, err := e.apply(ctx, it, d, accountsByExternalID, cats, stats)
	if err != nil {
		return nil, err
	}

	if d.cursor != "" {
		next := d.cursor
		if err := persist(ctx, it.ID, &next); err != nil {
			return nil, fmt.Errorf("failed to persist cursor: %w", err)
		}
	}
	return newRows, nil
}

// collect pages the feed until has_more=false. Paging is strictly
// sequential: each request's cursor comes from the prior response.
func (e *Engine) collect(ctx context.Context, token string, cursor *string, fetch fetchPage) (*delta, error) {
	d := &delta{}
	for {
		resp, err := e.fetchWithRetry(ctx, token, cursor, fetch)
		if err != nil {
			return nil, err
		}

		d.pages++
		syncPages.Add(ctx, 1)
		d.added = append(d.added, resp.Added...)
		d.modified = append(d.modified, resp.Modified...)
		d.removed = append(d.removed, resp.Removed...)
		d.cursor = resp.NextCursor

		if !resp.HasMore {
			return d, nil
		}
		next := resp.NextCursor
		cursor = &next
	}
}

// fetchWithRetry retries transient provider failures with doubling backoff.
// Credential errors are never retried.
func (e *Engine) fetchWithRetry(ctx context.Context, token string, cursor *string, fetch fetchPage) (*plaid.SyncTransactionsResponse, error) {
	backoff := e.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err := fetch(ctx, token, cursor)
		if err == nil {
			return resp, nil
		}
		if plaid.IsCredentialError(err) {
			return nil, err
		}
		lastErr = err
		log.Printf("Sync: page fetch attempt %d failed: %v", attempt+1, err)
	}
	return nil, fmt.Errorf("provider fetch failed after %d attempts: %w", e.cfg.MaxRetries+1, lastErr)
}

// apply writes the accumulated delta through the ledger store. Any write
// failure aborts so the cursor stays put; rows that cannot be matched to a
// known account are skipped with a log line (a data problem, not a write
// failure). Returns the newly created, still-uncategorized rows.
func (e *Engine) apply(
	ctx context.Context,
	it *item.Item,
	d *delta,
	accountsByExternalID map[string]*account.Account,
	cats []*category.Category,
	stats *Stats,
) ([]*transaction.Transaction, error) {
	var newUncategorized []*transaction.Transaction

	upsert := func(row plaid.Transaction, isAdd bool) error {
		acct, ok := accountsByExternalID[row.AccountID]
		if !ok {
			log.Printf("Sync: skipping transaction %s: unknown account %s", row.TransactionID, row.AccountID)
			stats.Skipped++
			return nil
		}

		date, err := row.GetDate()
		if err != nil {
			return err
		}
		authorizedAt, err := row.GetAuthorizedAt()
		if err != nil {
			return err
		}

		params := transaction.UpsertParams{
			AccountID:             acct.ID,
			UserID:                it.UserID,
			ExternalTransactionID: row.TransactionID,
			Amount:                -row.Amount, // provider reports outflows positive; ledger convention is negative
			Currency:              row.ISOCurrencyCode,
			Date:                  date,
			AuthorizedAt:          authorizedAt,
			Name:                  row.Name,
			MerchantName:          row.MerchantName,
			Pending:               row.Pending,
		}
		if pfc := row.PersonalFinanceCategory; pfc != nil {
			params.ProviderCategory = &pfc.Primary
			params.ProviderSubcategory = &pfc.Detailed
			if ref := category.MapProviderCategory(pfc.Primary, pfc.Detailed, cats); ref != nil {
				params.CategoryID = &ref.CategoryID
				params.SubcategoryID = ref.SubcategoryID
			}
		}

		existing, err := e.transactions.GetByExternalID(ctx, row.TransactionID)
		if err != nil {
			return fmt.Errorf("failed to check existing transaction: %w", err)
		}

		saved, err := e.transactions.Upsert(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to upsert transaction %s: %w", row.TransactionID, err)
		}

		if existing == nil {
			stats.Added++
			syncRows.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "added")))
			if saved.CategoryID == nil {
				newUncategorized = append(newUncategorized, saved)
			}
		} else {
			stats.Modified++
			syncRows.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "modified")))
		}
		if isAdd && existing != nil {
			// Replayed window after a cursor rollback; fine, upsert is idempotent.
			log.Printf("Sync: re-applied added row %s", row.TransactionID)
		}
		return nil
	}

	for _, row := range d.added {
		if err := upsert(row, true); err != nil {
			return nil, err
		}
	}
	for _, row := range d.modified {
		if err := upsert(row, false); err != nil {
			return nil, err
		}
	}

	for _, rem := range d.removed {
		// Manual rows and split parents survive provider removals:
		// user intent beats provider state. The repository enforces it.
		deleted, err := e.transactions.DeleteByExternalID(ctx, rem.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("failed to delete transaction %s: %w", rem.TransactionID, err)
		}
		if deleted {
			stats.Removed++
			syncRows.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "removed")))
		}
	}

	return newUncategorized, nil
}

// categorizeNew asks the assistant about newly added uncategorized rows.
// Strictly best effort: failures and low-confidence suggestions leave rows
// uncategorized and never fail the sync.
func (e *Engine) categorizeNew(ctx context.Context, rows []*transaction.Transaction, cats []*category.Category, stats *Stats) {
	if len(rows) == 0 || len(cats) == 0 {
		return
	}

	for _, tx := range rows {
		in := categorize.Input{
			Name:   tx.Name,
			Amount: tx.Amount,
		}
		if tx.MerchantName != nil {
			in.MerchantName = *tx.MerchantName
		}
		if tx.ProviderCategory != nil {
			in.ProviderCategory = *tx.ProviderCategory
		}
		if tx.ProviderSubcategory != nil {
			in.ProviderSubcategory = *tx.ProviderSubcategory
		}

		sug, err := e.assistant.Classify(ctx, in, cats)
		if err != nil {
			log.Printf("Sync: categorization failed for %s: %v", tx.ID, err)
			continue
		}
		if sug.None() || sug.Confidence < e.cfg.MinConfidence {
			continue
		}

		if err := e.transactions.SetCategory(ctx, tx.ID, &sug.CategoryID, sug.SubcategoryID); err != nil {
			log.Printf("Sync: failed to store category for %s: %v", tx.ID, err)
			continue
		}
		stats.Categorized++
	}
}

// classifyFailure maps a feed error onto item state: dead credentials flip
// the item to ERROR and notify the user; everything else is transient.
func (e *Engine) classifyFailure(ctx context.Context, it *item.Item, stats *Stats, err error) error {
	stats.Errors = append(stats.Errors, err.Error())
	syncFailures.Add(ctx, 1)

	if plaid.IsCredentialError(err) {
		if updErr := e.items.UpdateStatus(ctx, it.ID, item.StatusError); updErr != nil {
			log.Printf("Sync: failed to mark item %s as ERROR: %v", it.ID, updErr)
		}
		if e.notifier != nil {
			e.notifier.SendReconnectRequired(ctx, it.UserID, it.InstitutionName)
		}
		return fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
	return err
}

// SyncAllItems syncs every syncable item. One item's failure (credential or
// transient) never aborts the rest of the batch.
func (e *Engine) SyncAllItems(ctx context.Context) ([]*Stats, error) {
	items, err := e.items.ListSyncable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list syncable items: %w", err)
	}

	var results []*Stats
	for _, it := range items {
		stats, err := e.SyncItem(ctx, it.ID)
		if err != nil {
			log.Printf("Sync: item %s failed: %v", it.ID, err)
			if stats == nil {
				stats = &Stats{ItemID: it.ID, Errors: []string{err.Error()}}
			}
		}
		results = append(results, stats)
	}
	return results, nil
}
