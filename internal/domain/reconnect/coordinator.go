// Package reconnect coordinates the repair of a broken bank connection.
// A repair is either a reauth (the provider issued the same item id back,
// only the token changed) or a full reconnection (new item id, fresh
// account ids, history replay), which is destructive and therefore runs as
// a two-phase prepare/confirm flow.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"finch/internal/domain/account"
	"finch/internal/domain/item"
	syncengine "finch/internal/domain/sync"
	"finch/internal/domain/transaction"
	"finch/internal/infrastructure/plaid"
)

// DefaultTTL is how long a prepared reconnection stays confirmable.
const DefaultTTL = 15 * time.Minute

// Domain errors
var (
	ErrReconnectionNotFound = errors.New("reconnection not found or expired")
)

// Repair modes reported by Prepare.
const (
	ModeReauth       = "reauth"
	ModeReconnection = "reconnection"
)

// TokenCrypto encrypts and decrypts stored access tokens.
type TokenCrypto interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Syncer kicks a sync after a repair completes.
type Syncer interface {
	SyncItem(ctx context.Context, itemID string) (*syncengine.Stats, error)
}

// ChildDetacher converts an item's split children to manual rows before a
// reconnection wipes their parents.
type ChildDetacher interface {
	ConvertChildrenToManual(ctx context.Context, itemID string) (int, error)
}

// AccountMatch pairs a provider account from the new connection with the
// existing row it will be remapped onto.
type AccountMatch struct {
	AccountID     string `json:"accountId"`
	AccountName   string `json:"accountName"`
	NewExternalID string `json:"-"`
	NewName       string `json:"newName"`
	Fuzzy         bool   `json:"fuzzy"`
}

// PrepareResult describes what Prepare did or, for a reconnection, what
// Confirm would do.
type PrepareResult struct {
	Mode string `json:"mode"`

	// Reauth only: the connection is already repaired.
	Resynced bool `json:"resynced,omitempty"`

	// Reconnection only: pending until Confirm.
	ReconnectionID string         `json:"reconnectionId,omitempty"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
	Matched        []AccountMatch `json:"matched,omitempty"`
	UnmatchedNew   []string       `json:"unmatchedNew,omitempty"`
	RowsToDelete   int64          `json:"rowsToDelete"`
	SplitChildren  int            `json:"splitChildrenToDetach"`
}

// ConfirmResult summarizes an executed reconnection.
type ConfirmResult struct {
	RowsDeleted      int64             `json:"rowsDeleted"`
	ChildrenDetached int               `json:"childrenDetached"`
	AccountsRemapped int               `json:"accountsRemapped"`
	AccountsCreated  int               `json:"accountsCreated"`
	Sync             *syncengine.Stats `json:"sync,omitempty"`
}

// Coordinator runs the prepare/confirm/cancel repair flow.
type Coordinator struct {
	client       plaid.ClientInterface
	items        item.Repository
	accounts     account.Repository
	transactions transaction.Repository
	stash        Stash
	crypto       TokenCrypto
	syncer       Syncer
	detacher     ChildDetacher
	locks        *item.Locks
	ttl          time.Duration
}

// NewCoordinator creates a reconnection coordinator. syncer may be nil
// (no automatic resync after repair).
func NewCoordinator(
	client plaid.ClientInterface,
	items item.Repository,
	accounts account.Repository,
	transactions transaction.Repository,
	stash Stash,
	crypto TokenCrypto,
	syncer Syncer,
	detacher ChildDetacher,
	locks *item.Locks,
	ttl time.Duration,
) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		client:       client,
		items:        items,
		accounts:     accounts,
		transactions: transactions,
		stash:        stash,
		crypto:       crypto,
		syncer:       syncer,
		detacher:     detacher,
		locks:        locks,
		ttl:          ttl,
	}
}

// Prepare exchanges the link-flow public token and classifies the repair.
// If the provider handed back the same external item id, only the token
// changed: the item is repaired in place and resynced on its existing
// cursors. Otherwise nothing is mutated; the new credential is stashed and
// a preview of the destructive reconnection is returned for the user to
// confirm.
func (c *Coordinator) Prepare(ctx context.Context, userID int64, itemID, publicToken string) (*PrepareResult, error) {
	it, err := c.loadOwned(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}

	exchange, err := c.client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange public token: %w", err)
	}

	if exchange.ItemID == it.ExternalItemID {
		return c.reauth(ctx, it, exchange.AccessToken)
	}
	return c.prepareReconnection(ctx, it, exchange)
}

// reauth swaps the token in place. Cursors are untouched, so the next sync
// continues from where the connection broke.
func (c *Coordinator) reauth(ctx context.Context, it *item.Item, accessToken string) (*PrepareResult, error) {
	encrypted, err := c.crypto.Encrypt(accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	if err := c.items.UpdateAccessToken(ctx, it.ID, encrypted); err != nil {
		return nil, fmt.Errorf("failed to store new access token: %w", err)
	}
	if err := c.items.UpdateStatus(ctx, it.ID, item.StatusActive); err != nil {
		return nil, fmt.Errorf("failed to reactivate item: %w", err)
	}

	result := &PrepareResult{Mode: ModeReauth}
	if c.syncer != nil {
		if _, err := c.syncer.SyncItem(ctx, it.ID); err != nil {
			// The credential is repaired either way; the scheduler
			// retries the sync.
			log.Printf("Reconnect: post-reauth sync failed for item %s: %v", it.ID, err)
		} else {
			result.Resynced = true
		}
	}
	return result, nil
}

func (c *Coordinator) prepareReconnection(ctx context.Context, it *item.Item, exchange *plaid.ExchangeResponse) (*PrepareResult, error) {
	institutionID := it.InstitutionID
	institutionName := it.InstitutionName
	if meta, err := c.client.GetItem(ctx, exchange.AccessToken); err == nil {
		if meta.Item.InstitutionID != nil {
			institutionID = *meta.Item.InstitutionID
		}
		if meta.Item.InstitutionName != nil {
			institutionName = *meta.Item.InstitutionName
		}
	}

	newAccounts, err := c.client.GetAccounts(ctx, exchange.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts on new connection: %w", err)
	}
	existing, err := c.accounts.ListByItemID(ctx, it.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing accounts: %w", err)
	}

	matched, unmatched := reconcile(existing, newAccounts.Accounts)

	rowsToDelete, err := c.transactions.CountNonManualByItem(ctx, it.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count removable transactions: %w", err)
	}
	splitChildren, err := c.transactions.ListSplitChildrenByItem(ctx, it.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list split children: %w", err)
	}

	encrypted, err := c.crypto.Encrypt(exchange.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	now := time.Now()
	entry := &Entry{
		ID:                   uuid.NewString(),
		ItemID:               it.ID,
		UserID:               it.UserID,
		EncryptedAccessToken: encrypted,
		ExternalItemID:       exchange.ItemID,
		InstitutionID:        institutionID,
		InstitutionName:      institutionName,
		CreatedAt:            now,
		ExpiresAt:            now.Add(c.ttl),
	}
	if err := c.stash.Put(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to stash reconnection: %w", err)
	}

	return &PrepareResult{
		Mode:           ModeReconnection,
		ReconnectionID: entry.ID,
		ExpiresAt:      &entry.ExpiresAt,
		Matched:        matched,
		UnmatchedNew:   unmatched,
		RowsToDelete:   rowsToDelete,
		SplitChildren:  len(splitChildren),
	}, nil
}

// Confirm executes a prepared reconnection: detach split children to
// manual rows, wipe the item's provider-sourced transactions, remap
// surviving account rows onto the new provider ids, swap the credential
// (which clears both cursors) and replay history with a fresh sync.
func (c *Coordinator) Confirm(ctx context.Context, userID int64, reconnectionID string) (*ConfirmResult, error) {
	entry, err := c.stash.Get(ctx, reconnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reconnection: %w", err)
	}
	if entry == nil || entry.UserID != userID {
		return nil, ErrReconnectionNotFound
	}

	it, err := c.loadOwned(ctx, userID, entry.ItemID)
	if err != nil {
		return nil, err
	}

	// Same lock the sync engine takes; a running sync blocks the repair.
	if !c.locks.TryLock(it.ID) {
		return nil, item.ErrSyncInProgress
	}

	result, err := c.execute(ctx, it, entry)
	c.locks.Unlock(it.ID)
	if err != nil {
		return nil, err
	}

	if err := c.stash.Delete(ctx, entry.ID); err != nil {
		log.Printf("Reconnect: failed to delete stash entry %s: %v", entry.ID, err)
	}

	// Resync takes the item lock itself, so run it after releasing.
	if c.syncer != nil {
		stats, err := c.syncer.SyncItem(ctx, it.ID)
		if err != nil {
			log.Printf("Reconnect: post-reconnection sync failed for item %s: %v", it.ID, err)
		} else {
			result.Sync = stats
		}
	}
	return result, nil
}

func (c *Coordinator) execute(ctx context.Context, it *item.Item, entry *Entry) (*ConfirmResult, error) {
	result := &ConfirmResult{}

	detached, err := c.detacher.ConvertChildrenToManual(ctx, it.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to detach split children: %w", err)
	}
	result.ChildrenDetached = detached

	deleted, err := c.transactions.DeleteNonManualByItem(ctx, it.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete provider transactions: %w", err)
	}
	result.RowsDeleted = deleted

	token, err := c.crypto.Decrypt(entry.EncryptedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt stashed token: %w", err)
	}

	newAccounts, err := c.client.GetAccounts(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts on new connection: %w", err)
	}
	existing, err := c.accounts.ListByItemID(ctx, it.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing accounts: %w", err)
	}

	claimed := make(map[string]bool, len(existing))
	now := time.Now()
	for _, pa := range newAccounts.Accounts {
		match := account.MatchBySignature(existing, pa.Name, pa.Mask)
		if match != nil && !claimed[match.ID] {
			claimed[match.ID] = true
			// Keep the row id so every surviving manual transaction
			// stays attached to its account.
			err := c.accounts.Remap(ctx, match.ID, account.RemapParams{
				ExternalAccountID: pa.AccountID,
				Name:              pa.Name,
				OfficialName:      pa.OfficialName,
				Mask:              pa.Mask,
				CurrentBalance:    pa.Balances.Current,
				AvailableBalance:  pa.Balances.Available,
				CreditLimit:       pa.Balances.Limit,
				BalanceAsOf:       &now,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to remap account %s: %w", match.ID, err)
			}
			result.AccountsRemapped++
			continue
		}

		currency := "USD"
		if pa.Balances.ISOCurrencyCode != nil {
			currency = *pa.Balances.ISOCurrencyCode
		}
		_, err := c.accounts.Upsert(ctx, account.UpsertParams{
			ItemID:            it.ID,
			UserID:            it.UserID,
			ExternalAccountID: pa.AccountID,
			Name:              pa.Name,
			OfficialName:      pa.OfficialName,
			Mask:              pa.Mask,
			AccountType:       pa.Type,
			Subtype:           pa.Subtype,
			Currency:          currency,
			CurrentBalance:    pa.Balances.Current,
			AvailableBalance:  pa.Balances.Available,
			CreditLimit:       pa.Balances.Limit,
			BalanceAsOf:       &now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create account %s: %w", pa.AccountID, err)
		}
		result.AccountsCreated++
	}

	err = c.items.ReplaceCredentials(ctx, it.ID, item.ReplaceCredentialsParams{
		ExternalItemID:  entry.ExternalItemID,
		AccessToken:     entry.EncryptedAccessToken,
		InstitutionID:   entry.InstitutionID,
		InstitutionName: entry.InstitutionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replace item credentials: %w", err)
	}

	return result, nil
}

// Cancel discards a prepared reconnection without touching the item.
func (c *Coordinator) Cancel(ctx context.Context, userID int64, reconnectionID string) error {
	entry, err := c.stash.Get(ctx, reconnectionID)
	if err != nil {
		return fmt.Errorf("failed to load reconnection: %w", err)
	}
	if entry == nil || entry.UserID != userID {
		return ErrReconnectionNotFound
	}
	return c.stash.Delete(ctx, reconnectionID)
}

func (c *Coordinator) loadOwned(ctx context.Context, userID int64, itemID string) (*item.Item, error) {
	it, err := c.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	if it == nil {
		return nil, item.ErrItemNotFound
	}
	if it.UserID != userID {
		return nil, item.ErrForbidden
	}
	return it, nil
}

// reconcile matches the new connection's accounts against the existing
// rows by (name, mask) signature.
func reconcile(existing []*account.Account, provider []plaid.Account) (matched []AccountMatch, unmatched []string) {
	claimed := make(map[string]bool, len(existing))
	for _, pa := range provider {
		m := account.MatchBySignature(existing, pa.Name, pa.Mask)
		if m == nil || claimed[m.ID] {
			unmatched = append(unmatched, pa.Name)
			continue
		}
		claimed[m.ID] = true
		matched = append(matched, AccountMatch{
			AccountID:     m.ID,
			AccountName:   m.Name,
			NewExternalID: pa.AccountID,
			NewName:       pa.Name,
			Fuzzy:         m.Signature() != account.MakeSignature(pa.Name, pa.Mask),
		})
	}
	return matched, unmatched
}
