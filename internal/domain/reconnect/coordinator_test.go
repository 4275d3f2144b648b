package reconnect

import (
	"context"
	"errors"
	"testing"
	"time"

	"finch/internal/domain/account"
	"finch/internal/domain/item"
	syncengine "finch/internal/domain/sync"
	"finch/internal/domain/transaction"
	"finch/internal/infrastructure/plaid"
)

type mockProvider struct {
	plaid.ClientInterface

	exchangeFunc    func(ctx context.Context, publicToken string) (*plaid.ExchangeResponse, error)
	getAccountsFunc func(ctx context.Context, accessToken string) (*plaid.AccountsResponse, error)
	getItemFunc     func(ctx context.Context, accessToken string) (*plaid.ItemResponse, error)
}

func (m *mockProvider) ExchangePublicToken(ctx context.Context, publicToken string) (*plaid.ExchangeResponse, error) {
	return m.exchangeFunc(ctx, publicToken)
}

func (m *mockProvider) GetAccounts(ctx context.Context, accessToken string) (*plaid.AccountsResponse, error) {
	return m.getAccountsFunc(ctx, accessToken)
}

func (m *mockProvider) GetItem(ctx context.Context, accessToken string) (*plaid.ItemResponse, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, accessToken)
	}
	return &plaid.ItemResponse{}, nil
}

type mockItemRepo struct {
	item.Repository

	getByIDFunc            func(ctx context.Context, id string) (*item.Item, error)
	updateTokenFunc        func(ctx context.Context, id string, accessToken string) error
	updateStatusFunc       func(ctx context.Context, id string, status string) error
	replaceCredentialsFunc func(ctx context.Context, id string, params item.ReplaceCredentialsParams) error
}

func (m *mockItemRepo) GetByID(ctx context.Context, id string) (*item.Item, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockItemRepo) UpdateAccessToken(ctx context.Context, id string, accessToken string) error {
	return m.updateTokenFunc(ctx, id, accessToken)
}

func (m *mockItemRepo) UpdateStatus(ctx context.Context, id string, status string) error {
	return m.updateStatusFunc(ctx, id, status)
}

func (m *mockItemRepo) ReplaceCredentials(ctx context.Context, id string, params item.ReplaceCredentialsParams) error {
	return m.replaceCredentialsFunc(ctx, id, params)
}

type mockAccountRepo struct {
	account.Repository

	listByItemFunc func(ctx context.Context, itemID string) ([]*account.Account, error)
	remapFunc      func(ctx context.Context, id string, params account.RemapParams) error
	upsertFunc     func(ctx context.Context, params account.UpsertParams) (*account.Account, error)
}

func (m *mockAccountRepo) ListByItemID(ctx context.Context, itemID string) ([]*account.Account, error) {
	return m.listByItemFunc(ctx, itemID)
}

func (m *mockAccountRepo) Remap(ctx context.Context, id string, params account.RemapParams) error {
	return m.remapFunc(ctx, id, params)
}

func (m *mockAccountRepo) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, error) {
	return m.upsertFunc(ctx, params)
}

type mockTxRepo struct {
	transaction.Repository

	countFunc    func(ctx context.Context, itemID string) (int64, error)
	deleteFunc   func(ctx context.Context, itemID string) (int64, error)
	childrenFunc func(ctx context.Context, itemID string) ([]*transaction.Transaction, error)
}

func (m *mockTxRepo) CountNonManualByItem(ctx context.Context, itemID string) (int64, error) {
	return m.countFunc(ctx, itemID)
}

func (m *mockTxRepo) DeleteNonManualByItem(ctx context.Context, itemID string) (int64, error) {
	return m.deleteFunc(ctx, itemID)
}

func (m *mockTxRepo) ListSplitChildrenByItem(ctx context.Context, itemID string) ([]*transaction.Transaction, error) {
	if m.childrenFunc != nil {
		return m.childrenFunc(ctx, itemID)
	}
	return nil, nil
}

// identityCrypto tags values instead of encrypting so tests can assert flow.
type identityCrypto struct{}

func (identityCrypto) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }
func (identityCrypto) Decrypt(ciphertext string) (string, error) {
	if len(ciphertext) > 4 && ciphertext[:4] == "enc:" {
		return ciphertext[4:], nil
	}
	return ciphertext, nil
}

type mockSyncer struct {
	calls int
	err   error
}

func (m *mockSyncer) SyncItem(ctx context.Context, itemID string) (*syncengine.Stats, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &syncengine.Stats{ItemID: itemID}, nil
}

type mockDetacher struct {
	calls int
	n     int
}

func (m *mockDetacher) ConvertChildrenToManual(ctx context.Context, itemID string) (int, error) {
	m.calls++
	return m.n, nil
}

func activeItem() *item.Item {
	return &item.Item{
		ID:              "item-1",
		UserID:          1,
		ExternalItemID:  "ext-item-1",
		AccessToken:     "enc:old-token",
		InstitutionID:   "ins_1",
		InstitutionName: "First Bank",
		Status:          item.StatusError,
	}
}

func strPtr(s string) *string { return &s }

func TestPrepare_SameExternalIDIsReauth(t *testing.T) {
	var storedToken, storedStatus string
	items := &mockItemRepo{
		getByIDFunc: func(_ context.Context, id string) (*item.Item, error) {
			return activeItem(), nil
		},
		updateTokenFunc: func(_ context.Context, id string, accessToken string) error {
			storedToken = accessToken
			return nil
		},
		updateStatusFunc: func(_ context.Context, id string, status string) error {
			storedStatus = status
			return nil
		},
	}
	provider := &mockProvider{
		exchangeFunc: func(_ context.Context, publicToken string) (*plaid.ExchangeResponse, error) {
			return &plaid.ExchangeResponse{AccessToken: "new-token", ItemID: "ext-item-1"}, nil
		},
	}
	syncer := &mockSyncer{}

	c := NewCoordinator(provider, items, &mockAccountRepo{}, &mockTxRepo{},
		NewMemoryStash(), identityCrypto{}, syncer, &mockDetacher{}, item.NewLocks(), 0)

	result, err := c.Prepare(context.Background(), 1, "item-1", "public-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Mode != ModeReauth {
		t.Fatalf("expected reauth, got %q", result.Mode)
	}
	if storedToken != "enc:new-token" {
		t.Errorf("expected encrypted token stored, got %q", storedToken)
	}
	if storedStatus != item.StatusActive {
		t.Errorf("expected item reactivated, got %q", storedStatus)
	}
	if syncer.calls != 1 || !result.Resynced {
		t.Error("expected an immediate resync after reauth")
	}
}

func TestPrepare_DifferentExternalIDStashesReconnection(t *testing.T) {
	items := &mockItemRepo{
		getByIDFunc: func(_ context.Context, id string) (*item.Item, error) {
			return activeItem(), nil
		},
	}
	accounts := &mockAccountRepo{
		listByItemFunc: func(_ context.Context, itemID string) ([]*account.Account, error) {
			return []*account.Account{
				{ID: "acc-1", Name: "Checking", Mask: strPtr("1234")},
				{ID: "acc-2", Name: "Savings", Mask: strPtr("5678")},
			}, nil
		},
	}
	txs := &mockTxRepo{
		countFunc: func(_ context.Context, itemID string) (int64, error) { return 42, nil },
	}
	provider := &mockProvider{
		exchangeFunc: func(_ context.Context, publicToken string) (*plaid.ExchangeResponse, error) {
			return &plaid.ExchangeResponse{AccessToken: "new-token", ItemID: "ext-item-2"}, nil
		},
		getAccountsFunc: func(_ context.Context, accessToken string) (*plaid.AccountsResponse, error) {
			return &plaid.AccountsResponse{Accounts: []plaid.Account{
				{AccountID: "new-acc-1", Name: "Checking", Mask: strPtr("1234"), Type: "depository"},
				{AccountID: "new-acc-3", Name: "Money Market", Mask: strPtr("9999"), Type: "depository"},
			}}, nil
		},
	}
	stash := NewMemoryStash()
	syncer := &mockSyncer{}

	c := NewCoordinator(provider, items, accounts, txs,
		stash, identityCrypto{}, syncer, &mockDetacher{}, item.NewLocks(), 0)

	result, err := c.Prepare(context.Background(), 1, "item-1", "public-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Mode != ModeReconnection {
		t.Fatalf("expected reconnection, got %q", result.Mode)
	}
	if result.ReconnectionID == "" {
		t.Fatal("expected a reconnection id")
	}
	if syncer.calls != 0 {
		t.Error("prepare must not sync before confirmation")
	}
	if result.RowsToDelete != 42 {
		t.Errorf("expected 42 rows to delete, got %d", result.RowsToDelete)
	}
	if len(result.Matched) != 1 || result.Matched[0].AccountID != "acc-1" {
		t.Errorf("expected checking account matched, got %+v", result.Matched)
	}
	if len(result.UnmatchedNew) != 1 || result.UnmatchedNew[0] != "Money Market" {
		t.Errorf("expected money market unmatched, got %v", result.UnmatchedNew)
	}

	entry, err := stash.Get(context.Background(), result.ReconnectionID)
	if err != nil || entry == nil {
		t.Fatalf("expected stashed entry, got %v, %v", entry, err)
	}
	if entry.EncryptedAccessToken != "enc:new-token" {
		t.Errorf("expected encrypted token in stash, got %q", entry.EncryptedAccessToken)
	}
	if entry.ExternalItemID != "ext-item-2" {
		t.Errorf("expected new external item id, got %q", entry.ExternalItemID)
	}
}

func TestConfirm_ExecutesReconnection(t *testing.T) {
	var replaced *item.ReplaceCredentialsParams
	items := &mockItemRepo{
		getByIDFunc: func(_ context.Context, id string) (*item.Item, error) {
			return activeItem(), nil
		},
		replaceCredentialsFunc: func(_ context.Context, id string, params item.ReplaceCredentialsParams) error {
			replaced = &params
			return nil
		},
	}
	var remapped []string
	accounts := &mockAccountRepo{
		listByItemFunc: func(_ context.Context, itemID string) ([]*account.Account, error) {
			return []*account.Account{
				{ID: "acc-1", Name: "Checking", Mask: strPtr("1234")},
			}, nil
		},
		remapFunc: func(_ context.Context, id string, params account.RemapParams) error {
			remapped = append(remapped, id)
			return nil
		},
		upsertFunc: func(_ context.Context, params account.UpsertParams) (*account.Account, error) {
			return &account.Account{ID: "acc-new"}, nil
		},
	}
	deleted := false
	txs := &mockTxRepo{
		deleteFunc: func(_ context.Context, itemID string) (int64, error) {
			deleted = true
			return 42, nil
		},
	}
	provider := &mockProvider{
		getAccountsFunc: func(_ context.Context, accessToken string) (*plaid.AccountsResponse, error) {
			if accessToken != "new-token" {
				t.Errorf("expected decrypted stashed token, got %q", accessToken)
			}
			return &plaid.AccountsResponse{Accounts: []plaid.Account{
				{AccountID: "new-acc-1", Name: "Checking", Mask: strPtr("1234"), Type: "depository"},
				{AccountID: "new-acc-2", Name: "Money Market", Mask: strPtr("9999"), Type: "depository"},
			}}, nil
		},
	}
	stash := NewMemoryStash()
	stash.Put(context.Background(), &Entry{
		ID:                   "rec-1",
		ItemID:               "item-1",
		UserID:               1,
		EncryptedAccessToken: "enc:new-token",
		ExternalItemID:       "ext-item-2",
		InstitutionID:        "ins_1",
		InstitutionName:      "First Bank",
		ExpiresAt:            time.Now().Add(time.Minute),
	})
	syncer := &mockSyncer{}
	detacher := &mockDetacher{n: 3}

	c := NewCoordinator(provider, items, accounts, txs,
		stash, identityCrypto{}, syncer, detacher, item.NewLocks(), 0)

	result, err := c.Confirm(context.Background(), 1, "rec-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if detacher.calls != 1 || result.ChildrenDetached != 3 {
		t.Error("expected split children detached before the delete")
	}
	if !deleted || result.RowsDeleted != 42 {
		t.Error("expected provider transactions deleted")
	}
	if len(remapped) != 1 || remapped[0] != "acc-1" {
		t.Errorf("expected acc-1 remapped, got %v", remapped)
	}
	if result.AccountsCreated != 1 {
		t.Errorf("expected one new account, got %d", result.AccountsCreated)
	}
	if replaced == nil || replaced.ExternalItemID != "ext-item-2" || replaced.AccessToken != "enc:new-token" {
		t.Errorf("expected credentials replaced with stashed values, got %+v", replaced)
	}
	if syncer.calls != 1 || result.Sync == nil {
		t.Error("expected a full resync after confirmation")
	}

	if entry, _ := stash.Get(context.Background(), "rec-1"); entry != nil {
		t.Error("expected stash entry consumed")
	}
}

func TestConfirm_UnknownOrExpired(t *testing.T) {
	items := &mockItemRepo{
		getByIDFunc: func(_ context.Context, id string) (*item.Item, error) {
			return activeItem(), nil
		},
	}
	stash := NewMemoryStash()
	stash.Put(context.Background(), &Entry{
		ID:        "rec-old",
		ItemID:    "item-1",
		UserID:    1,
		ExpiresAt: time.Now().Add(-time.Minute),
	})

	c := NewCoordinator(&mockProvider{}, items, &mockAccountRepo{}, &mockTxRepo{},
		stash, identityCrypto{}, nil, &mockDetacher{}, item.NewLocks(), 0)

	if _, err := c.Confirm(context.Background(), 1, "rec-missing"); !errors.Is(err, ErrReconnectionNotFound) {
		t.Errorf("expected ErrReconnectionNotFound, got %v", err)
	}
	if _, err := c.Confirm(context.Background(), 1, "rec-old"); !errors.Is(err, ErrReconnectionNotFound) {
		t.Errorf("expected expired entry to report not found, got %v", err)
	}
}

func TestConfirm_WrongUser(t *testing.T) {
	stash := NewMemoryStash()
	stash.Put(context.Background(), &Entry{
		ID:        "rec-1",
		ItemID:    "item-1",
		UserID:    2,
		ExpiresAt: time.Now().Add(time.Minute),
	})

	c := NewCoordinator(&mockProvider{}, &mockItemRepo{}, &mockAccountRepo{}, &mockTxRepo{},
		stash, identityCrypto{}, nil, &mockDetacher{}, item.NewLocks(), 0)

	if _, err := c.Confirm(context.Background(), 1, "rec-1"); !errors.Is(err, ErrReconnectionNotFound) {
		t.Errorf("expected ErrReconnectionNotFound for foreign entry, got %v", err)
	}
}

func TestConfirm_BlockedByRunningSync(t *testing.T) {
	items := &mockItemRepo{
		getByIDFunc: func(_ context.Context, id string) (*item.Item, error) {
			return activeItem(), nil
		},
	}
	stash := NewMemoryStash()
	stash.Put(context.Background(), &Entry{
		ID:        "rec-1",
		ItemID:    "item-1",
		UserID:    1,
		ExpiresAt: time.Now().Add(time.Minute),
	})
	locks := item.NewLocks()
	locks.Lock("item-1")
	defer locks.Unlock("item-1")

	c := NewCoordinator(&mockProvider{}, items, &mockAccountRepo{}, &mockTxRepo{},
		stash, identityCrypto{}, nil, &mockDetacher{}, locks, 0)

	if _, err := c.Confirm(context.Background(), 1, "rec-1"); !errors.Is(err, item.ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	stash := NewMemoryStash()
	stash.Put(context.Background(), &Entry{
		ID:        "rec-1",
		ItemID:    "item-1",
		UserID:    1,
		ExpiresAt: time.Now().Add(time.Minute),
	})

	c := NewCoordinator(&mockProvider{}, &mockItemRepo{}, &mockAccountRepo{}, &mockTxRepo{},
		stash, identityCrypto{}, nil, &mockDetacher{}, item.NewLocks(), 0)

	if err := c.Cancel(context.Background(), 1, "rec-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry, _ := stash.Get(context.Background(), "rec-1"); entry != nil {
		t.Error("expected entry removed")
	}
	if err := c.Cancel(context.Background(), 1, "rec-1"); !errors.Is(err, ErrReconnectionNotFound) {
		t.Errorf("expected ErrReconnectionNotFound, got %v", err)
	}
}
