package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"finch/internal/domain/account"
	"finch/internal/domain/item"
	syncengine "finch/internal/domain/sync"
	"finch/internal/infrastructure/plaid"
)

// MockItemRepo implements item.Repository for testing
type MockItemRepo struct {
	CreateFunc                func(ctx context.Context, params item.CreateParams) (*item.Item, error)
	GetByIDFunc               func(ctx context.Context, id string) (*item.Item, error)
	GetByExternalIDFunc       func(ctx context.Context, externalItemID string) (*item.Item, error)
	ListByUserIDFunc          func(ctx context.Context, userID int64) ([]*item.Item, error)
	ListSyncableFunc          func(ctx context.Context) ([]*item.Item, error)
	UpdateStatusFunc          func(ctx context.Context, id string, status string) error
	UpdateAccessTokenFunc     func(ctx context.Context, id string, accessToken string) error
	SetTransactionsCursorFunc func(ctx context.Context, id string, cursor *string) error
	SetInvestmentsCursorFunc  func(ctx context.Context, id string, cursor *string) error
	ReplaceCredentialsFunc    func(ctx context.Context, id string, params item.ReplaceCredentialsParams) error
	TouchLastSyncedFunc       func(ctx context.Context, id string) error
	DeleteFunc                func(ctx context.Context, id string) error
}

func (m *MockItemRepo) Create(ctx context.Context, params item.CreateParams) (*item.Item, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockItemRepo) GetByID(ctx context.Context, id string) (*item.Item, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockItemRepo) GetByExternalID(ctx context.Context, externalItemID string) (*item.Item, error) {
	if m.GetByExternalIDFunc != nil {
		return m.GetByExternalIDFunc(ctx, externalItemID)
	}
	return nil, nil
}

func (m *MockItemRepo) ListByUserID(ctx context.Context, userID int64) ([]*item.Item, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockItemRepo) ListSyncable(ctx context.Context) ([]*item.Item, error) {
	if m.ListSyncableFunc != nil {
		return m.ListSyncableFunc(ctx)
	}
	return nil, nil
}

func (m *MockItemRepo) UpdateStatus(ctx context.Context, id string, status string) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *MockItemRepo) UpdateAccessToken(ctx context.Context, id string, accessToken string) error {
	if m.UpdateAccessTokenFunc != nil {
		return m.UpdateAccessTokenFunc(ctx, id, accessToken)
	}
	return nil
}

func (m *MockItemRepo) SetTransactionsCursor(ctx context.Context, id string, cursor *string) error {
	if m.SetTransactionsCursorFunc != nil {
		return m.SetTransactionsCursorFunc(ctx, id, cursor)
	}
	return nil
}

func (m *MockItemRepo) SetInvestmentsCursor(ctx context.Context, id string, cursor *string) error {
	if m.SetInvestmentsCursorFunc != nil {
		return m.SetInvestmentsCursorFunc(ctx, id, cursor)
	}
	return nil
}

func (m *MockItemRepo) ReplaceCredentials(ctx context.Context, id string, params item.ReplaceCredentialsParams) error {
	if m.ReplaceCredentialsFunc != nil {
		return m.ReplaceCredentialsFunc(ctx, id, params)
	}
	return nil
}

func (m *MockItemRepo) TouchLastSynced(ctx context.Context, id string) error {
	if m.TouchLastSyncedFunc != nil {
		return m.TouchLastSyncedFunc(ctx, id)
	}
	return nil
}

func (m *MockItemRepo) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockProviderClient implements plaid.ClientInterface for testing
type MockProviderClient struct {
	SyncTransactionsFunc           func(ctx context.Context, accessToken string, cursor *string) (*plaid.SyncTransactionsResponse, error)
	SyncInvestmentTransactionsFunc func(ctx context.Context, accessToken string, cursor *string) (*plaid.SyncTransactionsResponse, error)
	ExchangePublicTokenFunc        func(ctx context.Context, publicToken string) (*plaid.ExchangeResponse, error)
	GetAccountsFunc                func(ctx context.Context, accessToken string) (*plaid.AccountsResponse, error)
	GetItemFunc                    func(ctx context.Context, accessToken string) (*plaid.ItemResponse, error)
}

func (m *MockProviderClient) SyncTransactions(ctx context.Context, accessToken string, cursor *string) (*plaid.SyncTransactionsResponse, error) {
	if m.SyncTransactionsFunc != nil {
		return m.SyncTransactionsFunc(ctx, accessToken, cursor)
	}
	return nil, nil
}

func (m *MockProviderClient) SyncInvestmentTransactions(ctx context.Context, accessToken string, cursor *string) (*plaid.SyncTransactionsResponse, error) {
	if m.SyncInvestmentTransactionsFunc != nil {
		return m.SyncInvestmentTransactionsFunc(ctx, accessToken, cursor)
	}
	return nil, nil
}

func (m *MockProviderClient) ExchangePublicToken(ctx context.Context, publicToken string) (*plaid.ExchangeResponse, error) {
	if m.ExchangePublicTokenFunc != nil {
		return m.ExchangePublicTokenFunc(ctx, publicToken)
	}
	return nil, nil
}

func (m *MockProviderClient) GetAccounts(ctx context.Context, accessToken string) (*plaid.AccountsResponse, error) {
	if m.GetAccountsFunc != nil {
		return m.GetAccountsFunc(ctx, accessToken)
	}
	return nil, nil
}

func (m *MockProviderClient) GetItem(ctx context.Context, accessToken string) (*plaid.ItemResponse, error) {
	if m.GetItemFunc != nil {
		return m.GetItemFunc(ctx, accessToken)
	}
	return nil, nil
}

// MockSyncer implements Syncer for testing
type MockSyncer struct {
	SyncItemFunc func(ctx context.Context, itemID string) (*syncengine.Stats, error)
}

func (m *MockSyncer) SyncItem(ctx context.Context, itemID string) (*syncengine.Stats, error) {
	if m.SyncItemFunc != nil {
		return m.SyncItemFunc(ctx, itemID)
	}
	return &syncengine.Stats{ItemID: itemID}, nil
}

type plainEncrypter struct{}

func (plainEncrypter) Encrypt(plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func ownedItem() *item.Item {
	return &item.Item{
		ID:             "item-1",
		UserID:         1,
		ExternalItemID: "ext-item-1",
		Status:         item.StatusActive,
	}
}

func newItemHandler(itemRepo *MockItemRepo, accRepo *MockAccountRepo, provider *MockProviderClient, syncer *MockSyncer) *ItemHandler {
	if itemRepo == nil {
		itemRepo = &MockItemRepo{}
	}
	if accRepo == nil {
		accRepo = &MockAccountRepo{}
	}
	if provider == nil {
		provider = &MockProviderClient{}
	}
	if syncer == nil {
		syncer = &MockSyncer{}
	}
	return NewItemHandler(itemRepo, accRepo, provider, plainEncrypter{}, syncer)
}

func TestHandleSyncItem_NotFound(t *testing.T) {
	handler := newItemHandler(&MockItemRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*item.Item, error) {
			return nil, nil
		},
	}, nil, nil, nil)

	req := authedRequest(http.MethodPost, "/api/items/item-1/sync", "")
	req.SetPathValue("id", "item-1")
	rr := httptest.NewRecorder()
	handler.HandleSyncItem(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHandleSyncItem_Forbidden(t *testing.T) {
	handler := newItemHandler(&MockItemRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*item.Item, error) {
			it := ownedItem()
			it.UserID = 2
			return it, nil
		},
	}, nil, nil, nil)

	req := authedRequest(http.MethodPost, "/api/items/item-1/sync", "")
	req.SetPathValue("id", "item-1")
	rr := httptest.NewRecorder()
	handler.HandleSyncItem(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestHandleSyncItem_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		syncErr    error
		wantStatus int
	}{
		{"credential invalid", syncengine.ErrCredentialInvalid, http.StatusConflict},
		{"sync in progress", item.ErrSyncInProgress, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newItemHandler(&MockItemRepo{
				GetByIDFunc: func(ctx context.Context, id string) (*item.Item, error) {
					return ownedItem(), nil
				},
			}, nil, nil, &MockSyncer{
				SyncItemFunc: func(ctx context.Context, itemID string) (*syncengine.Stats, error) {
					return nil, tt.syncErr
				},
			})

			req := authedRequest(http.MethodPost, "/api/items/item-1/sync", "")
			req.SetPathValue("id", "item-1")
			rr := httptest.NewRecorder()
			handler.HandleSyncItem(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleSyncItem_Success(t *testing.T) {
	handler := newItemHandler(&MockItemRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*item.Item, error) {
			return ownedItem(), nil
		},
	}, nil, nil, &MockSyncer{
		SyncItemFunc: func(ctx context.Context, itemID string) (*syncengine.Stats, error) {
			return &syncengine.Stats{ItemID: itemID, Added: 3, Modified: 1}, nil
		},
	})

	req := authedRequest(http.MethodPost, "/api/items/item-1/sync", "")
	req.SetPathValue("id", "item-1")
	rr := httptest.NewRecorder()
	handler.HandleSyncItem(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var stats syncengine.Stats
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.Added != 3 {
		t.Errorf("added = %d, want 3", stats.Added)
	}
}

func TestHandleLinkItem_DuplicateInstitution(t *testing.T) {
	provider := &MockProviderClient{
		ExchangePublicTokenFunc: func(ctx context.Context, publicToken string) (*plaid.ExchangeResponse, error) {
			return &plaid.ExchangeResponse{AccessToken: "access-1", ItemID: "ext-item-1"}, nil
		},
	}
	itemRepo := &MockItemRepo{
		GetByExternalIDFunc: func(ctx context.Context, externalItemID string) (*item.Item, error) {
			return ownedItem(), nil
		},
	}
	handler := newItemHandler(itemRepo, nil, provider, nil)

	req := authedRequest(http.MethodPost, "/api/items/link", `{"publicToken":"public-1"}`)
	rr := httptest.NewRecorder()
	handler.HandleLinkItem(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestHandleLinkItem_Success(t *testing.T) {
	instID := "ins_1"
	instName := "First Platypus Bank"
	currency := "USD"
	var storedToken string

	provider := &MockProviderClient{
		ExchangePublicTokenFunc: func(ctx context.Context, publicToken string) (*plaid.ExchangeResponse, error) {
			return &plaid.ExchangeResponse{AccessToken: "access-1", ItemID: "ext-item-1"}, nil
		},
		GetAccountsFunc: func(ctx context.Context, accessToken string) (*plaid.AccountsResponse, error) {
			return &plaid.AccountsResponse{
				Accounts: []plaid.Account{
					{
						AccountID: "ext-acc-1",
						Name:      "Checking",
						Type:      "depository",
						Balances:  plaid.Balances{ISOCurrencyCode: &currency},
					},
				},
				Item: plaid.Item{ItemID: "ext-item-1", InstitutionID: &instID, InstitutionName: &instName},
			}, nil
		},
	}
	itemRepo := &MockItemRepo{
		CreateFunc: func(ctx context.Context, params item.CreateParams) (*item.Item, error) {
			storedToken = params.AccessToken
			return &item.Item{ID: "item-new", UserID: params.UserID, ExternalItemID: params.ExternalItemID}, nil
		},
	}
	accRepo := &MockAccountRepo{
		UpsertFunc: func(ctx context.Context, params account.UpsertParams) (*account.Account, error) {
			return &account.Account{ID: "acc-new", ItemID: params.ItemID, UserID: params.UserID}, nil
		},
	}
	handler := newItemHandler(itemRepo, accRepo, provider, nil)

	req := authedRequest(http.MethodPost, "/api/items/link", `{"publicToken":"public-1"}`)
	rr := httptest.NewRecorder()
	handler.HandleLinkItem(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if storedToken != "enc:access-1" {
		t.Errorf("stored token = %q, want encrypted form", storedToken)
	}
	var resp LinkItemResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Accounts) != 1 {
		t.Errorf("accounts = %d, want 1", len(resp.Accounts))
	}
}

func TestHandleItemStatus(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantUpdate string
	}{
		{"valid status", `{"status":"PENDING_DISCONNECT"}`, http.StatusOK, "PENDING_DISCONNECT"},
		{"unknown status", `{"status":"FROZEN"}`, http.StatusBadRequest, ""},
		{"empty body", `{}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var updated string
			handler := newItemHandler(&MockItemRepo{
				GetByIDFunc: func(ctx context.Context, id string) (*item.Item, error) {
					return ownedItem(), nil
				},
				UpdateStatusFunc: func(ctx context.Context, id string, status string) error {
					updated = status
					return nil
				},
			}, nil, nil, nil)

			req := authedRequest(http.MethodPatch, "/api/items/item-1/status", tt.body)
			req.SetPathValue("id", "item-1")
			rr := httptest.NewRecorder()
			handler.HandleItemStatus(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if updated != tt.wantUpdate {
				t.Errorf("updated status = %q, want %q", updated, tt.wantUpdate)
			}
		})
	}
}

func TestHandleItemByID_Delete(t *testing.T) {
	deleted := false
	handler := newItemHandler(&MockItemRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*item.Item, error) {
			return ownedItem(), nil
		},
		DeleteFunc: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	}, nil, nil, nil)

	req := authedRequest(http.MethodDelete, "/api/items/item-1", "")
	req.SetPathValue("id", "item-1")
	rr := httptest.NewRecorder()
	handler.HandleItemByID(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if !deleted {
		t.Error("expected item to be deleted")
	}
}
