package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"finch/internal/domain/account"
	"finch/internal/domain/split"
	"finch/internal/domain/tag"
	"finch/internal/domain/transaction"
	"finch/internal/shared/middleware"
)

// MockTransactionRepo implements transaction.Repository for testing
type MockTransactionRepo struct {
	GetByIDFunc                 func(ctx context.Context, id string) (*transaction.Transaction, error)
	GetByExternalIDFunc         func(ctx context.Context, externalID string) (*transaction.Transaction, error)
	ListByAccountIDFunc         func(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error)
	ListByUserIDFunc            func(ctx context.Context, userID int64, limit, offset int) ([]*transaction.Transaction, error)
	ListChildrenFunc            func(ctx context.Context, parentID string) ([]*transaction.Transaction, error)
	ListSplitChildrenByItemFunc func(ctx context.Context, itemID string) ([]*transaction.Transaction, error)
	ListUncategorizedFunc       func(ctx context.Context, userID int64, limit int) ([]*transaction.Transaction, error)
	UpsertFunc                  func(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error)
	CreateManualFunc            func(ctx context.Context, params transaction.CreateManualParams) (*transaction.Transaction, error)
	CreateChildFunc             func(ctx context.Context, params transaction.CreateChildParams) (*transaction.Transaction, error)
	PatchFunc                   func(ctx context.Context, id string, params transaction.PatchParams) (*transaction.Transaction, error)
	UpdateFlagsFunc             func(ctx context.Context, id string, params transaction.UpdateFlagsParams) error
	SetCategoryFunc             func(ctx context.Context, id string, categoryID, subcategoryID *string) error
	DeleteByExternalIDFunc      func(ctx context.Context, externalID string) (bool, error)
	DeleteChildrenFunc          func(ctx context.Context, parentID string) (int64, error)
	CountNonManualByItemFunc    func(ctx context.Context, itemID string) (int64, error)
	DeleteNonManualByItemFunc   func(ctx context.Context, itemID string) (int64, error)
}

func (m *MockTransactionRepo) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockTransactionRepo) GetByExternalID(ctx context.Context, externalID string) (*transaction.Transaction, error) {
	if m.GetByExternalIDFunc != nil {
		return m.GetByExternalIDFunc(ctx, externalID)
	}
	return nil, nil
}

func (m *MockTransactionRepo) ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*transaction.Transaction, error) {
	if m.ListByAccountIDFunc != nil {
		return m.ListByAccountIDFunc(ctx, accountID, limit, offset)
	}
	return nil, nil
}

func (m *MockTransactionRepo) ListByUserID(ctx context.Context, userID int64, limit, offset int) ([]*transaction.Transaction, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID, limit, offset)
	}
	return nil, nil
}

func (m *MockTransactionRepo) ListChildren(ctx context.Context, parentID string) ([]*transaction.Transaction, error) {
	if m.ListChildrenFunc != nil {
		return m.ListChildrenFunc(ctx, parentID)
	}
	return nil, nil
}

func (m *MockTransactionRepo) ListSplitChildrenByItem(ctx context.Context, itemID string) ([]*transaction.Transaction, error) {
	if m.ListSplitChildrenByItemFunc != nil {
		return m.ListSplitChildrenByItemFunc(ctx, itemID)
	}
	return nil, nil
}

func (m *MockTransactionRepo) ListUncategorized(ctx context.Context, userID int64, limit int) ([]*transaction.Transaction, error) {
	if m.ListUncategorizedFunc != nil {
		return m.ListUncategorizedFunc(ctx, userID, limit)
	}
	return nil, nil
}

func (m *MockTransactionRepo) Upsert(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockTransactionRepo) CreateManual(ctx context.Context, params transaction.CreateManualParams) (*transaction.Transaction, error) {
	if m.CreateManualFunc != nil {
		return m.CreateManualFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockTransactionRepo) CreateChild(ctx context.Context, params transaction.CreateChildParams) (*transaction.Transaction, error) {
	if m.CreateChildFunc != nil {
		return m.CreateChildFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockTransactionRepo) Patch(ctx context.Context, id string, params transaction.PatchParams) (*transaction.Transaction, error) {
	if m.PatchFunc != nil {
		return m.PatchFunc(ctx, id, params)
	}
	return nil, nil
}

func (m *MockTransactionRepo) UpdateFlags(ctx context.Context, id string, params transaction.UpdateFlagsParams) error {
	if m.UpdateFlagsFunc != nil {
		return m.UpdateFlagsFunc(ctx, id, params)
	}
	return nil
}

func (m *MockTransactionRepo) SetCategory(ctx context.Context, id string, categoryID, subcategoryID *string) error {
	if m.SetCategoryFunc != nil {
		return m.SetCategoryFunc(ctx, id, categoryID, subcategoryID)
	}
	return nil
}

func (m *MockTransactionRepo) DeleteByExternalID(ctx context.Context, externalID string) (bool, error) {
	if m.DeleteByExternalIDFunc != nil {
		return m.DeleteByExternalIDFunc(ctx, externalID)
	}
	return false, nil
}

func (m *MockTransactionRepo) DeleteChildren(ctx context.Context, parentID string) (int64, error) {
	if m.DeleteChildrenFunc != nil {
		return m.DeleteChildrenFunc(ctx, parentID)
	}
	return 0, nil
}

func (m *MockTransactionRepo) CountNonManualByItem(ctx context.Context, itemID string) (int64, error) {
	if m.CountNonManualByItemFunc != nil {
		return m.CountNonManualByItemFunc(ctx, itemID)
	}
	return 0, nil
}

func (m *MockTransactionRepo) DeleteNonManualByItem(ctx context.Context, itemID string) (int64, error) {
	if m.DeleteNonManualByItemFunc != nil {
		return m.DeleteNonManualByItemFunc(ctx, itemID)
	}
	return 0, nil
}

// MockAccountRepo implements account.Repository for testing
type MockAccountRepo struct {
	GetByIDFunc         func(ctx context.Context, id string) (*account.Account, error)
	GetByExternalIDFunc func(ctx context.Context, externalID string) (*account.Account, error)
	ListByItemIDFunc    func(ctx context.Context, itemID string) ([]*account.Account, error)
	ListByUserIDFunc    func(ctx context.Context, userID int64) ([]*account.Account, error)
	UpsertFunc          func(ctx context.Context, params account.UpsertParams) (*account.Account, error)
	RemapFunc           func(ctx context.Context, id string, params account.RemapParams) error
	DeleteFunc          func(ctx context.Context, id string) error
}

func (m *MockAccountRepo) GetByID(ctx context.Context, id string) (*account.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockAccountRepo) GetByExternalID(ctx context.Context, externalID string) (*account.Account, error) {
	if m.GetByExternalIDFunc != nil {
		return m.GetByExternalIDFunc(ctx, externalID)
	}
	return nil, nil
}

func (m *MockAccountRepo) ListByItemID(ctx context.Context, itemID string) ([]*account.Account, error) {
	if m.ListByItemIDFunc != nil {
		return m.ListByItemIDFunc(ctx, itemID)
	}
	return nil, nil
}

func (m *MockAccountRepo) ListByUserID(ctx context.Context, userID int64) ([]*account.Account, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockAccountRepo) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockAccountRepo) Remap(ctx context.Context, id string, params account.RemapParams) error {
	if m.RemapFunc != nil {
		return m.RemapFunc(ctx, id, params)
	}
	return nil
}

func (m *MockAccountRepo) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockTagRepo implements tag.Repository for testing
type MockTagRepo struct {
	CreateFunc              func(ctx context.Context, userID int64, params tag.CreateTagParams) (*tag.Tag, error)
	GetByIDFunc             func(ctx context.Context, id string) (*tag.Tag, error)
	ListByUserIDFunc        func(ctx context.Context, userID int64) ([]*tag.Tag, error)
	UpdateFunc              func(ctx context.Context, id string, params tag.UpdateTagParams) (*tag.Tag, error)
	DeleteFunc              func(ctx context.Context, id string) error
	SetTransactionTagsFunc  func(ctx context.Context, transactionID string, tagIDs []string) error
	ListByTransactionIDFunc func(ctx context.Context, transactionID string) ([]*tag.Tag, error)
}

func (m *MockTagRepo) Create(ctx context.Context, userID int64, params tag.CreateTagParams) (*tag.Tag, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, params)
	}
	return nil, nil
}

func (m *MockTagRepo) GetByID(ctx context.Context, id string) (*tag.Tag, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockTagRepo) ListByUserID(ctx context.Context, userID int64) ([]*tag.Tag, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockTagRepo) Update(ctx context.Context, id string, params tag.UpdateTagParams) (*tag.Tag, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, params)
	}
	return nil, nil
}

func (m *MockTagRepo) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockTagRepo) SetTransactionTags(ctx context.Context, transactionID string, tagIDs []string) error {
	if m.SetTransactionTagsFunc != nil {
		return m.SetTransactionTagsFunc(ctx, transactionID, tagIDs)
	}
	return nil
}

func (m *MockTagRepo) ListByTransactionID(ctx context.Context, transactionID string) ([]*tag.Tag, error) {
	if m.ListByTransactionIDFunc != nil {
		return m.ListByTransactionIDFunc(ctx, transactionID)
	}
	return nil, nil
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, int64(1))
	return req.WithContext(ctx)
}

func ownedTransaction() *transaction.Transaction {
	return &transaction.Transaction{
		ID:                    "tx-1",
		AccountID:             "acc-1",
		UserID:                1,
		ExternalTransactionID: "ext-1",
		Amount:                -42.50,
		Currency:              "USD",
		Date:                  time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		Name:                  "Coffee Shop",
	}
}

func newTransactionHandler(txRepo *MockTransactionRepo, accRepo *MockAccountRepo, tagRepo *MockTagRepo) *TransactionHandler {
	if txRepo == nil {
		txRepo = &MockTransactionRepo{}
	}
	if accRepo == nil {
		accRepo = &MockAccountRepo{}
	}
	if tagRepo == nil {
		tagRepo = &MockTagRepo{}
	}
	return NewTransactionHandler(txRepo, accRepo, tagRepo, split.NewService(txRepo))
}

func TestHandleListTransactions_ForbiddenAccount(t *testing.T) {
	accRepo := &MockAccountRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*account.Account, error) {
			return &account.Account{ID: id, UserID: 99}, nil
		},
	}
	handler := newTransactionHandler(nil, accRepo, nil)

	req := authedRequest(http.MethodGet, "/api/transactions?accountId=acc-1", "")
	rr := httptest.NewRecorder()
	handler.HandleTransactions(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestHandleCreateManual_Success(t *testing.T) {
	var captured transaction.CreateManualParams
	txRepo := &MockTransactionRepo{
		CreateManualFunc: func(ctx context.Context, params transaction.CreateManualParams) (*transaction.Transaction, error) {
			captured = params
			return &transaction.Transaction{ID: "tx-new", IsManual: true}, nil
		},
	}
	accRepo := &MockAccountRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*account.Account, error) {
			return &account.Account{ID: id, UserID: 1, Currency: "EUR"}, nil
		},
	}
	handler := newTransactionHandler(txRepo, accRepo, nil)

	body := `{"accountId":"acc-1","amount":-12.30,"date":"2026-02-10","name":"Groceries"}`
	req := authedRequest(http.MethodPost, "/api/transactions", body)
	rr := httptest.NewRecorder()
	handler.HandleTransactions(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if captured.Currency != "EUR" {
		t.Errorf("currency = %q, want account default %q", captured.Currency, "EUR")
	}
	if captured.Amount != -12.30 {
		t.Errorf("amount = %v, want -12.30", captured.Amount)
	}
}

func TestHandleCreateManual_BadDate(t *testing.T) {
	handler := newTransactionHandler(nil, nil, nil)

	body := `{"accountId":"acc-1","amount":-12.30,"date":"02/10/2026","name":"Groceries"}`
	req := authedRequest(http.MethodPost, "/api/transactions", body)
	rr := httptest.NewRecorder()
	handler.HandleTransactions(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandlePatch_ClearCategoryConflict(t *testing.T) {
	txRepo := &MockTransactionRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*transaction.Transaction, error) {
			return ownedTransaction(), nil
		},
	}
	handler := newTransactionHandler(txRepo, nil, nil)

	body := `{"categoryId":"cat-1","clearCategory":true}`
	req := authedRequest(http.MethodPatch, "/api/transactions/tx-1", body)
	req.SetPathValue("id", "tx-1")
	rr := httptest.NewRecorder()
	handler.HandleTransactionByID(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleTransactionByID_NotOwned(t *testing.T) {
	txRepo := &MockTransactionRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*transaction.Transaction, error) {
			tx := ownedTransaction()
			tx.UserID = 7
			return tx, nil
		},
	}
	handler := newTransactionHandler(txRepo, nil, nil)

	req := authedRequest(http.MethodGet, "/api/transactions/tx-1", "")
	req.SetPathValue("id", "tx-1")
	rr := httptest.NewRecorder()
	handler.HandleTransactionByID(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestHandleSplit_Success(t *testing.T) {
	parent := ownedTransaction()
	var childAmounts []float64
	txRepo := &MockTransactionRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*transaction.Transaction, error) {
			return parent, nil
		},
		CreateChildFunc: func(ctx context.Context, params transaction.CreateChildParams) (*transaction.Transaction, error) {
			childAmounts = append(childAmounts, params.Amount)
			return &transaction.Transaction{ID: "child-" + params.Name, Amount: params.Amount}, nil
		},
	}
	handler := newTransactionHandler(txRepo, nil, nil)

	body := `{"children":[{"amount":-30.00,"name":"Food"},{"amount":-12.50,"name":"Drinks"}]}`
	req := authedRequest(http.MethodPost, "/api/transactions/tx-1/split", body)
	req.SetPathValue("id", "tx-1")
	rr := httptest.NewRecorder()
	handler.HandleSplit(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if len(childAmounts) != 2 {
		t.Errorf("created %d children, want 2", len(childAmounts))
	}
}

func TestHandleSplit_ZeroAmountRejected(t *testing.T) {
	handler := newTransactionHandler(nil, nil, nil)

	body := `{"children":[{"amount":0,"name":"Food"}]}`
	req := authedRequest(http.MethodPost, "/api/transactions/tx-1/split", body)
	req.SetPathValue("id", "tx-1")
	rr := httptest.NewRecorder()
	handler.HandleSplit(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleSplit_AlreadySplitConflict(t *testing.T) {
	txRepo := &MockTransactionRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*transaction.Transaction, error) {
			tx := ownedTransaction()
			tx.IsSplit = true
			return tx, nil
		},
	}
	handler := newTransactionHandler(txRepo, nil, nil)

	body := `{"children":[{"amount":-10.00}]}`
	req := authedRequest(http.MethodPost, "/api/transactions/tx-1/split", body)
	req.SetPathValue("id", "tx-1")
	rr := httptest.NewRecorder()
	handler.HandleSplit(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestHandleTags_ReplacesTagSet(t *testing.T) {
	var setIDs []string
	txRepo := &MockTransactionRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*transaction.Transaction, error) {
			return ownedTransaction(), nil
		},
	}
	tagRepo := &MockTagRepo{
		SetTransactionTagsFunc: func(ctx context.Context, transactionID string, tagIDs []string) error {
			setIDs = tagIDs
			return nil
		},
		ListByTransactionIDFunc: func(ctx context.Context, transactionID string) ([]*tag.Tag, error) {
			return []*tag.Tag{{ID: "tag-1"}, {ID: "tag-2"}}, nil
		},
	}
	handler := newTransactionHandler(txRepo, nil, tagRepo)

	body := `{"tagIds":["tag-1","tag-2"]}`
	req := authedRequest(http.MethodPut, "/api/transactions/tx-1/tags", body)
	req.SetPathValue("id", "tx-1")
	rr := httptest.NewRecorder()
	handler.HandleTags(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if len(setIDs) != 2 {
		t.Errorf("set %d tag ids, want 2", len(setIDs))
	}
}
