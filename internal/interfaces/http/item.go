package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"finch/internal/domain/account"
	"finch/internal/domain/item"
	syncengine "finch/internal/domain/sync"
	"finch/internal/infrastructure/plaid"
	"finch/internal/shared/middleware"
)

// TokenEncrypter seals provider access tokens before they reach storage.
type TokenEncrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Syncer triggers a sync run for one item.
type Syncer interface {
	SyncItem(ctx context.Context, itemID string) (*syncengine.Stats, error)
}

type ItemHandler struct {
	itemRepo    item.Repository
	accountRepo account.Repository
	provider    plaid.ClientInterface
	encrypter   TokenEncrypter
	syncer      Syncer
}

func NewItemHandler(itemRepo item.Repository, accountRepo account.Repository, provider plaid.ClientInterface, encrypter TokenEncrypter, syncer Syncer) *ItemHandler {
	return &ItemHandler{
		itemRepo:    itemRepo,
		accountRepo: accountRepo,
		provider:    provider,
		encrypter:   encrypter,
		syncer:      syncer,
	}
}

type LinkItemRequest struct {
	PublicToken string `json:"publicToken"`
}

type LinkItemResponse struct {
	Item     *item.Item         `json:"item"`
	Accounts []*account.Account `json:"accounts"`
}

type ItemDetailResponse struct {
	Item     *item.Item         `json:"item"`
	Accounts []*account.Account `json:"accounts"`
}

// HandleItems routes GET (list) and POST (not allowed; link has its own path).
func (h *ItemHandler) HandleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	items, err := h.itemRepo.ListByUserID(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing items for user %d: %v", userID, err)
		http.Error(w, "Failed to list items", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}

// HandleLinkItem exchanges a public token for credentials, stores the new
// item with its accounts, and kicks off the initial sync in the background.
func (h *ItemHandler) HandleLinkItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req LinkItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PublicToken == "" {
		http.Error(w, "publicToken is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	exchange, err := h.provider.ExchangePublicToken(ctx, req.PublicToken)
	if err != nil {
		log.Printf("Error exchanging public token for user %d: %v", userID, err)
		http.Error(w, "Failed to exchange public token", http.StatusBadGateway)
		return
	}

	// Reject linking the same institution login twice.
	existing, err := h.itemRepo.GetByExternalID(ctx, exchange.ItemID)
	if err != nil {
		log.Printf("Error checking existing item %s: %v", exchange.ItemID, err)
		http.Error(w, "Failed to link item", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "Institution is already linked", http.StatusConflict)
		return
	}

	accountsResp, err := h.provider.GetAccounts(ctx, exchange.AccessToken)
	if err != nil {
		log.Printf("Error fetching accounts for new item %s: %v", exchange.ItemID, err)
		http.Error(w, "Failed to fetch accounts", http.StatusBadGateway)
		return
	}

	encrypted, err := h.encrypter.Encrypt(exchange.AccessToken)
	if err != nil {
		log.Printf("Error encrypting access token for item %s: %v", exchange.ItemID, err)
		http.Error(w, "Failed to link item", http.StatusInternalServerError)
		return
	}

	institutionID := ""
	institutionName := ""
	if accountsResp.Item.InstitutionID != nil {
		institutionID = *accountsResp.Item.InstitutionID
	}
	if accountsResp.Item.InstitutionName != nil {
		institutionName = *accountsResp.Item.InstitutionName
	}

	created, err := h.itemRepo.Create(ctx, item.CreateParams{
		UserID:          userID,
		ExternalItemID:  exchange.ItemID,
		AccessToken:     encrypted,
		InstitutionID:   institutionID,
		InstitutionName: institutionName,
	})
	if err != nil {
		log.Printf("Error creating item %s for user %d: %v", exchange.ItemID, userID, err)
		http.Error(w, "Failed to link item", http.StatusInternalServerError)
		return
	}

	accounts := make([]*account.Account, 0, len(accountsResp.Accounts))
	for _, pa := range accountsResp.Accounts {
		currency := "USD"
		if pa.Balances.ISOCurrencyCode != nil {
			currency = *pa.Balances.ISOCurrencyCode
		}
		acc, err := h.accountRepo.Upsert(ctx, account.UpsertParams{
			ItemID:            created.ID,
			UserID:            userID,
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
		})
		if err != nil {
			log.Printf("Error upserting account %s for item %s: %v", pa.AccountID, created.ID, err)
			http.Error(w, "Failed to store accounts", http.StatusInternalServerError)
			return
		}
		accounts = append(accounts, acc)
	}

	// Initial sync runs in the background so linking stays fast.
	go func() {
		if _, err := h.syncer.SyncItem(context.WithoutCancel(ctx), created.ID); err != nil {
			log.Printf("Initial sync for item %s failed: %v", created.ID, err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(LinkItemResponse{Item: created, Accounts: accounts})
}

// HandleItemByID routes GET (detail) and DELETE for /api/items/{id}.
func (h *ItemHandler) HandleItemByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	itemID := r.PathValue("id")
	if itemID == "" {
		http.Error(w, "Item ID is required", http.StatusBadRequest)
		return
	}

	it, err := h.loadOwned(r, userID, itemID)
	if err != nil {
		writeItemError(w, itemID, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		accounts, err := h.accountRepo.ListByItemID(r.Context(), itemID)
		if err != nil {
			log.Printf("Error listing accounts for item %s: %v", itemID, err)
			http.Error(w, "Failed to list accounts", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ItemDetailResponse{Item: it, Accounts: accounts})

	case http.MethodDelete:
		if err := h.itemRepo.Delete(r.Context(), itemID); err != nil {
			log.Printf("Error deleting item %s: %v", itemID, err)
			http.Error(w, "Failed to delete item", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type UpdateItemStatusRequest struct {
	Status string `json:"status"`
}

// HandleItemStatus updates the connection status for
// PATCH /api/items/{id}/status. Used by clients to acknowledge pending
// expiration or mark an item disconnected.
func (h *ItemHandler) HandleItemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	itemID := r.PathValue("id")
	it, err := h.loadOwned(r, userID, itemID)
	if err != nil {
		writeItemError(w, itemID, err)
		return
	}

	var req UpdateItemStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !item.IsValidStatus(req.Status) {
		http.Error(w, "Invalid item status", http.StatusBadRequest)
		return
	}

	if err := h.itemRepo.UpdateStatus(r.Context(), itemID, req.Status); err != nil {
		log.Printf("Error updating status for item %s: %v", itemID, err)
		http.Error(w, "Failed to update item status", http.StatusInternalServerError)
		return
	}
	it.Status = req.Status

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(it)
}

// HandleSyncItem triggers an on-demand sync for /api/items/{id}/sync.
func (h *ItemHandler) HandleSyncItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	itemID := r.PathValue("id")
	if _, err := h.loadOwned(r, userID, itemID); err != nil {
		writeItemError(w, itemID, err)
		return
	}

	stats, err := h.syncer.SyncItem(r.Context(), itemID)
	if err != nil {
		switch {
		case errors.Is(err, syncengine.ErrCredentialInvalid):
			http.Error(w, "Institution credentials expired, reconnection required", http.StatusConflict)
		case errors.Is(err, item.ErrSyncInProgress):
			http.Error(w, "A sync is already running for this item", http.StatusConflict)
		default:
			log.Printf("Error syncing item %s: %v", itemID, err)
			http.Error(w, "Failed to sync item", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (h *ItemHandler) loadOwned(r *http.Request, userID int64, itemID string) (*item.Item, error) {
	it, err := h.itemRepo.GetByID(r.Context(), itemID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, item.ErrItemNotFound
	}
	if it.UserID != userID {
		return nil, item.ErrForbidden
	}
	return it, nil
}

func writeItemError(w http.ResponseWriter, itemID string, err error) {
	switch {
	case errors.Is(err, item.ErrItemNotFound):
		http.Error(w, "Item not found", http.StatusNotFound)
	case errors.Is(err, item.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		log.Printf("Error loading item %s: %v", itemID, err)
		http.Error(w, "Failed to load item", http.StatusInternalServerError)
	}
}
