package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"finch/internal/domain/account"
	"finch/internal/domain/split"
	"finch/internal/domain/tag"
	"finch/internal/domain/transaction"
	"finch/internal/shared/middleware"
)

type TransactionHandler struct {
	transactionRepo transaction.Repository
	accountRepo     account.Repository
	tagRepo         tag.Repository
	splitService    *split.Service
}

func NewTransactionHandler(transactionRepo transaction.Repository, accountRepo account.Repository, tagRepo tag.Repository, splitService *split.Service) *TransactionHandler {
	return &TransactionHandler{
		transactionRepo: transactionRepo,
		accountRepo:     accountRepo,
		tagRepo:         tagRepo,
		splitService:    splitService,
	}
}

type CreateTransactionRequest struct {
	AccountID     string  `json:"accountId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	Date          string  `json:"date"`
	Name          string  `json:"name"`
	MerchantName  *string `json:"merchantName,omitempty"`
	CategoryID    *string `json:"categoryId,omitempty"`
	SubcategoryID *string `json:"subcategoryId,omitempty"`
}

type PatchTransactionRequest struct {
	Name          *string  `json:"name,omitempty"`
	MerchantName  *string  `json:"merchantName,omitempty"`
	CategoryID    *string  `json:"categoryId,omitempty"`
	SubcategoryID *string  `json:"subcategoryId,omitempty"`
	ClearCategory bool     `json:"clearCategory,omitempty"`
	Date          *string  `json:"date,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
}

type SplitTransactionRequest struct {
	Children []SplitChildRequest `json:"children"`
}

type SplitChildRequest struct {
	Amount        float64 `json:"amount"`
	Name          string  `json:"name,omitempty"`
	CategoryID    *string `json:"categoryId,omitempty"`
	SubcategoryID *string `json:"subcategoryId,omitempty"`
}

type SetTagsRequest struct {
	TagIDs []string `json:"tagIds"`
}

// HandleTransactions routes GET (list) and POST (create manual) for
// /api/transactions.
func (h *TransactionHandler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleCreateManual(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *TransactionHandler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 50
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	accountID := r.URL.Query().Get("accountId")
	if accountID != "" {
		acc, err := h.accountRepo.GetByID(r.Context(), accountID)
		if err != nil {
			log.Printf("Error getting account %s: %v", accountID, err)
			http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
			return
		}
		if acc == nil {
			http.Error(w, "Account not found", http.StatusNotFound)
			return
		}
		if acc.UserID != userID {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		transactions, err := h.transactionRepo.ListByAccountID(r.Context(), accountID, limit, offset)
		if err != nil {
			log.Printf("Error listing transactions for account %s: %v", accountID, err)
			http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(transactions)
		return
	}

	transactions, err := h.transactionRepo.ListByUserID(r.Context(), userID, limit, offset)
	if err != nil {
		log.Printf("Error listing transactions for user %d: %v", userID, err)
		http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

func (h *TransactionHandler) handleCreateManual(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.AccountID == "" || req.Name == "" || req.Date == "" {
		http.Error(w, "accountId, name, and date are required", http.StatusBadRequest)
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		http.Error(w, "Invalid date format (use YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	acc, err := h.accountRepo.GetByID(r.Context(), req.AccountID)
	if err != nil {
		log.Printf("Error getting account %s: %v", req.AccountID, err)
		http.Error(w, "Failed to create transaction", http.StatusInternalServerError)
		return
	}
	if acc == nil {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}
	if acc.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = acc.Currency
	}

	created, err := h.transactionRepo.CreateManual(r.Context(), transaction.CreateManualParams{
		AccountID:     req.AccountID,
		UserID:        userID,
		Amount:        req.Amount,
		Currency:      currency,
		Date:          date,
		Name:          req.Name,
		MerchantName:  req.MerchantName,
		CategoryID:    req.CategoryID,
		SubcategoryID: req.SubcategoryID,
	})
	if err != nil {
		log.Printf("Error creating manual transaction for account %s: %v", req.AccountID, err)
		http.Error(w, "Failed to create transaction", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

// HandleTransactionByID routes GET and PATCH for /api/transactions/{id}.
func (h *TransactionHandler) HandleTransactionByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	txID := r.PathValue("id")
	tx, err := h.loadOwned(r, userID, txID)
	if err != nil {
		writeTransactionError(w, txID, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tx)

	case http.MethodPatch:
		h.handlePatch(w, r, tx)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *TransactionHandler) handlePatch(w http.ResponseWriter, r *http.Request, tx *transaction.Transaction) {
	var req PatchTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ClearCategory && req.CategoryID != nil {
		http.Error(w, "clearCategory and categoryId are mutually exclusive", http.StatusBadRequest)
		return
	}

	params := transaction.PatchParams{
		Name:          req.Name,
		MerchantName:  req.MerchantName,
		CategoryID:    req.CategoryID,
		SubcategoryID: req.SubcategoryID,
		ClearCategory: req.ClearCategory,
		Amount:        req.Amount,
	}

	if req.Date != nil {
		date, err := time.Parse("2006-01-02", *req.Date)
		if err != nil {
			http.Error(w, "Invalid date format (use YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
		params.Date = &date
	}

	updated, err := h.transactionRepo.Patch(r.Context(), tx.ID, params)
	if err != nil {
		log.Printf("Error patching transaction %s: %v", tx.ID, err)
		http.Error(w, "Failed to update transaction", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(updated)
}

// HandleSplit routes POST (split), GET (children) and DELETE (undo) for
// /api/transactions/{id}/split.
func (h *TransactionHandler) HandleSplit(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	txID := r.PathValue("id")
	if txID == "" {
		http.Error(w, "Transaction ID is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req SplitTransactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		children := make([]split.ChildInput, 0, len(req.Children))
		for _, c := range req.Children {
			if c.Amount == 0 {
				http.Error(w, "Split amounts must be non-zero", http.StatusBadRequest)
				return
			}
			children = append(children, split.ChildInput{
				Amount:        c.Amount,
				Name:          c.Name,
				CategoryID:    c.CategoryID,
				SubcategoryID: c.SubcategoryID,
			})
		}

		result, err := h.splitService.Split(r.Context(), userID, txID, children)
		if err != nil {
			writeSplitError(w, txID, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(result)

	case http.MethodGet:
		children, err := h.splitService.ListChildren(r.Context(), userID, txID)
		if err != nil {
			writeSplitError(w, txID, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(children)

	case http.MethodDelete:
		parent, err := h.splitService.Undo(r.Context(), userID, txID)
		if err != nil {
			writeSplitError(w, txID, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(parent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleTags routes PUT (replace tag set) and GET for
// /api/transactions/{id}/tags.
func (h *TransactionHandler) HandleTags(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	txID := r.PathValue("id")
	if _, err := h.loadOwned(r, userID, txID); err != nil {
		writeTransactionError(w, txID, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		tags, err := h.tagRepo.ListByTransactionID(r.Context(), txID)
		if err != nil {
			log.Printf("Error listing tags for transaction %s: %v", txID, err)
			http.Error(w, "Failed to list tags", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tags)

	case http.MethodPut:
		var req SetTagsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := h.tagRepo.SetTransactionTags(r.Context(), txID, req.TagIDs); err != nil {
			log.Printf("Error setting tags for transaction %s: %v", txID, err)
			http.Error(w, "Failed to set tags", http.StatusInternalServerError)
			return
		}

		tags, err := h.tagRepo.ListByTransactionID(r.Context(), txID)
		if err != nil {
			log.Printf("Error listing tags for transaction %s: %v", txID, err)
			http.Error(w, "Failed to list tags", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tags)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *TransactionHandler) loadOwned(r *http.Request, userID int64, txID string) (*transaction.Transaction, error) {
	if txID == "" {
		return nil, transaction.ErrTransactionNotFound
	}
	tx, err := h.transactionRepo.GetByID(r.Context(), txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, transaction.ErrTransactionNotFound
	}
	if tx.UserID != userID {
		return nil, transaction.ErrForbidden
	}
	return tx, nil
}

func writeTransactionError(w http.ResponseWriter, txID string, err error) {
	switch {
	case errors.Is(err, transaction.ErrTransactionNotFound):
		http.Error(w, "Transaction not found", http.StatusNotFound)
	case errors.Is(err, transaction.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		log.Printf("Error loading transaction %s: %v", txID, err)
		http.Error(w, "Failed to load transaction", http.StatusInternalServerError)
	}
}

func writeSplitError(w http.ResponseWriter, txID string, err error) {
	switch {
	case errors.Is(err, transaction.ErrTransactionNotFound):
		http.Error(w, "Transaction not found", http.StatusNotFound)
	case errors.Is(err, transaction.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, transaction.ErrAlreadySplit):
		http.Error(w, "Transaction is already split", http.StatusConflict)
	case errors.Is(err, transaction.ErrIsSplitChild):
		http.Error(w, "Split children cannot be split again", http.StatusConflict)
	case errors.Is(err, transaction.ErrNotSplit):
		http.Error(w, "Transaction is not split", http.StatusConflict)
	case errors.Is(err, transaction.ErrEmptySplits):
		http.Error(w, "At least one split is required", http.StatusBadRequest)
	default:
		log.Printf("Split error for transaction %s: %v", txID, err)
		http.Error(w, "Split operation failed", http.StatusInternalServerError)
	}
}
