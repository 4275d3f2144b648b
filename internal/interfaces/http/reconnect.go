package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"finch/internal/domain/item"
	"finch/internal/domain/reconnect"
	"finch/internal/shared/middleware"
)

type ReconnectHandler struct {
	coordinator *reconnect.Coordinator
}

func NewReconnectHandler(coordinator *reconnect.Coordinator) *ReconnectHandler {
	return &ReconnectHandler{coordinator: coordinator}
}

type PrepareReconnectRequest struct {
	PublicToken string `json:"publicToken"`
}

// HandlePrepare starts a reauth or reconnection for /api/items/{id}/reconnect.
// Same institution login resolves immediately; a changed login returns a
// pending reconnection the client must confirm or cancel.
func (h *ReconnectHandler) HandlePrepare(w http.ResponseWriter, r *http.Request) {
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
	if itemID == "" {
		http.Error(w, "Item ID is required", http.StatusBadRequest)
		return
	}

	var req PrepareReconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PublicToken == "" {
		http.Error(w, "publicToken is required", http.StatusBadRequest)
		return
	}

	result, err := h.coordinator.Prepare(r.Context(), userID, itemID, req.PublicToken)
	if err != nil {
		writeReconnectError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// HandleConfirm executes a pending reconnection for
// /api/reconnections/{id}/confirm.
func (h *ReconnectHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	reconnectionID := r.PathValue("id")
	if reconnectionID == "" {
		http.Error(w, "Reconnection ID is required", http.StatusBadRequest)
		return
	}

	result, err := h.coordinator.Confirm(r.Context(), userID, reconnectionID)
	if err != nil {
		writeReconnectError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// HandleCancel discards a pending reconnection for /api/reconnections/{id}.
func (h *ReconnectHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	reconnectionID := r.PathValue("id")
	if err := h.coordinator.Cancel(r.Context(), userID, reconnectionID); err != nil {
		writeReconnectError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeReconnectError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reconnect.ErrReconnectionNotFound):
		http.Error(w, "Reconnection not found or expired", http.StatusNotFound)
	case errors.Is(err, item.ErrItemNotFound):
		http.Error(w, "Item not found", http.StatusNotFound)
	case errors.Is(err, item.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, item.ErrSyncInProgress):
		http.Error(w, "A sync is already running for this item", http.StatusConflict)
	default:
		log.Printf("Reconnection error: %v", err)
		http.Error(w, "Reconnection failed", http.StatusInternalServerError)
	}
}
