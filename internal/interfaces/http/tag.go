package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"finch/internal/domain/tag"
	"finch/internal/shared/middleware"
)

type TagHandler struct {
	tagRepo tag.Repository
}

func NewTagHandler(tagRepo tag.Repository) *TagHandler {
	return &TagHandler{tagRepo: tagRepo}
}

type CreateTagRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type UpdateTagRequest struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
}

// HandleTags routes GET (list) and POST (create) for /api/tags.
func (h *TagHandler) HandleTags(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		tags, err := h.tagRepo.ListByUserID(r.Context(), userID)
		if err != nil {
			log.Printf("Error listing tags for user %d: %v", userID, err)
			http.Error(w, "Failed to list tags", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tags)

	case http.MethodPost:
		var req CreateTagRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		params := tag.CreateTagParams{Name: req.Name, Color: req.Color}
		if err := params.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		created, err := h.tagRepo.Create(r.Context(), userID, params)
		if err != nil {
			log.Printf("Error creating tag for user %d: %v", userID, err)
			http.Error(w, "Failed to create tag", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(created)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleTagByID routes PATCH and DELETE for /api/tags/{id}.
func (h *TagHandler) HandleTagByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	tagID := r.PathValue("id")
	if tagID == "" {
		http.Error(w, "Tag ID is required", http.StatusBadRequest)
		return
	}

	existing, err := h.tagRepo.GetByID(r.Context(), tagID)
	if err != nil {
		log.Printf("Error getting tag %s: %v", tagID, err)
		http.Error(w, "Failed to load tag", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "Tag not found", http.StatusNotFound)
		return
	}
	if existing.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req UpdateTagRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		params := tag.UpdateTagParams{Name: req.Name, Color: req.Color}
		if err := params.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		updated, err := h.tagRepo.Update(r.Context(), tagID, params)
		if err != nil {
			if errors.Is(err, tag.ErrTagNotFound) {
				http.Error(w, "Tag not found", http.StatusNotFound)
				return
			}
			log.Printf("Error updating tag %s: %v", tagID, err)
			http.Error(w, "Failed to update tag", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(updated)

	case http.MethodDelete:
		if err := h.tagRepo.Delete(r.Context(), tagID); err != nil {
			if errors.Is(err, tag.ErrTagNotFound) {
				http.Error(w, "Tag not found", http.StatusNotFound)
				return
			}
			log.Printf("Error deleting tag %s: %v", tagID, err)
			http.Error(w, "Failed to delete tag", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
