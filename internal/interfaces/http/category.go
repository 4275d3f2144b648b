package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"finch/internal/domain/category"
	"finch/internal/shared/middleware"
)

type CategoryHandler struct {
	categoryRepo category.Repository
}

func NewCategoryHandler(categoryRepo category.Repository) *CategoryHandler {
	return &CategoryHandler{categoryRepo: categoryRepo}
}

type CreateCategoryRequest struct {
	Name         string `json:"name"`
	Group        string `json:"group"`
	DisplayOrder *int   `json:"displayOrder,omitempty"`
}

type UpdateCategoryRequest struct {
	Name         *string `json:"name,omitempty"`
	Group        *string `json:"group,omitempty"`
	DisplayOrder *int    `json:"displayOrder,omitempty"`
}

type CreateSubcategoryRequest struct {
	Name         string `json:"name"`
	DisplayOrder *int   `json:"displayOrder,omitempty"`
}

// HandleCategories routes GET (list) and POST (create) for /api/categories.
func (h *CategoryHandler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		categories, err := h.categoryRepo.ListByUserID(r.Context(), userID)
		if err != nil {
			log.Printf("Error listing categories for user %d: %v", userID, err)
			http.Error(w, "Failed to list categories", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(categories)

	case http.MethodPost:
		var req CreateCategoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		params := category.CreateParams{
			Name:         req.Name,
			Group:        req.Group,
			DisplayOrder: req.DisplayOrder,
		}
		if err := params.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		created, err := h.categoryRepo.Create(r.Context(), userID, params)
		if err != nil {
			log.Printf("Error creating category for user %d: %v", userID, err)
			http.Error(w, "Failed to create category", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(created)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleCategoryByID routes GET, PATCH and DELETE for /api/categories/{id}.
func (h *CategoryHandler) HandleCategoryByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	categoryID := r.PathValue("id")
	cat, err := h.loadOwned(r, userID, categoryID)
	if err != nil {
		writeCategoryError(w, categoryID, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cat)

	case http.MethodPatch:
		var req UpdateCategoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		params := category.UpdateParams{
			Name:         req.Name,
			Group:        req.Group,
			DisplayOrder: req.DisplayOrder,
		}
		if err := params.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		updated, err := h.categoryRepo.Update(r.Context(), categoryID, params)
		if err != nil {
			writeCategoryError(w, categoryID, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(updated)

	case http.MethodDelete:
		if err := h.categoryRepo.Delete(r.Context(), categoryID); err != nil {
			writeCategoryError(w, categoryID, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSubcategories creates a subcategory for /api/categories/{id}/subcategories.
func (h *CategoryHandler) HandleSubcategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	categoryID := r.PathValue("id")
	if _, err := h.loadOwned(r, userID, categoryID); err != nil {
		writeCategoryError(w, categoryID, err)
		return
	}

	var req CreateSubcategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	sub, err := h.categoryRepo.CreateSubcategory(r.Context(), categoryID, req.Name, req.DisplayOrder)
	if err != nil {
		log.Printf("Error creating subcategory under %s: %v", categoryID, err)
		http.Error(w, "Failed to create subcategory", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sub)
}

// HandleSubcategoryByID deletes a subcategory for
// /api/categories/{id}/subcategories/{subId}.
func (h *CategoryHandler) HandleSubcategoryByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	categoryID := r.PathValue("id")
	if _, err := h.loadOwned(r, userID, categoryID); err != nil {
		writeCategoryError(w, categoryID, err)
		return
	}

	subID := r.PathValue("subId")
	if err := h.categoryRepo.DeleteSubcategory(r.Context(), subID); err != nil {
		writeCategoryError(w, subID, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CategoryHandler) loadOwned(r *http.Request, userID int64, categoryID string) (*category.Category, error) {
	if categoryID == "" {
		return nil, category.ErrCategoryNotFound
	}
	cat, err := h.categoryRepo.GetByID(r.Context(), categoryID)
	if err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, category.ErrCategoryNotFound
	}
	if cat.UserID != userID {
		return nil, category.ErrForbidden
	}
	return cat, nil
}

func writeCategoryError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, category.ErrCategoryNotFound):
		http.Error(w, "Category not found", http.StatusNotFound)
	case errors.Is(err, category.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, category.ErrInvalidGroup):
		http.Error(w, "Invalid category group", http.StatusBadRequest)
	default:
		log.Printf("Category error for %s: %v", id, err)
		http.Error(w, "Category operation failed", http.StatusInternalServerError)
	}
}
