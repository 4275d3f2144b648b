package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"finch/internal/domain/tag"
)

func TestHandleTags_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"name":"Vacation","color":"#ff8800"}`, http.StatusCreated},
		{"missing name", `{"color":"#ff8800"}`, http.StatusBadRequest},
		{"missing color", `{"name":"Vacation"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewTagHandler(&MockTagRepo{
				CreateFunc: func(ctx context.Context, userID int64, params tag.CreateTagParams) (*tag.Tag, error) {
					return &tag.Tag{ID: "tag-1", UserID: userID, Name: params.Name, Color: params.Color}, nil
				},
			})

			req := authedRequest(http.MethodPost, "/api/tags", tt.body)
			rr := httptest.NewRecorder()
			handler.HandleTags(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleTags_List(t *testing.T) {
	handler := NewTagHandler(&MockTagRepo{
		ListByUserIDFunc: func(ctx context.Context, userID int64) ([]*tag.Tag, error) {
			return []*tag.Tag{{ID: "tag-1", Name: "Work"}, {ID: "tag-2", Name: "Travel"}}, nil
		},
	})

	req := authedRequest(http.MethodGet, "/api/tags", "")
	rr := httptest.NewRecorder()
	handler.HandleTags(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var tags []*tag.Tag
	if err := json.NewDecoder(rr.Body).Decode(&tags); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(tags) != 2 {
		t.Errorf("tags = %d, want 2", len(tags))
	}
}

func TestHandleTagByID_OwnershipChecks(t *testing.T) {
	tests := []struct {
		name       string
		existing   *tag.Tag
		wantStatus int
	}{
		{"not found", nil, http.StatusNotFound},
		{"other user", &tag.Tag{ID: "tag-1", UserID: 9}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewTagHandler(&MockTagRepo{
				GetByIDFunc: func(ctx context.Context, id string) (*tag.Tag, error) {
					return tt.existing, nil
				},
			})

			req := authedRequest(http.MethodDelete, "/api/tags/tag-1", "")
			req.SetPathValue("id", "tag-1")
			rr := httptest.NewRecorder()
			handler.HandleTagByID(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleTagByID_Update(t *testing.T) {
	handler := NewTagHandler(&MockTagRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*tag.Tag, error) {
			return &tag.Tag{ID: id, UserID: 1, Name: "Old", Color: "#000000"}, nil
		},
		UpdateFunc: func(ctx context.Context, id string, params tag.UpdateTagParams) (*tag.Tag, error) {
			return &tag.Tag{ID: id, UserID: 1, Name: *params.Name, Color: "#000000"}, nil
		},
	})

	req := authedRequest(http.MethodPatch, "/api/tags/tag-1", `{"name":"New"}`)
	req.SetPathValue("id", "tag-1")
	rr := httptest.NewRecorder()
	handler.HandleTagByID(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var updated tag.Tag
	if err := json.NewDecoder(rr.Body).Decode(&updated); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if updated.Name != "New" {
		t.Errorf("name = %q, want %q", updated.Name, "New")
	}
}

func TestHandleTagByID_Delete(t *testing.T) {
	deleted := false
	handler := NewTagHandler(&MockTagRepo{
		GetByIDFunc: func(ctx context.Context, id string) (*tag.Tag, error) {
			return &tag.Tag{ID: id, UserID: 1}, nil
		},
		DeleteFunc: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	})

	req := authedRequest(http.MethodDelete, "/api/tags/tag-1", "")
	req.SetPathValue("id", "tag-1")
	rr := httptest.NewRecorder()
	handler.HandleTagByID(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if !deleted {
		t.Error("expected tag to be deleted")
	}
}
