package category

import (
	"errors"
	"time"
)

// Category groups.
const (
	GroupExpenses   = "EXPENSES"
	GroupIncome     = "INCOME"
	GroupInvestment = "INVESTMENT"
	GroupTransfer   = "TRANSFER"
)

var validGroups = map[string]struct{}{
	GroupExpenses:   {},
	GroupIncome:     {},
	GroupInvestment: {},
	GroupTransfer:   {},
}

// Domain errors
var (
	ErrCategoryNotFound = errors.New("category not found")
	ErrInvalidGroup     = errors.New("invalid category group")
	ErrForbidden        = errors.New("category does not belong to user")
)

// Category is a user-defined spending/income bucket.
type Category struct {
	ID            string        `json:"id"`
	UserID        int64         `json:"userId"`
	Name          string        `json:"name"`
	Group         string        `json:"group"`
	DisplayOrder  int           `json:"displayOrder"`
	Subcategories []Subcategory `json:"subcategories,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Subcategory belongs to exactly one category.
type Subcategory struct {
	ID           string    `json:"id"`
	CategoryID   string    `json:"categoryId"`
	Name         string    `json:"name"`
	DisplayOrder int       `json:"displayOrder"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CreateParams contains parameters for creating a category.
type CreateParams struct {
	Name         string
	Group        string
	DisplayOrder *int
}

// Validate validates the create parameters.
func (p CreateParams) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if len(p.Name) > 128 {
		return errors.New("name must be 128 characters or less")
	}
	if !IsValidGroup(p.Group) {
		return ErrInvalidGroup
	}
	return nil
}

// UpdateParams contains parameters for updating a category.
type UpdateParams struct {
	Name         *string
	Group        *string
	DisplayOrder *int
}

// Validate validates the update parameters.
func (p UpdateParams) Validate() error {
	if p.Name != nil && (*p.Name == "" || len(*p.Name) > 128) {
		return errors.New("name must be 1-128 characters")
	}
	if p.Group != nil && !IsValidGroup(*p.Group) {
		return ErrInvalidGroup
	}
	return nil
}

// IsValidGroup reports whether g is an allowed category group.
func IsValidGroup(g string) bool {
	_, ok := validGroups[g]
	return ok
}
