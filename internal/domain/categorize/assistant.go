// Package categorize provides best-effort category suggestion for
// transactions. Every implementation is advisory: callers treat errors and
// low confidence the same way, by leaving the row uncategorized.
package categorize

import (
	"context"
	"strings"

	"finch/internal/domain/category"
)

// Input describes one transaction to classify.
type Input struct {
	Name                string
	MerchantName        string
	ProviderCategory    string
	ProviderSubcategory string
	Amount              float64 // signed; negative = outflow
}

// Suggestion is a proposed assignment. Empty CategoryID means no suggestion.
type Suggestion struct {
	CategoryID    string
	SubcategoryID *string
	Confidence    float64
}

// None reports whether the suggestion is empty.
func (s Suggestion) None() bool {
	return s.CategoryID == ""
}

// Assistant suggests a category from the user's existing set.
type Assistant interface {
	Classify(ctx context.Context, in Input, categories []*category.Category) (Suggestion, error)
}

// Nop is an Assistant that never suggests anything. Used in tests and when
// categorization is disabled.
type Nop struct{}

func (Nop) Classify(context.Context, Input, []*category.Category) (Suggestion, error) {
	return Suggestion{}, nil
}

// Keyword classifies by matching the transaction's text against category
// and subcategory names plus the provider's own category strings.
type Keyword struct{}

// keywordConfidence values: provider-string matches are stronger than raw
// substring hits on the display name.
const (
	providerMatchConfidence = 0.9
	nameMatchConfidence     = 0.65
)

func (Keyword) Classify(_ context.Context, in Input, categories []*category.Category) (Suggestion, error) {
	// The provider's own strings are the most reliable signal.
	if ref := category.MapProviderCategory(in.ProviderCategory, in.ProviderSubcategory, categories); ref != nil {
		return Suggestion{
			CategoryID:    ref.CategoryID,
			SubcategoryID: ref.SubcategoryID,
			Confidence:    providerMatchConfidence,
		}, nil
	}

	haystack := strings.ToLower(in.Name + " " + in.MerchantName)
	for _, c := range categories {
		for i := range c.Subcategories {
			if containsWord(haystack, c.Subcategories[i].Name) {
				id := c.Subcategories[i].ID
				return Suggestion{CategoryID: c.ID, SubcategoryID: &id, Confidence: nameMatchConfidence}, nil
			}
		}
		if containsWord(haystack, c.Name) {
			return Suggestion{CategoryID: c.ID, Confidence: nameMatchConfidence}, nil
		}
	}

	return Suggestion{}, nil
}

func containsWord(haystack, needle string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if len(needle) < 3 {
		return false
	}
	return strings.Contains(haystack, needle)
}

// Fallback tries each assistant in order and returns the first suggestion.
// Errors from one assistant never mask a later one.
type Fallback []Assistant

func (f Fallback) Classify(ctx context.Context, in Input, categories []*category.Category) (Suggestion, error) {
	var lastErr error
	for _, a := range f {
		s, err := a.Classify(ctx, in, categories)
		if err != nil {
			lastErr = err
			continue
		}
		if !s.None() {
			return s, nil
		}
	}
	return Suggestion{}, lastErr
}
