package category

import "testing"

func testCategories() []*Category {
	return []*Category{
		{
			ID:    "cat-food",
			Name:  "Food and Drink",
			Group: GroupExpenses,
			Subcategories: []Subcategory{
				{ID: "sub-rest", CategoryID: "cat-food", Name: "Restaurants"},
				{ID: "sub-groc", CategoryID: "cat-food", Name: "Groceries"},
			},
		},
		{ID: "cat-income", Name: "Income", Group: GroupIncome},
	}
}

func TestMapProviderCategory(t *testing.T) {
	cats := testCategories()

	tests := []struct {
		name      string
		provider  string
		sub       string
		wantCat   string
		wantSub   string
		wantNil   bool
	}{
		{name: "exact", provider: "Food and Drink", sub: "Restaurants", wantCat: "cat-food", wantSub: "sub-rest"},
		{name: "case insensitive", provider: "FOOD AND DRINK", sub: "groceries", wantCat: "cat-food", wantSub: "sub-groc"},
		{name: "provider snake case", provider: "FOOD_AND_DRINK", sub: "RESTAURANTS", wantCat: "cat-food", wantSub: "sub-rest"},
		{name: "category only", provider: "Income", sub: "", wantCat: "cat-income"},
		{name: "unknown subcategory keeps category", provider: "Food and Drink", sub: "Fast Food", wantCat: "cat-food"},
		{name: "no match", provider: "Travel", sub: "", wantNil: true},
		{name: "empty", provider: "", sub: "", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapProviderCategory(tt.provider, tt.sub, cats)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("MapProviderCategory() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("MapProviderCategory() = nil, want match")
			}
			if got.CategoryID != tt.wantCat {
				t.Errorf("CategoryID = %s, want %s", got.CategoryID, tt.wantCat)
			}
			if tt.wantSub == "" {
				if got.SubcategoryID != nil {
					t.Errorf("SubcategoryID = %v, want nil", *got.SubcategoryID)
				}
			} else if got.SubcategoryID == nil || *got.SubcategoryID != tt.wantSub {
				t.Errorf("SubcategoryID = %v, want %s", got.SubcategoryID, tt.wantSub)
			}
		})
	}
}

func TestMapProviderCategory_Deterministic(t *testing.T) {
	cats := testCategories()
	first := MapProviderCategory("food and drink", "restaurants", cats)
	second := MapProviderCategory("food and drink", "restaurants", cats)
	if first == nil || second == nil {
		t.Fatal("expected matches")
	}
	if first.CategoryID != second.CategoryID {
		t.Error("mapping is not deterministic")
	}
}
