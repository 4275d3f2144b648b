package category

import "strings"

// Ref points at a mapped category/subcategory pair. SubcategoryID is nil
// when only the category level matched.
type Ref struct {
	CategoryID    string
	SubcategoryID *string
}

// MapProviderCategory maps the provider's category strings onto the user's
// own category set. The match is deterministic: case-insensitive exact name
// comparison, category level first, then subcategory within the matched
// category. Anything else returns nil and the row stays uncategorized;
// fuzzy matching here would silently miscategorize money.
func MapProviderCategory(providerCategory, providerSubcategory string, userCategories []*Category) *Ref {
	name := normalize(providerCategory)
	if name == "" {
		return nil
	}

	for _, c := range userCategories {
		if normalize(c.Name) != name {
			continue
		}
		ref := &Ref{CategoryID: c.ID}
		if sub := normalize(providerSubcategory); sub != "" {
			for i := range c.Subcategories {
				if normalize(c.Subcategories[i].Name) == sub {
					id := c.Subcategories[i].ID
					ref.SubcategoryID = &id
					break
				}
			}
		}
		return ref
	}
	return nil
}

// normalize lowercases and collapses the snake_case the provider uses
// ("FOOD_AND_DRINK") into spaces so it can match a user's "Food and Drink".
func normalize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}
