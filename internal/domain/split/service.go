// Package split manages one-level split transaction trees: a provider row
// becomes a parent whose children carry the user's breakdown of the amount.
package split

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finch/internal/domain/transaction"
)

// ChildInput is one requested split line. Amount is signed and conventionally
// carries the parent's sign; Name defaults to the parent's name when empty.
type ChildInput struct {
	Amount        float64 `json:"amount"`
	Name          string  `json:"name"`
	CategoryID    *string `json:"categoryId,omitempty"`
	SubcategoryID *string `json:"subcategoryId,omitempty"`
}

// Result is the outcome of a split. Warning is advisory: the split is
// applied even when the child amounts do not add up to the parent.
type Result struct {
	Parent   *transaction.Transaction   `json:"parent"`
	Children []*transaction.Transaction `json:"children"`
	Warning  string                     `json:"warning,omitempty"`
}

// Amounts within this absolute tolerance of the parent never warn, so
// penny-rounding across child lines stays quiet.
var minTolerance = decimal.NewFromFloat(0.02)

// tolerancePct is the relative slack for larger parents.
var tolerancePct = decimal.NewFromFloat(0.02)

// Service implements split, undo and the reconnection detach of children.
type Service struct {
	transactions transaction.Repository
}

// NewService creates a new split service.
func NewService(transactions transaction.Repository) *Service {
	return &Service{transactions: transactions}
}

// Split turns the transaction into a split parent with the given children.
// The parent row is kept (flagged is_split) so undo can restore it; children
// are regular ledger rows with synthetic external ids derived from the
// parent's. Trees are strictly one level: split children cannot be split.
func (s *Service) Split(ctx context.Context, userID int64, parentID string, children []ChildInput) (*Result, error) {
	if len(children) == 0 {
		return nil, transaction.ErrEmptySplits
	}

	parent, err := s.loadOwned(ctx, userID, parentID)
	if err != nil {
		return nil, err
	}
	if parent.IsSplit {
		return nil, transaction.ErrAlreadySplit
	}
	if parent.IsSplitChild() {
		return nil, transaction.ErrIsSplitChild
	}
	for i, c := range children {
		if c.Amount == 0 {
			return nil, fmt.Errorf("split %d: amount must be non-zero", i+1)
		}
	}

	warning := checkAmounts(parent.Amount, children)

	created := make([]*transaction.Transaction, 0, len(children))
	for _, c := range children {
		name := c.Name
		if name == "" {
			name = parent.Name
		}
		child, err := s.transactions.CreateChild(ctx, transaction.CreateChildParams{
			AccountID:             parent.AccountID,
			UserID:                parent.UserID,
			ExternalTransactionID: childExternalID(parent.ExternalTransactionID),
			ParentTransactionID:   parent.ID,
			OriginalTransactionID: parent.ExternalTransactionID,
			Amount:                c.Amount,
			Currency:              parent.Currency,
			Date:                  parent.Date,
			Name:                  name,
			MerchantName:          parent.MerchantName,
			CategoryID:            c.CategoryID,
			SubcategoryID:         c.SubcategoryID,
		})
		if err != nil {
			s.rollbackChildren(ctx, parent.ID)
			return nil, fmt.Errorf("failed to create split child: %w", err)
		}
		created = append(created, child)
	}

	isSplit := true
	if err := s.transactions.UpdateFlags(ctx, parent.ID, transaction.UpdateFlagsParams{IsSplit: &isSplit}); err != nil {
		s.rollbackChildren(ctx, parent.ID)
		return nil, fmt.Errorf("failed to mark parent as split: %w", err)
	}
	parent.IsSplit = true

	return &Result{Parent: parent, Children: created, Warning: warning}, nil
}

// Undo removes all children and restores the parent to a plain row.
func (s *Service) Undo(ctx context.Context, userID int64, parentID string) (*transaction.Transaction, error) {
	parent, err := s.loadOwned(ctx, userID, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsSplit {
		return nil, transaction.ErrNotSplit
	}

	if _, err := s.transactions.DeleteChildren(ctx, parent.ID); err != nil {
		return nil, fmt.Errorf("failed to delete split children: %w", err)
	}

	isSplit := false
	if err := s.transactions.UpdateFlags(ctx, parent.ID, transaction.UpdateFlagsParams{IsSplit: &isSplit}); err != nil {
		return nil, fmt.Errorf("failed to unmark split parent: %w", err)
	}
	parent.IsSplit = false
	return parent, nil
}

// ListChildren returns the children of a split parent owned by the user.
func (s *Service) ListChildren(ctx context.Context, userID int64, parentID string) ([]*transaction.Transaction, error) {
	parent, err := s.loadOwned(ctx, userID, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsSplit {
		return nil, transaction.ErrNotSplit
	}
	return s.transactions.ListChildren(ctx, parent.ID)
}

// ConvertChildrenToManual detaches every split child under the item into a
// standalone manual row. Run before a reconnection mass-delete so the
// user's breakdown survives the parent rows being wiped.
func (s *Service) ConvertChildrenToManual(ctx context.Context, itemID string) (int, error) {
	children, err := s.transactions.ListSplitChildrenByItem(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to list split children: %w", err)
	}

	converted := 0
	isManual := true
	for _, child := range children {
		err := s.transactions.UpdateFlags(ctx, child.ID, transaction.UpdateFlagsParams{
			IsManual:    &isManual,
			ClearParent: true,
		})
		if err != nil {
			return converted, fmt.Errorf("failed to detach split child %s: %w", child.ID, err)
		}
		converted++
	}
	return converted, nil
}

func (s *Service) loadOwned(ctx context.Context, userID int64, id string) (*transaction.Transaction, error) {
	tx, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx == nil {
		return nil, transaction.ErrTransactionNotFound
	}
	if tx.UserID != userID {
		return nil, transaction.ErrForbidden
	}
	return tx, nil
}

// rollbackChildren best-effort removes partially created children after a
// failure, leaving the parent untouched.
func (s *Service) rollbackChildren(ctx context.Context, parentID string) {
	if _, err := s.transactions.DeleteChildren(ctx, parentID); err != nil {
		log.Printf("Split: rollback failed for parent %s: %v", parentID, err)
	}
}

// childExternalID builds the synthetic external id for a split child so it
// can never collide with a provider id.
func childExternalID(parentExternalID string) string {
	return fmt.Sprintf("%s:split:%s", parentExternalID, uuid.NewString())
}

// checkAmounts compares the children's combined magnitude against the
// parent's. Returns an advisory warning when they differ by more than
// 2 percent of the parent or two cents, whichever is larger.
func checkAmounts(parentAmount float64, children []ChildInput) string {
	parentAbs := decimal.NewFromFloat(parentAmount).Abs()
	sum := decimal.Zero
	for _, c := range children {
		sum = sum.Add(decimal.NewFromFloat(c.Amount).Abs())
	}

	tolerance := parentAbs.Mul(tolerancePct)
	if tolerance.LessThan(minTolerance) {
		tolerance = minTolerance
	}

	diff := sum.Sub(parentAbs).Abs()
	if diff.LessThanOrEqual(tolerance) {
		return ""
	}
	return fmt.Sprintf("split amounts total %s but the parent is %s", sum.StringFixed(2), parentAbs.StringFixed(2))
}
