package gateway

import (
	"context"

	"github.com/Rajchodisetti/account-stream/internal/ledger"
)

// OwnershipChecker answers whether viewer owns accountID
type OwnershipChecker interface {
	Owns(ctx context.Context, viewer, accountID string) (bool, error)
}

// LedgerOwnership resolves ownership from the viewer's recent activities
type LedgerOwnership struct {
	Ledger ledger.Ledger
	Limit  int
}

func (o LedgerOwnership) Owns(ctx context.Context, viewer, accountID string) (bool, error) {
	limit := o.Limit
	if limit <= 0 {
		limit = 50
	}
	acts, err := o.Ledger.ListByOwner(ctx, viewer, limit)
	if err != nil {
		return false, err
	}
	for _, a := range acts {
		if a.Meta.AccountID() == accountID {
			return true, nil
		}
	}
	return false, nil
}
