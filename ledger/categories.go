package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

// CategoryDigest is keccak256 of the label bytes.
func CategoryDigest(label string) interfaces.CategoryDigest {
	return interfaces.CategoryDigest(crypto.Keccak256Hash([]byte(label)))
}

// CategoryFromDigest returns the known label whose digest is d.
func (l *Ledger) CategoryFromDigest(ctx context.Context, d interfaces.CategoryDigest) (string, error) {
	var label string
	err := l.store.View(ctx, func(tx interfaces.LedgerTx) (err error) {
		label, err = categoryFromDigest(ctx, tx, d)
		return err
	})
	return label, err
}

// Linear in the number of known categories.
func categoryFromDigest(ctx context.Context, tx interfaces.LedgerTx, d interfaces.CategoryDigest) (string, error) {
	labels, err := tx.Categories(ctx)
	if err != nil {
		return "", err
	}
	for _, label := range labels {
		if CategoryDigest(label) == d {
			return label, nil
		}
	}
	return "", fmt.Errorf("%w: no category with digest %s", interfaces.ErrCategoryNotFound, d)
}
