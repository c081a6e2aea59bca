// Package store persists transactions and vouchers. Both write paths that
// matter for correctness (completing a pending transaction, redeeming a
// voucher) are single conditional updates so that concurrent callers cannot
// both observe the old state.
package store

import (
	"context"
	"errors"

	"github.com/sadenet/hotspot-gobackend/internal/models"
)

var (
	// ErrNotFound means no record exists for the given key.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyFinal means the transaction exists but is no longer Pending.
	ErrAlreadyFinal = errors.New("store: transaction already finalized")
	// ErrVoucherUnavailable means the voucher code does not exist or was
	// already redeemed. Callers cannot distinguish the two, on purpose.
	ErrVoucherUnavailable = errors.New("store: voucher invalid or already used")
)

type TransactionStore interface {
	Insert(ctx context.Context, tx *models.Transaction) error
	Get(ctx context.Context, checkoutRequestID string) (*models.Transaction, error)
	// CompleteIfPending transitions the transaction to the given terminal
	// status if and only if it is still Pending, as one atomic operation.
	// Returns ErrNotFound if no such transaction exists and ErrAlreadyFinal
	// if it exists but was finalized earlier.
	CompleteIfPending(ctx context.Context, checkoutRequestID, status, receipt, payerName string) (*models.Transaction, error)
	// ListByStatus returns transactions with the given status, newest first.
	ListByStatus(ctx context.Context, status string) ([]models.Transaction, error)
}

type VoucherStore interface {
	Insert(ctx context.Context, v *models.Voucher) error
	// RedeemIfUnused marks the voucher used and records the redeemer, if and
	// only if it is still unused, as one atomic operation. Returns
	// ErrVoucherUnavailable for a missing or already-used code.
	RedeemIfUnused(ctx context.Context, code, redeemedBy string) (*models.Voucher, error)
}
