package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sadenet/hotspot-gobackend/internal/models"
)

// MemoryTransactionStore keeps transactions in a mutex-guarded map. It backs
// tests and gives the same atomicity the Mongo adapter gets from conditional
// updates.
type MemoryTransactionStore struct {
	mu  sync.Mutex
	txs map[string]models.Transaction
}

func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{txs: make(map[string]models.Transaction)}
}

func (s *MemoryTransactionStore) Insert(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.CheckoutRequestID] = *tx
	return nil
}

func (s *MemoryTransactionStore) Get(_ context.Context, checkoutRequestID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[checkoutRequestID]
	if !ok {
		return nil, ErrNotFound
	}
	return &tx, nil
}

func (s *MemoryTransactionStore) CompleteIfPending(_ context.Context, checkoutRequestID, status, receipt, payerName string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[checkoutRequestID]
	if !ok {
		return nil, ErrNotFound
	}
	if tx.Status != models.StatusPending {
		return nil, ErrAlreadyFinal
	}

	tx.Status = status
	tx.UpdatedAt = time.Now()
	if receipt != "" {
		tx.MpesaReceipt = receipt
	}
	if payerName != "" {
		tx.PayerName = payerName
	}
	s.txs[checkoutRequestID] = tx
	return &tx, nil
}

func (s *MemoryTransactionStore) ListByStatus(_ context.Context, status string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for _, tx := range s.txs {
		if tx.Status == status {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

type MemoryVoucherStore struct {
	mu       sync.Mutex
	vouchers map[string]models.Voucher
}

func NewMemoryVoucherStore() *MemoryVoucherStore {
	return &MemoryVoucherStore{vouchers: make(map[string]models.Voucher)}
}

func (s *MemoryVoucherStore) Insert(_ context.Context, v *models.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vouchers[v.Code] = *v
	return nil
}

func (s *MemoryVoucherStore) RedeemIfUnused(_ context.Context, code, redeemedBy string) (*models.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vouchers[code]
	if !ok || v.Used {
		return nil, ErrVoucherUnavailable
	}

	v.Used = true
	v.RedeemedBy = redeemedBy
	v.RedeemedAt = time.Now()
	s.vouchers[code] = v
	return &v, nil
}
