package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sadenet/hotspot-gobackend/internal/models"
	"github.com/sadenet/hotspot-gobackend/internal/queue"
	"github.com/sadenet/hotspot-gobackend/internal/store"
)

// ErrInvalidOrUsedVoucher is returned for a voucher code that does not exist
// or was already redeemed.
var ErrInvalidOrUsedVoucher = errors.New("invalid or already used voucher")

// PullSentinel is what the access controller receives when nothing is
// waiting. The device-side script keys on this exact string.
const PullSentinel = "none"

// AccessService bridges confirmed payments and redeemed vouchers into the
// pull queue the access controller drains.
type AccessService struct {
	queue    *queue.Queue
	vouchers store.VoucherStore
}

func NewAccessService(q *queue.Queue, vouchers store.VoucherStore) *AccessService {
	return &AccessService{queue: q, vouchers: vouchers}
}

// HandlePaymentEvent enqueues the customer on a Success outcome. Failed,
// duplicate and unknown outcomes never reach the queue.
func (s *AccessService) HandlePaymentEvent(ev TerminalEvent) {
	if ev.Outcome != OutcomeSuccess {
		return
	}
	s.queue.Enqueue(ev.PhoneNumber, ev.Plan)
	log.Printf("Queued for access: phone=%s plan=%s depth=%d", ev.PhoneNumber, ev.Plan, s.queue.Len())
}

// PullNext hands the oldest waiting customer to the polling controller. An
// empty queue is a normal outcome, reported via the sentinel pair.
func (s *AccessService) PullNext() (string, string) {
	entry, ok := s.queue.TryPop()
	if !ok {
		return PullSentinel, PullSentinel
	}
	log.Printf("Handed off to controller: phone=%s plan=%s", entry.PhoneNumber, entry.Plan)
	return entry.PhoneNumber, entry.Plan
}

// QueueSnapshot reports the current depth and pending entries. Monitoring
// only, not authoritative for control decisions.
func (s *AccessService) QueueSnapshot() (int, []queue.Entry) {
	entries := s.queue.Snapshot()
	return len(entries), entries
}

// RedeemVoucher atomically marks the code used and queues the customer. The
// check-and-mark runs in the store so two concurrent redemptions of the same
// code cannot both enqueue.
func (s *AccessService) RedeemVoucher(ctx context.Context, code, phone string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	phone = NormalizePhone(phone)
	if code == "" || phone == "" {
		return "", fmt.Errorf("%w: code and phone are required", ErrInvalidInput)
	}

	v, err := s.vouchers.RedeemIfUnused(ctx, code, phone)
	if err != nil {
		if errors.Is(err, store.ErrVoucherUnavailable) {
			log.Printf("Voucher rejected: code=%s phone=%s", code, phone)
			return "", ErrInvalidOrUsedVoucher
		}
		return "", err
	}

	s.queue.Enqueue(phone, v.Plan)
	log.Printf("Voucher redeemed: code=%s phone=%s plan=%s", code, phone, v.Plan)
	return v.Plan, nil
}

// IssueVoucher creates a new single-use code for an agent to sell offline.
func (s *AccessService) IssueVoucher(ctx context.Context, plan string, amount float64, agent string) (*models.Voucher, error) {
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return nil, fmt.Errorf("%w: plan is required", ErrInvalidInput)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	code := "WIFI-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	v := &models.Voucher{
		Code:      code,
		Plan:      plan,
		Amount:    amount,
		Agent:     strings.TrimSpace(agent),
		CreatedAt: time.Now(),
	}
	if err := s.vouchers.Insert(ctx, v); err != nil {
		return nil, err
	}

	log.Printf("Voucher issued: code=%s plan=%s agent=%s", v.Code, v.Plan, v.Agent)
	return v, nil
}
