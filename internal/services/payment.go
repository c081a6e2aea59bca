package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sadenet/hotspot-gobackend/internal/models"
	"github.com/sadenet/hotspot-gobackend/internal/store"
)

// ErrInvalidInput marks requests rejected before any external call.
var ErrInvalidInput = errors.New("invalid input")

// CallbackOutcome classifies what a provider callback did to a transaction.
type CallbackOutcome int

const (
	// OutcomeSuccess: the transaction transitioned Pending -> Success.
	OutcomeSuccess CallbackOutcome = iota
	// OutcomeFailed: the transaction transitioned Pending -> Failed.
	OutcomeFailed
	// OutcomeDuplicate: the transaction was already terminal; nothing changed.
	OutcomeDuplicate
	// OutcomeUnknown: no transaction matches the correlation token.
	OutcomeUnknown
)

// TerminalEvent is what the coordinator acts on. PhoneNumber and Plan are
// only set for OutcomeSuccess.
type TerminalEvent struct {
	Outcome     CallbackOutcome
	PhoneNumber string
	Plan        string
}

// MetadataItem is one named field from the callback metadata list.
type MetadataItem struct {
	Name  string
	Value interface{}
}

// STKCallback is the validated shape of Daraja's asynchronous result.
type STKCallback struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Metadata          []MetadataItem
}

type PaymentService struct {
	txs     store.TransactionStore
	gateway Gateway
}

func NewPaymentService(txs store.TransactionStore, gateway Gateway) *PaymentService {
	return &PaymentService{txs: txs, gateway: gateway}
}

// NormalizePhone rewrites local phone formats to the 254 country prefix:
// 07xxxxxxxx -> 2547xxxxxxxx, 7xxxxxxxx -> 2547xxxxxxxx.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "0") {
		return "254" + phone[1:]
	}
	if strings.HasPrefix(phone, "7") {
		return "254" + phone
	}
	return phone
}

// InitiateSTKPush normalizes the phone number, asks the gateway to prompt the
// customer and persists a Pending transaction keyed by the returned
// CheckoutRequestID. On gateway failure no transaction is created.
func (s *PaymentService) InitiateSTKPush(ctx context.Context, phone, plan string, amount float64) (string, error) {
	phone = NormalizePhone(phone)
	plan = strings.TrimSpace(plan)

	if phone == "" || plan == "" {
		log.Printf("Invalid input: phone or plan is empty")
		return "", fmt.Errorf("%w: phone and plan are required", ErrInvalidInput)
	}
	if amount <= 0 {
		log.Printf("Invalid input: amount=%f is not positive", amount)
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	checkoutID, err := s.gateway.STKPush(ctx, phone, amount, plan)
	if err != nil {
		return "", err
	}

	now := time.Now()
	tx := &models.Transaction{
		CheckoutRequestID: checkoutID,
		PhoneNumber:       phone,
		Amount:            amount,
		Plan:              plan,
		Status:            models.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.txs.Insert(ctx, tx); err != nil {
		return "", err
	}

	log.Printf("Transaction created: checkoutID=%s phone=%s plan=%s amount=%.2f", checkoutID, phone, plan, amount)
	return checkoutID, nil
}

// ApplyCallback applies a provider callback to the matching transaction. The
// CheckoutRequestID is the sole idempotency key: the underlying store only
// transitions a transaction that is still Pending, so replayed or concurrent
// deliveries of the same webhook collapse into OutcomeDuplicate.
func (s *PaymentService) ApplyCallback(ctx context.Context, cb STKCallback) (TerminalEvent, error) {
	status := models.StatusSuccess
	receipt := ""
	payerName := ""
	if cb.ResultCode == 0 {
		receipt, payerName = extractReceiptAndName(cb.Metadata)
		if receipt == "" {
			receipt = "N/A"
		}
	} else {
		status = models.StatusFailed
	}

	tx, err := s.txs.CompleteIfPending(ctx, cb.CheckoutRequestID, status, receipt, payerName)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			log.Printf("Callback for unknown checkoutID=%s, acknowledging", cb.CheckoutRequestID)
			return TerminalEvent{Outcome: OutcomeUnknown}, nil
		case errors.Is(err, store.ErrAlreadyFinal):
			log.Printf("Duplicate callback for checkoutID=%s, acknowledging", cb.CheckoutRequestID)
			return TerminalEvent{Outcome: OutcomeDuplicate}, nil
		default:
			return TerminalEvent{}, err
		}
	}

	if status == models.StatusFailed {
		log.Printf("Payment failed: checkoutID=%s resultCode=%d desc=%s", cb.CheckoutRequestID, cb.ResultCode, cb.ResultDesc)
		return TerminalEvent{Outcome: OutcomeFailed}, nil
	}

	log.Printf("Payment confirmed: checkoutID=%s receipt=%s phone=%s", cb.CheckoutRequestID, receipt, tx.PhoneNumber)
	return TerminalEvent{Outcome: OutcomeSuccess, PhoneNumber: tx.PhoneNumber, Plan: tx.Plan}, nil
}

// QueryStatus reports whether the transaction is paid. Store failures degrade
// to "not yet paid"; the polling browser retries anyway.
func (s *PaymentService) QueryStatus(ctx context.Context, checkoutRequestID string) (bool, string) {
	tx, err := s.txs.Get(ctx, checkoutRequestID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("Status query failed for checkoutID=%s: %v", checkoutRequestID, err)
		}
		return false, ""
	}
	if tx.Status != models.StatusSuccess {
		return false, ""
	}
	return true, tx.Plan
}

// ListSales returns successful transactions, newest first.
func (s *PaymentService) ListSales(ctx context.Context) ([]models.Transaction, error) {
	return s.txs.ListByStatus(ctx, models.StatusSuccess)
}

// extractReceiptAndName pulls MpesaReceiptNumber and the payer name items out
// of the callback metadata. Best effort; Daraja omits items on some result
// paths.
func extractReceiptAndName(metadata []MetadataItem) (string, string) {
	receipt := ""
	var first, middle, last string

	for _, item := range metadata {
		str, ok := item.Value.(string)
		if !ok {
			continue
		}
		switch item.Name {
		case "MpesaReceiptNumber":
			receipt = str
		case "FirstName":
			first = str
		case "MiddleName":
			middle = str
		case "LastName":
			last = str
		}
	}

	var nameParts []string
	for _, part := range []string{first, middle, last} {
		if part != "" {
			nameParts = append(nameParts, part)
		}
	}
	return receipt, strings.Join(nameParts, " ")
}
