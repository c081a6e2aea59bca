package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/sadenet/hotspot-gobackend/internal/services"
)

type AccessHandler struct {
	access *services.AccessService
}

func NewAccessHandler(access *services.AccessService) *AccessHandler {
	return &AccessHandler{access: access}
}

// Dequeue is polled by the access controller. The response is a fixed
// two-field text record, "phone,plan" or "none,none" when nothing is waiting.
// The device-side script cannot parse anything else.
func (h *AccessHandler) Dequeue(w http.ResponseWriter, r *http.Request) {
	phone, plan := h.access.PullNext()
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "%s,%s", phone, plan)
}

// QueueMonitor reports queue depth and pending entries. Debug only.
func (h *AccessHandler) QueueMonitor(w http.ResponseWriter, r *http.Request) {
	count, entries := h.access.QueueSnapshot()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":   count,
		"entries": entries,
	})
}

type redeemRequest struct {
	Code  string `json:"code" validate:"required"`
	Phone string `json:"phone" validate:"required"`
}

// RedeemVoucher marks a voucher used and queues the customer for access.
func (h *AccessHandler) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, `{"error":"code and phone are required"}`, http.StatusBadRequest)
		return
	}

	plan, err := h.access.RedeemVoucher(r.Context(), req.Code, req.Phone)
	if err != nil {
		if errors.Is(err, services.ErrInvalidOrUsedVoucher) || errors.Is(err, services.ErrInvalidInput) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"message": "Invalid or already used voucher",
			})
			return
		}
		log.Printf("Voucher redemption failed: %v", err)
		http.Error(w, `{"error":"Voucher redemption failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Voucher accepted, plan " + plan + " activating",
	})
}

type issueVoucherRequest struct {
	Plan   string  `json:"plan" validate:"required"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Agent  string  `json:"agent"`
}

// IssueVoucher creates a single-use code for offline sale.
func (h *AccessHandler) IssueVoucher(w http.ResponseWriter, r *http.Request) {
	var req issueVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, `{"error":"plan and a positive amount are required"}`, http.StatusBadRequest)
		return
	}

	voucher, err := h.access.IssueVoucher(r.Context(), req.Plan, req.Amount, req.Agent)
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			http.Error(w, `{"error":"Invalid plan or amount"}`, http.StatusBadRequest)
			return
		}
		log.Printf("Failed to issue voucher: %v", err)
		http.Error(w, `{"error":"Failed to issue voucher"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(voucher)
}
