package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/sadenet/hotspot-gobackend/internal/services"
)

var validate = validator.New()

type PaymentHandler struct {
	payments *services.PaymentService
	access   *services.AccessService
}

func NewPaymentHandler(payments *services.PaymentService, access *services.AccessService) *PaymentHandler {
	return &PaymentHandler{payments: payments, access: access}
}

type stkPushRequest struct {
	Phone  string  `json:"phone" validate:"required"`
	Plan   string  `json:"plan" validate:"required"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// StkPush starts a payment: triggers the push prompt on the customer's phone
// and returns the checkout ID the browser polls with.
func (h *PaymentHandler) StkPush(w http.ResponseWriter, r *http.Request) {
	var req stkPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, `{"error":"phone, plan and a positive amount are required"}`, http.StatusBadRequest)
		return
	}

	checkoutID, err := h.payments.InitiateSTKPush(r.Context(), req.Phone, req.Plan, req.Amount)
	if err != nil {
		log.Printf("STK push failed: %v", err)
		if errors.Is(err, services.ErrInvalidInput) {
			http.Error(w, `{"error":"Invalid phone, plan or amount"}`, http.StatusBadRequest)
			return
		}
		http.Error(w, `{"error":"M-Pesa session failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"checkoutID": checkoutID,
	})
}

// Daraja wraps the callback in Body.stkCallback; metadata items only appear
// on success.
type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// callbackAck is the acknowledgment Daraja expects. It goes out for
// duplicate, unknown and failed outcomes too; withholding it only makes the
// provider retry a delivery that cannot turn out differently.
func callbackAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

// Callback receives Daraja's asynchronous payment result.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var envelope callbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		http.Error(w, `{"error":"Invalid callback payload"}`, http.StatusBadRequest)
		return
	}
	stk := envelope.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		http.Error(w, `{"error":"Missing CheckoutRequestID"}`, http.StatusBadRequest)
		return
	}

	cb := services.STKCallback{
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        stk.ResultCode,
		ResultDesc:        stk.ResultDesc,
	}
	for _, item := range stk.CallbackMetadata.Item {
		cb.Metadata = append(cb.Metadata, services.MetadataItem{Name: item.Name, Value: item.Value})
	}

	event, err := h.payments.ApplyCallback(r.Context(), cb)
	if err != nil {
		// Store I/O failure: a 500 makes Daraja retry, which is safe because
		// the transition is idempotent.
		log.Printf("Callback processing failed for checkoutID=%s: %v", stk.CheckoutRequestID, err)
		http.Error(w, `{"error":"Callback processing failed"}`, http.StatusInternalServerError)
		return
	}

	h.access.HandlePaymentEvent(event)
	callbackAck(w)
}

// Status answers the browser's "am I paid yet" poll.
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	checkoutID := vars["checkoutID"]

	paid, plan := h.payments.QueryStatus(r.Context(), checkoutID)

	w.Header().Set("Content-Type", "application/json")
	if paid {
		json.NewEncoder(w).Encode(map[string]interface{}{"paid": true, "plan": plan})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"paid": false})
}

// AdminSales lists successful transactions, newest first.
func (h *PaymentHandler) AdminSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.payments.ListSales(r.Context())
	if err != nil {
		log.Printf("Failed to fetch sales: %v", err)
		http.Error(w, `{"error":"Failed to fetch sales"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sales); err != nil {
		log.Printf("Failed to encode sales: %v", err)
		http.Error(w, `{"error":"Failed to encode response"}`, http.StatusInternalServerError)
	}
}
