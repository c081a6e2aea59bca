package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadenet/hotspot-gobackend/internal/models"
	"github.com/sadenet/hotspot-gobackend/internal/queue"
	"github.com/sadenet/hotspot-gobackend/internal/services"
	"github.com/sadenet/hotspot-gobackend/internal/store"
)

type stubGateway struct {
	checkoutID string
	err        error
}

func (g *stubGateway) STKPush(_ context.Context, _ string, _ float64, _ string) (string, error) {
	return g.checkoutID, g.err
}

type testEnv struct {
	router   *mux.Router
	txs      *store.MemoryTransactionStore
	vouchers *store.MemoryVoucherStore
}

func newTestEnv(gw services.Gateway) *testEnv {
	txs := store.NewMemoryTransactionStore()
	vouchers := store.NewMemoryVoucherStore()
	paymentService := services.NewPaymentService(txs, gw)
	accessService := services.NewAccessService(queue.New(), vouchers)

	paymentHandler := NewPaymentHandler(paymentService, accessService)
	accessHandler := NewAccessHandler(accessService)

	router := mux.NewRouter()
	router.HandleFunc("/stk-push", paymentHandler.StkPush).Methods("POST")
	router.HandleFunc("/callback", paymentHandler.Callback).Methods("POST")
	router.HandleFunc("/status/{checkoutID}", paymentHandler.Status).Methods("GET")
	router.HandleFunc("/dequeue", accessHandler.Dequeue).Methods("GET")
	router.HandleFunc("/queue", accessHandler.QueueMonitor).Methods("GET")
	router.HandleFunc("/voucher/redeem", accessHandler.RedeemVoucher).Methods("POST")
	router.HandleFunc("/admin/sales", paymentHandler.AdminSales).Methods("GET")
	router.HandleFunc("/admin/vouchers", accessHandler.IssueVoucher).Methods("POST")

	return &testEnv{router: router, txs: txs, vouchers: vouchers}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func darajaCallback(checkoutID string, resultCode int, receipt string) map[string]interface{} {
	stk := map[string]interface{}{
		"MerchantRequestID": "29115-34620561-1",
		"CheckoutRequestID": checkoutID,
		"ResultCode":        resultCode,
		"ResultDesc":        "The service request is processed successfully.",
	}
	if resultCode == 0 {
		stk["CallbackMetadata"] = map[string]interface{}{
			"Item": []map[string]interface{}{
				{"Name": "Amount", "Value": 10},
				{"Name": "MpesaReceiptNumber", "Value": receipt},
				{"Name": "PhoneNumber", "Value": 254712345678},
			},
		}
	}
	return map[string]interface{}{"Body": map[string]interface{}{"stkCallback": stk}}
}

func TestPaymentToAccessFlow(t *testing.T) {
	env := newTestEnv(&stubGateway{checkoutID: "abc123"})

	// Initiate
	rec := env.do(t, "POST", "/stk-push", map[string]interface{}{
		"phone": "0712345678", "plan": "1hr", "amount": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pushResp struct {
		Success    bool   `json:"success"`
		CheckoutID string `json:"checkoutID"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pushResp))
	assert.True(t, pushResp.Success)
	assert.Equal(t, "abc123", pushResp.CheckoutID)

	// Not paid yet
	rec = env.do(t, "GET", "/status/abc123", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"paid":false}`, rec.Body.String())

	// Provider confirms
	rec = env.do(t, "POST", "/callback", darajaCallback("abc123", 0, "RCX1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())

	// Paid
	rec = env.do(t, "GET", "/status/abc123", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"paid":true,"plan":"1hr"}`, rec.Body.String())

	// Device pulls the customer
	rec = env.do(t, "GET", "/dequeue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "254712345678,1hr", rec.Body.String())

	// Queue drained
	rec = env.do(t, "GET", "/dequeue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "none,none", rec.Body.String())
}

func TestCallback_DuplicateDeliveryEnqueuesOnce(t *testing.T) {
	env := newTestEnv(&stubGateway{checkoutID: "abc123"})

	rec := env.do(t, "POST", "/stk-push", map[string]interface{}{
		"phone": "0712345678", "plan": "1hr", "amount": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	for i := 0; i < 3; i++ {
		rec = env.do(t, "POST", "/callback", darajaCallback("abc123", 0, "RCX1"))
		require.Equal(t, http.StatusOK, rec.Code, "delivery %d must be acknowledged", i)
	}

	var monitor struct {
		Count int `json:"count"`
	}
	rec = env.do(t, "GET", "/queue", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &monitor))
	assert.Equal(t, 1, monitor.Count, "replayed webhook must not re-enqueue")
}

func TestCallback_UnknownTokenAcknowledged(t *testing.T) {
	env := newTestEnv(&stubGateway{})

	rec := env.do(t, "POST", "/callback", darajaCallback("never-issued", 0, "RCX9"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())

	_, err := env.txs.Get(context.Background(), "never-issued")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec = env.do(t, "GET", "/dequeue", nil)
	assert.Equal(t, "none,none", rec.Body.String())
}

func TestCallback_FailureDoesNotEnqueue(t *testing.T) {
	env := newTestEnv(&stubGateway{checkoutID: "abc123"})

	rec := env.do(t, "POST", "/stk-push", map[string]interface{}{
		"phone": "0712345678", "plan": "1hr", "amount": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "POST", "/callback", darajaCallback("abc123", 1032, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/status/abc123", nil)
	assert.JSONEq(t, `{"paid":false}`, rec.Body.String())

	rec = env.do(t, "GET", "/dequeue", nil)
	assert.Equal(t, "none,none", rec.Body.String())
}

func TestCallback_MalformedPayload(t *testing.T) {
	env := newTestEnv(&stubGateway{})

	req := httptest.NewRequest("POST", "/callback", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "POST", "/callback", map[string]interface{}{"Body": map[string]interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing CheckoutRequestID must be rejected")
}

func TestStkPush_Validation(t *testing.T) {
	env := newTestEnv(&stubGateway{checkoutID: "abc123"})

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{name: "missing phone", body: map[string]interface{}{"plan": "1hr", "amount": 10}},
		{name: "missing plan", body: map[string]interface{}{"phone": "0712345678", "amount": 10}},
		{name: "zero amount", body: map[string]interface{}{"phone": "0712345678", "plan": "1hr", "amount": 0}},
		{name: "negative amount", body: map[string]interface{}{"phone": "0712345678", "plan": "1hr", "amount": -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/stk-push", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStkPush_GatewayDown(t *testing.T) {
	env := newTestEnv(&stubGateway{err: services.ErrGatewayUnavailable})

	rec := env.do(t, "POST", "/stk-push", map[string]interface{}{
		"phone": "0712345678", "plan": "1hr", "amount": 10,
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "M-Pesa session failed")
}

func TestVoucherRedemptionFlow(t *testing.T) {
	env := newTestEnv(&stubGateway{})

	rec := env.do(t, "POST", "/admin/vouchers", map[string]interface{}{
		"plan": "3hr", "amount": 30, "agent": "kiosk-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var issued models.Voucher
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.Code)

	rec = env.do(t, "POST", "/voucher/redeem", map[string]interface{}{
		"code": issued.Code, "phone": "0712345678",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"success":true`)

	// Second redemption is a client error, not a server fault.
	rec = env.do(t, "POST", "/voucher/redeem", map[string]interface{}{
		"code": issued.Code, "phone": "0787654321",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)

	rec = env.do(t, "GET", "/dequeue", nil)
	assert.Equal(t, "254712345678,3hr", rec.Body.String())

	rec = env.do(t, "GET", "/dequeue", nil)
	assert.Equal(t, "none,none", rec.Body.String())
}

func TestAdminSales(t *testing.T) {
	env := newTestEnv(&stubGateway{checkoutID: "abc123"})

	rec := env.do(t, "POST", "/stk-push", map[string]interface{}{
		"phone": "0712345678", "plan": "1hr", "amount": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Pending transactions are not sales yet.
	rec = env.do(t, "GET", "/admin/sales", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sales []models.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sales))
	assert.Empty(t, sales)

	rec = env.do(t, "POST", "/callback", darajaCallback("abc123", 0, "RCX1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/admin/sales", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sales))
	require.Len(t, sales, 1)
	assert.Equal(t, "RCX1", sales[0].MpesaReceipt)
	assert.Equal(t, models.StatusSuccess, sales[0].Status)
	assert.WithinDuration(t, time.Now(), sales[0].CreatedAt, time.Minute)
}

func TestQueueMonitor_Snapshot(t *testing.T) {
	env := newTestEnv(&stubGateway{checkoutID: "abc123"})

	rec := env.do(t, "POST", "/stk-push", map[string]interface{}{
		"phone": "0712345678", "plan": "1hr", "amount": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, "POST", "/callback", darajaCallback("abc123", 0, "RCX1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var monitor struct {
		Count   int           `json:"count"`
		Entries []queue.Entry `json:"entries"`
	}
	rec = env.do(t, "GET", "/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &monitor))
	assert.Equal(t, 1, monitor.Count)
	require.Len(t, monitor.Entries, 1)
	assert.Equal(t, "254712345678", monitor.Entries[0].PhoneNumber)

	// Monitoring must not drain the queue.
	rec = env.do(t, "GET", "/dequeue", nil)
	assert.Equal(t, "254712345678,1hr", rec.Body.String())
}

func TestDequeue_Empty(t *testing.T) {
	env := newTestEnv(&stubGateway{})

	rec := env.do(t, "GET", "/dequeue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "none,none", rec.Body.String())
}
