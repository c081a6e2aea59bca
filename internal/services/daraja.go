package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// ErrGatewayUnavailable wraps any Daraja call that failed or timed out. The
// caller surfaces it as a retryable server fault.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Gateway issues a push-payment prompt and returns the provider's
// CheckoutRequestID, the correlation token for the later callback.
type Gateway interface {
	STKPush(ctx context.Context, phoneNumber string, amount float64, plan string) (string, error)
}

// DarajaService talks to the Safaricom Daraja API.
type DarajaService struct {
	client      *http.Client
	baseURL     string
	consumerKey string
	secret      string
	shortcode   string
	passkey     string
	callbackURL string
}

func NewDarajaService() *DarajaService {
	baseURL := os.Getenv("MPESA_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.safaricom.co.ke"
	}
	return &DarajaService{
		client:      &http.Client{Timeout: 10 * time.Second},
		baseURL:     baseURL,
		consumerKey: os.Getenv("MPESA_CONSUMER_KEY"),
		secret:      os.Getenv("MPESA_CONSUMER_SECRET"),
		shortcode:   os.Getenv("MPESA_SHORTCODE"),
		passkey:     os.Getenv("MPESA_PASSKEY"),
		callbackURL: os.Getenv("MPESA_CALLBACK_URL"),
	}
}

type stkPushPayload struct {
	BusinessShortCode string  `json:"BusinessShortCode"`
	Password          string  `json:"Password"`
	Timestamp         string  `json:"Timestamp"`
	TransactionType   string  `json:"TransactionType"`
	Amount            float64 `json:"Amount"`
	PartyA            string  `json:"PartyA"`
	PartyB            string  `json:"PartyB"`
	PhoneNumber       string  `json:"PhoneNumber"`
	CallBackURL       string  `json:"CallBackURL"`
	AccountReference  string  `json:"AccountReference"`
	TransactionDesc   string  `json:"TransactionDesc"`
}

type stkPushResult struct {
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
}

// getToken fetches an OAuth access token via the client-credentials grant.
func (s *DarajaService) getToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(s.consumerKey+":"+s.secret)))

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("Token request failed: %v", err)
		return "", fmt.Errorf("%w: token request failed: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("Token request failed with status %d: %s", resp.StatusCode, string(body))
		return "", fmt.Errorf("%w: token request status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode token response: %v", ErrGatewayUnavailable, err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrGatewayUnavailable)
	}
	return tokenResp.AccessToken, nil
}

// STKPush sends the push-payment prompt to the customer's phone and returns
// the CheckoutRequestID Daraja issued for it.
func (s *DarajaService) STKPush(ctx context.Context, phoneNumber string, amount float64, plan string) (string, error) {
	token, err := s.getToken(ctx)
	if err != nil {
		return "", err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(s.shortcode + s.passkey + timestamp))

	payload := stkPushPayload{
		BusinessShortCode: s.shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phoneNumber,
		PartyB:            s.shortcode,
		PhoneNumber:       phoneNumber,
		CallBackURL:       s.callbackURL,
		AccountReference:  "SADE NET",
		TransactionDesc:   "WiFi " + plan,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stk push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create stk push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("STK push failed for %s: %v", phoneNumber, err)
		return "", fmt.Errorf("%w: stk push failed: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("STK push failed with status %d: %s", resp.StatusCode, string(body))
		return "", fmt.Errorf("%w: stk push status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var result stkPushResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: failed to decode stk push response: %v", ErrGatewayUnavailable, err)
	}
	if result.CheckoutRequestID == "" {
		log.Printf("STK push returned no CheckoutRequestID: code=%s desc=%s", result.ResponseCode, result.ResponseDesc)
		return "", fmt.Errorf("%w: no CheckoutRequestID in response", ErrGatewayUnavailable)
	}

	log.Printf("STK push accepted: checkoutID=%s phone=%s plan=%s", result.CheckoutRequestID, phoneNumber, plan)
	return result.CheckoutRequestID, nil
}
