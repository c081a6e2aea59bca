package models

import (
	"time"
)

// Transaction statuses. A transaction moves Pending -> Success or
// Pending -> Failed exactly once; terminal records are never mutated again.
const (
	StatusPending = "Pending"
	StatusSuccess = "Success"
	StatusFailed  = "Failed"
)

type Transaction struct {
	CheckoutRequestID string    `bson:"checkout_request_id" json:"checkout_request_id"`
	PhoneNumber       string    `bson:"phone_number" json:"phone_number"` // normalized, 254-prefixed
	Amount            float64   `bson:"amount" json:"amount"`
	Plan              string    `bson:"plan" json:"plan"`
	Status            string    `bson:"status" json:"status"`
	MpesaReceipt      string    `bson:"mpesa_receipt,omitempty" json:"mpesa_receipt,omitempty"`
	PayerName         string    `bson:"payer_name,omitempty" json:"payer_name,omitempty"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
}
