package models

import (
	"time"
)

type Voucher struct {
	Code       string    `bson:"code" json:"code"`
	Plan       string    `bson:"plan" json:"plan"`
	Amount     float64   `bson:"amount" json:"amount"`
	Agent      string    `bson:"agent" json:"agent"` // issuing-agent label
	Used       bool      `bson:"used" json:"used"`
	RedeemedBy string    `bson:"redeemed_by,omitempty" json:"redeemed_by,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	RedeemedAt time.Time `bson:"redeemed_at,omitempty" json:"redeemed_at,omitempty"`
}
