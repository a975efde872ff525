package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CardStatus is the lifecycle state of a card
type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	CardStatusExpired CardStatus = "EXPIRED"
)

// Valid reports whether s is a known status
func (s CardStatus) Valid() bool {
	switch s {
	case CardStatusActive, CardStatusBlocked, CardStatusExpired:
		return true
	}
	return false
}

// Card represents a stored bank card. Number and CVV hold ciphertext.
type Card struct {
	ID         int64           `json:"id"`
	Number     string          `json:"-"`
	CVV        string          `json:"-"`
	HolderName string          `json:"holder_name"`
	ExpiryDate time.Time       `json:"expiry_date"`
	Status     CardStatus      `json:"status"`
	Balance    decimal.Decimal `json:"balance"`
	OwnerID    int64           `json:"owner_id"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ExpiredAt reports whether the expiry date lies strictly before the calendar
// day of now.
func (c *Card) ExpiredAt(now time.Time) bool {
	return DateOf(c.ExpiryDate).Before(DateOf(now))
}

// CardView is the masked projection returned to callers
type CardView struct {
	ID           int64           `json:"id"`
	MaskedNumber string          `json:"masked_card_number"`
	HolderName   string          `json:"card_holder"`
	ExpiryDate   string          `json:"expiry_date"`
	Status       CardStatus      `json:"status"`
	Balance      decimal.Decimal `json:"balance"`
	OwnerID      int64           `json:"owner_id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CreateCardRequest carries the input of a card issuance. An empty Number
// asks the ledger to generate one.
type CreateCardRequest struct {
	OwnerID        int64            `json:"user_id"`
	Number         string           `json:"card_number"`
	HolderName     string           `json:"card_holder"`
	ExpiryDate     time.Time        `json:"expiry_date"`
	CVV            string           `json:"cvv,omitempty"`
	InitialBalance *decimal.Decimal `json:"initial_balance,omitempty"`
	Status         CardStatus       `json:"status,omitempty"`
}

// DateOf truncates t to midnight UTC of its calendar day
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
