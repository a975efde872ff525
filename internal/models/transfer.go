package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus is the state of a transfer record
type TransferStatus string

// Transfers are synchronous, so a stored transfer is always completed.
const TransferStatusCompleted TransferStatus = "COMPLETED"

// Transfer is an immutable record of a balance move between two cards of one owner.
// FromNumber and ToNumber keep the card ciphertext as it was at transfer time.
type Transfer struct {
	ID           int64           `json:"id"`
	FromCardID   int64           `json:"from_card_id"`
	ToCardID     int64           `json:"to_card_id"`
	FromNumber   string          `json:"-"`
	ToNumber     string          `json:"-"`
	Amount       decimal.Decimal `json:"amount"`
	Status       TransferStatus  `json:"status"`
	InitiatorID  int64           `json:"initiator_id"`
	Description  string          `json:"description"`
	TransferDate time.Time       `json:"transfer_date"`
}

// TransferView is the masked projection of a transfer
type TransferView struct {
	ID             int64           `json:"id"`
	FromCardID     int64           `json:"from_card_id"`
	ToCardID       int64           `json:"to_card_id"`
	FromCardMasked string          `json:"from_card_masked"`
	ToCardMasked   string          `json:"to_card_masked"`
	Amount         decimal.Decimal `json:"amount"`
	TransferDate   time.Time       `json:"transfer_date"`
	Status         TransferStatus  `json:"status"`
	Description    string          `json:"description,omitempty"`
}

// TransferRequest is the input of a transfer between two own cards
type TransferRequest struct {
	FromCardID  int64           `json:"from_card_id"`
	ToCardID    int64           `json:"to_card_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}
