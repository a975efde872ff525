package repository

import (
	"context"
	"sort"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
)

// CardFilter narrows a card listing. Zero values mean "any". Status is
// matched against the effective status as of AsOf, so a card past its expiry
// date counts as EXPIRED even before the stored status is corrected.
type CardFilter struct {
	OwnerID int64
	Status  models.CardStatus
	AsOf    time.Time
}

// TransferFilter narrows a transfer listing to one initiator. CardID matches
// either side of the transfer; From/To bound the transfer date inclusively.
type TransferFilter struct {
	InitiatorID int64
	CardID      int64
	From        time.Time
	To          time.Time
	Status      models.TransferStatus
}

// CardTx is the view of the store available while card rows are locked.
// Everything written through it commits or rolls back together.
type CardTx interface {
	GetCard(ctx context.Context, id int64) (*models.Card, error)
	SaveCard(ctx context.Context, card *models.Card) error
	SaveTransfer(ctx context.Context, transfer *models.Transfer) error
	DeleteCard(ctx context.Context, id int64) error
}

// Store is the persistence contract of cards and transfers
type Store interface {
	GetCard(ctx context.Context, id int64) (*models.Card, error)
	CardNumberExists(ctx context.Context, encryptedNumber string) (bool, error)
	// SaveCard inserts when card.ID is zero and updates otherwise. A duplicate
	// encrypted number is reported as a conflict.
	SaveCard(ctx context.Context, card *models.Card) error
	FindCards(ctx context.Context, filter CardFilter, page models.Page) ([]models.Card, int, error)
	DeleteCard(ctx context.Context, id int64) error

	GetTransfer(ctx context.Context, id int64) (*models.Transfer, error)
	SaveTransfer(ctx context.Context, transfer *models.Transfer) error
	FindTransfers(ctx context.Context, filter TransferFilter, page models.Page) ([]models.Transfer, int, error)

	// WithCardLock locks the given cards, lowest id first, and runs fn in a
	// single transaction.
	WithCardLock(ctx context.Context, ids []int64, fn func(tx CardTx) error) error
}

// UserStore is the persistence contract of the user directory
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// lockOrder returns ids deduplicated and sorted ascending
func lockOrder(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var (
	_ Store     = (*Repository)(nil)
	_ UserStore = (*Repository)(nil)
	_ Store     = (*Memory)(nil)
	_ UserStore = (*Memory)(nil)
)
