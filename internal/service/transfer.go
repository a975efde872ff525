package service

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/Dan9191/bank-cards/internal/authz"
	"github.com/Dan9191/bank-cards/internal/errs"
	"github.com/Dan9191/bank-cards/internal/lock"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/sirupsen/logrus"
)

// TransferNotifier is told about every completed transfer
type TransferNotifier interface {
	NotifyTransfer(user *models.User, transfer models.TransferView) error
}

// RetryPolicy bounds how often a transfer is retried on transient store failures
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// TransferEngine moves balance between two cards of one owner
type TransferEngine struct {
	store    repository.Store
	users    repository.UserStore
	ledger   *CardLedger
	locker   lock.Locker
	notifier TransferNotifier
	retry    RetryPolicy
	log      *logrus.Logger
}

// NewTransferEngine initializes a new transfer engine. notifier may be nil.
func NewTransferEngine(store repository.Store, users repository.UserStore, ledger *CardLedger, locker lock.Locker, notifier TransferNotifier, retry RetryPolicy, log *logrus.Logger) *TransferEngine {
	if locker == nil {
		locker = lock.Nop{}
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &TransferEngine{
		store:    store,
		users:    users,
		ledger:   ledger,
		locker:   locker,
		notifier: notifier,
		retry:    retry,
		log:      log,
	}
}

// CreateTransfer moves req.Amount from one card of the principal to another.
// Both legs and the transfer record commit together or not at all.
func (e *TransferEngine) CreateTransfer(ctx context.Context, p models.Principal, req models.TransferRequest) (*models.TransferView, error) {
	if req.FromCardID == req.ToCardID {
		return nil, errs.Validation("Cannot transfer to the same card")
	}

	var transfer *models.Transfer
	var err error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		transfer, err = e.execute(ctx, p, req)
		if !errors.Is(err, errs.ErrTransient) {
			break
		}
		e.log.Warnf("Transfer attempt %d of %d failed: %v", attempt, e.retry.MaxAttempts, err)
		if attempt == e.retry.MaxAttempts {
			return nil, errs.Transient("Transfer could not be completed, please retry", err)
		}
		if err := sleep(ctx, e.retry.Delay*time.Duration(attempt)); err != nil {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	view, err := e.view(transfer)
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"transfer_id":  transfer.ID,
		"from_card_id": transfer.FromCardID,
		"to_card_id":   transfer.ToCardID,
		"amount":       transfer.Amount.StringFixed(2),
	}).Info("Transfer completed")

	e.notify(ctx, p.ID, view)
	return view, nil
}

func (e *TransferEngine) execute(ctx context.Context, p models.Principal, req models.TransferRequest) (*models.Transfer, error) {
	ids := []int64{req.FromCardID, req.ToCardID}

	var transfer *models.Transfer
	var ruleErr error
	err := e.locker.WithCards(ctx, ids, func() error {
		return e.store.WithCardLock(ctx, ids, func(tx repository.CardTx) error {
			from, err := tx.GetCard(ctx, req.FromCardID)
			if err != nil {
				return err
			}
			to, err := tx.GetCard(ctx, req.ToCardID)
			if err != nil {
				return err
			}

			if err := authz.Check(p, from.OwnerID, authz.TransferCreate); err != nil {
				return err
			}
			if err := authz.Check(p, to.OwnerID, authz.TransferCreate); err != nil {
				return err
			}
			for _, card := range []*models.Card{from, to} {
				if e.ledger.reconcileExpiry(card) {
					if err := tx.SaveCard(ctx, card); err != nil {
						return err
					}
				}
			}
			// rule violations still commit the expiry corrections above
			if ruleErr = checkTransfer(from, to, req); ruleErr != nil {
				return nil
			}

			if _, err := e.ledger.mutateBalance(ctx, tx, from.ID, req.Amount.Neg()); err != nil {
				return err
			}
			if _, err := e.ledger.mutateBalance(ctx, tx, to.ID, req.Amount); err != nil {
				return err
			}

			transfer = &models.Transfer{
				FromCardID:   from.ID,
				ToCardID:     to.ID,
				FromNumber:   from.Number,
				ToNumber:     to.Number,
				Amount:       req.Amount,
				Status:       models.TransferStatusCompleted,
				InitiatorID:  p.ID,
				Description:  req.Description,
				TransferDate: e.ledger.now(),
			}
			return tx.SaveTransfer(ctx, transfer)
		})
	})
	if err != nil {
		return nil, err
	}
	if ruleErr != nil {
		return nil, ruleErr
	}
	return transfer, nil
}

// checkTransfer applies the status, amount and funds rules to reconciled cards
func checkTransfer(from, to *models.Card, req models.TransferRequest) error {
	switch {
	case from.Status == models.CardStatusExpired:
		return errs.Validation("Source card has expired")
	case from.Status != models.CardStatusActive:
		return errs.Validation("Source card is not active")
	case to.Status == models.CardStatusExpired:
		return errs.Validation("Destination card has expired")
	case to.Status != models.CardStatusActive:
		return errs.Validation("Destination card is not active")
	}

	if !req.Amount.IsPositive() {
		return errs.Validation("Transfer amount must be positive")
	}
	if err := checkScale(req.Amount, "Transfer amount"); err != nil {
		return err
	}
	if err := checkLimit(req.Amount, "Transfer amount"); err != nil {
		return err
	}
	if utf8.RuneCountInString(req.Description) > maxDescriptionLength {
		return errs.Validation("Description must be at most %d characters", maxDescriptionLength)
	}
	if from.Balance.LessThan(req.Amount) {
		return errs.InsufficientFunds("Insufficient funds on the source card")
	}
	if err := checkLimit(to.Balance.Add(req.Amount), "Destination card balance"); err != nil {
		return err
	}
	return nil
}

func (e *TransferEngine) notify(ctx context.Context, userID int64, view *models.TransferView) {
	if e.notifier == nil {
		return
	}
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		e.log.Warnf("Failed to load user %d for transfer notification: %v", userID, err)
		return
	}
	if err := e.notifier.NotifyTransfer(user, *view); err != nil {
		e.log.Warnf("Transfer %d notification failed: %v", view.ID, err)
	}
}

// GetTransfer returns one transfer initiated by the principal
func (e *TransferEngine) GetTransfer(ctx context.Context, p models.Principal, id int64) (*models.TransferView, error) {
	t, err := e.store.GetTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.Check(p, t.InitiatorID, authz.TransferView); err != nil {
		return nil, err
	}
	return e.view(t)
}

// ListByOwner lists the transfers initiated by the principal
func (e *TransferEngine) ListByOwner(ctx context.Context, p models.Principal, page models.Page) (*models.PageResult[models.TransferView], error) {
	return e.list(ctx, repository.TransferFilter{InitiatorID: p.ID}, page)
}

// ListByCard lists the principal's transfers touching one of their cards
func (e *TransferEngine) ListByCard(ctx context.Context, p models.Principal, cardID int64, page models.Page) (*models.PageResult[models.TransferView], error) {
	card, err := e.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := authz.Check(p, card.OwnerID, authz.TransferView); err != nil {
		return nil, errs.Authorization("You don't have access to this card")
	}
	return e.list(ctx, repository.TransferFilter{InitiatorID: p.ID, CardID: cardID}, page)
}

// ByDateRange lists the principal's transfers made between from and to inclusive
func (e *TransferEngine) ByDateRange(ctx context.Context, p models.Principal, from, to time.Time, page models.Page) (*models.PageResult[models.TransferView], error) {
	if from.IsZero() || to.IsZero() {
		return nil, errs.Validation("Both start and end dates are required")
	}
	if to.Before(from) {
		return nil, errs.Validation("Start date must not be after end date")
	}
	return e.list(ctx, repository.TransferFilter{InitiatorID: p.ID, From: from, To: to}, page)
}

// ByStatus lists the principal's transfers in a given status
func (e *TransferEngine) ByStatus(ctx context.Context, p models.Principal, status models.TransferStatus, page models.Page) (*models.PageResult[models.TransferView], error) {
	if status != models.TransferStatusCompleted {
		return nil, errs.Validation("Unknown transfer status %s", status)
	}
	return e.list(ctx, repository.TransferFilter{InitiatorID: p.ID, Status: status}, page)
}

func (e *TransferEngine) list(ctx context.Context, filter repository.TransferFilter, page models.Page) (*models.PageResult[models.TransferView], error) {
	if filter.InitiatorID <= 0 {
		return nil, errs.Authentication("Authentication required")
	}
	page = page.Normalize()

	transfers, total, err := e.store.FindTransfers(ctx, filter, page)
	if err != nil {
		return nil, err
	}

	views := make([]models.TransferView, 0, len(transfers))
	for i := range transfers {
		v, err := e.view(&transfers[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return &models.PageResult[models.TransferView]{Items: views, Total: total, Page: page.Number, Size: page.Size}, nil
}

func (e *TransferEngine) view(t *models.Transfer) (*models.TransferView, error) {
	fromMasked, err := e.ledger.maskStored(t.FromNumber)
	if err != nil {
		e.log.WithField("transfer_id", t.ID).Errorf("Failed to decrypt source card number: %v", err)
		return nil, err
	}
	toMasked, err := e.ledger.maskStored(t.ToNumber)
	if err != nil {
		e.log.WithField("transfer_id", t.ID).Errorf("Failed to decrypt destination card number: %v", err)
		return nil, err
	}
	return &models.TransferView{
		ID:             t.ID,
		FromCardID:     t.FromCardID,
		ToCardID:       t.ToCardID,
		FromCardMasked: fromMasked,
		ToCardMasked:   toMasked,
		Amount:         t.Amount,
		TransferDate:   t.TransferDate,
		Status:         t.Status,
		Description:    t.Description,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
