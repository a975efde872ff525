package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Dan9191/bank-cards/internal/authz"
	"github.com/Dan9191/bank-cards/internal/errs"
	"github.com/Dan9191/bank-cards/internal/lock"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// generateAttempts bounds how many generated numbers are tried before giving up
const generateAttempts = 5

// Column limits of bank.cards and bank.transfers
const (
	maxHolderLength      = 100
	maxDescriptionLength = 255
)

// maxMoney is the first value NUMERIC(15,2) cannot store
var maxMoney = decimal.New(1, 13)

// CardLedger owns the card lifecycle and balance mutation
type CardLedger struct {
	store  repository.Store
	users  repository.UserStore
	codec  *utils.FieldCodec
	locker lock.Locker
	log    *logrus.Logger
	now    func() time.Time
}

// NewCardLedger initializes a new card ledger
func NewCardLedger(store repository.Store, users repository.UserStore, codec *utils.FieldCodec, locker lock.Locker, log *logrus.Logger) *CardLedger {
	if locker == nil {
		locker = lock.Nop{}
	}
	return &CardLedger{
		store:  store,
		users:  users,
		codec:  codec,
		locker: locker,
		log:    log,
		now:    time.Now,
	}
}

// Create issues a new card. When req.Number is empty a number and CVV are generated.
func (l *CardLedger) Create(ctx context.Context, p models.Principal, req models.CreateCardRequest) (*models.CardView, error) {
	if req.OwnerID == 0 {
		req.OwnerID = p.ID
	}
	if err := authz.Check(p, req.OwnerID, authz.CardCreate); err != nil {
		return nil, err
	}
	if _, err := l.users.FindUserByID(ctx, req.OwnerID); err != nil {
		return nil, err
	}

	now := l.now()
	card, err := l.newCard(req, now)
	if err != nil {
		return nil, err
	}

	if req.Number == "" {
		err = l.insertGenerated(ctx, card, req.CVV)
	} else {
		err = l.insertGiven(ctx, card, req.Number, req.CVV)
	}
	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{"card_id": card.ID, "owner_id": card.OwnerID}).Info("Card created")
	return l.view(card)
}

// newCard validates everything except the number and CVV
func (l *CardLedger) newCard(req models.CreateCardRequest, now time.Time) (*models.Card, error) {
	holder := strings.TrimSpace(req.HolderName)
	if holder == "" {
		return nil, errs.Validation("Card holder name is required")
	}
	if utf8.RuneCountInString(holder) > maxHolderLength {
		return nil, errs.Validation("Card holder name must be at most %d characters", maxHolderLength)
	}

	expiry := req.ExpiryDate
	if expiry.IsZero() {
		expiry = utils.GenerateExpiryDate(now, utils.DefaultCardValidityYears)
	}
	expiry = models.DateOf(expiry)
	if expiry.Before(models.DateOf(now)) {
		return nil, errs.Validation("Expiry date cannot be in the past")
	}

	status := req.Status
	if status == "" {
		status = models.CardStatusActive
	}
	if status != models.CardStatusActive && status != models.CardStatusBlocked {
		return nil, errs.Validation("Card cannot be created with status %s", status)
	}

	balance := decimal.Zero
	if req.InitialBalance != nil {
		balance = *req.InitialBalance
	}
	if balance.IsNegative() {
		return nil, errs.Validation("Initial balance cannot be negative")
	}
	if err := checkScale(balance, "Initial balance"); err != nil {
		return nil, err
	}
	if err := checkLimit(balance, "Initial balance"); err != nil {
		return nil, err
	}

	return &models.Card{
		HolderName: holder,
		ExpiryDate: expiry,
		Status:     status,
		Balance:    balance,
		OwnerID:    req.OwnerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (l *CardLedger) insertGiven(ctx context.Context, card *models.Card, number, cvv string) error {
	if !utils.ValidateCardNumber(number) {
		return errs.Validation("Invalid card number")
	}
	if err := l.sealSecrets(card, utils.CleanCardNumber(number), cvv); err != nil {
		return err
	}

	exists, err := l.store.CardNumberExists(ctx, card.Number)
	if err != nil {
		return err
	}
	if exists {
		return errs.Conflict("Card with this number already exists")
	}
	return l.store.SaveCard(ctx, card)
}

func (l *CardLedger) insertGenerated(ctx context.Context, card *models.Card, cvv string) error {
	if cvv == "" {
		var err error
		if cvv, err = utils.GenerateCVV(); err != nil {
			return fmt.Errorf("failed to generate CVV: %w", err)
		}
	}

	for attempt := 1; attempt <= generateAttempts; attempt++ {
		number, err := utils.GenerateCardNumber()
		if err != nil {
			return fmt.Errorf("failed to generate card number: %w", err)
		}
		if err := l.sealSecrets(card, number, cvv); err != nil {
			return err
		}

		err = l.store.SaveCard(ctx, card)
		if !errors.Is(err, errs.ErrConflict) {
			return err
		}
		l.log.Warnf("Generated card number collided, attempt %d", attempt)
	}
	return errs.Conflict("Could not generate a unique card number")
}

func (l *CardLedger) sealSecrets(card *models.Card, number, cvv string) error {
	enc, err := l.codec.Encrypt(number)
	if err != nil {
		return err
	}
	card.Number = enc
	card.CVV = ""

	if cvv == "" {
		return nil
	}
	if !utils.ValidateCVV(cvv) {
		return errs.Validation("CVV must be 3 digits")
	}
	if card.CVV, err = l.codec.Encrypt(cvv); err != nil {
		return err
	}
	return nil
}

// Get returns the masked projection of a card
func (l *CardLedger) Get(ctx context.Context, p models.Principal, cardID int64) (*models.CardView, error) {
	card, err := l.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if err := authz.Check(p, card.OwnerID, authz.CardView); err != nil {
		return nil, err
	}
	l.reconcileExpiry(card)
	return l.view(card)
}

// ListByOwner lists the cards of ownerID, optionally narrowed to a status
func (l *CardLedger) ListByOwner(ctx context.Context, p models.Principal, ownerID int64, status models.CardStatus, page models.Page) (*models.PageResult[models.CardView], error) {
	if err := authz.Check(p, ownerID, authz.CardList); err != nil {
		return nil, err
	}
	return l.list(ctx, repository.CardFilter{OwnerID: ownerID, Status: status}, page)
}

// ListMine lists the cards of the requesting principal
func (l *CardLedger) ListMine(ctx context.Context, p models.Principal, status models.CardStatus, page models.Page) (*models.PageResult[models.CardView], error) {
	return l.ListByOwner(ctx, p, p.ID, status, page)
}

// ListAll lists every card. Admin only.
func (l *CardLedger) ListAll(ctx context.Context, p models.Principal, status models.CardStatus, page models.Page) (*models.PageResult[models.CardView], error) {
	if err := authz.Check(p, 0, authz.CardListAll); err != nil {
		return nil, err
	}
	return l.list(ctx, repository.CardFilter{Status: status}, page)
}

func (l *CardLedger) list(ctx context.Context, filter repository.CardFilter, page models.Page) (*models.PageResult[models.CardView], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, errs.Validation("Unknown card status %s", filter.Status)
	}
	filter.AsOf = l.now()
	page = page.Normalize()

	cards, total, err := l.store.FindCards(ctx, filter, page)
	if err != nil {
		return nil, err
	}

	views := make([]models.CardView, 0, len(cards))
	for i := range cards {
		l.reconcileExpiry(&cards[i])
		v, err := l.view(&cards[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return &models.PageResult[models.CardView]{Items: views, Total: total, Page: page.Number, Size: page.Size}, nil
}

// Block moves an active card to blocked
func (l *CardLedger) Block(ctx context.Context, p models.Principal, cardID int64) (*models.CardView, error) {
	return l.SetStatus(ctx, p, cardID, models.CardStatusBlocked)
}

// Activate moves a blocked, unexpired card back to active
func (l *CardLedger) Activate(ctx context.Context, p models.Principal, cardID int64) (*models.CardView, error) {
	return l.SetStatus(ctx, p, cardID, models.CardStatusActive)
}

// SetStatus applies a requested status transition
func (l *CardLedger) SetStatus(ctx context.Context, p models.Principal, cardID int64, target models.CardStatus) (*models.CardView, error) {
	var op authz.Operation
	switch target {
	case models.CardStatusBlocked:
		op = authz.CardBlock
	case models.CardStatusActive:
		op = authz.CardActivate
	case models.CardStatusExpired:
		return nil, errs.Validation("Expired status is assigned automatically and cannot be requested")
	default:
		return nil, errs.Validation("Unknown card status %s", target)
	}

	var card *models.Card
	var ruleErr error
	err := l.locker.WithCards(ctx, []int64{cardID}, func() error {
		return l.store.WithCardLock(ctx, []int64{cardID}, func(tx repository.CardTx) error {
			var err error
			if card, err = tx.GetCard(ctx, cardID); err != nil {
				return err
			}
			if err := authz.Check(p, card.OwnerID, op); err != nil {
				return err
			}
			if l.reconcileExpiry(card) {
				if err := tx.SaveCard(ctx, card); err != nil {
					return err
				}
			}
			// a rejected transition still commits the expiry correction
			if ruleErr = transition(card.Status, target); ruleErr != nil {
				return nil
			}
			card.Status = target
			card.UpdatedAt = l.now()
			return tx.SaveCard(ctx, card)
		})
	})
	if err != nil {
		return nil, err
	}
	if ruleErr != nil {
		return nil, ruleErr
	}

	l.log.WithFields(logrus.Fields{"card_id": card.ID, "status": card.Status}).Info("Card status changed")
	return l.view(card)
}

// transition checks the card status state machine
func transition(from, to models.CardStatus) error {
	switch {
	case from == models.CardStatusExpired && to == models.CardStatusActive:
		return errs.Validation("Cannot activate expired card")
	case from == models.CardStatusExpired:
		return errs.Validation("Cannot block expired card")
	case from == to && to == models.CardStatusBlocked:
		return errs.Validation("Card is already blocked")
	case from == to:
		return errs.Validation("Card is already active")
	}
	return nil
}

// Delete hard-removes a card. Admin only.
func (l *CardLedger) Delete(ctx context.Context, p models.Principal, cardID int64) error {
	err := l.locker.WithCards(ctx, []int64{cardID}, func() error {
		return l.store.WithCardLock(ctx, []int64{cardID}, func(tx repository.CardTx) error {
			card, err := tx.GetCard(ctx, cardID)
			if err != nil {
				return err
			}
			if err := authz.Check(p, card.OwnerID, authz.CardDelete); err != nil {
				return err
			}
			l.reconcileExpiry(card)
			return tx.DeleteCard(ctx, cardID)
		})
	})
	if err != nil {
		return err
	}

	l.log.WithField("card_id", cardID).Info("Card deleted")
	return nil
}

// GetBalance returns the current balance of a card
func (l *CardLedger) GetBalance(ctx context.Context, p models.Principal, cardID int64) (decimal.Decimal, error) {
	card, err := l.store.GetCard(ctx, cardID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := authz.Check(p, card.OwnerID, authz.CardBalance); err != nil {
		return decimal.Zero, err
	}
	l.reconcileExpiry(card)
	return card.Balance, nil
}

// reconcileExpiry marks a card whose expiry date has passed as expired and
// reports whether it changed anything.
func (l *CardLedger) reconcileExpiry(card *models.Card) bool {
	now := l.now()
	if card.Status == models.CardStatusExpired || !card.ExpiredAt(now) {
		return false
	}
	card.Status = models.CardStatusExpired
	card.UpdatedAt = now
	return true
}

// mutateBalance adds delta to the balance of a card inside tx. The caller
// must hold the card lock and keep the result non-negative.
func (l *CardLedger) mutateBalance(ctx context.Context, tx repository.CardTx, cardID int64, delta decimal.Decimal) (*models.Card, error) {
	card, err := tx.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	balance := card.Balance.Add(delta)
	if balance.IsNegative() {
		return nil, errs.InsufficientFunds("Insufficient funds on the source card")
	}
	if balance.GreaterThanOrEqual(maxMoney) {
		return nil, errs.Validation("Card balance limit exceeded")
	}
	card.Balance = balance
	card.UpdatedAt = l.now()
	if err := tx.SaveCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// view decrypts and masks the card number. A card whose ciphertext cannot be
// decrypted is an integrity fault and is never returned.
func (l *CardLedger) view(card *models.Card) (*models.CardView, error) {
	masked, err := l.maskStored(card.Number)
	if err != nil {
		l.log.WithField("card_id", card.ID).Errorf("Failed to decrypt card number: %v", err)
		return nil, err
	}
	return &models.CardView{
		ID:           card.ID,
		MaskedNumber: masked,
		HolderName:   card.HolderName,
		ExpiryDate:   utils.FormatExpiryDate(card.ExpiryDate),
		Status:       card.Status,
		Balance:      card.Balance,
		OwnerID:      card.OwnerID,
		CreatedAt:    card.CreatedAt,
		UpdatedAt:    card.UpdatedAt,
	}, nil
}

func (l *CardLedger) maskStored(ciphertext string) (string, error) {
	number, err := l.codec.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return utils.MaskCardNumber(number), nil
}

// checkLimit rejects amounts the balance column cannot hold
func checkLimit(amount decimal.Decimal, what string) error {
	if amount.GreaterThanOrEqual(maxMoney) {
		return errs.Validation("%s exceeds %s", what, maxMoney.Sub(decimal.New(1, -2)).StringFixed(2))
	}
	return nil
}

// checkScale rejects amounts with more than two fractional digits
func checkScale(amount decimal.Decimal, what string) error {
	if !amount.Equal(amount.Truncate(2)) {
		return errs.Validation("%s must have at most 2 decimal places", what)
	}
	return nil
}
