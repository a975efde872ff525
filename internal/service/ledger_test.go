package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Dan9191/bank-cards/internal/errs"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCard(t *testing.T) {
	f := newFixture(t)
	view := f.createCard(t, f.user, "4111 1111 1111 1111", "1000.00")

	assert.NotZero(t, view.ID)
	assert.Equal(t, "**** **** **** 1111", view.MaskedNumber)
	assert.Equal(t, models.CardStatusActive, view.Status)
	assert.True(t, view.Balance.Equal(dec("1000")))
	assert.Equal(t, f.user.ID, view.OwnerID)
	assert.Equal(t, "06/27", view.ExpiryDate)

	stored := f.storedCard(t, view.ID)
	assert.NotContains(t, stored.Number, "1111")
	plain, err := f.ledger.codec.Decrypt(stored.Number)
	require.NoError(t, err)
	assert.Equal(t, visa, plain)
}

func TestCreateCardDefaults(t *testing.T) {
	f := newFixture(t)
	view, err := f.ledger.Create(context.Background(), f.user, models.CreateCardRequest{
		Number:     mastercard,
		HolderName: "IVAN IVANOV",
	})
	require.NoError(t, err)

	assert.True(t, view.Balance.IsZero())
	assert.Equal(t, models.CardStatusActive, view.Status)
	stored := f.storedCard(t, view.ID)
	assert.Equal(t, models.DateOf(f.clock.AddDate(3, 0, 0)), stored.ExpiryDate)
	assert.Empty(t, stored.CVV)
}

func TestCreateCardGeneratesNumber(t *testing.T) {
	f := newFixture(t)
	view, err := f.ledger.Create(context.Background(), f.user, models.CreateCardRequest{HolderName: "IVAN IVANOV"})
	require.NoError(t, err)

	stored := f.storedCard(t, view.ID)
	number, err := f.ledger.codec.Decrypt(stored.Number)
	require.NoError(t, err)
	assert.True(t, utils.ValidateCardNumber(number))
	assert.Equal(t, utils.MaskCardNumber(number), view.MaskedNumber)

	cvv, err := f.ledger.codec.Decrypt(stored.CVV)
	require.NoError(t, err)
	assert.True(t, utils.ValidateCVV(cvv))
}

func TestCreateCardValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := f.clock.AddDate(1, 0, 0)
	negative := dec("-1")
	fractional := dec("1.001")
	huge := dec("10000000000000")

	tests := []struct {
		name string
		req  models.CreateCardRequest
	}{
		{"bad luhn", models.CreateCardRequest{Number: "4111111111111112", HolderName: "A", ExpiryDate: future}},
		{"short number", models.CreateCardRequest{Number: "411111111111", HolderName: "A", ExpiryDate: future}},
		{"past expiry", models.CreateCardRequest{Number: visa, HolderName: "A", ExpiryDate: f.clock.AddDate(0, 0, -1)}},
		{"no holder", models.CreateCardRequest{Number: visa, HolderName: "  ", ExpiryDate: future}},
		{"bad cvv", models.CreateCardRequest{Number: visa, HolderName: "A", ExpiryDate: future, CVV: "12a"}},
		{"negative balance", models.CreateCardRequest{Number: visa, HolderName: "A", ExpiryDate: future, InitialBalance: &negative}},
		{"three decimals", models.CreateCardRequest{Number: visa, HolderName: "A", ExpiryDate: future, InitialBalance: &fractional}},
		{"long holder", models.CreateCardRequest{Number: visa, HolderName: strings.Repeat("Я", 101), ExpiryDate: future}},
		{"balance over column limit", models.CreateCardRequest{Number: visa, HolderName: "A", ExpiryDate: future, InitialBalance: &huge}},
		{"expired status", models.CreateCardRequest{Number: visa, HolderName: "A", ExpiryDate: future, Status: models.CardStatusExpired}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Create(ctx, f.user, tt.req)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}

	_, total, err := f.store.FindCards(ctx, repository.CardFilter{}, models.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCreateCardExpiringTodayIsAccepted(t *testing.T) {
	f := newFixture(t)
	view, err := f.ledger.Create(context.Background(), f.user, models.CreateCardRequest{
		Number: visa, HolderName: "A", ExpiryDate: f.clock,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusActive, view.Status)
}

func TestCreateCardDuplicateNumberConflicts(t *testing.T) {
	f := newFixture(t)
	f.createCard(t, f.user, "4111111111111111", "0")

	_, err := f.ledger.Create(context.Background(), f.other, models.CreateCardRequest{
		Number: " 4111 1111\t1111 1111 ", HolderName: "PETR", ExpiryDate: f.clock.AddDate(1, 0, 0),
	})
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestCreateCardForAnotherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := models.CreateCardRequest{OwnerID: f.other.ID, Number: visa, HolderName: "PETR", ExpiryDate: f.clock.AddDate(1, 0, 0)}

	_, err := f.ledger.Create(ctx, f.user, req)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	view, err := f.ledger.Create(ctx, f.admin, req)
	require.NoError(t, err)
	assert.Equal(t, f.other.ID, view.OwnerID)

	req.OwnerID = 9999
	req.Number = mastercard
	_, err = f.ledger.Create(ctx, f.admin, req)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetCardOwnershipIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.createCard(t, f.user, visa, "10.00")

	_, err := f.ledger.Get(ctx, f.other, card.ID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)
	_, err = f.ledger.GetBalance(ctx, f.other, card.ID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)
	_, err = f.ledger.Block(ctx, f.other, card.ID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	got, err := f.ledger.Get(ctx, f.admin, card.ID)
	require.NoError(t, err)
	assert.Equal(t, card.MaskedNumber, got.MaskedNumber)

	balance, err := f.ledger.GetBalance(ctx, f.user, card.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("10")))

	_, err = f.ledger.Get(ctx, f.user, 12345)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.createCard(t, f.user, visa, "0")

	_, err := f.ledger.Activate(ctx, f.admin, card.ID)
	assert.ErrorIs(t, err, errs.ErrValidation, "already active")

	blocked, err := f.ledger.Block(ctx, f.user, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusBlocked, blocked.Status)
	assert.Equal(t, f.clock, blocked.UpdatedAt)

	_, err = f.ledger.Block(ctx, f.user, card.ID)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.EqualError(t, err, "Card is already blocked")

	_, err = f.ledger.Activate(ctx, f.user, card.ID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	active, err := f.ledger.Activate(ctx, f.admin, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusActive, active.Status)

	_, err = f.ledger.SetStatus(ctx, f.admin, card.ID, models.CardStatusExpired)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = f.ledger.SetStatus(ctx, f.admin, card.ID, models.CardStatus("FROZEN"))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestActivateExpiredCardPersistsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.createCard(t, f.user, visa, "0")
	_, err := f.ledger.Block(ctx, f.user, card.ID)
	require.NoError(t, err)

	f.clock = f.clock.AddDate(3, 0, 0)

	_, err = f.ledger.Activate(ctx, f.admin, card.ID)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.EqualError(t, err, "Cannot activate expired card")
	assert.Equal(t, models.CardStatusExpired, f.storedCard(t, card.ID).Status)

	_, err = f.ledger.Block(ctx, f.user, card.ID)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestReadsProjectExpiryWithoutPersisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.createCard(t, f.user, visa, "0")

	f.clock = f.clock.AddDate(2, 0, 1)

	got, err := f.ledger.Get(ctx, f.user, card.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusExpired, got.Status)
	assert.Equal(t, models.CardStatusActive, f.storedCard(t, card.ID).Status)

	page, err := f.ledger.ListMine(ctx, f.user, models.CardStatusExpired, models.Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, models.CardStatusExpired, page.Items[0].Status)

	page, err = f.ledger.ListMine(ctx, f.user, models.CardStatusActive, models.Page{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestListCards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createCard(t, f.user, visa, "0")
	f.clock = f.clock.Add(time.Minute)
	newest := f.createCard(t, f.user, mastercard, "0")
	f.createCard(t, f.other, visaAlt, "0")

	mine, err := f.ledger.ListMine(ctx, f.user, "", models.Page{Size: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, mine.Total)
	require.Len(t, mine.Items, 1)
	assert.Equal(t, newest.ID, mine.Items[0].ID)

	_, err = f.ledger.ListByOwner(ctx, f.user, f.other.ID, "", models.Page{})
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	theirs, err := f.ledger.ListByOwner(ctx, f.admin, f.other.ID, "", models.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, theirs.Total)

	_, err = f.ledger.ListAll(ctx, f.user, "", models.Page{})
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	all, err := f.ledger.ListAll(ctx, f.admin, "", models.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, models.DefaultPageSize, all.Size)

	_, err = f.ledger.ListMine(ctx, f.user, models.CardStatus("LOST"), models.Page{})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestDeleteCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.createCard(t, f.user, visa, "0")

	assert.ErrorIs(t, f.ledger.Delete(ctx, f.user, card.ID), errs.ErrAuthorization)
	require.NoError(t, f.ledger.Delete(ctx, f.admin, card.ID))

	_, err := f.ledger.Get(ctx, f.admin, card.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, f.ledger.Delete(ctx, f.admin, card.ID), errs.ErrNotFound)
}

func TestCreateCardAtColumnLimits(t *testing.T) {
	f := newFixture(t)
	top := dec("9999999999999.99")

	view, err := f.ledger.Create(context.Background(), f.user, models.CreateCardRequest{
		Number: visa, HolderName: strings.Repeat("Я", 100), ExpiryDate: f.clock.AddDate(1, 0, 0), InitialBalance: &top,
	})
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(top))
}

func TestExpiredCardBalanceAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.createCard(t, f.user, visa, "42.50")

	f.clock = f.clock.AddDate(3, 0, 0)

	balance, err := f.ledger.GetBalance(ctx, f.user, card.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("42.50")))
	assert.Equal(t, models.CardStatusActive, f.storedCard(t, card.ID).Status)

	_, err = f.ledger.GetBalance(ctx, f.other, card.ID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	require.NoError(t, f.ledger.Delete(ctx, f.admin, card.ID))
	_, err = f.store.GetCard(ctx, card.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCorruptedCiphertextIsNeverReturned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.createCard(t, f.user, visa, "0")

	stored := f.storedCard(t, card.ID)
	stored.Number = "AAAA" + stored.Number[4:]
	require.NoError(t, f.store.SaveCard(ctx, stored))

	_, err := f.ledger.Get(ctx, f.user, card.ID)
	assert.ErrorIs(t, err, errs.ErrCodec)
}

func TestMutateBalanceRefusesNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.createCard(t, f.user, visa, "5.00")

	err := f.store.WithCardLock(ctx, []int64{card.ID}, func(tx repository.CardTx) error {
		_, err := f.ledger.mutateBalance(ctx, tx, card.ID, dec("-5.01"))
		return err
	})
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
	assert.True(t, f.storedCard(t, card.ID).Balance.Equal(dec("5")))
}

func TestMutateBalanceRefusesColumnOverflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.createCard(t, f.user, visa, "9999999999999.00")

	err := f.store.WithCardLock(ctx, []int64{card.ID}, func(tx repository.CardTx) error {
		_, err := f.ledger.mutateBalance(ctx, tx, card.ID, dec("1.00"))
		return err
	})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.True(t, f.storedCard(t, card.ID).Balance.Equal(dec("9999999999999")))
}
