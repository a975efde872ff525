package service

import (
	"context"
	"testing"
	"time"

	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	visa       = "4111111111111111"
	mastercard = "5555555555554444"
	visaAlt    = "4012888888881881"
)

type fixture struct {
	store  *repository.Memory
	ledger *CardLedger
	engine *TransferEngine
	auth   *AuthService
	clock  time.Time

	user  models.Principal
	other models.Principal
	admin models.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	key, err := utils.ParseCipherKey("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6")
	require.NoError(t, err)
	codec, err := utils.NewFieldCodec(key)
	require.NoError(t, err)

	f := &fixture{
		store: repository.NewMemory(),
		clock: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	f.ledger = NewCardLedger(f.store, f.store, codec, nil, logger)
	f.ledger.now = func() time.Time { return f.clock }
	f.engine = NewTransferEngine(f.store, f.store, f.ledger, nil, nil, RetryPolicy{MaxAttempts: 3}, logger)

	cfg := &config.Config{JWTSecret: "test-secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: 24 * time.Hour}
	f.auth = NewAuthService(f.store, logger, cfg)
	f.auth.now = func() time.Time { return f.clock }

	f.user = f.addUser(t, "ivan", models.RoleUser)
	f.other = f.addUser(t, "petr", models.RoleUser)
	f.admin = f.addUser(t, "admin", models.RoleAdmin)
	return f
}

func (f *fixture) addUser(t *testing.T, username string, role models.Role) models.Principal {
	t.Helper()
	u := &models.User{Username: username, Email: username + "@example.com", Role: role, Active: true}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return models.Principal{ID: u.ID, Role: role}
}

func (f *fixture) createCard(t *testing.T, owner models.Principal, number, balance string) *models.CardView {
	t.Helper()
	b := decimal.RequireFromString(balance)
	view, err := f.ledger.Create(context.Background(), owner, models.CreateCardRequest{
		Number:         number,
		HolderName:     "IVAN IVANOV",
		ExpiryDate:     f.clock.AddDate(2, 0, 0),
		InitialBalance: &b,
	})
	require.NoError(t, err)
	return view
}

func (f *fixture) storedCard(t *testing.T, id int64) *models.Card {
	t.Helper()
	card, err := f.store.GetCard(context.Background(), id)
	require.NoError(t, err)
	return card
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
