package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/service"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router *mux.Router
	auth   *service.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	key, err := utils.ParseCipherKey("00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	codec, err := utils.NewFieldCodec(key)
	require.NoError(t, err)

	store := repository.NewMemory()
	cfg := &config.Config{JWTSecret: "handler-secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: 24 * time.Hour}
	auth := service.NewAuthService(store, logger, cfg)
	ledger := service.NewCardLedger(store, store, codec, nil, logger)
	engine := service.NewTransferEngine(store, store, ledger, nil, nil, service.RetryPolicy{MaxAttempts: 1}, logger)

	r := mux.NewRouter()
	NewHandler(auth, ledger, engine, logger).Routes(r)
	return &testServer{router: r, auth: auth}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (s *testServer) register(t *testing.T, username string) string {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@mail.test",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var resp models.AuthResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	return resp.Token
}

func (s *testServer) createCard(t *testing.T, token string, body map[string]any) models.CardView {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/cards", token, body)
	require.Equal(t, http.StatusCreated, code, env.Message)
	var card models.CardView
	require.NoError(t, json.Unmarshal(env.Data, &card))
	return card
}

func TestAuthEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "anna")

	code, env := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "anna", "email": "anna@mail.test", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)

	code, _ = s.do(t, http.MethodPost, "/auth/register", "", map[string]string{"username": "bob", "nickname": "b"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "anna", "password": "secret123"})
	require.Equal(t, http.StatusOK, code)
	var login models.AuthResponse
	require.NoError(t, json.Unmarshal(env.Data, &login))
	assert.Equal(t, models.RoleUser, login.Role)

	code, env = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "anna", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid username or password", env.Message)

	code, _ = s.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": login.RefreshToken})
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": login.Token})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/cards/my", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)

	code, _ = s.do(t, http.MethodGet, "/cards/my", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCardAndTransferFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "anna")

	from := s.createCard(t, token, map[string]any{
		"card_number":     "4111 1111 1111 1111",
		"card_holder":     "ANNA PETROVA",
		"expiry_date":     "2099-12-31",
		"initial_balance": "1000",
	})
	assert.Equal(t, "**** **** **** 1111", from.MaskedNumber)
	assert.Equal(t, models.CardStatusActive, from.Status)
	to := s.createCard(t, token, map[string]any{"card_holder": "ANNA PETROVA"})
	assert.Len(t, to.MaskedNumber, len("**** **** **** 0000"))

	code, env := s.do(t, http.MethodGet, "/cards/my", token, nil)
	require.Equal(t, http.StatusOK, code)
	var mine models.PageResult[models.CardView]
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	assert.Equal(t, 2, mine.Total)

	code, env = s.do(t, http.MethodPost, "/transfers", token, map[string]any{
		"from_card_id": from.ID,
		"to_card_id":   to.ID,
		"amount":       "250.50",
		"description":  "savings",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var transfer models.TransferView
	require.NoError(t, json.Unmarshal(env.Data, &transfer))
	assert.Equal(t, models.TransferStatusCompleted, transfer.Status)
	assert.Equal(t, "**** **** **** 1111", transfer.FromCardMasked)

	for id, want := range map[int64]string{from.ID: "749.50", to.ID: "250.50"} {
		code, env = s.do(t, http.MethodGet, fmt.Sprintf("/cards/%d/balance", id), token, nil)
		require.Equal(t, http.StatusOK, code)
		var bal balanceResponse
		require.NoError(t, json.Unmarshal(env.Data, &bal))
		assert.Equal(t, want, bal.Balance)
	}

	code, env = s.do(t, http.MethodGet, fmt.Sprintf("/transfers/%d", transfer.ID), token, nil)
	assert.Equal(t, http.StatusOK, code, env.Message)

	window := url.Values{}
	window.Set("from", time.Now().UTC().Add(-time.Hour).Format(time.RFC3339))
	window.Set("to", time.Now().UTC().Add(time.Hour).Format(time.RFC3339))
	listings := []string{
		"/transfers/my",
		fmt.Sprintf("/transfers/card/%d", to.ID),
		"/transfers/date-range?" + window.Encode(),
		"/transfers/status/completed",
	}
	for _, path := range listings {
		code, env = s.do(t, http.MethodGet, path, token, nil)
		require.Equal(t, http.StatusOK, code, path)
		var page models.PageResult[models.TransferView]
		require.NoError(t, json.Unmarshal(env.Data, &page))
		assert.Equal(t, 1, page.Total, path)
	}

	code, _ = s.do(t, http.MethodPost, "/transfers", token, map[string]any{
		"from_card_id": to.ID, "to_card_id": from.ID, "amount": "1000",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = s.do(t, http.MethodPut, fmt.Sprintf("/cards/%d/block", from.ID), token, nil)
	require.Equal(t, http.StatusOK, code)
	code, env = s.do(t, http.MethodPost, "/transfers", token, map[string]any{
		"from_card_id": from.ID, "to_card_id": to.ID, "amount": "1",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Source card is not active", env.Message)
}

func TestOwnershipIsEnforced(t *testing.T) {
	s := newTestServer(t)
	anna := s.register(t, "anna")
	boris := s.register(t, "boris")

	card := s.createCard(t, anna, map[string]any{"card_holder": "ANNA PETROVA", "initial_balance": "10"})

	code, env := s.do(t, http.MethodGet, fmt.Sprintf("/cards/%d", card.ID), boris, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "You don't have access to this card", env.Message)

	code, _ = s.do(t, http.MethodGet, "/cards", anna, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodPut, fmt.Sprintf("/cards/%d/activate", card.ID), anna, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/cards/%d", card.ID), anna, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodGet, "/cards/999", anna, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminManagesCards(t *testing.T) {
	s := newTestServer(t)
	anna := s.register(t, "anna")
	require.NoError(t, s.auth.EnsureAdmin(context.Background(), "root", "root@mail.test", "rootpass"))
	admin, err := s.auth.Login(context.Background(), "root", "rootpass")
	require.NoError(t, err)

	code, env := s.do(t, http.MethodGet, "/cards/my", anna, nil)
	require.Equal(t, http.StatusOK, code)
	var empty models.PageResult[models.CardView]
	require.NoError(t, json.Unmarshal(env.Data, &empty))
	assert.Zero(t, empty.Total)

	p, err := s.auth.ResolvePrincipal(context.Background(), anna)
	require.NoError(t, err)
	card := s.createCard(t, admin.Token, map[string]any{
		"user_id":     p.ID,
		"card_holder": "ANNA PETROVA",
		"status":      "blocked",
		"expiry_date": "12/40",
	})
	assert.Equal(t, p.ID, card.OwnerID)
	assert.Equal(t, models.CardStatusBlocked, card.Status)
	assert.Equal(t, "12/40", card.ExpiryDate)

	code, env = s.do(t, http.MethodGet, fmt.Sprintf("/cards/user/%d?status=BLOCKED", p.ID), admin.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var owned models.PageResult[models.CardView]
	require.NoError(t, json.Unmarshal(env.Data, &owned))
	assert.Equal(t, 1, owned.Total)

	code, _ = s.do(t, http.MethodPut, fmt.Sprintf("/cards/%d/activate", card.ID), admin.Token, nil)
	assert.Equal(t, http.StatusOK, code)
	code, env = s.do(t, http.MethodPut, fmt.Sprintf("/cards/%d/activate", card.ID), admin.Token, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Card is already active", env.Message)

	code, env = s.do(t, http.MethodGet, "/cards?size=5", admin.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var all models.PageResult[models.CardView]
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Equal(t, 1, all.Total)
	assert.Equal(t, 5, all.Size)

	code, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/cards/%d", card.ID), admin.Token, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, fmt.Sprintf("/cards/%d", card.ID), admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestParseInstant(t *testing.T) {
	from, err := parseInstant("2025-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), from)

	to, err := parseInstant("2025-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 23, 59, 59, 999999999, time.UTC), to)

	_, err = parseInstant("", false)
	assert.Error(t, err)
	_, err = parseInstant("01.03.2025", false)
	assert.Error(t, err)
}

func TestListingRejectsOutOfRangePages(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "anna")
	s.createCard(t, token, map[string]any{"card_holder": "ANNA PETROVA"})

	for _, query := range []string{"page=92233720368547759&size=100", "page=-1", "size=-5", "page=abc"} {
		code, env := s.do(t, http.MethodGet, "/cards/my?"+query, token, nil)
		assert.Equal(t, http.StatusBadRequest, code, query)
		assert.False(t, env.Success, query)

		code, _ = s.do(t, http.MethodGet, "/transfers/my?"+query, token, nil)
		assert.Equal(t, http.StatusBadRequest, code, query)
	}

	code, env := s.do(t, http.MethodGet, fmt.Sprintf("/cards/my?page=%d&size=100", models.MaxPageNumber), token, nil)
	require.Equal(t, http.StatusOK, code)
	var page models.PageResult[models.CardView]
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 1, page.Total)
	assert.Empty(t, page.Items)
}
