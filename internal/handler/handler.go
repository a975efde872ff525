package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Dan9191/bank-cards/internal/errs"
	"github.com/Dan9191/bank-cards/internal/middleware"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handler exposes the card, transfer and auth services over HTTP
type Handler struct {
	auth   *service.AuthService
	cards  *service.CardLedger
	engine *service.TransferEngine
	log    *logrus.Logger
}

func NewHandler(auth *service.AuthService, cards *service.CardLedger, engine *service.TransferEngine, log *logrus.Logger) *Handler {
	return &Handler{auth: auth, cards: cards, engine: engine, log: log}
}

// Routes registers every endpoint on r. Everything outside /auth requires a
// bearer token.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.Refresh).Methods(http.MethodPost)

	api := r.PathPrefix("/").Subrouter()
	api.Use(middleware.AuthMiddleware(h.auth))

	api.HandleFunc("/cards", h.handle(h.createCard)).Methods(http.MethodPost)
	api.HandleFunc("/cards", h.handle(h.listAllCards)).Methods(http.MethodGet)
	api.HandleFunc("/cards/my", h.handle(h.listMyCards)).Methods(http.MethodGet)
	api.HandleFunc("/cards/user/{userId:[0-9]+}", h.handle(h.listUserCards)).Methods(http.MethodGet)
	api.HandleFunc("/cards/{id:[0-9]+}", h.handle(h.getCard)).Methods(http.MethodGet)
	api.HandleFunc("/cards/{id:[0-9]+}", h.handle(h.deleteCard)).Methods(http.MethodDelete)
	api.HandleFunc("/cards/{id:[0-9]+}/block", h.handle(h.blockCard)).Methods(http.MethodPut)
	api.HandleFunc("/cards/{id:[0-9]+}/activate", h.handle(h.activateCard)).Methods(http.MethodPut)
	api.HandleFunc("/cards/{id:[0-9]+}/balance", h.handle(h.getBalance)).Methods(http.MethodGet)

	api.HandleFunc("/transfers", h.handle(h.createTransfer)).Methods(http.MethodPost)
	api.HandleFunc("/transfers/my", h.handle(h.listMyTransfers)).Methods(http.MethodGet)
	api.HandleFunc("/transfers/{id:[0-9]+}", h.handle(h.getTransfer)).Methods(http.MethodGet)
	api.HandleFunc("/transfers/card/{cardId:[0-9]+}", h.handle(h.listCardTransfers)).Methods(http.MethodGet)
	api.HandleFunc("/transfers/date-range", h.handle(h.listTransfersByDate)).Methods(http.MethodGet)
	api.HandleFunc("/transfers/status/{status}", h.handle(h.listTransfersByStatus)).Methods(http.MethodGet)
}

// Response is the JSON envelope of every reply
type Response struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Data    any      `json:"data,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Response{Success: true, Message: message, Data: data})
}

// writeError maps an error kind onto a status code. Internal and codec
// failures are logged and answered with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.WithField("request_id", middleware.RequestID(r.Context())).Errorf("%s %s failed: %v", r.Method, r.URL.Path, err)
		msg = "Internal server error"
	}
	writeJSON(w, status, Response{Success: false, Message: msg})
}

func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuthentication:
		return http.StatusUnauthorized
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case errs.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Validation("Invalid request body: %v", err)
	}
	return nil
}

func principal(r *http.Request) (models.Principal, error) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		return models.Principal{}, errs.Authentication("Authentication required")
	}
	return p, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.Validation("Invalid %s", name)
	}
	return id, nil
}

func pageOf(r *http.Request) (models.Page, error) {
	var page models.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"page": &page.Number, "size": &page.Size} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, errs.Validation("Invalid %s parameter", name)
		}
		*dst = n
	}
	if page.Number > models.MaxPageNumber {
		return page, errs.Validation("Page number must not exceed %d", models.MaxPageNumber)
	}
	return page.Normalize(), nil
}

// handle resolves the principal and reports any error of fn
func (h *Handler) handle(fn func(w http.ResponseWriter, r *http.Request, p models.Principal) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err == nil {
			err = fn(w, r, p)
		}
		if err != nil {
			h.writeError(w, r, err)
		}
	}
}
