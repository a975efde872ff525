package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/Dan9191/bank-cards/internal/errs"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/gorilla/mux"
)

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	var req models.TransferRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	transfer, err := h.engine.CreateTransfer(r.Context(), p, req)
	if err != nil {
		return err
	}
	writeData(w, http.StatusCreated, "Transfer completed successfully", transfer)
	return nil
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	transfer, err := h.engine.GetTransfer(r.Context(), p, id)
	if err != nil {
		return err
	}
	writeData(w, http.StatusOK, "", transfer)
	return nil
}

func (h *Handler) listMyTransfers(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	page, err := pageOf(r)
	if err != nil {
		return err
	}
	transfers, err := h.engine.ListByOwner(r.Context(), p, page)
	if err != nil {
		return err
	}
	writeData(w, http.StatusOK, "", transfers)
	return nil
}

func (h *Handler) listCardTransfers(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	cardID, err := pathID(r, "cardId")
	if err != nil {
		return err
	}
	page, err := pageOf(r)
	if err != nil {
		return err
	}
	transfers, err := h.engine.ListByCard(r.Context(), p, cardID, page)
	if err != nil {
		return err
	}
	writeData(w, http.StatusOK, "", transfers)
	return nil
}

func (h *Handler) listTransfersByDate(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	q := r.URL.Query()
	from, err := parseInstant(q.Get("from"), false)
	if err != nil {
		return err
	}
	to, err := parseInstant(q.Get("to"), true)
	if err != nil {
		return err
	}
	page, err := pageOf(r)
	if err != nil {
		return err
	}
	transfers, err := h.engine.ByDateRange(r.Context(), p, from, to, page)
	if err != nil {
		return err
	}
	writeData(w, http.StatusOK, "", transfers)
	return nil
}

func (h *Handler) listTransfersByStatus(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	status := models.TransferStatus(strings.ToUpper(mux.Vars(r)["status"]))
	page, err := pageOf(r)
	if err != nil {
		return err
	}
	transfers, err := h.engine.ByStatus(r.Context(), p, status, page)
	if err != nil {
		return err
	}
	writeData(w, http.StatusOK, "", transfers)
	return nil
}

// parseInstant accepts RFC 3339 timestamps or bare dates. A bare date used as
// an upper bound covers the whole day.
func parseInstant(value string, endOfDay bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, errs.Validation("Both from and to parameters are required")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, errs.Validation("Invalid date %q, expected RFC 3339 or YYYY-MM-DD", value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
