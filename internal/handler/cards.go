package handler

import (
	"net/http"
	"strings"

	"github.com/Dan9191/bank-cards/internal/errs"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/shopspring/decimal"
)

// createCardRequest accepts the expiry date as MM/YY or YYYY-MM-DD
type createCardRequest struct {
	UserID         int64             `json:"user_id"`
	CardNumber     string            `json:"card_number"`
	CardHolder     string            `json:"card_holder"`
	ExpiryDate     string            `json:"expiry_date"`
	CVV            string            `json:"cvv"`
	InitialBalance *decimal.Decimal  `json:"initial_balance"`
	Status         models.CardStatus `json:"status"`
}

type balanceResponse struct {
	CardID  int64  `json:"card_id"`
	Balance string `json:"balance"`
}

func (h *Handler) createCard(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	var body createCardRequest
	if err := decode(r, &body); err != nil {
		return err
	}

	req := models.CreateCardRequest{
		OwnerID:        body.UserID,
		Number:         body.CardNumber,
		HolderName:     body.CardHolder,
		CVV:            body.CVV,
		InitialBalance: body.InitialBalance,
		Status:         models.CardStatus(strings.ToUpper(string(body.Status))),
	}
	if body.ExpiryDate != "" {
		expiry, err := utils.ParseExpiryDate(body.ExpiryDate)
		if err != nil {
			return errs.Validation("%v", err)
		}
		req.ExpiryDate = expiry
	}

	card, err := h.cards.Create(r.Context(), p, req)
	if err != nil {
		return err
	}
	writeData(w, http.StatusCreated, "Card created successfully", card)
	return nil
}

func (h *Handler) getCard(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	card, err := h.cards.Get(r.Context(), p, id)
	if err != nil {
		return err
	}
	writeData(w, http.StatusOK, "", card)
	return nil
}

func (h *Handler) listAllCards(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	page, err := pageOf(r)
	if err != nil {
		return err
	}
	cards, err := h.cards.ListAll(r.Context(), p, statusParam(r), page)
	if err != nil {
		return err
	}
	writeData(w, http.StatusOK, "", cards)
	return nil
}

func (h *Handler) listMyCards(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	page, err := pageOf(r)
	if err != nil {
		return err
	}
	cards, err := h.cards.ListMine(r.Context(), p, statusParam(r), page)
	if err != nil {
		return err
	}
	writeData(w, http.StatusOK, "", cards)
	return nil
}

func (h *Handler) listUserCards(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	userID, err := pathID(r, "userId")
	if err != nil {
		return err
	}
	page, err := pageOf(r)
	if err != nil {
		return err
	}
	cards, err := h.cards.ListByOwner(r.Context(), p, userID, statusParam(r), page)
	if err != nil {
		return err
	}
	writeData(w, http.StatusOK, "", cards)
	return nil
}

func (h *Handler) blockCard(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	card, err := h.cards.Block(r.Context(), p, id)
	if err != nil {
		return err
	}
	writeData(w, http.StatusOK, "Card blocked successfully", card)
	return nil
}

func (h *Handler) activateCard(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	card, err := h.cards.Activate(r.Context(), p, id)
	if err != nil {
		return err
	}
	writeData(w, http.StatusOK, "Card activated successfully", card)
	return nil
}

func (h *Handler) deleteCard(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := h.cards.Delete(r.Context(), p, id); err != nil {
		return err
	}
	writeData(w, http.StatusOK, "Card deleted successfully", nil)
	return nil
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request, p models.Principal) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	balance, err := h.cards.GetBalance(r.Context(), p, id)
	if err != nil {
		return err
	}
	writeData(w, http.StatusOK, "", balanceResponse{CardID: id, Balance: balance.StringFixed(2)})
	return nil
}

func statusParam(r *http.Request) models.CardStatus {
	return models.CardStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
}
