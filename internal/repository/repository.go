package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/bank-cards/internal/errs"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/lib/pq"
)

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var (
	_ Store     = (*Repository)(nil)
	_ UserStore = (*Repository)(nil)
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const cardColumns = `id, card_number, cvv, card_holder, expiry_date, status, balance, user_id, created_at, updated_at`

const transferColumns = `id, from_card_id, to_card_id, from_card_number, to_card_number, amount, status, user_id, description, transfer_date`

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO bank.users (username, email, password_hash, first_name, last_name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, user.Username, user.Email, user.PasswordHash,
		user.FirstName, user.LastName, user.Role, user.Active).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return classify("failed to create user", err)
	}
	return nil
}

// FindUserByID retrieves a user by id
func (r *Repository) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findUser(ctx, "id = $1", id)
}

// FindUserByUsername retrieves a user by username
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findUser(ctx, "username = $1", username)
}

func (r *Repository) findUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, first_name, last_name, role, is_active, created_at, updated_at
		FROM bank.users
		WHERE ` + where
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
			&user.Role, &user.Active, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("User", arg)
	}
	if err != nil {
		return nil, classify("failed to find user", err)
	}
	return user, nil
}

// GetCard retrieves a card by id
func (r *Repository) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	return getCard(ctx, r.db, id)
}

// CardNumberExists checks whether a card with the encrypted number is stored
func (r *Repository) CardNumberExists(ctx context.Context, encryptedNumber string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bank.cards WHERE card_number = $1)`, encryptedNumber).
		Scan(&exists)
	if err != nil {
		return false, classify("failed to check card number", err)
	}
	return exists, nil
}

// SaveCard inserts or updates a card
func (r *Repository) SaveCard(ctx context.Context, card *models.Card) error {
	return saveCard(ctx, r.db, card)
}

// FindCards lists cards matching filter, newest first
func (r *Repository) FindCards(ctx context.Context, filter CardFilter, page models.Page) ([]models.Card, int, error) {
	page = page.Normalize()
	asOf := filter.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	where := []string{"TRUE"}
	args := []any{}
	if filter.OwnerID != 0 {
		args = append(args, filter.OwnerID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, models.DateOf(asOf), filter.Status)
		where = append(where, fmt.Sprintf(
			"(CASE WHEN expiry_date < $%d THEN 'EXPIRED' ELSE status END) = $%d", len(args)-1, len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bank.cards WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, classify("failed to count cards", err)
	}

	args = append(args, page.Size, page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM bank.cards WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		cardColumns, cond, len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, classify("failed to list cards", err)
	}
	defer rows.Close()

	cards := make([]models.Card, 0, page.Size)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, 0, classify("failed to scan card", err)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("failed to list cards", err)
	}
	return cards, total, nil
}

// DeleteCard removes a card
func (r *Repository) DeleteCard(ctx context.Context, id int64) error {
	return deleteCard(ctx, r.db, id)
}

func deleteCard(ctx context.Context, q querier, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM bank.cards WHERE id = $1`, id)
	if err != nil {
		return classify("failed to delete card", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("failed to delete card", err)
	}
	if n == 0 {
		return errs.NotFound("Card", id)
	}
	return nil
}

// GetTransfer retrieves a transfer by id
func (r *Repository) GetTransfer(ctx context.Context, id int64) (*models.Transfer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM bank.transfers WHERE id = $1`, id)
	t, err := scanTransfer(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("Transfer", id)
	}
	if err != nil {
		return nil, classify("failed to get transfer", err)
	}
	return t, nil
}

// SaveTransfer appends a transfer record
func (r *Repository) SaveTransfer(ctx context.Context, transfer *models.Transfer) error {
	return saveTransfer(ctx, r.db, transfer)
}

// FindTransfers lists transfers matching filter, newest first
func (r *Repository) FindTransfers(ctx context.Context, filter TransferFilter, page models.Page) ([]models.Transfer, int, error) {
	page = page.Normalize()

	where := []string{"user_id = $1"}
	args := []any{filter.InitiatorID}
	if filter.CardID != 0 {
		args = append(args, filter.CardID)
		where = append(where, fmt.Sprintf("(from_card_id = $%d OR to_card_id = $%d)", len(args), len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("transfer_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("transfer_date <= $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bank.transfers WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, classify("failed to count transfers", err)
	}

	args = append(args, page.Size, page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM bank.transfers WHERE %s ORDER BY transfer_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		transferColumns, cond, len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, classify("failed to list transfers", err)
	}
	defer rows.Close()

	transfers := make([]models.Transfer, 0, page.Size)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, classify("failed to scan transfer", err)
		}
		transfers = append(transfers, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("failed to list transfers", err)
	}
	return transfers, total, nil
}

// WithCardLock runs fn in a transaction holding row locks on the given cards.
// Locks are taken in ascending id order so two transfers over the same pair of
// cards in opposite directions cannot deadlock.
func (r *Repository) WithCardLock(ctx context.Context, ids []int64, fn func(tx CardTx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("failed to begin card transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`SELECT id FROM bank.cards WHERE id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(lockOrder(ids))); err != nil {
		return classify("failed to lock cards", err)
	}

	if err = fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return classify("failed to commit card transaction", err)
	}
	return nil
}

// txStore is the CardTx handed to WithCardLock callbacks
type txStore struct {
	tx *sql.Tx
}

func (s *txStore) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	return getCard(ctx, s.tx, id)
}

func (s *txStore) SaveCard(ctx context.Context, card *models.Card) error {
	return saveCard(ctx, s.tx, card)
}

func (s *txStore) SaveTransfer(ctx context.Context, transfer *models.Transfer) error {
	return saveTransfer(ctx, s.tx, transfer)
}

func (s *txStore) DeleteCard(ctx context.Context, id int64) error {
	return deleteCard(ctx, s.tx, id)
}

func getCard(ctx context.Context, q querier, id int64) (*models.Card, error) {
	row := q.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM bank.cards WHERE id = $1`, id)
	card, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("Card", id)
	}
	if err != nil {
		return nil, classify("failed to get card", err)
	}
	return card, nil
}

func saveCard(ctx context.Context, q querier, card *models.Card) error {
	cvv := sql.NullString{String: card.CVV, Valid: card.CVV != ""}

	if card.ID == 0 {
		query := `
			INSERT INTO bank.cards (card_number, cvv, card_holder, expiry_date, status, balance, user_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`
		err := q.QueryRowContext(ctx, query, card.Number, cvv, card.HolderName, card.ExpiryDate, card.Status,
			card.Balance, card.OwnerID, card.CreatedAt, card.UpdatedAt).Scan(&card.ID)
		if err != nil {
			return classify("failed to create card", err)
		}
		return nil
	}

	query := `
		UPDATE bank.cards
		SET card_number = $2, cvv = $3, card_holder = $4, expiry_date = $5, status = $6, balance = $7, updated_at = $8
		WHERE id = $1`
	res, err := q.ExecContext(ctx, query, card.ID, card.Number, cvv, card.HolderName, card.ExpiryDate, card.Status,
		card.Balance, card.UpdatedAt)
	if err != nil {
		return classify("failed to update card", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("failed to update card", err)
	}
	if n == 0 {
		return errs.NotFound("Card", card.ID)
	}
	return nil
}

func saveTransfer(ctx context.Context, q querier, t *models.Transfer) error {
	query := `
		INSERT INTO bank.transfers (from_card_id, to_card_id, from_card_number, to_card_number, amount, status, user_id, description, transfer_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	err := q.QueryRowContext(ctx, query, t.FromCardID, t.ToCardID, t.FromNumber, t.ToNumber, t.Amount, t.Status,
		t.InitiatorID, sql.NullString{String: t.Description, Valid: t.Description != ""}, t.TransferDate).Scan(&t.ID)
	if err != nil {
		return classify("failed to create transfer", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(s scanner) (*models.Card, error) {
	card := &models.Card{}
	var cvv sql.NullString
	if err := s.Scan(&card.ID, &card.Number, &cvv, &card.HolderName, &card.ExpiryDate, &card.Status,
		&card.Balance, &card.OwnerID, &card.CreatedAt, &card.UpdatedAt); err != nil {
		return nil, err
	}
	card.CVV = cvv.String
	return card, nil
}

func scanTransfer(s scanner) (*models.Transfer, error) {
	t := &models.Transfer{}
	var description sql.NullString
	if err := s.Scan(&t.ID, &t.FromCardID, &t.ToCardID, &t.FromNumber, &t.ToNumber, &t.Amount, &t.Status,
		&t.InitiatorID, &description, &t.TransferDate); err != nil {
		return nil, err
	}
	t.Description = description.String
	return t, nil
}

const (
	stringTooLong        = "22001"
	numericOutOfRange    = "22003"
	uniqueViolation      = "23505"
	checkViolation       = "23514"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	lockNotAvailable     = "55P03"
)

// classify maps driver errors onto error kinds
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			return errs.Conflict(conflictMessage(pqErr.Constraint))
		case checkViolation:
			return errs.Validation("%s: constraint %s violated", op, pqErr.Constraint)
		case stringTooLong, numericOutOfRange:
			return errs.Validation("%s: %s", op, pqErr.Message)
		case serializationFailure, deadlockDetected, lockNotAvailable:
			return errs.Transient(op, err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return errs.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func conflictMessage(constraint string) string {
	switch constraint {
	case "uq_cards_card_number":
		return "Card with this number already exists"
	case "uq_users_username":
		return "Username already exists"
	case "uq_users_email":
		return "Email already exists"
	default:
		return "Record already exists"
	}
}
