package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/bank-cards/internal/errs"
	"github.com/Dan9191/bank-cards/internal/models"
)

// Memory is an in-process Store and UserStore. It backs the tests and
// single-node runs without a database.
type Memory struct {
	mu        sync.RWMutex
	cards     map[int64]models.Card
	transfers map[int64]models.Transfer
	users     map[int64]models.User
	nextID    int64

	lockMu    sync.Mutex
	cardLocks map[int64]*sync.Mutex
}

var (
	_ Store     = (*Memory)(nil)
	_ UserStore = (*Memory)(nil)
)

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		cards:     make(map[int64]models.Card),
		transfers: make(map[int64]models.Transfer),
		users:     make(map[int64]models.User),
		cardLocks: make(map[int64]*sync.Mutex),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateUser stores a new user, rejecting taken usernames and emails
func (m *Memory) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Username, user.Username) {
			return errs.Conflict("Username already exists")
		}
		if user.Email != "" && strings.EqualFold(u.Email, user.Email) {
			return errs.Conflict("Email already exists")
		}
	}
	now := time.Now()
	user.ID = m.id()
	user.CreatedAt, user.UpdatedAt = now, now
	m.users[user.ID] = *user
	return nil
}

// FindUserByID retrieves a user by id
func (m *Memory) FindUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, errs.NotFound("User", id)
	}
	return &u, nil
}

// FindUserByUsername retrieves a user by username
func (m *Memory) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, errs.NotFound("User", username)
}

// GetCard retrieves a card by id
func (m *Memory) GetCard(_ context.Context, id int64) (*models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cards[id]
	if !ok {
		return nil, errs.NotFound("Card", id)
	}
	return &c, nil
}

// CardNumberExists checks whether a card with the encrypted number is stored
func (m *Memory) CardNumberExists(_ context.Context, encryptedNumber string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.numberTaken(encryptedNumber, 0, nil), nil
}

// numberTaken reports whether number belongs to a card other than except.
// staged overrides the committed cards when not nil.
func (m *Memory) numberTaken(number string, except int64, staged map[int64]models.Card) bool {
	for id, c := range m.cards {
		if s, ok := staged[id]; ok {
			c = s
		}
		if id != except && c.Number == number {
			return true
		}
	}
	for id, c := range staged {
		if _, committed := m.cards[id]; !committed && id != except && c.Number == number {
			return true
		}
	}
	return false
}

// SaveCard inserts or updates a card
func (m *Memory) SaveCard(_ context.Context, card *models.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saveCardLocked(card, nil)
}

func (m *Memory) saveCardLocked(card *models.Card, staged map[int64]models.Card) error {
	if card.ID != 0 {
		_, committed := m.cards[card.ID]
		_, pending := staged[card.ID]
		if !committed && !pending {
			return errs.NotFound("Card", card.ID)
		}
	}
	if m.numberTaken(card.Number, card.ID, staged) {
		return errs.Conflict("Card with this number already exists")
	}
	if card.ID == 0 {
		card.ID = m.id()
	}
	if staged != nil {
		staged[card.ID] = *card
	} else {
		m.cards[card.ID] = *card
	}
	return nil
}

// FindCards lists cards matching filter, newest first
func (m *Memory) FindCards(_ context.Context, filter CardFilter, page models.Page) ([]models.Card, int, error) {
	page = page.Normalize()
	asOf := filter.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	m.mu.RLock()
	matched := make([]models.Card, 0, len(m.cards))
	for _, c := range m.cards {
		if filter.OwnerID != 0 && c.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" {
			status := c.Status
			if c.ExpiredAt(asOf) {
				status = models.CardStatusExpired
			}
			if status != filter.Status {
				continue
			}
		}
		matched = append(matched, c)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return window(matched, page), len(matched), nil
}

// DeleteCard removes a card
func (m *Memory) DeleteCard(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cards[id]; !ok {
		return errs.NotFound("Card", id)
	}
	delete(m.cards, id)
	return nil
}

// GetTransfer retrieves a transfer by id
func (m *Memory) GetTransfer(_ context.Context, id int64) (*models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transfers[id]
	if !ok {
		return nil, errs.NotFound("Transfer", id)
	}
	return &t, nil
}

// SaveTransfer appends a transfer record
func (m *Memory) SaveTransfer(_ context.Context, transfer *models.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	transfer.ID = m.id()
	m.transfers[transfer.ID] = *transfer
	return nil
}

// FindTransfers lists transfers matching filter, newest first
func (m *Memory) FindTransfers(_ context.Context, filter TransferFilter, page models.Page) ([]models.Transfer, int, error) {
	page = page.Normalize()

	m.mu.RLock()
	matched := make([]models.Transfer, 0)
	for _, t := range m.transfers {
		if t.InitiatorID != filter.InitiatorID {
			continue
		}
		if filter.CardID != 0 && t.FromCardID != filter.CardID && t.ToCardID != filter.CardID {
			continue
		}
		if !filter.From.IsZero() && t.TransferDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && t.TransferDate.After(filter.To) {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		matched = append(matched, t)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].TransferDate.Equal(matched[j].TransferDate) {
			return matched[i].TransferDate.After(matched[j].TransferDate)
		}
		return matched[i].ID > matched[j].ID
	})
	return window(matched, page), len(matched), nil
}

// WithCardLock serializes fn against every other WithCardLock call touching
// one of ids. Writes made through the CardTx become visible only if fn
// returns nil.
func (m *Memory) WithCardLock(ctx context.Context, ids []int64, fn func(tx CardTx) error) error {
	ordered := lockOrder(ids)
	locks := make([]*sync.Mutex, 0, len(ordered))

	m.lockMu.Lock()
	for _, id := range ordered {
		l, ok := m.cardLocks[id]
		if !ok {
			l = &sync.Mutex{}
			m.cardLocks[id] = l
		}
		locks = append(locks, l)
	}
	m.lockMu.Unlock()

	for _, l := range locks {
		l.Lock()
		defer l.Unlock()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{m: m, cards: make(map[int64]models.Card), deleted: make(map[int64]struct{})}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range tx.cards {
		m.cards[id] = c
	}
	for id := range tx.deleted {
		delete(m.cards, id)
	}
	for _, t := range tx.transfers {
		m.transfers[t.ID] = t
	}
	return nil
}

// memTx stages writes until WithCardLock commits them
type memTx struct {
	m         *Memory
	cards     map[int64]models.Card
	deleted   map[int64]struct{}
	transfers []models.Transfer
}

func (tx *memTx) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	if _, gone := tx.deleted[id]; gone {
		return nil, errs.NotFound("Card", id)
	}
	if c, ok := tx.cards[id]; ok {
		return &c, nil
	}
	return tx.m.GetCard(ctx, id)
}

func (tx *memTx) SaveCard(_ context.Context, card *models.Card) error {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()

	return tx.m.saveCardLocked(card, tx.cards)
}

func (tx *memTx) SaveTransfer(_ context.Context, transfer *models.Transfer) error {
	tx.m.mu.Lock()
	transfer.ID = tx.m.id()
	tx.m.mu.Unlock()

	tx.transfers = append(tx.transfers, *transfer)
	return nil
}

func (tx *memTx) DeleteCard(ctx context.Context, id int64) error {
	if _, err := tx.GetCard(ctx, id); err != nil {
		return err
	}
	delete(tx.cards, id)
	tx.deleted[id] = struct{}{}
	return nil
}

func window[T any](items []T, page models.Page) []T {
	start := page.Offset()
	if start < 0 || start >= len(items) {
		return []T{}
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
