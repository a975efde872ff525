// Package lock provides cross-process mutual exclusion over card ids, so
// several API replicas do not contend on the same database rows.
package lock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Dan9191/bank-cards/internal/errs"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Locker runs fn while holding a lock on every card in ids
type Locker interface {
	WithCards(ctx context.Context, ids []int64, fn func() error) error
}

// Nop is a Locker that only runs fn. Used when no Redis is configured.
type Nop struct{}

func (Nop) WithCards(_ context.Context, _ []int64, fn func() error) error {
	return fn()
}

// Options tune the Redis lock
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions returns sane defaults for short card operations
func DefaultOptions() Options {
	return Options{
		Expiry:     5 * time.Second,
		Tries:      32,
		RetryDelay: 50 * time.Millisecond,
	}
}

// Redis is a Locker backed by redsync
type Redis struct {
	rs     *redsync.Redsync
	opts   Options
	logger *logrus.Logger
}

// NewRedis builds a Redis locker on an existing client
func NewRedis(client redis.UniversalClient, opts Options, logger *logrus.Logger) *Redis {
	def := DefaultOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

// WithCards acquires one mutex per card in ascending id order, runs fn, then
// releases them in reverse. Failure to acquire is a transient error.
func (r *Redis) WithCards(ctx context.Context, ids []int64, fn func() error) error {
	held := make([]*redsync.Mutex, 0, len(ids))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			if ok, err := held[i].UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
				r.logger.Warnf("Failed to release lock %s: %v", held[i].Name(), err)
			}
		}
	}()

	for _, id := range sortedUnique(ids) {
		m := r.rs.NewMutex(Key(id),
			redsync.WithExpiry(r.opts.Expiry),
			redsync.WithTries(r.opts.Tries),
			redsync.WithRetryDelay(r.opts.RetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return errs.Transient(fmt.Sprintf("card %d is busy", id), err)
		}
		held = append(held, m)
	}

	return fn()
}

// Key is the Redis key guarding a card
func Key(cardID int64) string {
	return fmt.Sprintf("bank-cards:lock:card:%d", cardID)
}

func sortedUnique(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}
