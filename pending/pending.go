// Package pending implements the pending-request cache that correlates an
// initiated authentication flow with the callback that later completes it.
// Each initiation stores a single-use Entry under a fresh unguessable state
// id; the callback consumes the entry exactly once. Replayed, forged and
// expired state ids all fail identically, so a callback URL cannot be used to
// probe what the server still remembers.
package pending

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"
	gocache "github.com/patrickmn/go-cache"
)

var (
	// ErrInvalidParameter is returned for invalid cache parameters.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoEntry is returned by Consume when the state id is unknown,
	// already consumed, or expired. The three cases are deliberately
	// indistinguishable.
	ErrNoEntry = errors.New("no pending request")
)

// DefaultSweepInterval is how often the background janitor removes expired
// entries. Sweeping is an eviction optimization only; expiry is always
// enforced at read time.
const DefaultSweepInterval = time.Minute

// Entry is one pending authentication flow awaiting its callback.
type Entry struct {
	// HandlerID identifies the handler that created the entry.
	HandlerID string

	// CreatedAt is when the flow was initiated.
	CreatedAt time.Time

	// Data is handler-defined correlation data, e.g. an OAuth code
	// verifier and the post-login redirect target.
	Data any
}

// Cache stores pending entries keyed by state id. It is safe for concurrent
// use; Consume is linearizable, so two concurrent consumers of the same state
// id cannot both succeed.
type Cache struct {
	mu    sync.Mutex
	store *gocache.Cache
}

// NewCache creates a pending-request cache.
//
// Supported options: WithSweepInterval.
func NewCache(opt ...Option) *Cache {
	opts := getOpts(opt...)
	return &Cache{
		// no default TTL: every Create names its own
		store: gocache.New(gocache.NoExpiration, opts.withSweepInterval),
	}
}

// Create stores a new pending entry and returns its fresh state id. State ids
// are unguessable and unique for the lifetime of the process.
func (c *Cache) Create(handlerID string, data any, ttl time.Duration) (string, error) {
	const op = "pending.(Cache).Create"
	if handlerID == "" {
		return "", fmt.Errorf("%s: missing handler id: %w", op, ErrInvalidParameter)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%s: ttl not greater than zero: %w", op, ErrInvalidParameter)
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state id: %w", op, err)
	}
	id = "st_" + id
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Add(id, Entry{
		HandlerID: handlerID,
		CreatedAt: time.Now(),
		Data:      data,
	}, ttl); err != nil {
		// a colliding random UUID; cryptographically negligible
		return "", fmt.Errorf("%s: state id collision: %w", op, err)
	}
	return id, nil
}

// Consume atomically retrieves and deletes the entry for stateID. An entry
// can be consumed at most once; later calls, and calls after the entry's ttl
// has elapsed, fail with ErrNoEntry.
func (c *Cache) Consume(stateID string) (Entry, error) {
	const op = "pending.(Cache).Consume"
	c.mu.Lock()
	defer c.mu.Unlock()
	// Get never returns an expired item, which is the only expiry contract
	// callers rely on; the janitor just reclaims memory
	v, ok := c.store.Get(stateID)
	if !ok {
		return Entry{}, fmt.Errorf("%s: %w", op, ErrNoEntry)
	}
	c.store.Delete(stateID)
	entry, ok := v.(Entry)
	if !ok {
		return Entry{}, fmt.Errorf("%s: %w", op, ErrNoEntry)
	}
	return entry, nil
}
