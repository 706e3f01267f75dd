package repo

import (
	"context"
	"time"

	"github.com/sigaire/pushalerts/internal/domain"
)

// Ports (interfaces). The memory, redis and postgres adapters implement them.

// SubscriptionStore holds one record per push subscription plus a set
// index of all ids. No retries happen here; errors go to the caller.
type SubscriptionStore interface {
	ListIDs(ctx context.Context) ([]domain.SubscriptionID, error)
	// Get returns nil, nil when no record exists.
	Get(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error)
	Put(ctx context.Context, sub *domain.Subscription) error
	Delete(ctx context.Context, id domain.SubscriptionID) error
	AddToIndex(ctx context.Context, id domain.SubscriptionID) error
	// RemoveFromIndex is a no-op for ids that were never indexed.
	RemoveFromIndex(ctx context.Context, id domain.SubscriptionID) error
}

// ClaimLedger is the per-subscription, per-tag, per-day send guard.
type ClaimLedger interface {
	// Claim atomically creates the entry for (id, tag, day) if absent and
	// reports whether this call created it.
	Claim(ctx context.Context, id domain.SubscriptionID, tag, day string, ttl time.Duration) (bool, error)
}

// Probe is a write-then-read round trip used by the store health check.
type Probe interface {
	Probe(ctx context.Context, value string) (string, error)
}

// Backend bundles everything a storage adapter provides.
type Backend interface {
	SubscriptionStore
	ClaimLedger
	Probe
	Close() error
}

// ClaimKey is the ledger key layout shared by the key-value adapters.
func ClaimKey(id domain.SubscriptionID, tag, day string) string {
	return "sent:" + string(id) + ":" + tag + ":" + day
}

const (
	IndexKey = "subs:all"
	ProbeKey = "sigaire:test"
)
