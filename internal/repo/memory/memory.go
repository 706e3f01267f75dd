package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sigaire/pushalerts/internal/domain"
	"github.com/sigaire/pushalerts/internal/repo"
)

// Store keeps subscriptions, the index and claims in process memory.
// Used for local development and tests.
type Store struct {
	mu     sync.RWMutex
	subs   map[domain.SubscriptionID]*domain.Subscription
	index  map[domain.SubscriptionID]struct{}
	claims map[string]time.Time // key -> expiry
	sweep  time.Time            // next eviction of expired claims
	probe  string
	now    func() time.Time
}

func New() *Store {
	return &Store{
		subs:   make(map[domain.SubscriptionID]*domain.Subscription),
		index:  make(map[domain.SubscriptionID]struct{}),
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

// WithClock swaps the time source; tests use it to expire claims.
func (m *Store) WithClock(now func() time.Time) *Store {
	m.now = now
	return m
}

func (m *Store) ListIDs(ctx context.Context) ([]domain.SubscriptionID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SubscriptionID, 0, len(m.index))
	for id := range m.index {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Store) Get(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *Store) Put(ctx context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = m.now().UTC()
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *Store) Delete(ctx context.Context, id domain.SubscriptionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

func (m *Store) AddToIndex(ctx context.Context, id domain.SubscriptionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index[id] = struct{}{}
	return nil
}

func (m *Store) RemoveFromIndex(ctx context.Context, id domain.SubscriptionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.index, id)
	return nil
}

func (m *Store) Claim(ctx context.Context, id domain.SubscriptionID, tag, day string, ttl time.Duration) (bool, error) {
	key := repo.ClaimKey(id, tag, day)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	if !now.Before(m.sweep) {
		for k, exp := range m.claims {
			if !now.Before(exp) {
				delete(m.claims, k)
			}
		}
		m.sweep = now.Add(ttl)
	}
	m.claims[key] = now.Add(ttl)
	return true, nil
}

func (m *Store) Probe(ctx context.Context, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probe = value
	return m.probe, nil
}

func (m *Store) Close() error { return nil }
