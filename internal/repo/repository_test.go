package repo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sigaire/pushalerts/internal/domain"
	"github.com/sigaire/pushalerts/internal/repo"
	"github.com/sigaire/pushalerts/internal/repo/memory"
	pg "github.com/sigaire/pushalerts/internal/repo/postgres"
	rds "github.com/sigaire/pushalerts/internal/repo/redis"
)

// Compile-time interface satisfaction checks.
// Using external test package avoids import cycle.
func TestInterfaceSatisfaction(t *testing.T) {
	var _ repo.Backend = memory.New()
	var _ repo.Backend = (*pg.Store)(nil)
	var _ repo.Backend = (*rds.Store)(nil)
}

func TestClaimKey(t *testing.T) {
	got := repo.ClaimKey("sub:abc", domain.TagRain, "2025-08-18")
	if got != "sent:sub:abc:rain-today:2025-08-18" {
		t.Fatalf("unexpected key: %s", got)
	}
}

type failingStore struct {
	repo.SubscriptionStore
	removed, deleted bool
}

func (f *failingStore) RemoveFromIndex(ctx context.Context, id domain.SubscriptionID) error {
	f.removed = true
	return errors.New("index down")
}

func (f *failingStore) Delete(ctx context.Context, id domain.SubscriptionID) error {
	f.deleted = true
	return errors.New("records down")
}

func TestPrune_AttemptsBothAndCombinesErrors(t *testing.T) {
	f := &failingStore{}
	err := repo.Prune(context.Background(), f, "sub:x")
	if !f.removed || !f.deleted {
		t.Fatalf("both steps should run: removed=%v deleted=%v", f.removed, f.deleted)
	}
	if err == nil || err.Error() != "index down; records down" {
		t.Fatalf("unexpected combined error: %v", err)
	}
}

func TestPrune_MemoryStore(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	sub := &domain.Subscription{ID: "sub:p", Endpoint: "https://p"}
	_ = s.Put(ctx, sub)
	_ = s.AddToIndex(ctx, sub.ID)

	if err := repo.Prune(ctx, s, sub.ID); err != nil {
		t.Fatalf("prune: %v", err)
	}
	// second prune is a no-op
	if err := repo.Prune(ctx, s, sub.ID); err != nil {
		t.Fatalf("prune twice: %v", err)
	}
	ids, _ := s.ListIDs(ctx)
	got, _ := s.Get(ctx, sub.ID)
	if len(ids) != 0 || got != nil {
		t.Fatalf("expected empty store, ids=%v rec=%v", ids, got)
	}
}
