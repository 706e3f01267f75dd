package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sigaire/pushalerts/internal/domain"
	"github.com/sigaire/pushalerts/internal/push"
	"github.com/sigaire/pushalerts/internal/repo"
)

// BroadcastResult is one subscription's outcome of a broadcast.
type BroadcastResult struct {
	ID    domain.SubscriptionID `json:"id"`
	OK    bool                  `json:"ok"`
	Error string                `json:"error,omitempty"`
}

// Broadcast pushes one payload to every valid subscription without
// consulting the claim ledger. Invalid and gone subscriptions are pruned
// the same way Dispatch prunes them.
func (d *Dispatcher) Broadcast(ctx context.Context, payload domain.Payload) ([]BroadcastResult, error) {
	log := d.logger.With(zap.String("broadcast_tag", payload.Tag))

	ids, err := d.store.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	slots := make([]*BroadcastResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			sub, err := d.store.Get(gctx, id)
			if err != nil {
				return fmt.Errorf("subscription %s: load: %w", id, err)
			}
			if !sub.Valid() {
				log.Info("subscription_pruned", zap.String("id", string(id)), zap.String("reason", "invalid"))
				return repo.Prune(gctx, d.store, id)
			}

			res := &BroadcastResult{ID: id, OK: true}
			if err := d.sender.Send(gctx, sub, payload); err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return fmt.Errorf("subscription %s: send: %w", id, cerr)
				}
				res.OK, res.Error = false, err.Error()
				log.Warn("push_failed", zap.String("id", string(id)), zap.Error(err))
				if push.IsPermanent(err) {
					log.Info("subscription_pruned", zap.String("id", string(id)), zap.String("reason", "gone"))
					if err := repo.Prune(gctx, d.store, id); err != nil {
						return fmt.Errorf("subscription %s: prune: %w", id, err)
					}
				}
			}
			slots[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]BroadcastResult, 0, len(ids))
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	log.Info("broadcast_finished", zap.Int("sent", len(out)))
	return out, nil
}
