package repo

import (
	"context"

	"go.uber.org/multierr"

	"github.com/sigaire/pushalerts/internal/domain"
)

// Prune removes a subscription from both the index and the record store.
// Both steps are attempted even if the first one fails.
func Prune(ctx context.Context, s SubscriptionStore, id domain.SubscriptionID) error {
	return multierr.Append(
		s.RemoveFromIndex(ctx, id),
		s.Delete(ctx, id),
	)
}
