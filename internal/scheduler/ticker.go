package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Ticker runs the dispatcher on a fixed interval for deployments without
// an external cron.
type Ticker struct {
	Logger     *zap.Logger
	Dispatcher interface {
		Dispatch(context.Context, DispatchOptions) (*Run, error)
	}
	Interval time.Duration
}

// Run does an immediate pass, then one per tick, until ctx is cancelled.
// A zero interval disables the loop.
func (t *Ticker) Run(ctx context.Context) {
	if t.Interval <= 0 {
		t.Logger.Info("dispatch_ticker_disabled")
		return
	}
	tk := time.NewTicker(t.Interval)
	defer tk.Stop()

	t.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			t.Logger.Info("dispatch_ticker_stopped")
			return
		case <-tk.C:
			t.runOnce(ctx)
		}
	}
}

func (t *Ticker) runOnce(ctx context.Context) {
	if _, err := t.Dispatcher.Dispatch(ctx, DispatchOptions{}); err != nil && ctx.Err() == nil {
		t.Logger.Warn("dispatch_tick_error", zap.Error(err))
	}
}
