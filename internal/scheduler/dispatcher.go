package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sigaire/pushalerts/internal/alerts"
	"github.com/sigaire/pushalerts/internal/domain"
	"github.com/sigaire/pushalerts/internal/notify"
	"github.com/sigaire/pushalerts/internal/push"
	"github.com/sigaire/pushalerts/internal/repo"
	"github.com/sigaire/pushalerts/internal/weather"
)

const dayLayout = "2006-01-02"

type DispatcherConfig struct {
	Concurrency int
	// DedupeLocation decides which calendar day a claim belongs to.
	DedupeLocation *time.Location
	ClaimTTL       time.Duration
	// URL opened when the notification is clicked.
	URL string
}

type DispatchOptions struct {
	TestMode bool
}

// Run is the outcome of one dispatch pass.
type Run struct {
	ID      string
	Results []domain.SubscriptionResult
	Pruned  int
}

func (r *Run) totals() (pushes, errs int) {
	for _, res := range r.Results {
		pushes += res.Pushes
		errs += res.Errors
	}
	return pushes, errs
}

type Dispatcher struct {
	logger   *zap.Logger
	store    repo.SubscriptionStore
	ledger   repo.ClaimLedger
	weather  weather.Provider
	sender   push.Sender
	notifier notify.Notifier
	cfg      DispatcherConfig
	now      func() time.Time
}

func NewDispatcher(
	logger *zap.Logger,
	store repo.SubscriptionStore,
	ledger repo.ClaimLedger,
	wp weather.Provider,
	sender push.Sender,
	notifier notify.Notifier,
	cfg DispatcherConfig,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.DedupeLocation == nil {
		cfg.DedupeLocation = time.UTC
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 24 * time.Hour
	}
	if cfg.URL == "" {
		cfg.URL = "/"
	}
	return &Dispatcher{
		logger:   logger,
		store:    store,
		ledger:   ledger,
		weather:  wp,
		sender:   sender,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock swaps the time source used for the dedupe day.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch evaluates every indexed subscription once. Store and ledger
// errors abort the run; delivery failures are only counted. Results keep
// index order and leave out pruned subscriptions.
func (d *Dispatcher) Dispatch(ctx context.Context, opts DispatchOptions) (*Run, error) {
	run := &Run{ID: uuid.NewString()}
	log := d.logger.With(zap.String("run_id", run.ID), zap.Bool("test_mode", opts.TestMode))

	ids, err := d.store.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	day := d.now().In(d.cfg.DedupeLocation).Format(dayLayout)
	log.Info("dispatch_started", zap.Int("subscriptions", len(ids)), zap.String("day", day))

	slots := make([]*domain.SubscriptionResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			res, err := d.processOne(gctx, log, id, day, opts)
			if err != nil {
				return fmt.Errorf("subscription %s: %w", id, err)
			}
			slots[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("dispatch_failed", zap.Error(err))
		return nil, err
	}

	run.Results = make([]domain.SubscriptionResult, 0, len(ids))
	for _, res := range slots {
		if res == nil {
			run.Pruned++
			continue
		}
		run.Results = append(run.Results, *res)
	}

	pushes, errs := run.totals()
	log.Info("dispatch_finished",
		zap.Int("processed", len(run.Results)),
		zap.Int("pruned", run.Pruned),
		zap.Int("pushes", pushes),
		zap.Int("errors", errs),
	)
	d.summarize(ctx, log, run)
	return run, nil
}

// processOne returns nil when the subscription was pruned as invalid.
func (d *Dispatcher) processOne(ctx context.Context, log *zap.Logger, id domain.SubscriptionID, day string, opts DispatchOptions) (*domain.SubscriptionResult, error) {
	sub, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	if !sub.Valid() {
		log.Info("subscription_pruned", zap.String("id", string(id)), zap.String("reason", "invalid"))
		if err := repo.Prune(ctx, d.store, id); err != nil {
			return nil, fmt.Errorf("prune: %w", err)
		}
		return nil, nil
	}

	conds := d.weather.Conditions(ctx, sub.Location)
	candidates := alerts.Decide(conds, alerts.Options{TestMode: opts.TestMode})

	res := &domain.SubscriptionResult{ID: id}
	for _, a := range candidates {
		// a cancelled run must not spend claims it cannot deliver
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		granted, err := d.ledger.Claim(ctx, id, a.Tag, day, d.cfg.ClaimTTL)
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", a.Tag, err)
		}
		if !granted {
			log.Debug("alert_already_sent", zap.String("id", string(id)), zap.String("tag", a.Tag))
			continue
		}

		err = d.sender.Send(ctx, sub, a.Payload(d.cfg.URL))
		if err == nil {
			res.Pushes++
			continue
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("send %s: %w", a.Tag, cerr)
		}
		res.Errors++
		log.Warn("push_failed", zap.String("id", string(id)), zap.String("tag", a.Tag), zap.Error(err))

		if push.IsPermanent(err) {
			log.Info("subscription_pruned", zap.String("id", string(id)), zap.String("reason", "gone"))
			if err := repo.Prune(ctx, d.store, id); err != nil {
				return nil, fmt.Errorf("prune: %w", err)
			}
			// the endpoint is gone, remaining candidates would fail too
			break
		}
	}
	return res, nil
}

// summarize posts a short report when a run saw failures or pruning.
func (d *Dispatcher) summarize(ctx context.Context, log *zap.Logger, run *Run) {
	if d.notifier == nil {
		return
	}
	pushes, errs := run.totals()
	if errs == 0 && run.Pruned == 0 {
		return
	}
	text := fmt.Sprintf(
		"Run: %s\nSubscriptions: %d\nPushes: %d\nErrors: %d\nPruned invalid: %d",
		run.ID, len(run.Results), pushes, errs, run.Pruned,
	)
	if err := d.notifier.Send(ctx, "⚠️ SIGAIRE dispatch issues", text); err != nil {
		log.Warn("summary_notify_failed", zap.Error(err))
	}
}
