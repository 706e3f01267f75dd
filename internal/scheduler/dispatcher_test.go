package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sigaire/pushalerts/internal/domain"
	"github.com/sigaire/pushalerts/internal/push"
	"github.com/sigaire/pushalerts/internal/repo/memory"
)

// --- fakes ---

type fakeWeather struct {
	byCity map[string]domain.Conditions
}

func (f *fakeWeather) Conditions(_ context.Context, loc domain.Location) domain.Conditions {
	return f.byCity[loc.City]
}

type sent struct {
	id  domain.SubscriptionID
	tag string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  func(sub *domain.Subscription) error
}

func (f *fakeSender) Send(_ context.Context, sub *domain.Subscription, p domain.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{id: sub.ID, tag: p.Tag})
	if f.err != nil {
		return f.err(sub)
	}
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeNotifier) Send(_ context.Context, title, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, title+"\n"+text)
	return nil
}

func iptr(v int) *int { return &v }

var runDay = time.Date(2025, 8, 18, 9, 0, 0, 0, time.UTC)

func addSub(t *testing.T, st *memory.Store, endpoint, city string) domain.SubscriptionID {
	t.Helper()
	sub := &domain.Subscription{
		ID:       domain.SubscriptionIDFor(endpoint),
		Endpoint: endpoint,
		Keys:     domain.Keys{P256dh: "p", Auth: "a"},
		Location: domain.Location{City: city},
	}
	ctx := context.Background()
	if err := st.Put(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if err := st.AddToIndex(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	return sub.ID
}

func newTestDispatcher(st *memory.Store, wp *fakeWeather, s *fakeSender, n *fakeNotifier) *Dispatcher {
	return NewDispatcher(zap.NewNop(), st, st, wp, s, n, DispatcherConfig{Concurrency: 4}).
		WithClock(func() time.Time { return runDay })
}

// --- tests ---

func TestDispatch_SendsOncePerTagPerDay(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	id := addSub(t, st, "https://push.example/1", "Lima")
	wp := &fakeWeather{byCity: map[string]domain.Conditions{
		"Lima": {RainProbability: iptr(75), AQI: iptr(40), AQICategory: domain.AQIGood},
	}}
	snd := &fakeSender{}
	d := newTestDispatcher(st, wp, snd, nil)

	run, err := d.Dispatch(ctx, DispatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Results) != 1 || run.Results[0] != (domain.SubscriptionResult{ID: id, Pushes: 1}) {
		t.Fatalf("first run: %+v", run.Results)
	}
	if len(snd.sent) != 1 || snd.sent[0].tag != domain.TagRain {
		t.Fatalf("sent: %+v", snd.sent)
	}
	if granted, _ := st.Claim(ctx, id, domain.TagRain, "2025-08-18", time.Hour); granted {
		t.Fatal("rain claim should already be held for the day")
	}

	run, err = d.Dispatch(ctx, DispatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Results[0] != (domain.SubscriptionResult{ID: id, Pushes: 0}) {
		t.Fatalf("second run: %+v", run.Results)
	}
	if len(snd.sent) != 1 {
		t.Fatalf("expected no new sends, got %d total", len(snd.sent))
	}
}

func TestDispatch_PrunesInvalidSubscriptions(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	good := addSub(t, st, "https://push.example/good", "")

	broken := &domain.Subscription{ID: "sub:broken", Endpoint: "https://push.example/b", Keys: domain.Keys{P256dh: "p"}}
	_ = st.Put(ctx, broken)
	_ = st.AddToIndex(ctx, broken.ID)
	noEndpoint := &domain.Subscription{ID: "sub:noendpoint", Keys: domain.Keys{P256dh: "p", Auth: "a"}}
	_ = st.Put(ctx, noEndpoint)
	_ = st.AddToIndex(ctx, noEndpoint.ID)
	_ = st.AddToIndex(ctx, "sub:dangling")

	n := &fakeNotifier{}
	d := newTestDispatcher(st, &fakeWeather{}, &fakeSender{}, n)
	run, err := d.Dispatch(ctx, DispatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Results) != 1 || run.Results[0].ID != good || run.Pruned != 3 {
		t.Fatalf("results %+v pruned %d", run.Results, run.Pruned)
	}
	ids, _ := st.ListIDs(ctx)
	if len(ids) != 1 || ids[0] != good {
		t.Fatalf("index after prune: %v", ids)
	}
	for _, id := range []domain.SubscriptionID{broken.ID, noEndpoint.ID} {
		if got, _ := st.Get(ctx, id); got != nil {
			t.Fatalf("invalid record %s should be deleted", id)
		}
	}
	if len(n.texts) != 1 {
		t.Fatalf("expected one summary, got %d", len(n.texts))
	}
}

func TestDispatch_PermanentFailurePrunesAndStops(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	id := addSub(t, st, "https://push.example/gone", "Lima")
	wp := &fakeWeather{byCity: map[string]domain.Conditions{"Lima": {RainProbability: iptr(90)}}}
	snd := &fakeSender{err: func(*domain.Subscription) error {
		return &push.TransportError{StatusCode: http.StatusGone}
	}}
	n := &fakeNotifier{}
	d := newTestDispatcher(st, wp, snd, n)

	run, err := d.Dispatch(ctx, DispatchOptions{TestMode: true})
	if err != nil {
		t.Fatal(err)
	}
	if run.Results[0] != (domain.SubscriptionResult{ID: id, Errors: 1}) {
		t.Fatalf("result: %+v", run.Results[0])
	}
	if len(snd.sent) != 1 || snd.sent[0].tag != domain.TagTest {
		t.Fatalf("remaining candidates should be skipped: %+v", snd.sent)
	}
	if got, _ := st.Get(ctx, id); got != nil {
		t.Fatal("gone subscription should be deleted")
	}
	if ids, _ := st.ListIDs(ctx); len(ids) != 0 {
		t.Fatalf("index: %v", ids)
	}
	if len(n.texts) != 1 {
		t.Fatal("expected summary notification")
	}
}

func TestDispatch_TransientFailureKeepsSubscription(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	id := addSub(t, st, "https://push.example/flaky", "Lima")
	wp := &fakeWeather{byCity: map[string]domain.Conditions{"Lima": {AQI: iptr(120), AQICategory: domain.AQISensitive}}}
	snd := &fakeSender{err: func(*domain.Subscription) error {
		return &push.TransportError{StatusCode: http.StatusInternalServerError}
	}}
	d := newTestDispatcher(st, wp, snd, nil)

	run, err := d.Dispatch(ctx, DispatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Results[0] != (domain.SubscriptionResult{ID: id, Errors: 1}) {
		t.Fatalf("result: %+v", run.Results[0])
	}
	if got, _ := st.Get(ctx, id); got == nil {
		t.Fatal("transient failure must not delete the subscription")
	}
}

func TestDispatch_NoCandidatesIsSilent(t *testing.T) {
	st := memory.New()
	id := addSub(t, st, "https://push.example/quiet", "Lima")
	wp := &fakeWeather{byCity: map[string]domain.Conditions{"Lima": {RainProbability: iptr(10), AQI: iptr(20)}}}
	snd := &fakeSender{}
	n := &fakeNotifier{}

	run, err := newTestDispatcher(st, wp, snd, n).Dispatch(context.Background(), DispatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Results[0] != (domain.SubscriptionResult{ID: id}) || len(snd.sent) != 0 || len(n.texts) != 0 {
		t.Fatalf("results %+v sent %d notes %d", run.Results, len(snd.sent), len(n.texts))
	}
}

func TestDispatch_ConcurrentResultsKeepIndexOrder(t *testing.T) {
	st := memory.New()
	for i := 0; i < 20; i++ {
		addSub(t, st, fmt.Sprintf("https://push.example/%02d", i), "Lima")
	}
	want, _ := st.ListIDs(context.Background())
	wp := &fakeWeather{byCity: map[string]domain.Conditions{"Lima": {RainProbability: iptr(65)}}}
	snd := &fakeSender{}

	run, err := newTestDispatcher(st, wp, snd, nil).Dispatch(context.Background(), DispatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Results) != len(want) {
		t.Fatalf("want %d results, got %d", len(want), len(run.Results))
	}
	for i, res := range run.Results {
		if res.ID != want[i] || res.Pushes != 1 {
			t.Fatalf("slot %d: %+v", i, res)
		}
	}
}

type failingStore struct{ *memory.Store }

func (failingStore) ListIDs(context.Context) ([]domain.SubscriptionID, error) {
	return nil, errors.New("store unavailable")
}

func TestDispatch_StoreErrorAborts(t *testing.T) {
	st := memory.New()
	d := NewDispatcher(zap.NewNop(), failingStore{st}, st, &fakeWeather{}, &fakeSender{}, nil, DispatcherConfig{})
	if _, err := d.Dispatch(context.Background(), DispatchOptions{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDispatch_DedupeDayFollowsLocation(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	id := addSub(t, st, "https://push.example/tz", "Lima")
	wp := &fakeWeather{byCity: map[string]domain.Conditions{"Lima": {RainProbability: iptr(70)}}}
	lima := time.FixedZone("PET", -5*3600)

	// 02:00 UTC on the 18th is still the 17th in Lima.
	d := NewDispatcher(zap.NewNop(), st, st, wp, &fakeSender{}, nil, DispatcherConfig{DedupeLocation: lima}).
		WithClock(func() time.Time { return time.Date(2025, 8, 18, 2, 0, 0, 0, time.UTC) })
	if _, err := d.Dispatch(ctx, DispatchOptions{}); err != nil {
		t.Fatal(err)
	}
	if granted, _ := st.Claim(ctx, id, domain.TagRain, "2025-08-17", time.Hour); granted {
		t.Fatal("claim should be recorded under the local day")
	}
}

func TestDispatch_CancelledRunKeepsClaims(t *testing.T) {
	st := memory.New()
	id := addSub(t, st, "https://push.example/late", "Lima")
	wp := &fakeWeather{byCity: map[string]domain.Conditions{"Lima": {RainProbability: iptr(75)}}}
	snd := &fakeSender{}
	d := newTestDispatcher(st, wp, snd, nil)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Dispatch(cancelled, DispatchOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(snd.sent) != 0 {
		t.Fatalf("cancelled run sent %+v", snd.sent)
	}

	run, err := d.Dispatch(context.Background(), DispatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Results[0] != (domain.SubscriptionResult{ID: id, Pushes: 1}) {
		t.Fatalf("retry run: %+v", run.Results)
	}
}

func TestDispatch_CancelDuringSendFailsRun(t *testing.T) {
	st := memory.New()
	addSub(t, st, "https://push.example/slow", "Lima")
	wp := &fakeWeather{byCity: map[string]domain.Conditions{"Lima": {RainProbability: iptr(75)}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snd := &fakeSender{err: func(*domain.Subscription) error {
		cancel()
		return fmt.Errorf("post: %w", context.Canceled)
	}}
	d := newTestDispatcher(st, wp, snd, nil)

	run, err := d.Dispatch(ctx, DispatchOptions{})
	if !errors.Is(err, context.Canceled) || run != nil {
		t.Fatalf("expected a failed run, got %+v %v", run, err)
	}
}
