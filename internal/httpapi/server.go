package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sigaire/pushalerts/internal/domain"
	"github.com/sigaire/pushalerts/internal/httpapi/middleware"
	"github.com/sigaire/pushalerts/internal/notify"
	"github.com/sigaire/pushalerts/internal/repo"
	"github.com/sigaire/pushalerts/internal/scheduler"
)

// Dispatcher is the slice of scheduler.Dispatcher the API drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, opts scheduler.DispatchOptions) (*scheduler.Run, error)
	Broadcast(ctx context.Context, payload domain.Payload) ([]scheduler.BroadcastResult, error)
}

type Mailer interface {
	Configured() bool
	SendEmail(ctx context.Context, e *notify.Email) error
}

type Options struct {
	CronSecret     string
	AllowedOrigins []string
	PublicRPM      int
	PublicBurst    int
	FromEmail      string
	FromName       string
	VAPIDPublicKey string
}

type Server struct {
	Logger *zap.Logger
	Store  repo.SubscriptionStore
	Probe  repo.Probe
	// Dispatcher is nil when VAPID keys are missing; push routes then
	// answer 500.
	Dispatcher Dispatcher
	Mailer     Mailer
	Opts       Options

	now func() time.Time
}

func NewServer(l *zap.Logger, store repo.Backend, d Dispatcher, m Mailer, opts Options) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	s := &Server{Logger: l, Dispatcher: d, Mailer: m, Opts: opts, now: time.Now}
	if store != nil {
		s.Store, s.Probe = store, store
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsHandler())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/healthz/store", s.adapt(s.handleStoreCheck))
	r.Get("/api/push/vapid-public-key", s.adapt(s.handleVAPIDKey))

	public := middleware.RateLimit(s.Opts.PublicRPM, s.Opts.PublicBurst)
	r.With(public).Post("/api/push/subscribe", s.adapt(s.handleSubscribe))
	r.With(public).Post("/api/push/unsubscribe", s.adapt(s.handleUnsubscribe))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireBearer(s.Opts.CronSecret))
		r.Get("/api/push/alerts", s.adapt(s.handleAlerts))
		r.Post("/api/push/alerts", s.adapt(s.handleAlerts))
		r.Post("/api/push/send", s.adapt(s.handleBroadcast))
		r.Post("/api/send-alert", s.adapt(s.handleSendAlert))
	})

	return r
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	if len(s.Opts.AllowedOrigins) == 0 {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: s.Opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Test"},
		MaxAge:         300,
	})
}
