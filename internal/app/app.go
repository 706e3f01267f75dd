// Package app assembles the runtime graph shared by cmd/api and cmd/cli.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sigaire/pushalerts/internal/config"
	"github.com/sigaire/pushalerts/internal/notify"
	"github.com/sigaire/pushalerts/internal/push"
	"github.com/sigaire/pushalerts/internal/repo"
	"github.com/sigaire/pushalerts/internal/repo/memory"
	"github.com/sigaire/pushalerts/internal/repo/postgres"
	"github.com/sigaire/pushalerts/internal/repo/redis"
	"github.com/sigaire/pushalerts/internal/scheduler"
	"github.com/sigaire/pushalerts/internal/weather"
)

// OpenBackend connects the configured store. Postgres gets its schema
// applied on connect.
func OpenBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (repo.Backend, error) {
	switch backend := cfg.Backend(); backend {
	case "memory":
		log.Warn("store_memory", zap.String("note", "subscriptions are lost on restart"))
		return memory.New(), nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("STORE_BACKEND=redis requires REDIS_URL")
		}
		return redis.New(ctx, cfg.RedisURL, log)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("STORE_BACKEND=postgres requires DATABASE_URL")
		}
		st, err := postgres.New(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", backend)
	}
}

func Weather(cfg config.Config, log *zap.Logger) *weather.OpenMeteo {
	return weather.NewOpenMeteo(weather.Config{
		ForecastURL:       cfg.WeatherForecastURL,
		AirQualityURL:     cfg.WeatherAirURL,
		GeocodeURL:        cfg.WeatherGeocodeURL,
		Language:          cfg.GeocodeLanguage,
		Timeout:           cfg.WeatherTimeout,
		RequestsPerMinute: cfg.WeatherRPM,
		CacheTTL:          cfg.WeatherCacheTTL,
		RetryAttempts:     cfg.WeatherRetries,
		RetryBackoff:      cfg.WeatherBackoff,
	}, log)
}

// Dispatcher returns push.ErrNotConfigured when VAPID keys are missing.
func Dispatcher(cfg config.Config, log *zap.Logger, backend repo.Backend, wp weather.Provider) (*scheduler.Dispatcher, error) {
	client, err := push.NewClient(push.Config{
		Subscriber: cfg.VAPIDSubject,
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		TTL:        cfg.PushTTL,
	}, log)
	if err != nil {
		return nil, err
	}

	var ops notify.Notifier
	if slack := notify.NewSlack(cfg.SlackWebhookURL); slack != nil {
		ops = notify.Multi{slack}
	}

	return scheduler.NewDispatcher(log, backend, backend, wp, client, ops, scheduler.DispatcherConfig{
		Concurrency:    cfg.DispatchConcurrency,
		DedupeLocation: cfg.Location(),
	}), nil
}

// Mailers registers Resend first and SES second when enabled.
func Mailers(ctx context.Context, cfg config.Config, log *zap.Logger) *notify.Mailers {
	backends := []notify.Mailer{notify.NewResend(cfg.ResendAPIKey)}
	if cfg.SESEnabled {
		ses, err := notify.NewSES(ctx, cfg.AWSRegion)
		if err != nil {
			log.Warn("ses_unavailable", zap.Error(err))
		} else {
			backends = append(backends, ses)
		}
	}
	from := cfg.FromEmail
	if from != "" {
		from = cfg.FromName + " <" + from + ">"
	}
	return notify.NewMailers(from, log, backends...)
}
