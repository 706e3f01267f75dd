package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sigaire/pushalerts/internal/domain"
	"github.com/sigaire/pushalerts/internal/repo"
)

var _ repo.Backend = (*Store)(nil)

// Schema is applied by EnsureSchema. The indexed flag plays the role of
// the subs:all set so a record and its index entry can diverge the same
// way they can in the key-value adapters.
const Schema = `
CREATE TABLE IF NOT EXISTS push_subscriptions (
  id         TEXT PRIMARY KEY,
  endpoint   TEXT NOT NULL DEFAULT '',
  p256dh     TEXT NOT NULL DEFAULT '',
  auth       TEXT NOT NULL DEFAULT '',
  lat        DOUBLE PRECISION NULL,
  lon        DOUBLE PRECISION NULL,
  city       TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS push_index (
  id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS push_claims (
  key        TEXT PRIMARY KEY,
  expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS store_probe (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ---- SubscriptionStore ----

func (s *Store) ListIDs(ctx context.Context) ([]domain.SubscriptionID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM push_index`)
	if err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}
	defer rows.Close()

	var out []domain.SubscriptionID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		out = append(out, domain.SubscriptionID(id))
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error) {
	const q = `SELECT endpoint, p256dh, auth, lat, lon, city, created_at
	             FROM push_subscriptions WHERE id = $1`
	sub := domain.Subscription{ID: id}
	err := s.pool.QueryRow(ctx, q, string(id)).Scan(
		&sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth,
		&sub.Location.Lat, &sub.Location.Lon, &sub.Location.City, &sub.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

func (s *Store) Put(ctx context.Context, sub *domain.Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO push_subscriptions (id, endpoint, p256dh, auth, lat, lon, city, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
		  endpoint=EXCLUDED.endpoint, p256dh=EXCLUDED.p256dh, auth=EXCLUDED.auth,
		  lat=EXCLUDED.lat, lon=EXCLUDED.lon, city=EXCLUDED.city, created_at=EXCLUDED.created_at`,
		string(sub.ID), sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth,
		sub.Location.Lat, sub.Location.Lon, sub.Location.City, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id domain.SubscriptionID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, string(id)); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func (s *Store) AddToIndex(ctx context.Context, id domain.SubscriptionID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO push_index (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, string(id))
	if err != nil {
		return fmt.Errorf("index add: %w", err)
	}
	return nil
}

func (s *Store) RemoveFromIndex(ctx context.Context, id domain.SubscriptionID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM push_index WHERE id = $1`, string(id)); err != nil {
		return fmt.Errorf("index remove: %w", err)
	}
	return nil
}

// ---- ClaimLedger ----

// Claim inserts the claim row, or takes over an expired one, in a single
// statement. No row returned means a live claim already exists.
func (s *Store) Claim(ctx context.Context, id domain.SubscriptionID, tag, day string, ttl time.Duration) (bool, error) {
	const q = `
		INSERT INTO push_claims (key, expires_at)
		VALUES ($1, now() + make_interval(secs => $2))
		ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		  WHERE push_claims.expires_at <= now()
		RETURNING key`
	key := repo.ClaimKey(id, tag, day)
	var got string
	err := s.pool.QueryRow(ctx, q, key, ttl.Seconds()).Scan(&got)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return true, nil
}

// ---- Probe ----

func (s *Store) Probe(ctx context.Context, value string) (string, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO store_probe (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, repo.ProbeKey, value)
	if err != nil {
		return "", fmt.Errorf("probe write: %w", err)
	}
	var got string
	if err := s.pool.QueryRow(ctx, `SELECT value FROM store_probe WHERE key = $1`, repo.ProbeKey).Scan(&got); err != nil {
		return "", fmt.Errorf("probe read: %w", err)
	}
	return got, nil
}
