// Package redis stores subscriptions as hashes keyed by subscription id,
// indexes them in the subs:all set and keeps send claims as expiring keys.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sigaire/pushalerts/internal/domain"
	"github.com/sigaire/pushalerts/internal/repo"
)

var _ repo.Backend = (*Store)(nil)

type Store struct {
	client *goredis.Client
	log    *zap.Logger
}

// New connects using a redis:// or rediss:// URL and validates the
// connection with a PING.
func New(ctx context.Context, url string, log *zap.Logger) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return NewWithClient(client, log), nil
}

func NewWithClient(client *goredis.Client, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, log: log}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ---- SubscriptionStore ----

func (s *Store) ListIDs(ctx context.Context) ([]domain.SubscriptionID, error) {
	members, err := s.client.SMembers(ctx, repo.IndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", repo.IndexKey, err)
	}
	out := make([]domain.SubscriptionID, 0, len(members))
	for _, m := range members {
		out = append(out, domain.SubscriptionID(m))
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id domain.SubscriptionID) (*domain.Subscription, error) {
	fields, err := s.client.HGetAll(ctx, string(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	sub := &domain.Subscription{
		ID:       id,
		Endpoint: fields["endpoint"],
		Keys:     domain.ParseKeys(fields["keys"]),
		Location: domain.Location{
			Lat:  domain.ParseCoord(fields["lat"]),
			Lon:  domain.ParseCoord(fields["lon"]),
			City: fields["city"],
		},
	}
	if ms, err := strconv.ParseInt(fields["ts"], 10, 64); err == nil {
		sub.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return sub, nil
}

func (s *Store) Put(ctx context.Context, sub *domain.Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	keys, err := json.Marshal(sub.Keys)
	if err != nil {
		return fmt.Errorf("encode keys: %w", err)
	}
	err = s.client.HSet(ctx, string(sub.ID), map[string]any{
		"endpoint": sub.Endpoint,
		"keys":     string(keys),
		"lat":      domain.FormatCoord(sub.Location.Lat),
		"lon":      domain.FormatCoord(sub.Location.Lon),
		"city":     sub.Location.City,
		"ts":       sub.CreatedAt.UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("hset %s: %w", sub.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id domain.SubscriptionID) error {
	if err := s.client.Del(ctx, string(id)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", id, err)
	}
	return nil
}

func (s *Store) AddToIndex(ctx context.Context, id domain.SubscriptionID) error {
	if err := s.client.SAdd(ctx, repo.IndexKey, string(id)).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", id, err)
	}
	return nil
}

func (s *Store) RemoveFromIndex(ctx context.Context, id domain.SubscriptionID) error {
	if err := s.client.SRem(ctx, repo.IndexKey, string(id)).Err(); err != nil {
		return fmt.Errorf("srem %s: %w", id, err)
	}
	return nil
}

// ---- ClaimLedger ----

// Claim is a single SET key 1 EX ttl NX round trip.
func (s *Store) Claim(ctx context.Context, id domain.SubscriptionID, tag, day string, ttl time.Duration) (bool, error) {
	key := repo.ClaimKey(id, tag, day)
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	s.log.Debug("claim", zap.String("key", key), zap.Bool("granted", ok))
	return ok, nil
}

// ---- Probe ----

func (s *Store) Probe(ctx context.Context, value string) (string, error) {
	if err := s.client.Set(ctx, repo.ProbeKey, value, 0).Err(); err != nil {
		return "", fmt.Errorf("set %s: %w", repo.ProbeKey, err)
	}
	got, err := s.client.Get(ctx, repo.ProbeKey).Result()
	if err != nil {
		return "", fmt.Errorf("get %s: %w", repo.ProbeKey, err)
	}
	return got, nil
}
