// Package push delivers Web Push notifications signed with VAPID keys.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"github.com/sigaire/pushalerts/internal/domain"
)

var ErrNotConfigured = errors.New("push: vapid keys not configured")

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub *domain.Subscription, payload domain.Payload) error
}

// TransportError reports a failed delivery. StatusCode is zero when the
// push service was never reached.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("push transport: %v", e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("push service returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("push service returned %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsPermanent reports whether the push service says the subscription is
// gone and should be deleted.
func (e *TransportError) IsPermanent() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// IsPermanent is the errors.As form of TransportError.IsPermanent.
func IsPermanent(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.IsPermanent()
}

type Config struct {
	Subscriber string
	PublicKey  string
	PrivateKey string
	TTL        time.Duration
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
	log *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, ErrNotConfigured
	}
	// webpush-go prepends mailto: to anything that is not an https URL.
	cfg.Subscriber = strings.TrimPrefix(cfg.Subscriber, "mailto:")
	if cfg.Subscriber == "" {
		cfg.Subscriber = "admin@example.com"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, log: log}, nil
}

func (c *Client) PublicKey() string { return c.cfg.PublicKey }

func (c *Client) Send(ctx context.Context, sub *domain.Subscription, payload domain.Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, body, s, &webpush.Options{
		HTTPClient:      c.cfg.HTTPClient,
		Subscriber:      c.cfg.Subscriber,
		VAPIDPublicKey:  c.cfg.PublicKey,
		VAPIDPrivateKey: c.cfg.PrivateKey,
		TTL:             int(c.cfg.TTL / time.Second),
	})
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		c.log.Debug("push_sent", zap.String("id", string(sub.ID)), zap.String("tag", payload.Tag), zap.Int("status", resp.StatusCode))
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &TransportError{StatusCode: resp.StatusCode, Body: string(msg)}
}

// GenerateKeys returns a fresh VAPID key pair, base64url encoded.
func GenerateKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate vapid keys: %w", err)
	}
	return publicKey, privateKey, nil
}
