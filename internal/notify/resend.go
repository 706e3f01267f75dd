package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
)

type Resend struct {
	client *resend.Client
}

// NewResend is unconfigured when apiKey is empty.
func NewResend(apiKey string) *Resend {
	if apiKey == "" {
		return &Resend{}
	}
	return &Resend{client: resend.NewClient(apiKey)}
}

func (r *Resend) Name() string     { return "resend" }
func (r *Resend) Configured() bool { return r.client != nil }

func (r *Resend) SendEmail(ctx context.Context, e *Email) error {
	if r.client == nil {
		return errors.New("resend client not initialized")
	}
	params := &resend.SendEmailRequest{
		From:    e.From,
		To:      e.To,
		Subject: e.Subject,
	}
	if e.HTML != "" {
		params.Html = e.HTML
	} else {
		params.Text = e.Text
	}
	if _, err := r.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend send: %w", err)
	}
	return nil
}
