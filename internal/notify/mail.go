package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var ErrNoMailer = errors.New("notify: no configured mail provider")

// Email is one outgoing message. HTML wins over Text when both are set.
type Email struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Mailer is one email backend.
type Mailer interface {
	Name() string
	Configured() bool
	SendEmail(ctx context.Context, e *Email) error
}

// Mailers picks a configured backend, primary first, and retries the
// message on the fallbacks when the chosen backend fails. The backend set
// is fixed by NewMailers, so a Mailers is safe for concurrent use.
type Mailers struct {
	backends map[string]Mailer
	order    []string
	from     string
	log      *zap.Logger
}

// NewMailers registers backends in priority order. from is used when an
// Email leaves it empty.
func NewMailers(from string, log *zap.Logger, backends ...Mailer) *Mailers {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Mailers{backends: make(map[string]Mailer), from: from, log: log}
	for _, b := range backends {
		if b == nil {
			continue
		}
		m.backends[b.Name()] = b
		m.order = append(m.order, b.Name())
		log.Info("mail_provider_registered", zap.String("name", b.Name()), zap.Bool("configured", b.Configured()))
	}
	return m
}

func (m *Mailers) configured() []Mailer {
	var out []Mailer
	for _, name := range m.order {
		if b := m.backends[name]; b.Configured() {
			out = append(out, b)
		}
	}
	return out
}

// Configured reports whether any backend can send.
func (m *Mailers) Configured() bool {
	return m != nil && len(m.configured()) > 0
}

// SendEmail returns the primary backend's error when every backend fails.
func (m *Mailers) SendEmail(ctx context.Context, e *Email) error {
	if m == nil {
		return ErrNoMailer
	}
	backends := m.configured()
	if len(backends) == 0 {
		return ErrNoMailer
	}
	if len(e.To) == 0 {
		return errors.New("no recipients specified")
	}
	if e.From == "" {
		e.From = m.from
	}

	var first error
	for i, b := range backends {
		err := b.SendEmail(ctx, e)
		if err == nil {
			m.log.Info("email_sent", zap.String("provider", b.Name()), zap.Strings("to", e.To), zap.String("subject", e.Subject))
			return nil
		}
		if i == 0 {
			first = fmt.Errorf("%s: %w", b.Name(), err)
		}
		m.log.Warn("email_send_failed", zap.String("provider", b.Name()), zap.Error(err))
	}
	return first
}
