package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeNotifier struct {
	err   error
	calls int
}

func (f *fakeNotifier) Send(context.Context, string, string) error {
	f.calls++
	return f.err
}

func TestMulti_ReportsEveryFailure(t *testing.T) {
	a := &fakeNotifier{err: errors.New("a down")}
	b := &fakeNotifier{}
	c := &fakeNotifier{err: errors.New("c down")}

	err := Multi{a, nil, b, c}.Send(context.Background(), "t", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "a down") || !strings.Contains(err.Error(), "c down") {
		t.Fatalf("combined error: %v", err)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Fatal("every notifier should be called once")
	}
}

type fakeMailer struct {
	name       string
	configured bool
	err        error
	got        []*Email
}

func (f *fakeMailer) Name() string     { return f.name }
func (f *fakeMailer) Configured() bool { return f.configured }
func (f *fakeMailer) SendEmail(_ context.Context, e *Email) error {
	f.got = append(f.got, e)
	return f.err
}

func TestMailers_PrimaryWins(t *testing.T) {
	primary := &fakeMailer{name: "resend", configured: true}
	fallback := &fakeMailer{name: "ses", configured: true}
	m := NewMailers("SIGAIRE <alerts@example.com>", nil, primary, fallback)

	if err := m.SendEmail(context.Background(), &Email{To: []string{"a@b.c"}, Subject: "s", Text: "t"}); err != nil {
		t.Fatal(err)
	}
	if len(primary.got) != 1 || len(fallback.got) != 0 {
		t.Fatalf("primary=%d fallback=%d", len(primary.got), len(fallback.got))
	}
	if primary.got[0].From != "SIGAIRE <alerts@example.com>" {
		t.Fatalf("default from not applied: %q", primary.got[0].From)
	}
}

func TestMailers_FallsBackOnFailure(t *testing.T) {
	primary := &fakeMailer{name: "resend", configured: true, err: errors.New("quota")}
	fallback := &fakeMailer{name: "ses", configured: true}
	m := NewMailers("x@example.com", nil, primary, fallback)

	if err := m.SendEmail(context.Background(), &Email{To: []string{"a@b.c"}, Subject: "s"}); err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	if len(fallback.got) != 1 {
		t.Fatal("fallback not used")
	}
}

func TestMailers_AllFailReturnsPrimaryError(t *testing.T) {
	primary := &fakeMailer{name: "resend", configured: true, err: errors.New("quota")}
	fallback := &fakeMailer{name: "ses", configured: true, err: errors.New("sandbox")}
	err := NewMailers("x@example.com", nil, primary, fallback).
		SendEmail(context.Background(), &Email{To: []string{"a@b.c"}})
	if err == nil || !strings.Contains(err.Error(), "resend: quota") {
		t.Fatalf("want primary error, got %v", err)
	}
}

func TestMailers_SkipsUnconfigured(t *testing.T) {
	off := &fakeMailer{name: "resend"}
	on := &fakeMailer{name: "ses", configured: true}
	m := NewMailers("x@example.com", nil, off, on)
	if err := m.SendEmail(context.Background(), &Email{To: []string{"a@b.c"}}); err != nil {
		t.Fatal(err)
	}
	if len(off.got) != 0 || len(on.got) != 1 {
		t.Fatal("unconfigured backend must not be called")
	}
}

func TestMailers_NoneConfigured(t *testing.T) {
	m := NewMailers("x@example.com", nil, NewResend(""), &fakeMailer{name: "ses"})
	if m.Configured() {
		t.Fatal("nothing should be configured")
	}
	if err := m.SendEmail(context.Background(), &Email{To: []string{"a@b.c"}}); !errors.Is(err, ErrNoMailer) {
		t.Fatalf("want ErrNoMailer, got %v", err)
	}
	var nilMailers *Mailers
	if err := nilMailers.SendEmail(context.Background(), &Email{}); !errors.Is(err, ErrNoMailer) {
		t.Fatalf("nil registry: %v", err)
	}
}
