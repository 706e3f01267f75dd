package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSlack_PostsRunSummaryFields(t *testing.T) {
	var got slackMessage
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(200)
	}))
	defer ts.Close()

	s := NewSlack(ts.URL)
	if s == nil {
		t.Fatal("expected slack client")
	}
	err := s.Send(context.Background(), "Dispatch issues", "Run: r1\nPushes: 3\nErrors: 1\nsee logs")
	if err != nil {
		t.Fatalf("send err: %v", err)
	}
	if got.Text != "Dispatch issues" || len(got.Blocks) != 3 {
		t.Fatalf("message: %+v", got)
	}
	if got.Blocks[0].Type != "header" || got.Blocks[0].Text.Text != "Dispatch issues" {
		t.Fatalf("header: %+v", got.Blocks[0])
	}
	fields := got.Blocks[1].Fields
	if len(fields) != 3 || fields[1].Text != "*Pushes*\n3" || fields[1].Type != "mrkdwn" {
		t.Fatalf("fields: %+v", fields)
	}
	if got.Blocks[2].Text == nil || got.Blocks[2].Text.Text != "see logs" {
		t.Fatalf("trailing section: %+v", got.Blocks[2])
	}
}

func TestSlackMessage_CapsFields(t *testing.T) {
	text := ""
	for i := 0; i < slackMaxFields+2; i++ {
		text += "K: v\n"
	}
	msg := slackMessageFor("T", text)
	if len(msg.Blocks) != 3 || len(msg.Blocks[1].Fields) != slackMaxFields {
		t.Fatalf("blocks: %+v", msg.Blocks)
	}
	if msg.Blocks[2].Text.Text != "K: v\nK: v" {
		t.Fatalf("overflow: %q", msg.Blocks[2].Text.Text)
	}
}

func TestSlack_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer ts.Close()

	s := NewSlack(ts.URL)
	err := s.Send(context.Background(), "X", "Y")
	if err == nil {
		t.Fatalf("expected error on non-2xx")
	}
}

func TestNewSlack_EmptyWebhook(t *testing.T) {
	if NewSlack("") != nil {
		t.Fatal("expected nil without a webhook")
	}
	var s *Slack
	if err := s.Send(context.Background(), "X", "Y"); err != errSlackDisabled {
		t.Fatalf("nil slack: %v", err)
	}
}
