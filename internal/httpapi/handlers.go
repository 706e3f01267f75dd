package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sigaire/pushalerts/internal/domain"
	"github.com/sigaire/pushalerts/internal/notify"
	"github.com/sigaire/pushalerts/internal/repo"
	"github.com/sigaire/pushalerts/internal/scheduler"
)

type subscribePayload struct {
	Endpoint string      `json:"endpoint"`
	Keys     domain.Keys `json:"keys"`
	Meta     struct {
		Lat  json.RawMessage `json:"lat"`
		Lon  json.RawMessage `json:"lon"`
		City string          `json:"city"`
	} `json:"meta"`
}

// coord accepts a JSON number or a numeric string.
func coord(raw json.RawMessage) *float64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	return domain.ParseCoord(s)
}

func (s *Server) handleSubscribe(ctx context.Context, req Request) Response {
	p := decodeOrDefault(req.Body, subscribePayload{})
	endpoint := strings.TrimSpace(p.Endpoint)
	if endpoint == "" {
		return errorResponse(http.StatusBadRequest, "invalid subscription")
	}

	sub := &domain.Subscription{
		ID:       domain.SubscriptionIDFor(endpoint),
		Endpoint: endpoint,
		Keys:     p.Keys,
		Location: domain.Location{
			Lat:  coord(p.Meta.Lat),
			Lon:  coord(p.Meta.Lon),
			City: strings.TrimSpace(p.Meta.City),
		},
		CreatedAt: s.now().UTC(),
	}
	if err := s.Store.Put(ctx, sub); err != nil {
		s.Logger.Error("subscribe_store_error", zap.String("id", string(sub.ID)), zap.Error(err))
		return errorResponse(http.StatusInternalServerError, "could not store subscription")
	}
	if err := s.Store.AddToIndex(ctx, sub.ID); err != nil {
		s.Logger.Error("subscribe_index_error", zap.String("id", string(sub.ID)), zap.Error(err))
		return errorResponse(http.StatusInternalServerError, "could not store subscription")
	}

	s.Logger.Info("subscribed",
		zap.String("id", string(sub.ID)),
		zap.Bool("has_coords", sub.Location.HasCoords()),
		zap.String("city", sub.Location.City),
	)
	return jsonResponse(http.StatusOK, map[string]any{"ok": true, "id": sub.ID})
}

type unsubscribePayload struct {
	Endpoint string `json:"endpoint"`
}

func (s *Server) handleUnsubscribe(ctx context.Context, req Request) Response {
	p := decodeOrDefault(req.Body, unsubscribePayload{})
	endpoint := strings.TrimSpace(p.Endpoint)
	if endpoint == "" {
		return errorResponse(http.StatusBadRequest, "missing endpoint")
	}
	id := domain.SubscriptionIDFor(endpoint)
	if err := repo.Prune(ctx, s.Store, id); err != nil {
		s.Logger.Error("unsubscribe_store_error", zap.String("id", string(id)), zap.Error(err))
		return errorResponse(http.StatusInternalServerError, "could not remove subscription")
	}
	s.Logger.Info("unsubscribed", zap.String("id", string(id)))
	return jsonResponse(http.StatusOK, map[string]any{"ok": true})
}

func testMode(req Request) bool {
	return req.Query.Get("test") == "1" || req.Header.Get("X-Test") == "1"
}

type alertsResponse struct {
	OK      bool                        `json:"ok"`
	Total   int                         `json:"total"`
	Results []domain.SubscriptionResult `json:"results"`
}

func (s *Server) handleAlerts(ctx context.Context, req Request) Response {
	if s.Dispatcher == nil {
		return errorResponse(http.StatusInternalServerError, "push not configured")
	}
	// a run completes even if the caller goes away
	run, err := s.Dispatcher.Dispatch(context.WithoutCancel(ctx), scheduler.DispatchOptions{TestMode: testMode(req)})
	if err != nil {
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
	return jsonResponse(http.StatusOK, alertsResponse{OK: true, Total: len(run.Results), Results: run.Results})
}

var defaultBroadcast = domain.Payload{Title: domain.DefaultTitle, Body: "New alert", URL: "/"}

func (s *Server) handleBroadcast(ctx context.Context, req Request) Response {
	if s.Dispatcher == nil {
		return errorResponse(http.StatusInternalServerError, "push not configured")
	}
	payload := decodeOrDefault(req.Body, defaultBroadcast)
	if payload.Title == "" && payload.Body == "" {
		payload = defaultBroadcast
	}
	if payload.URL == "" {
		payload.URL = "/"
	}
	results, err := s.Dispatcher.Broadcast(context.WithoutCancel(ctx), payload)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
	return jsonResponse(http.StatusOK, map[string]any{"sent": len(results), "results": results})
}

type emailPayload struct {
	To      json.RawMessage `json:"to"`
	Subject string          `json:"subject"`
	HTML    string          `json:"html"`
	Text    string          `json:"text"`
}

// recipients accepts "a@b" or ["a@b","c@d"].
func recipients(raw json.RawMessage) []string {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one = strings.TrimSpace(one); one != "" {
			return []string{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil
	}
	out := many[:0]
	for _, m := range many {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func (s *Server) fromAddress() string {
	name := s.Opts.FromName
	if name == "" {
		name = domain.DefaultTitle
	}
	if s.Opts.FromEmail == "" {
		return ""
	}
	return name + " <" + s.Opts.FromEmail + ">"
}

func (s *Server) handleSendAlert(ctx context.Context, req Request) Response {
	p := decodeOrDefault(req.Body, emailPayload{})
	to := recipients(p.To)
	if len(to) == 0 || strings.TrimSpace(p.Subject) == "" || (p.HTML == "" && p.Text == "") {
		return errorResponse(http.StatusBadRequest, "missing fields: to, subject, html/text")
	}
	if s.Mailer == nil || !s.Mailer.Configured() {
		return errorResponse(http.StatusInternalServerError, notify.ErrNoMailer.Error())
	}

	err := s.Mailer.SendEmail(ctx, &notify.Email{
		From:    s.fromAddress(),
		To:      to,
		Subject: p.Subject,
		HTML:    p.HTML,
		Text:    p.Text,
	})
	if err != nil {
		s.Logger.Error("send_alert_failed", zap.Strings("to", to), zap.Error(err))
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
	return jsonResponse(http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStoreCheck(ctx context.Context, _ Request) Response {
	set := strconv.FormatInt(s.now().UnixMilli(), 10)
	got, err := s.Probe.Probe(ctx, set)
	if err != nil {
		s.Logger.Warn("store_check_failed", zap.Error(err))
		return errorResponse(http.StatusServiceUnavailable, "store unavailable")
	}
	return jsonResponse(http.StatusOK, map[string]any{"set": set, "got": got})
}

func (s *Server) handleVAPIDKey(context.Context, Request) Response {
	if s.Opts.VAPIDPublicKey == "" {
		return errorResponse(http.StatusInternalServerError, "push not configured")
	}
	return jsonResponse(http.StatusOK, map[string]any{"publicKey": s.Opts.VAPIDPublicKey})
}
