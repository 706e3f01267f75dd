package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Request is the transport-neutral view of an incoming call. Handlers
// never see *http.Request.
type Request struct {
	Method string
	Header http.Header
	Query  url.Values
	Body   []byte
}

// Response is what a handler produces. A string Body is written as
// text/plain, anything else as JSON.
type Response struct {
	Status int
	Body   any
}

type handlerFunc func(ctx context.Context, req Request) Response

func jsonResponse(status int, body any) Response {
	return Response{Status: status, Body: body}
}

func errorResponse(status int, msg string) Response {
	return Response{Status: status, Body: map[string]any{"ok": false, "error": msg}}
}

// adapt binds a handlerFunc to net/http.
func (s *Server) adapt(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeResponse(w, s.Logger, errorResponse(http.StatusRequestEntityTooLarge, "request body too large"))
				return
			}
			writeResponse(w, s.Logger, errorResponse(http.StatusBadRequest, "unreadable body"))
			return
		}
		req := Request{
			Method: r.Method,
			Header: r.Header,
			Query:  r.URL.Query(),
			Body:   body,
		}
		writeResponse(w, s.Logger, h(r.Context(), req))
	}
}

func writeResponse(w http.ResponseWriter, log *zap.Logger, resp Response) {
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	if text, ok := resp.Body.(string); ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(resp.Status)
		_, _ = w.Write([]byte(text))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	if err := json.NewEncoder(w).Encode(resp.Body); err != nil {
		log.Warn("response_encode_failed", zap.Error(err))
	}
}

// decodeOrDefault parses body into a T, returning def when the body is
// empty or not valid JSON for T.
func decodeOrDefault[T any](body []byte, def T) T {
	if len(body) == 0 {
		return def
	}
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return def
	}
	return v
}
