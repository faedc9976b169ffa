package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/reviewdesk/internal/feedback"
	"github.com/kalambet/reviewdesk/internal/message"
	"github.com/kalambet/reviewdesk/internal/relay"
	"github.com/kalambet/reviewdesk/internal/storage"
)

// Relay is the part of the relay exposed over HTTP.
type Relay interface {
	Send(ctx context.Context, msg message.Message) error
	CaptureSelection(ctx context.Context, text, url string) error
	Subscribe(ctx context.Context) <-chan message.Message
	Load(ctx context.Context) (storage.SessionState, error)
	WriteCursor(ctx context.Context, k int) error
	ActiveLocation(ctx context.Context) (string, error)
	Subscribers() int
}

type RelayDeps struct {
	Relay  Relay
	Token  string
	Logger *slog.Logger
	// Heartbeat is the interval of SSE keep-alive comments. Zero uses 15s.
	Heartbeat time.Duration
}

// SessionResponse is the body of GET /session.
type SessionResponse struct {
	Records []feedback.Record `json:"records"`
	Cursor  int               `json:"cursor"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Controllers int    `json:"controllers"`
}

type cursorRequest struct {
	Cursor *int `json:"cursor"`
}

type selectionRequest struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type locationResponse struct {
	URL string `json:"url"`
}

// NewRelayHandler returns the relay's HTTP surface. Everything except
// /health requires the bearer token.
func NewRelayHandler(deps RelayDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/location", handleLocation(deps))
		r.Get("/session", handleGetSession(deps))
		r.Put("/session/cursor", handlePutCursor(deps))
		r.Post("/messages", handlePostMessage(deps))
		r.Post("/selection", handleSelection(deps))
		r.Get("/events", handleEvents(deps))
	})
	return r
}

// handleHealth also reports how many controllers hold an event stream.
func handleHealth(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Controllers: deps.Relay.Subscribers()})
	}
}

func handleLocation(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc, err := deps.Relay.ActiveLocation(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "page_error", "could not determine the active page: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, locationResponse{URL: loc})
	}
}

func handleGetSession(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Relay.Load(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load session: %v", err)
			return
		}
		recs := st.Records
		if recs == nil {
			recs = []feedback.Record{}
		}
		writeJSON(w, http.StatusOK, SessionResponse{Records: recs, Cursor: st.Cursor})
	}
}

func handlePutCursor(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req cursorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Cursor == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "cursor is required")
			return
		}

		err := deps.Relay.WriteCursor(r.Context(), *req.Cursor)
		switch {
		case errors.Is(err, storage.ErrCursorOutOfRange):
			httpError(w, http.StatusUnprocessableEntity, "cursor_out_of_range", "%v", err)
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save cursor: %v", err)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// handlePostMessage accepts controller-originated messages. Results belong
// to extraction agents and session changes to the relay, so only scrape
// requests are taken.
func handlePostMessage(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var msg message.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if msg.Kind != message.ScrapeRequested {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "only %s may be posted, got %q", message.ScrapeRequested, msg.Kind)
			return
		}
		if err := msg.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Relay.Send(r.Context(), msg); err != nil {
			httpError(w, http.StatusServiceUnavailable, "relay_unavailable", "relay did not accept the message: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"request_id": msg.RequestID, "status": "queued"})
	}
}

func handleSelection(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req selectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		err := deps.Relay.CaptureSelection(r.Context(), req.Text, req.URL)
		switch {
		case errors.Is(err, relay.ErrEmptySelection):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save selection: %v", err)
		default:
			writeJSON(w, http.StatusCreated, map[string]string{"status": "saved"})
		}
	}
}

// handleEvents streams every relay broadcast as a server-sent event named
// after the message kind, with the JSON message as data.
func handleEvents(deps RelayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		sub := deps.Relay.Subscribe(ctx)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": subscribed\n\n")
		flusher.Flush()

		heartbeat := time.NewTicker(deps.Heartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case msg, ok := <-sub:
				if !ok {
					return
				}
				payload, err := json.Marshal(msg)
				if err != nil {
					deps.Logger.Error("encoding event", "kind", msg.Kind, "error", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind, payload); err != nil {
					deps.Logger.Debug("event stream closed", "error", err)
					return
				}
				flusher.Flush()
			}
		}
	}
}
