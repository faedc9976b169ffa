package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/reviewdesk/internal/agent"
	"github.com/kalambet/reviewdesk/internal/feedback"
	"github.com/kalambet/reviewdesk/internal/message"
	"github.com/kalambet/reviewdesk/internal/relay"
	"github.com/kalambet/reviewdesk/internal/storage"
)

const testToken = "test-token-12345"

// fakeAgents answers every scrape request with a fixed set of records.
type fakeAgents struct {
	records  []feedback.Record
	location string
}

func (f *fakeAgents) Dispatch(ctx context.Context, id string, out agent.Sender) error {
	if f.records == nil {
		return agent.ErrNoAgent
	}
	recs := feedback.Clone(f.records)
	go out.Send(ctx, message.Succeeded(id, recs))
	return nil
}

func (f *fakeAgents) ActiveLocation(context.Context) (string, error) {
	return f.location, nil
}

func sampleRecords() []feedback.Record {
	return []feedback.Record{
		{Author: "Alice", Date: "Sep 5, 2025", Text: "Great app", Stars: 5, URL: "https://apps.apple.com/app/1"},
		{Author: "Bob", Date: "Sep 6, 2025", Text: "Crashes on start", Stars: 1, URL: "https://apps.apple.com/app/1"},
	}
}

// startRelay runs a relay over an in-memory store until the test ends.
func startRelay(t *testing.T, agents relay.Agents) (*relay.Relay, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r := relay.New(store, agents)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, store
}

func setupRelayHandler(t *testing.T, agents relay.Agents) (http.Handler, *storage.Store) {
	t.Helper()
	r, store := startRelay(t, agents)
	return NewRelayHandler(RelayDeps{Relay: r, Token: testToken, Heartbeat: 50 * time.Millisecond}), store
}

// setupClient serves the relay over a real listener and returns a client
// and a context that is cancelled before the server shuts down.
func setupClient(t *testing.T, agents relay.Agents) (*Client, *storage.Store, context.Context) {
	t.Helper()
	h, store := setupRelayHandler(t, agents)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewClient(srv.URL, testToken, WithReconnectDelay(10*time.Millisecond)), store, ctx
}

func authReq(method, url, body, token string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func receive(t *testing.T, ch <-chan message.Message) message.Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return message.Message{}
}

func TestHealth_NoAuth(t *testing.T) {
	h, _ := setupRelayHandler(t, &fakeAgents{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/health", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"controllers":0`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestClient_HealthCountsControllers(t *testing.T) {
	c, _, ctx := setupClient(t, &fakeAgents{})
	h, err := c.Health(ctx)
	if err != nil || h.Status != "ok" || h.Controllers != 0 {
		t.Fatalf("Health = %+v, %v", h, err)
	}

	c.Subscribe(ctx)
	h, err = c.Health(ctx)
	if err != nil || h.Controllers != 1 {
		t.Errorf("Health after subscribe = %+v, %v; want 1 controller", h, err)
	}
}

func TestAuth_Required(t *testing.T) {
	h, _ := setupRelayHandler(t, &fakeAgents{})
	for _, tok := range []string{"", "wrong-token"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodGet, "/session", "", tok))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", tok, rr.Code)
		}
	}
}

func TestGetSession_Empty(t *testing.T) {
	h, _ := setupRelayHandler(t, &fakeAgents{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/session", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"records":[],"cursor":0}` {
		t.Errorf("body = %s", got)
	}
}

func TestPostMessage_OnlyScrapeRequests(t *testing.T) {
	h, _ := setupRelayHandler(t, &fakeAgents{})
	for _, body := range []string{
		`{"kind":"scrape_succeeded","request_id":"x","records":[]}`,
		`{"kind":"session_changed","request_id":"x"}`,
		`{"kind":"scrape_requested"}`,
		`not json`,
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodPost, "/messages", body, testToken))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/messages", `{"kind":"scrape_requested","request_id":"r1"}`, testToken))
	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rr.Code)
	}
}

func TestPutCursor_Validation(t *testing.T) {
	h, store := setupRelayHandler(t, &fakeAgents{})
	if err := store.ReplaceRecords(context.Background(), sampleRecords()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		body string
		code int
	}{
		{`{}`, http.StatusBadRequest},
		{`{"cursor":2}`, http.StatusUnprocessableEntity},
		{`{"cursor":-1}`, http.StatusUnprocessableEntity},
		{`{"cursor":1}`, http.StatusNoContent},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodPut, "/session/cursor", tt.body, testToken))
		if rr.Code != tt.code {
			t.Errorf("%s: status = %d, want %d", tt.body, rr.Code, tt.code)
		}
	}
}

func TestClient_ScrapeRoundTrip(t *testing.T) {
	c, _, ctx := setupClient(t, &fakeAgents{records: sampleRecords()})
	sub := c.Subscribe(ctx)

	id := message.NewRequestID()
	if err := c.Send(ctx, message.Request(id)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	m := receive(t, sub)
	if m.Kind != message.SessionChanged || m.RequestID != id {
		t.Fatalf("event = %+v", m)
	}
	if len(m.Records) != 2 || m.Records[1].Author != "Bob" {
		t.Errorf("records = %+v", m.Records)
	}

	st, err := c.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(st.Records) != 2 || st.Cursor != 0 {
		t.Fatalf("state = %+v", st)
	}

	if err := c.WriteCursor(ctx, 1); err != nil {
		t.Fatalf("WriteCursor: %v", err)
	}
	if st, _ := c.Load(ctx); st.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", st.Cursor)
	}
	if err := c.WriteCursor(ctx, 7); !errors.Is(err, storage.ErrCursorOutOfRange) {
		t.Errorf("err = %v, want ErrCursorOutOfRange", err)
	}
}

func TestClient_NoAgentFailsSilently(t *testing.T) {
	c, _, ctx := setupClient(t, &fakeAgents{})
	sub := c.Subscribe(ctx)
	if err := c.Send(ctx, message.Request("r1")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case m := <-sub:
		t.Fatalf("unexpected event %+v", m)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestClient_CaptureSelection(t *testing.T) {
	c, _, ctx := setupClient(t, &fakeAgents{})
	sub := c.Subscribe(ctx)

	if err := c.CaptureSelection(ctx, "  ", "u"); !errors.Is(err, relay.ErrEmptySelection) {
		t.Errorf("blank selection err = %v", err)
	}
	if err := c.CaptureSelection(ctx, "Please add export", "https://example.com/forum/1"); err != nil {
		t.Fatalf("CaptureSelection: %v", err)
	}
	m := receive(t, sub)
	if m.Kind != message.SessionChanged || m.RequestID != "" || len(m.Records) != 1 {
		t.Fatalf("event = %+v", m)
	}
	if r := m.Records[0]; r.Author != relay.SelectionAuthor || r.Text != "Please add export" || r.Stars != 0 {
		t.Errorf("record = %+v", r)
	}
}

func TestClient_ActiveLocation(t *testing.T) {
	c, _, ctx := setupClient(t, &fakeAgents{location: "https://mail.google.com/mail/u/0/#inbox/1"})
	loc, err := c.ActiveLocation(ctx)
	if err != nil || loc != "https://mail.google.com/mail/u/0/#inbox/1" {
		t.Errorf("ActiveLocation = %q, %v", loc, err)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	h, _ := setupRelayHandler(t, &fakeAgents{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL, "nope").Load(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Type != "authentication_error" {
		t.Fatalf("err = %v", err)
	}
}

func TestClient_SubscriptionClosesOnCancel(t *testing.T) {
	c, _, ctx := setupClient(t, &fakeAgents{})
	subCtx, cancel := context.WithCancel(ctx)
	sub := c.Subscribe(subCtx)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after cancel")
		}
	}
}

func TestReadEvents(t *testing.T) {
	stream := ": subscribed\n\n" +
		"event: scrape_failed\ndata: {\"kind\":\"scrape_failed\",\"request_id\":\"a\",\"reason\":\"no reviews\"}\n\n" +
		": ping\n\n" +
		"data: not json\n\n" +
		"event: session_changed\ndata: {\"kind\":\"session_changed\",\n" +
		"data: \"records\":[{\"author\":\"x\",\"date\":\"d\",\"text\":\"t\",\"stars\":2,\"url\":\"u\"}]}\n\n"

	ch := make(chan message.Message, 4)
	if err := readEvents(context.Background(), strings.NewReader(stream), ch); err == nil {
		t.Fatal("expected end-of-stream error")
	}
	close(ch)

	var got []message.Message
	for m := range ch {
		got = append(got, m)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(got), got)
	}
	if got[0].Kind != message.ScrapeFailed || got[0].Reason != "no reviews" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Kind != message.SessionChanged || len(got[1].Records) != 1 || got[1].Records[0].Stars != 2 {
		t.Errorf("second = %+v", got[1])
	}
}
