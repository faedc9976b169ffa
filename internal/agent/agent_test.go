package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/reviewdesk/internal/extract"
	"github.com/kalambet/reviewdesk/internal/feedback"
	"github.com/kalambet/reviewdesk/internal/message"
	"github.com/kalambet/reviewdesk/internal/page"
)

type mockExtractor struct {
	name      string
	extractFn func(ctx context.Context, doc extract.Document) ([]feedback.Record, error)
}

func (m *mockExtractor) Name() string { return m.name }

func (m *mockExtractor) Extract(ctx context.Context, doc extract.Document) ([]feedback.Record, error) {
	return m.extractFn(ctx, doc)
}

type chanSender chan message.Message

func (c chanSender) Send(_ context.Context, m message.Message) error {
	c <- m
	return nil
}

func recv(t *testing.T, c chanSender) message.Message {
	t.Helper()
	select {
	case m := <-c:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message from agent")
		return message.Message{}
	}
}

func TestPool_DispatchSucceeded(t *testing.T) {
	ex := &mockExtractor{name: "store", extractFn: func(_ context.Context, doc extract.Document) ([]feedback.Record, error) {
		return []feedback.Record{{Author: "a", Date: "d", Text: "t", URL: doc.Location()}}, nil
	}}
	br := page.NewFixed(page.Snapshot{PageID: "tab1", URL: "https://apps.apple.com/us/app/x"})
	pool := NewPool(br, []Binding{{Match: "apps.apple.com", Extractor: ex}})
	defer pool.Close()

	out := make(chanSender, 1)
	if err := pool.Dispatch(context.Background(), "req-1", out); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	m := recv(t, out)
	if m.Kind != message.ScrapeSucceeded || m.RequestID != "req-1" || len(m.Records) != 1 {
		t.Fatalf("message = %+v", m)
	}
	if m.Records[0].URL != "https://apps.apple.com/us/app/x" {
		t.Errorf("record URL = %q", m.Records[0].URL)
	}
}

func TestPool_DispatchFailed(t *testing.T) {
	ex := &mockExtractor{name: "mail", extractFn: func(context.Context, extract.Document) ([]feedback.Record, error) {
		return nil, &extract.ExtractionError{Adapter: "mail", Reason: "no open message"}
	}}
	br := page.NewFixed(page.Snapshot{PageID: "tab1", URL: "https://mail.google.com/mail/u/0"})
	pool := NewPool(br, []Binding{{Match: "mail.google.com", Extractor: ex}})
	defer pool.Close()

	out := make(chanSender, 1)
	if err := pool.Dispatch(context.Background(), "req-2", out); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	m := recv(t, out)
	if m.Kind != message.ScrapeFailed || m.RequestID != "req-2" || m.Reason == "" {
		t.Fatalf("message = %+v", m)
	}
}

func TestPool_NoBinding(t *testing.T) {
	br := page.NewFixed(page.Snapshot{PageID: "tab1", URL: "https://example.com"})
	pool := NewPool(br, []Binding{{Match: "apps.apple.com", Extractor: &mockExtractor{name: "store"}}})
	defer pool.Close()

	if err := pool.Dispatch(context.Background(), "r", make(chanSender, 1)); !errors.Is(err, ErrNoAgent) {
		t.Fatalf("err = %v, want ErrNoAgent", err)
	}
	loc, err := pool.ActiveLocation(context.Background())
	if err != nil || loc != "https://example.com" {
		t.Errorf("ActiveLocation = %q, %v", loc, err)
	}
}

func TestPool_ReusesAgentPerPage(t *testing.T) {
	store := &mockExtractor{name: "store"}
	mail := &mockExtractor{name: "mail"}
	br := page.NewFixed(page.Snapshot{PageID: "tab1", URL: "https://apps.apple.com/app"})
	pool := NewPool(br, []Binding{
		{Match: "apps.apple.com", Extractor: store},
		{Match: "mail.google.com", Extractor: mail},
	})
	defer pool.Close()

	a1, _, err := pool.Active(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	a2, _, _ := pool.Active(context.Background())
	if a1 != a2 {
		t.Error("expected the same agent for the same page")
	}

	// Same tab navigates to a different host: the old agent is replaced.
	br.Switch(page.Snapshot{PageID: "tab1", URL: "https://mail.google.com/mail"})
	a3, _, err := pool.Active(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if a3 == a1 || a3.Adapter() != "mail" {
		t.Errorf("agent not replaced after navigation: adapter %q", a3.Adapter())
	}
}

func TestAgent_CommandDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	ex := &mockExtractor{name: "store", extractFn: func(ctx context.Context, _ extract.Document) ([]feedback.Record, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, errors.New("released")
	}}
	br := page.NewFixed(page.Snapshot{PageID: "tab1", URL: "https://apps.apple.com/us/app/x"})
	pool := NewPool(br, []Binding{{Match: "apps.apple.com", Extractor: ex}})
	defer pool.Close()
	defer close(release)

	out := make(chanSender, 16)
	busy := 0
	start := time.Now()
	for i := 0; i < 10; i++ {
		err := pool.Dispatch(context.Background(), "req", out)
		switch {
		case errors.Is(err, ErrBusy):
			busy++
		case err != nil:
			t.Fatalf("Dispatch %d: %v", i, err)
		}
	}
	if busy == 0 {
		t.Error("expected some commands to be dropped while the agent is stuck")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Dispatch blocked for %s", elapsed)
	}
}
