// Package relay is the single coordinator between controllers and extraction
// agents. It routes scrape requests to the active page, is the only writer
// of the session's records, and broadcasts session changes to every
// subscribed controller.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kalambet/reviewdesk/internal/agent"
	"github.com/kalambet/reviewdesk/internal/feedback"
	"github.com/kalambet/reviewdesk/internal/message"
	"github.com/kalambet/reviewdesk/internal/storage"
)

// SelectionAuthor marks records captured from a manual text selection.
const SelectionAuthor = "N/A (selection)"

// ErrEmptySelection is returned by CaptureSelection for blank text.
var ErrEmptySelection = errors.New("selection is empty")

// Store is the persisted session as seen by the relay.
type Store interface {
	Load(ctx context.Context) (storage.SessionState, error)
	ReplaceRecords(ctx context.Context, recs []feedback.Record) error
	SetCursor(ctx context.Context, k int) error
}

// Agents resolves the active page and forwards commands to its agent.
type Agents interface {
	Dispatch(ctx context.Context, requestID string, out agent.Sender) error
	ActiveLocation(ctx context.Context) (string, error)
}

type envelope struct {
	msg  message.Message
	done chan error
}

type options struct {
	logger    *slog.Logger
	clock     clock.Clock
	subBuffer int
}

// Option configures a Relay.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used to timestamp selection captures.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithSubscriberBuffer sets how many undelivered messages a subscriber may
// lag behind before further broadcasts to it are dropped.
func WithSubscriberBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.subBuffer = n
		}
	}
}

type Relay struct {
	store  Store
	agents Agents
	logger *slog.Logger
	clock  clock.Clock
	bufLen int

	inbox chan envelope

	mu     sync.Mutex
	subs   map[int]chan message.Message
	nextID int
}

func New(store Store, agents Agents, opts ...Option) *Relay {
	o := options{logger: slog.Default(), clock: clock.New(), subBuffer: 16}
	for _, opt := range opts {
		opt(&o)
	}
	return &Relay{
		store:  store,
		agents: agents,
		logger: o.logger,
		clock:  o.clock,
		bufLen: o.subBuffer,
		inbox:  make(chan envelope, 32),
		subs:   make(map[int]chan message.Message),
	}
}

// Run processes the inbox one message at a time until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-r.inbox:
			err := r.handle(ctx, env.msg)
			if env.done != nil {
				env.done <- err
			}
		}
	}
}

// Send queues a message for the relay. Delivery is fire-and-forget: the
// outcome reaches controllers only through the broadcast.
func (r *Relay) Send(ctx context.Context, msg message.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Kind == message.SessionChanged {
		return fmt.Errorf("%s is broadcast by the relay and cannot be sent to it", msg.Kind)
	}
	return r.enqueue(ctx, envelope{msg: msg})
}

func (r *Relay) enqueue(ctx context.Context, env envelope) error {
	select {
	case r.inbox <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CaptureSelection stores a single record built from selected text and
// broadcasts it like a successful scrape. It returns once the record is
// persisted.
func (r *Relay) CaptureSelection(ctx context.Context, text, url string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptySelection
	}
	rec := feedback.Record{
		Author: SelectionAuthor,
		Date:   r.clock.Now().UTC().Format(time.RFC3339),
		Text:   text,
		Stars:  0,
		URL:    url,
	}.Normalize()

	env := envelope{msg: message.Changed("", []feedback.Record{rec}), done: make(chan error, 1)}
	if err := r.enqueue(ctx, env); err != nil {
		return err
	}
	select {
	case err := <-env.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) handle(ctx context.Context, msg message.Message) error {
	r.logger.Debug("relay message", "kind", msg.Kind, "request", msg.RequestID, "records", len(msg.Records))

	switch msg.Kind {
	case message.ScrapeRequested:
		if err := r.agents.Dispatch(ctx, msg.RequestID, r); err != nil {
			// No reply: the requesting controller's timer decides.
			r.logger.Warn("scrape request not delivered", "request", msg.RequestID, "error", err)
		}
		return nil

	case message.ScrapeSucceeded, message.SessionChanged:
		// SessionChanged only reaches the inbox from CaptureSelection.
		if len(msg.Records) == 0 {
			r.broadcast(message.Failed(msg.RequestID, "no records were extracted"))
			return nil
		}
		if err := r.store.ReplaceRecords(ctx, msg.Records); err != nil {
			r.logger.Error("persisting records", "request", msg.RequestID, "error", err)
			r.broadcast(message.Failed(msg.RequestID, "could not save extracted records"))
			return fmt.Errorf("persisting records: %w", err)
		}
		r.broadcast(message.Changed(msg.RequestID, msg.Records))
		return nil

	case message.ScrapeFailed:
		r.broadcast(msg)
		return nil
	}
	return fmt.Errorf("unhandled message kind %q", msg.Kind)
}

// Subscribe returns a channel that receives every broadcast until ctx is
// cancelled, after which the channel is closed.
func (r *Relay) Subscribe(ctx context.Context) <-chan message.Message {
	ch := make(chan message.Message, r.bufLen)
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subs, id)
		close(ch)
		r.mu.Unlock()
	}()
	return ch
}

// broadcast delivers msg to every subscriber without blocking. Each
// subscriber gets its own copy of the record slice.
func (r *Relay) broadcast(msg message.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		m := msg
		m.Records = feedback.Clone(msg.Records)
		select {
		case ch <- m:
		default:
			r.logger.Warn("subscriber lagging, dropping broadcast", "subscriber", id, "kind", msg.Kind)
		}
	}
}

// Load returns the persisted session.
func (r *Relay) Load(ctx context.Context) (storage.SessionState, error) {
	return r.store.Load(ctx)
}

// WriteCursor persists a new cursor. It does not broadcast, so the
// controller that moved the cursor is not notified of its own write.
func (r *Relay) WriteCursor(ctx context.Context, k int) error {
	return r.store.SetCursor(ctx, k)
}

// ActiveLocation returns the URL of the active page.
func (r *Relay) ActiveLocation(ctx context.Context) (string, error) {
	return r.agents.ActiveLocation(ctx)
}

// Subscribers returns the number of attached controllers.
func (r *Relay) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
