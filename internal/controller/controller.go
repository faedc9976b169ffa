// Package controller drives the review panel. All state changes happen on
// one event loop that selects over user actions, relay broadcasts, the scrape
// wait timer and reply results; whichever of a terminal message and the timer
// is received first ends a scrape, and the other is discarded.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kalambet/reviewdesk/internal/composer"
	"github.com/kalambet/reviewdesk/internal/message"
	"github.com/kalambet/reviewdesk/internal/reply"
	"github.com/kalambet/reviewdesk/internal/storage"
)

// DefaultScrapeTimeout bounds the wait for a terminal message after a scrape request.
const DefaultScrapeTimeout = 10 * time.Second

// maxIssued is how many of its own request ids the controller remembers so
// that late results for them are recognised and dropped.
const maxIssued = 32

// Relay is the controller's only path to the session and the pages.
type Relay interface {
	Send(ctx context.Context, msg message.Message) error
	Subscribe(ctx context.Context) <-chan message.Message
	Load(ctx context.Context) (storage.SessionState, error)
	WriteCursor(ctx context.Context, k int) error
	ActiveLocation(ctx context.Context) (string, error)
}

type options struct {
	logger   *slog.Logger
	clock    clock.Clock
	timeout  time.Duration
	composer *composer.Composer
	hook     func(from State, v View)
}

// Option configures a Controller.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces the wall clock driving the scrape timeout.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithScrapeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithComposer(c *composer.Composer) Option {
	return func(o *options) { o.composer = c }
}

// WithTransitionHook registers fn to be called from the event loop after
// every view change with the previous state and the new view. fn must not
// call back into the controller.
func WithTransitionHook(fn func(from State, v View)) Option {
	return func(o *options) { o.hook = fn }
}

type action struct {
	fn   func(ctx context.Context) error
	done chan error
}

type replyResult struct {
	gen  int
	text string
	err  error
}

// Controller is the panel state machine. Create it with New and start it
// with Run; the action methods block until the event loop has applied them.
type Controller struct {
	relay    Relay
	gen      reply.Generator
	composer *composer.Composer
	hosts    []string
	timeout  time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	hook     func(from State, v View)

	actions chan action
	replies chan replyResult

	mu   sync.RWMutex
	view View

	// Owned by the event loop.
	pending     string
	timer       *clock.Timer
	issued      []string
	replyGen    int
	cancelReply context.CancelFunc
}

// New creates a controller that accepts pages whose URL contains one of hosts.
func New(relay Relay, gen reply.Generator, hosts []string, opts ...Option) *Controller {
	o := options{
		logger:  slog.Default(),
		clock:   clock.New(),
		timeout: DefaultScrapeTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.composer == nil {
		o.composer = composer.New(0)
	}
	return &Controller{
		relay:    relay,
		gen:      gen,
		composer: o.composer,
		hosts:    hosts,
		timeout:  o.timeout,
		clock:    o.clock,
		logger:   o.logger,
		hook:     o.hook,
		actions:  make(chan action),
		replies:  make(chan replyResult, 1),
		view:     View{State: Idle},
	}
}

// View returns a copy of the current view.
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.clone()
}

// Run activates the controller from the persisted session and processes
// events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	sub := c.relay.Subscribe(ctx)
	c.activate(ctx)
	defer c.stopTimer()
	defer c.abandonReply()

	for {
		var timeout <-chan time.Time
		if c.timer != nil {
			timeout = c.timer.C
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-c.actions:
			a.done <- a.fn(ctx)
		case m, ok := <-sub:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("relay subscription closed")
			}
			c.onMessage(ctx, m)
		case <-timeout:
			c.onTimeout()
		case r := <-c.replies:
			c.onReply(r)
		}
	}
}

func (c *Controller) do(ctx context.Context, fn func(context.Context) error) error {
	a := action{fn: fn, done: make(chan error, 1)}
	select {
	case c.actions <- a:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-a.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger starts a new extraction. It is accepted in every state and
// supersedes any outstanding scrape or reply. An unsupported location fails
// immediately without contacting the page.
func (c *Controller) Trigger(ctx context.Context) error {
	return c.do(ctx, c.trigger)
}

// Navigate moves the cursor by delta. Moves past either end leave everything
// unchanged.
func (c *Controller) Navigate(ctx context.Context, delta int) error {
	return c.do(ctx, func(ctx context.Context) error { return c.navigate(ctx, delta) })
}

// RequestReply asks the reply service for a draft for the current record.
func (c *Controller) RequestReply(ctx context.Context) error {
	return c.do(ctx, c.requestReply)
}

func (c *Controller) activate(ctx context.Context) {
	st, err := c.relay.Load(ctx)
	if err != nil {
		c.logger.Warn("loading session on activation", "error", err)
		return
	}
	if st.Empty() {
		return
	}
	c.update(func(v *View) {
		*v = View{State: Ready, Records: st.Records, Cursor: st.Cursor}
	})
}

func (c *Controller) supported(loc string) bool {
	for _, h := range c.hosts {
		if h != "" && strings.Contains(loc, h) {
			return true
		}
	}
	return false
}

func (c *Controller) trigger(ctx context.Context) error {
	c.supersede()

	loc, err := c.relay.ActiveLocation(ctx)
	if err != nil {
		c.fail(&Failure{Kind: UnsupportedLocation, Message: "could not determine the active page", Err: err})
		return nil
	}
	if !c.supported(loc) {
		c.fail(&Failure{
			Kind:    UnsupportedLocation,
			Message: fmt.Sprintf("%s is not a supported page; open a review list or a mail message first", loc),
		})
		return nil
	}

	id := message.NewRequestID()
	c.pending = id
	c.remember(id)
	c.timer = c.clock.Timer(c.timeout)
	c.update(func(v *View) {
		v.State = Scraping
		v.Loading = true
		v.Failure = nil
		v.Reply = ""
	})

	if err := c.relay.Send(ctx, message.Request(id)); err != nil {
		c.stopTimer()
		c.pending = ""
		c.fail(&Failure{Kind: RelayFailure, Message: "could not reach the relay", Err: err})
	}
	return nil
}

func (c *Controller) navigate(ctx context.Context, delta int) error {
	c.mu.RLock()
	state := c.view.State
	c.mu.RUnlock()
	if state != Ready && state != ReplyShown {
		return ErrNotReady
	}

	// Re-read before mutating the cursor.
	st, err := c.relay.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if st.Empty() {
		return ErrNotReady
	}
	target := st.Cursor + delta
	if delta == 0 || target < 0 || target >= len(st.Records) {
		return nil
	}
	if err := c.relay.WriteCursor(ctx, target); err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	c.abandonReply()
	c.update(func(v *View) {
		*v = View{State: Ready, Records: st.Records, Cursor: target}
	})
	return nil
}

func (c *Controller) requestReply(ctx context.Context) error {
	c.mu.RLock()
	state := c.view.State
	rec, ok := c.view.Current()
	c.mu.RUnlock()
	if (state != Ready && state != ReplyShown) || !ok {
		return ErrNotReady
	}
	if c.gen == nil {
		c.fail(&Failure{Kind: ReplyServiceFailure, Message: "no reply service is configured"})
		return nil
	}

	c.abandonReply()
	c.replyGen++
	gen := c.replyGen
	rctx, cancel := context.WithCancel(ctx)
	c.cancelReply = cancel
	req := reply.Request{Prompt: c.composer.Prompt(rec), Stars: rec.Stars}

	c.update(func(v *View) {
		v.State = GeneratingReply
		v.Loading = true
		v.Reply = ""
		v.Failure = nil
	})

	go func() {
		text, err := c.gen.Generate(rctx, req)
		select {
		case c.replies <- replyResult{gen: gen, text: text, err: err}:
		case <-rctx.Done():
		}
	}()
	return nil
}

func (c *Controller) onMessage(ctx context.Context, m message.Message) {
	c.mu.RLock()
	state := c.view.State
	c.mu.RUnlock()

	switch {
	case m.RequestID == "":
		// Out-of-band change (selection capture): always shown.
		if m.Kind == message.SessionChanged {
			c.supersede()
			c.showSession(ctx, m)
		}
	case m.RequestID == c.pending && state == Scraping:
		if !m.Terminal() {
			return
		}
		c.stopTimer()
		c.pending = ""
		if m.Kind == message.ScrapeFailed {
			c.fail(&Failure{Kind: ExtractionFailure, Message: nonEmpty(m.Reason, "extraction failed")})
			return
		}
		c.showSession(ctx, m)
	case c.wasIssued(m.RequestID):
		c.logger.Debug("dropping stale result", "kind", m.Kind, "request", m.RequestID)
	default:
		// Another panel's scrape replaced the records.
		if m.Kind == message.SessionChanged && state != Scraping {
			c.supersede()
			c.showSession(ctx, m)
		}
	}
}

// showSession moves to Ready using the persisted cursor, falling back to the
// broadcast records if the store cannot be read.
func (c *Controller) showSession(ctx context.Context, m message.Message) {
	st, err := c.relay.Load(ctx)
	if err != nil {
		c.logger.Warn("reloading session", "error", err)
		st = storage.SessionState{Records: m.Records}
	}
	if st.Empty() {
		c.fail(&Failure{Kind: ExtractionFailure, Message: "no records were extracted"})
		return
	}
	c.update(func(v *View) {
		*v = View{State: Ready, Records: st.Records, Cursor: st.Cursor}
	})
}

func (c *Controller) onTimeout() {
	c.timer = nil
	c.mu.RLock()
	state := c.view.State
	c.mu.RUnlock()
	if state != Scraping {
		return
	}
	c.pending = ""
	c.fail(&Failure{
		Kind:    TimeoutFailure,
		Message: fmt.Sprintf("the page did not answer within %s; reload it and try again", c.timeout),
	})
}

func (c *Controller) onReply(r replyResult) {
	c.mu.RLock()
	state := c.view.State
	c.mu.RUnlock()
	if r.gen != c.replyGen || state != GeneratingReply {
		return
	}
	c.cancelReply = nil

	if r.err != nil {
		msg := "could not generate a reply"
		var se *reply.ServiceError
		switch {
		case errors.As(r.err, &se) && se.Message != "":
			msg = se.Message
		case errors.Is(r.err, reply.ErrEmptyReply):
			msg = "the reply service returned no text"
		}
		c.fail(&Failure{Kind: ReplyServiceFailure, Message: msg, Err: r.err})
		return
	}
	c.update(func(v *View) {
		v.State = ReplyShown
		v.Loading = false
		v.Reply = r.text
	})
}

// supersede invalidates the outstanding scrape and reply, if any.
func (c *Controller) supersede() {
	c.stopTimer()
	c.pending = ""
	c.abandonReply()
}

func (c *Controller) abandonReply() {
	if c.cancelReply != nil {
		c.cancelReply()
		c.cancelReply = nil
	}
	c.replyGen++
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) remember(id string) {
	c.issued = append(c.issued, id)
	if len(c.issued) > maxIssued {
		c.issued = c.issued[len(c.issued)-maxIssued:]
	}
}

func (c *Controller) wasIssued(id string) bool {
	for _, v := range c.issued {
		if v == id {
			return true
		}
	}
	return false
}

func (c *Controller) fail(f *Failure) {
	c.logger.Info("panel failure", "kind", f.Kind, "message", f.Message)
	c.update(func(v *View) {
		v.State = Failed
		v.Loading = false
		v.Reply = ""
		v.Failure = f
	})
}

// update mutates the view under the lock and reports transitions.
func (c *Controller) update(fn func(v *View)) {
	c.mu.Lock()
	from := c.view.State
	fn(&c.view)
	snapshot := c.view.clone()
	c.mu.Unlock()

	if from != snapshot.State {
		c.logger.Debug("panel transition", "from", from, "to", snapshot.State)
	}
	if c.hook != nil {
		c.hook(from, snapshot)
	}
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
