// Package agent runs extraction inside host pages. An Agent is bound to one
// page and one extractor; it executes scrape commands one at a time and
// reports the outcome as a message, never as a return value.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/kalambet/reviewdesk/internal/extract"
	"github.com/kalambet/reviewdesk/internal/message"
	"github.com/kalambet/reviewdesk/internal/page"
)

var (
	// ErrNoAgent means the active page has no extractor bound to it.
	ErrNoAgent = errors.New("no extraction agent on the active page")
	// ErrBusy means the agent's queue is full and the command was dropped.
	ErrBusy = errors.New("extraction agent is busy")
)

// Sender receives the single outcome message of a command.
type Sender interface {
	Send(ctx context.Context, msg message.Message) error
}

// Binding attaches an extractor to every page whose URL contains Match.
type Binding struct {
	Match     string
	Extractor extract.Extractor
}

func (b Binding) matches(url string) bool {
	return b.Match != "" && strings.Contains(url, b.Match)
}

type command struct {
	requestID string
	doc       extract.Document
	out       Sender
}

// Agent is the extraction context of one page.
type Agent struct {
	pageID  string
	binding Binding
	logger  *slog.Logger

	cmds chan command
	stop context.CancelFunc
	done chan struct{}
}

func startAgent(parent context.Context, pageID string, b Binding, logger *slog.Logger) *Agent {
	ctx, cancel := context.WithCancel(parent)
	a := &Agent{
		pageID:  pageID,
		binding: b,
		logger:  logger.With("page", pageID, "adapter", b.Extractor.Name()),
		cmds:    make(chan command, 4),
		stop:    cancel,
		done:    make(chan struct{}),
	}
	go a.run(ctx)
	return a
}

// Adapter names the extractor bound to this agent.
func (a *Agent) Adapter() string { return a.binding.Extractor.Name() }

func (a *Agent) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-a.cmds:
			a.handle(ctx, c)
		}
	}
}

func (a *Agent) handle(ctx context.Context, c command) {
	recs, err := a.binding.Extractor.Extract(ctx, c.doc)
	var msg message.Message
	if err != nil {
		a.logger.Info("extraction failed", "request", c.requestID, "error", err)
		msg = message.Failed(c.requestID, err.Error())
	} else {
		a.logger.Debug("extraction succeeded", "request", c.requestID, "records", len(recs))
		msg = message.Succeeded(c.requestID, recs)
	}
	if err := c.out.Send(ctx, msg); err != nil {
		a.logger.Warn("delivering extraction result", "request", c.requestID, "error", err)
	}
}

// Command queues a scrape of doc. The outcome is delivered to out. It never
// waits for the queue: the caller may be the same loop that receives the
// outcome, so a full queue drops the command with ErrBusy and the requester's
// timeout reports it.
func (a *Agent) Command(ctx context.Context, requestID string, doc extract.Document, out Sender) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-a.done:
		return errors.New("agent stopped")
	default:
	}
	select {
	case a.cmds <- command{requestID: requestID, doc: doc, out: out}:
		return nil
	default:
		return ErrBusy
	}
}

func (a *Agent) close() {
	a.stop()
	<-a.done
}

type options struct {
	logger *slog.Logger
}

// Option configures a Pool.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Pool injects agents into pages on demand. Which extractor a page gets is
// decided only by the bindings given to NewPool.
type Pool struct {
	browser  page.Browser
	bindings []Binding
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	agents map[string]*Agent
}

func NewPool(browser page.Browser, bindings []Binding, opts ...Option) *Pool {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		browser:  browser,
		bindings: bindings,
		logger:   o.logger,
		ctx:      ctx,
		cancel:   cancel,
		agents:   make(map[string]*Agent),
	}
}

// ActiveLocation returns the URL of the page the operator is looking at.
func (p *Pool) ActiveLocation(ctx context.Context) (string, error) {
	pg, err := p.browser.ActivePage(ctx)
	if err != nil {
		return "", err
	}
	return pg.Location(), nil
}

// Active returns the agent for the active page, injecting one if the page's
// URL matches a binding. An agent whose binding no longer matches the page
// (the tab navigated elsewhere) is stopped and replaced.
func (p *Pool) Active(ctx context.Context) (*Agent, page.Page, error) {
	pg, err := p.browser.ActivePage(ctx)
	if err != nil {
		return nil, nil, err
	}
	var bound *Binding
	for i := range p.bindings {
		if p.bindings[i].matches(pg.Location()) {
			bound = &p.bindings[i]
			break
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return nil, nil, errors.New("agent pool closed")
	}
	existing := p.agents[pg.ID()]
	if existing != nil && (bound == nil || existing.binding.Match != bound.Match) {
		delete(p.agents, pg.ID())
		go existing.close()
		existing = nil
	}
	if bound == nil {
		return nil, nil, ErrNoAgent
	}
	if existing == nil {
		existing = startAgent(p.ctx, pg.ID(), *bound, p.logger)
		p.agents[pg.ID()] = existing
		p.logger.Debug("injected agent", "page", pg.ID(), "adapter", bound.Extractor.Name())
	}
	return existing, pg, nil
}

// Dispatch forwards a scrape request to the active page's agent.
func (p *Pool) Dispatch(ctx context.Context, requestID string, out Sender) error {
	a, pg, err := p.Active(ctx)
	if err != nil {
		return err
	}
	p.logger.Debug("dispatching scrape", "request", requestID, "page", pg.ID(), "adapter", a.Adapter())
	return a.Command(ctx, requestID, pg, out)
}

// Close stops every agent and waits for in-flight extractions to return.
func (p *Pool) Close() {
	p.cancel()
	p.mu.Lock()
	agents := p.agents
	p.agents = make(map[string]*Agent)
	p.mu.Unlock()
	for _, a := range agents {
		a.close()
	}
}
