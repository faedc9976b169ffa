package page

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// RodBrowser attaches to a Chrome instance over the DevTools protocol. With
// an empty control URL it launches a local headful Chrome on first use.
type RodBrowser struct {
	controlURL string
	logger     *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

func NewRodBrowser(controlURL string, logger *slog.Logger) *RodBrowser {
	if logger == nil {
		logger = slog.Default()
	}
	return &RodBrowser{controlURL: controlURL, logger: logger}
}

func (b *RodBrowser) connect(ctx context.Context) (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.controlURL
	if wsURL == "" {
		l := launcher.New().Headless(false)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launching chrome: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.logger.Info("launched local chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL).Context(ctx)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to chrome at %s: %w", wsURL, err)
	}
	// Detach from the connect context so later calls are not cancelled with it.
	b.browser = br.Context(context.Background())
	return b.browser, nil
}

// ActivePage returns the first visible tab, or the first tab when visibility
// cannot be determined.
func (b *RodBrowser) ActivePage(ctx context.Context) (Page, error) {
	br, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	pages, err := br.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("listing tabs: %w", err)
	}
	if len(pages) == 0 {
		return nil, ErrNoActivePage
	}
	chosen := pages[0]
	for _, p := range pages {
		res, err := p.Context(ctx).Eval(`() => document.visibilityState`)
		if err != nil {
			continue
		}
		if res.Value.Str() == "visible" {
			chosen = p
			break
		}
	}
	info, err := chosen.Context(ctx).Info()
	if err != nil {
		return nil, fmt.Errorf("reading tab info: %w", err)
	}
	return &rodPage{page: chosen, id: string(chosen.TargetID), url: info.URL}, nil
}

// Close disconnects and kills a Chrome this browser launched itself.
func (b *RodBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Kill()
		b.lnch = nil
	}
	return err
}

type rodPage struct {
	page *rod.Page
	id   string
	url  string
}

func (p *rodPage) ID() string       { return p.id }
func (p *rodPage) Location() string { return p.url }

func (p *rodPage) Load(ctx context.Context) (*goquery.Document, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("reading DOM of %s: %w", p.url, err)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(res.Value.Str()))
}
