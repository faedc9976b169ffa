package page

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Snapshot is a page backed by fixed markup.
type Snapshot struct {
	PageID string
	URL    string
	Markup string
}

func (s Snapshot) ID() string       { return s.PageID }
func (s Snapshot) Location() string { return s.URL }

func (s Snapshot) Load(context.Context) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(s.Markup))
}

// FilePage reads a saved page from disk on every Load. The file name stands
// in for the location when URL is empty.
type FilePage struct {
	Path string
	URL  string
}

func (f FilePage) ID() string { return "file:" + f.Path }

func (f FilePage) Location() string {
	if f.URL != "" {
		return f.URL
	}
	return "file://" + f.Path
}

func (f FilePage) Load(context.Context) (*goquery.Document, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("opening page file: %w", err)
	}
	defer fh.Close()
	return goquery.NewDocumentFromReader(fh)
}

// RemotePage fetches a URL on every Load.
type RemotePage struct {
	URL    string
	Client *http.Client
}

func (r RemotePage) ID() string       { return "url:" + r.URL }
func (r RemotePage) Location() string { return r.URL }

func (r RemotePage) Load(ctx context.Context) (*goquery.Document, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", r.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", r.URL, resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

// Fixed is a Browser whose active page is set explicitly.
type Fixed struct {
	mu     sync.Mutex
	active Page
}

func NewFixed(p Page) *Fixed {
	return &Fixed{active: p}
}

// Switch makes p the active page; nil means no page is active.
func (f *Fixed) Switch(p Page) {
	f.mu.Lock()
	f.active = p
	f.mu.Unlock()
}

func (f *Fixed) ActivePage(context.Context) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, ErrNoActivePage
	}
	return f.active, nil
}
