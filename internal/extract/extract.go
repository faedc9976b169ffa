package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/benbjohnson/clock"

	"github.com/kalambet/reviewdesk/internal/feedback"
)

// DefaultMailSettleDelay is how long the mail adapter waits before scanning,
// because the mail client renders the open message after navigation settles.
const DefaultMailSettleDelay = 500 * time.Millisecond

// ErrExtraction matches every ExtractionError via errors.Is.
var ErrExtraction = errors.New("extraction failed")

// Document is a live host page. Load parses its current markup; calling it
// again later may observe a different tree.
type Document interface {
	Location() string
	Load(ctx context.Context) (*goquery.Document, error)
}

// Extractor turns one host document into canonical records. Implementations
// never panic and return an *ExtractionError when the page lacks the expected
// structure.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, doc Document) ([]feedback.Record, error)
}

// ExtractionError reports that a document did not have the structure an
// adapter expects.
type ExtractionError struct {
	Adapter string
	Reason  string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s extractor: %s: %v", e.Adapter, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s extractor: %s", e.Adapter, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

type options struct {
	logger *slog.Logger
	clock  clock.Clock
	settle time.Duration
}

// Option configures an extractor.
type Option func(*options)

// WithLogger sets the logger used for skipped-item diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces the wall clock; tests pass a mock to fast-forward the settle delay.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithSettleDelay overrides DefaultMailSettleDelay. Negative values are treated as zero.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.settle = d
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		clock:  clock.New(),
		settle: DefaultMailSettleDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the named adapter from a profile set. Adapters are chosen when
// the program is wired together, never by looking at page content.
func New(name string, p Profiles, opts ...Option) (Extractor, error) {
	switch strings.ToLower(name) {
	case ConsoleAdapter:
		return NewConsoleExtractor(p.Console, opts...), nil
	case StoreAdapter:
		return NewStoreExtractor(p.Store, opts...), nil
	case MailAdapter:
		return NewMailExtractor(p.Mail, opts...), nil
	default:
		return nil, fmt.Errorf("unknown adapter %q (want %s, %s or %s)", name, ConsoleAdapter, StoreAdapter, MailAdapter)
	}
}

const (
	ConsoleAdapter = "console"
	StoreAdapter   = "store"
	MailAdapter    = "mail"
)

var errIncomplete = errors.New("author, date or text is empty")

// collect parses every matched container independently; a container that
// fails to parse or yields an incomplete record is skipped.
func collect(logger *slog.Logger, adapter string, items *goquery.Selection, parse func(*goquery.Selection) feedback.Record) []feedback.Record {
	var out []feedback.Record
	items.Each(func(i int, s *goquery.Selection) {
		rec, err := parseItem(s, parse)
		if err != nil {
			logger.Debug("skipping item", "adapter", adapter, "index", i, "error", err)
			return
		}
		out = append(out, rec)
	})
	return out
}

func parseItem(s *goquery.Selection, parse func(*goquery.Selection) feedback.Record) (rec feedback.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing item: %v", r)
		}
	}()
	rec = parse(s).Normalize()
	if !rec.Valid() {
		return feedback.Record{}, errIncomplete
	}
	return rec, nil
}

// guard converts a panic inside an adapter into an ExtractionError.
func guard(adapter string, err *error) {
	if r := recover(); r != nil {
		*err = &ExtractionError{Adapter: adapter, Reason: fmt.Sprintf("unexpected failure: %v", r)}
	}
}

func load(ctx context.Context, adapter string, doc Document) (*goquery.Document, error) {
	d, err := doc.Load(ctx)
	if err != nil {
		return nil, &ExtractionError{Adapter: adapter, Reason: "loading document", Err: err}
	}
	return d, nil
}
