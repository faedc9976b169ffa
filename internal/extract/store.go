package extract

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kalambet/reviewdesk/internal/feedback"
)

// StoreExtractor reads customer reviews from the app store's web listing.
type StoreExtractor struct {
	sel  StoreSelectors
	opts options
}

func NewStoreExtractor(sel StoreSelectors, opts ...Option) *StoreExtractor {
	return &StoreExtractor{sel: sel, opts: buildOptions(opts)}
}

func (e *StoreExtractor) Name() string { return StoreAdapter }

// Extract returns one record per review container. Author and date share a
// single line on this site and are split by splitDateAuthor; the rating is the
// number of star glyphs; the review title, when present, is prepended to the
// body.
func (e *StoreExtractor) Extract(ctx context.Context, doc Document) (recs []feedback.Record, err error) {
	defer guard(StoreAdapter, &err)

	d, err := load(ctx, StoreAdapter, doc)
	if err != nil {
		return nil, err
	}
	items := d.Find(e.sel.Review)
	if items.Length() == 0 {
		return nil, &ExtractionError{Adapter: StoreAdapter, Reason: "no review containers on page"}
	}

	url := doc.Location()
	recs = collect(e.opts.logger, StoreAdapter, items, func(s *goquery.Selection) feedback.Record {
		date, author := splitDateAuthor(visibleText(s.Find(e.sel.AuthorDate).First()))
		return feedback.Record{
			Author: author,
			Date:   date,
			Text:   joinTitleBody(visibleText(s.Find(e.sel.Title).First()), visibleText(s.Find(e.sel.Body).First())),
			Stars:  s.Find(e.sel.Rating).First().Children().Length(),
			URL:    url,
		}
	})
	if len(recs) == 0 {
		return nil, &ExtractionError{Adapter: StoreAdapter, Reason: "no complete reviews on page"}
	}
	return recs, nil
}

func isDash(r rune) bool {
	return r == '-' || r == '–' || r == '—'
}

// splitDateAuthor splits "date – author" on every dash character. The first
// piece is the date and the remaining pieces are re-joined with "-" as the
// author, so a dash inside the date itself misattributes the tail of the date
// to the author. With no dash the whole line is the author and the date is
// N/A; an empty line yields N/A for both. Empty pieces are returned as-is and
// make the record incomplete.
func splitDateAuthor(line string) (date, author string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return feedback.NotAvailable, feedback.NotAvailable
	}
	var parts []string
	start := 0
	for i, r := range line {
		if isDash(r) {
			parts = append(parts, line[start:i])
			start = i + len(string(r))
		}
	}
	parts = append(parts, line[start:])
	if len(parts) == 1 {
		return feedback.NotAvailable, line
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(strings.Join(parts[1:], "-"))
}

func joinTitleBody(title, body string) string {
	switch {
	case title != "" && body != "":
		return title + "\n\n" + body
	case title != "":
		return title
	default:
		return body
	}
}
