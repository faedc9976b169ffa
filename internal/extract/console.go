package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kalambet/reviewdesk/internal/feedback"
)

var firstNumber = regexp.MustCompile(`\d+`)

// ConsoleExtractor reads the review list of the developer console.
type ConsoleExtractor struct {
	sel  ConsoleSelectors
	opts options
}

func NewConsoleExtractor(sel ConsoleSelectors, opts ...Option) *ConsoleExtractor {
	return &ConsoleExtractor{sel: sel, opts: buildOptions(opts)}
}

func (e *ConsoleExtractor) Name() string { return ConsoleAdapter }

// Extract returns one record per review container that has an author, a date
// and review text. The rating is the first integer in the star widget's label.
func (e *ConsoleExtractor) Extract(ctx context.Context, doc Document) (recs []feedback.Record, err error) {
	defer guard(ConsoleAdapter, &err)

	d, err := load(ctx, ConsoleAdapter, doc)
	if err != nil {
		return nil, err
	}
	items := d.Find(e.sel.Review)
	if items.Length() == 0 {
		return nil, &ExtractionError{Adapter: ConsoleAdapter, Reason: "no review containers on page"}
	}

	url := doc.Location()
	recs = collect(e.opts.logger, ConsoleAdapter, items, func(s *goquery.Selection) feedback.Record {
		return feedback.Record{
			Author: s.Find(e.sel.Author).First().Text(),
			Date:   s.Find(e.sel.Date).First().Text(),
			Text:   s.Find(e.sel.Text).First().Text(),
			Stars:  parseStarLabel(s.Find(e.sel.Rating).First().AttrOr(e.sel.RatingAttr, "")),
			URL:    url,
		}
	})
	if len(recs) == 0 {
		return nil, &ExtractionError{Adapter: ConsoleAdapter, Reason: "no complete reviews on page"}
	}
	return recs, nil
}

// parseStarLabel pulls the rating out of labels like "Rated 4 stars out of five".
func parseStarLabel(label string) int {
	m := firstNumber.FindString(strings.TrimSpace(label))
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}
