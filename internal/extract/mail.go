package extract

import (
	"context"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/kalambet/reviewdesk/internal/feedback"
)

// MailExtractor reads the currently open message in the web mail client.
// It yields at most one record.
type MailExtractor struct {
	sel  MailSelectors
	opts options
}

func NewMailExtractor(sel MailSelectors, opts ...Option) *MailExtractor {
	return &MailExtractor{sel: sel, opts: buildOptions(opts)}
}

func (e *MailExtractor) Name() string { return MailAdapter }

// Extract waits for the settle delay, then reads subject, sender, date and
// body of the open message. All four elements must be present. The sender
// falls back from display name to address to N/A, and an empty date title to
// N/A.
func (e *MailExtractor) Extract(ctx context.Context, doc Document) (recs []feedback.Record, err error) {
	defer guard(MailAdapter, &err)

	if e.opts.settle > 0 {
		t := e.opts.clock.Timer(e.opts.settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, &ExtractionError{Adapter: MailAdapter, Reason: "waiting for message to render", Err: ctx.Err()}
		case <-t.C:
		}
	}

	d, err := load(ctx, MailAdapter, doc)
	if err != nil {
		return nil, err
	}
	subject := d.Find(e.sel.Subject).First()
	sender := d.Find(e.sel.Sender).First()
	dated := d.Find(e.sel.Date).First()
	body := d.Find(e.sel.Body).First()
	var missing []string
	for _, el := range []struct {
		name string
		sel  *goquery.Selection
	}{{"subject", subject}, {"sender", sender}, {"date", dated}, {"body", body}} {
		if el.sel.Length() == 0 {
			missing = append(missing, el.name)
		}
	}
	if len(missing) > 0 {
		return nil, &ExtractionError{Adapter: MailAdapter, Reason: "no open message (missing " + strings.Join(missing, ", ") + ")"}
	}

	author := firstNonEmpty(sender.AttrOr("name", ""), sender.AttrOr("email", ""), feedback.NotAvailable)
	date := firstNonEmpty(dated.AttrOr("title", ""), feedback.NotAvailable)

	rec := feedback.Record{
		Author: author,
		Date:   date,
		Text:   visibleText(subject) + "\n\n" + e.bodyText(body),
		Stars:  0,
		URL:    doc.Location(),
	}.Normalize()
	if !rec.Valid() {
		return nil, &ExtractionError{Adapter: MailAdapter, Reason: "open message has no text"}
	}
	return []feedback.Record{rec}, nil
}

// bodyText renders the message body as Markdown so lists, quotes and links
// survive into the reply prompt. It falls back to plain visible text.
func (e *MailExtractor) bodyText(body *goquery.Selection) string {
	inner, err := body.Html()
	if err == nil {
		md, err := htmltomarkdown.ConvertString(inner)
		if err == nil && strings.TrimSpace(md) != "" {
			return strings.TrimSpace(md)
		}
		if err != nil {
			e.opts.logger.Debug("markdown conversion failed", "error", err)
		}
	}
	return visibleText(body)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
