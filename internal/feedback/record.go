package feedback

import "strings"

// NotAvailable is the placeholder used when a source has no value for a field.
const NotAvailable = "N/A"

// Record is one extracted feedback item: an app-store review or an email.
// Date is kept in the source's own textual representation.
type Record struct {
	Author string `json:"author"`
	Date   string `json:"date"`
	Text   string `json:"text"`
	Stars  int    `json:"stars"`
	URL    string `json:"url"`
}

// Normalize trims the text fields and clamps a negative rating to zero.
func (r Record) Normalize() Record {
	r.Author = strings.TrimSpace(r.Author)
	r.Date = strings.TrimSpace(r.Date)
	r.Text = strings.TrimSpace(r.Text)
	r.URL = strings.TrimSpace(r.URL)
	if r.Stars < 0 {
		r.Stars = 0
	}
	return r
}

// Valid reports whether author, date and text are all non-empty after trimming.
// Only valid records may be emitted by an extractor.
func (r Record) Valid() bool {
	return strings.TrimSpace(r.Author) != "" &&
		strings.TrimSpace(r.Date) != "" &&
		strings.TrimSpace(r.Text) != "" &&
		r.Stars >= 0
}

// Clone returns a copy of recs that shares no backing array with the input.
func Clone(recs []Record) []Record {
	if recs == nil {
		return nil
	}
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}
