package storage

import (
	"errors"

	"github.com/kalambet/reviewdesk/internal/feedback"
)

// ErrCursorOutOfRange is returned when a cursor write falls outside the
// current record set.
var ErrCursorOutOfRange = errors.New("cursor out of range")

const (
	keyRecords = "records"
	keyCursor  = "cursor"
)

// SessionState is the persisted working set.
type SessionState struct {
	Records []feedback.Record `json:"records"`
	Cursor  int               `json:"cursor"`
}

// Empty reports whether no records are stored.
func (s SessionState) Empty() bool { return len(s.Records) == 0 }

// Current returns the record under the cursor.
func (s SessionState) Current() (feedback.Record, bool) {
	if s.Cursor < 0 || s.Cursor >= len(s.Records) {
		return feedback.Record{}, false
	}
	return s.Records[s.Cursor], true
}
