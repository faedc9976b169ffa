package message

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/reviewdesk/internal/feedback"
)

// Kind tags the variant carried by a Message.
type Kind string

const (
	ScrapeRequested Kind = "scrape_requested"
	ScrapeSucceeded Kind = "scrape_succeeded"
	ScrapeFailed    Kind = "scrape_failed"
	SessionChanged  Kind = "session_changed"
)

// Message is the unit exchanged between the controller, the relay and the
// extraction agents. RequestID ties a result to the scrape request that caused
// it; it is empty for out-of-band session changes such as a selection capture.
type Message struct {
	Kind      Kind              `json:"kind"`
	RequestID string            `json:"request_id,omitempty"`
	Records   []feedback.Record `json:"records,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// NewRequestID returns a fresh scrape request id.
func NewRequestID() string {
	return uuid.New().String()
}

func Request(id string) Message {
	return Message{Kind: ScrapeRequested, RequestID: id}
}

func Succeeded(id string, recs []feedback.Record) Message {
	return Message{Kind: ScrapeSucceeded, RequestID: id, Records: recs}
}

func Failed(id, reason string) Message {
	return Message{Kind: ScrapeFailed, RequestID: id, Reason: reason}
}

func Changed(id string, recs []feedback.Record) Message {
	return Message{Kind: SessionChanged, RequestID: id, Records: recs}
}

// Validate checks that the message is a known variant with the fields it requires.
func (m Message) Validate() error {
	switch m.Kind {
	case ScrapeRequested:
		if m.RequestID == "" {
			return fmt.Errorf("%s: request_id is required", m.Kind)
		}
	case ScrapeSucceeded, ScrapeFailed, SessionChanged:
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}

// Terminal reports whether m ends a pending scrape request.
func (m Message) Terminal() bool {
	return m.Kind == SessionChanged || m.Kind == ScrapeFailed
}
