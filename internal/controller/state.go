package controller

import (
	"errors"
	"fmt"

	"github.com/kalambet/reviewdesk/internal/feedback"
)

// State is the controller's position in the scrape/reply cycle.
type State string

const (
	Idle            State = "idle"
	Scraping        State = "scraping"
	Ready           State = "ready"
	Failed          State = "failed"
	GeneratingReply State = "generating_reply"
	ReplyShown      State = "reply_shown"
)

// ErrNotReady is returned for navigation or reply requests made while no
// record is on screen.
var ErrNotReady = errors.New("no record is selected")

// FailureKind classifies what put the controller into Failed.
type FailureKind string

const (
	UnsupportedLocation FailureKind = "unsupported_location"
	ExtractionFailure   FailureKind = "extraction"
	TimeoutFailure      FailureKind = "timeout"
	ReplyServiceFailure FailureKind = "reply_service"
	RelayFailure        FailureKind = "relay"
)

// Failure is the single user-visible error of the Failed state.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// View is a snapshot of what the panel shows.
type View struct {
	State   State             `json:"state"`
	Records []feedback.Record `json:"records"`
	Cursor  int               `json:"cursor"`
	Reply   string            `json:"reply,omitempty"`
	Failure *Failure          `json:"failure,omitempty"`
	Loading bool              `json:"loading"`
}

// Current returns the record under the cursor.
func (v View) Current() (feedback.Record, bool) {
	if v.Cursor < 0 || v.Cursor >= len(v.Records) {
		return feedback.Record{}, false
	}
	return v.Records[v.Cursor], true
}

func (v View) clone() View {
	v.Records = feedback.Clone(v.Records)
	if v.Failure != nil {
		f := *v.Failure
		v.Failure = &f
	}
	return v
}
