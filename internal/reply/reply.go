// Package reply talks to the collaborator that turns a prompt into a reply
// draft. Three backends share one Generator interface: the plain HTTP reply
// service, a local Ollama model and the Anthropic API.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyReply is returned when a backend answers successfully but with no text.
var ErrEmptyReply = errors.New("reply service returned an empty reply")

// Request is one reply to generate. Stars selects the system instruction for
// model-backed generators; the plain HTTP service only sees Prompt.
type Request struct {
	Prompt string
	Stars  int
}

// Generator produces a reply draft for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// HealthChecker is implemented by backends that can report reachability.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// ServiceError carries the failure message the backend itself reported.
type ServiceError struct {
	Backend string
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	switch {
	case e.Message != "" && e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Backend, e.Message, e.Status)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Backend, e.Message)
	default:
		return fmt.Sprintf("%s: unexpected status %d", e.Backend, e.Status)
	}
}

func checkReply(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
