package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPService calls the reply-generation service:
// POST {base}/generate-reply {"prompt"} -> {"reply"}.
type HTTPService struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPService targets baseURL. A zero timeout leaves the deadline to the
// caller's context.
func NewHTTPService(baseURL string, timeout time.Duration) *HTTPService {
	return &HTTPService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Reply string `json:"reply"`
}

// errorBody covers both {"detail": "..."} and {"error": {"message": "..."}}.
type errorBody struct {
	Detail any `json:"detail"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b errorBody) message() string {
	if b.Error != nil && b.Error.Message != "" {
		return b.Error.Message
	}
	switch d := b.Detail.(type) {
	case string:
		return d
	case nil:
		return ""
	default:
		raw, _ := json.Marshal(d)
		return string(raw)
	}
}

func (s *HTTPService) Generate(ctx context.Context, r Request) (string, error) {
	body, err := json.Marshal(generateRequest{Prompt: r.Prompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/generate-reply", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling reply service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading reply response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return "", &ServiceError{Backend: "reply service", Status: resp.StatusCode, Message: eb.message()}
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding reply response: %w", err)
	}
	return checkReply(out.Reply)
}

// Healthy probes GET {base}/.
func (s *HTTPService) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reply service unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ServiceError{Backend: "reply service", Status: resp.StatusCode}
	}
	return nil
}
