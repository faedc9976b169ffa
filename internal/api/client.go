package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/reviewdesk/internal/controller"
	"github.com/kalambet/reviewdesk/internal/message"
	"github.com/kalambet/reviewdesk/internal/relay"
	"github.com/kalambet/reviewdesk/internal/storage"
)

// maxEventSize bounds one server-sent event; a session broadcast carries
// every record of the page.
const maxEventSize = 8 << 20

// Client talks to a relay served by NewRelayHandler. It satisfies the
// controller's relay dependency so a panel can run in its own process.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	stream  *http.Client
	retry   time.Duration
	logger  *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithReconnectDelay sets the pause before an event stream is reopened.
func WithReconnectDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retry = d }
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		stream:  &http.Client{},
		retry:   time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Send(ctx context.Context, msg message.Message) error {
	return c.do(ctx, http.MethodPost, "/messages", msg, nil)
}

func (c *Client) CaptureSelection(ctx context.Context, text, url string) error {
	if strings.TrimSpace(text) == "" {
		return relay.ErrEmptySelection
	}
	return c.do(ctx, http.MethodPost, "/selection", selectionRequest{Text: text, URL: url}, nil)
}

func (c *Client) Load(ctx context.Context) (storage.SessionState, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodGet, "/session", nil, &resp); err != nil {
		return storage.SessionState{}, err
	}
	return storage.SessionState{Records: resp.Records, Cursor: resp.Cursor}, nil
}

func (c *Client) WriteCursor(ctx context.Context, k int) error {
	return c.do(ctx, http.MethodPut, "/session/cursor", cursorRequest{Cursor: &k}, nil)
}

func (c *Client) ActiveLocation(ctx context.Context) (string, error) {
	var resp locationResponse
	if err := c.do(ctx, http.MethodGet, "/location", nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

// Health probes the relay. The token is not needed.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	return resp, err
}

// Subscribe opens the event stream before returning, so broadcasts caused
// by requests sent afterwards are not missed. A dropped stream is reopened
// until ctx is cancelled, at which point the channel is closed. Broadcasts
// made while disconnected are lost.
func (c *Client) Subscribe(ctx context.Context) <-chan message.Message {
	ch := make(chan message.Message, 16)
	body, err := c.openStream(ctx)
	if err != nil {
		c.logger.Warn("opening event stream", "error", err)
	}

	go func() {
		defer close(ch)
		for {
			if body != nil {
				err := readEvents(ctx, body, ch)
				body.Close()
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("event stream ended", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retry):
			}
			body, err = c.openStream(ctx)
			if err != nil {
				c.logger.Debug("reopening event stream", "error", err)
			}
		}
	}()
	return ch
}

func (c *Client) openStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

// readEvents parses a text/event-stream body and forwards every message
// event to ch. It returns when the body ends or ctx is cancelled.
func readEvents(ctx context.Context, body io.Reader, ch chan<- message.Message) error {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64<<10), maxEventSize)

	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				continue
			}
			var msg message.Message
			err := json.Unmarshal([]byte(strings.Join(data, "\n")), &msg)
			data = data[:0]
			if err != nil {
				continue
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		apiErr.Type = body.Error.Type
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

var _ controller.Relay = (*Client)(nil)
