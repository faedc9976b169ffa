package reply

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/reviewdesk/internal/composer"
)

func TestHTTPService_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/generate-reply" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if !strings.HasPrefix(body.Prompt, "Author: kim") {
			t.Errorf("prompt = %q", body.Prompt)
		}
		w.Write([]byte(`{"reply":"  Thank you for the review!  "}`))
	}))
	defer srv.Close()

	got, err := NewHTTPService(srv.URL+"/", time.Second).Generate(context.Background(), Request{Prompt: "Author: kim\n"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Thank you for the review!" {
		t.Errorf("reply = %q", got)
	}
}

func TestHTTPService_ErrorBodies(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"detail string", 500, `{"detail":"model not tuned"}`, "model not tuned"},
		{"error object", 429, `{"error":{"message":"rate limited"}}`, "rate limited"},
		{"no body", 502, ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewHTTPService(srv.URL, time.Second).Generate(context.Background(), Request{Prompt: "p"})
			var se *ServiceError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want ServiceError", err)
			}
			if se.Status != tt.status || se.Message != tt.wantMsg {
				t.Errorf("ServiceError = %+v", se)
			}
		})
	}
}

func TestHTTPService_EmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reply":"   "}`))
	}))
	defer srv.Close()

	_, err := NewHTTPService(srv.URL, time.Second).Generate(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("err = %v, want ErrEmptyReply", err)
	}
}

func TestHTTPService_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"running"}`))
	}))
	if err := NewHTTPService(srv.URL, time.Second).Healthy(context.Background()); err != nil {
		t.Errorf("Healthy: %v", err)
	}
	srv.Close()
	if err := NewHTTPService(srv.URL, time.Second).Healthy(context.Background()); err == nil {
		t.Error("Healthy on closed server should fail")
	}
}

func TestOllama_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "mistral-nemo" || req.Stream {
			t.Errorf("request = %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Content != composer.SystemPrompt(1) {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"Sorry about the crash."}}`))
	}))
	defer srv.Close()

	got, err := NewOllama(srv.URL, "mistral-nemo").Generate(context.Background(), Request{Prompt: "p", Stars: 1})
	if err != nil || got != "Sorry about the crash." {
		t.Fatalf("Generate = %q, %v", got, err)
	}
}

func TestOllama_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"x\" not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "x").Generate(context.Background(), Request{Prompt: "p"})
	var se *ServiceError
	if !errors.As(err, &se) || !strings.Contains(se.Message, "not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestOllama_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"mistral-nemo:latest"}]}`))
	}))
	defer srv.Close()

	if err := NewOllama(srv.URL, "mistral-nemo").Healthy(context.Background()); err != nil {
		t.Errorf("Healthy: %v", err)
	}
	if err := NewOllama(srv.URL, "phi3.5").Healthy(context.Background()); err == nil {
		t.Error("missing model should be unhealthy")
	}
}

func TestOllama_Pull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"pulling manifest"}`+"\n"+`{"status":"downloading","total":100,"completed":50}`+"\n"+`{"status":"success"}`+"\n")
	}))
	defer srv.Close()

	var out strings.Builder
	if err := NewOllama(srv.URL, "m").Pull(context.Background(), &out); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if !strings.Contains(out.String(), "downloading 50%") || !strings.Contains(out.String(), "success") {
		t.Errorf("progress = %q", out.String())
	}
}

func TestAnthropic_Generate(t *testing.T) {
	a := &Anthropic{apiKey: "k", call: func(system, user string) (string, error) {
		if system != composer.SystemPrompt(5) || user != "p" {
			t.Errorf("call(%q, %q)", system, user)
		}
		return "Thanks!", nil
	}}
	got, err := a.Generate(context.Background(), Request{Prompt: "p", Stars: 5})
	if err != nil || got != "Thanks!" {
		t.Fatalf("Generate = %q, %v", got, err)
	}
}

func TestAnthropic_Failures(t *testing.T) {
	var se *ServiceError
	if _, err := NewAnthropic("", "m").Generate(context.Background(), Request{}); !errors.As(err, &se) {
		t.Errorf("missing key: err = %v", err)
	}

	a := &Anthropic{apiKey: "k", call: func(string, string) (string, error) {
		return "", errors.New("overloaded")
	}}
	if _, err := a.Generate(context.Background(), Request{}); !errors.As(err, &se) || se.Message != "overloaded" {
		t.Errorf("api error: err = %v", err)
	}

	block := make(chan struct{})
	defer close(block)
	slow := &Anthropic{apiKey: "k", call: func(string, string) (string, error) {
		<-block
		return "late", nil
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := slow.Generate(ctx, Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("cancel: err = %v", err)
	}
}
