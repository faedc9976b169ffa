package page

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestFixed_Switch(t *testing.T) {
	f := NewFixed(nil)
	if _, err := f.ActivePage(context.Background()); !errors.Is(err, ErrNoActivePage) {
		t.Fatalf("err = %v, want ErrNoActivePage", err)
	}
	f.Switch(Snapshot{PageID: "1", URL: "https://apps.apple.com/app"})
	p, err := f.ActivePage(context.Background())
	if err != nil || p.ID() != "1" {
		t.Fatalf("ActivePage = %v, %v", p, err)
	}
}

func TestFilePage_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.html")
	if err := os.WriteFile(path, []byte(`<p id="x">hello</p>`), 0o644); err != nil {
		t.Fatal(err)
	}
	p := FilePage{Path: path}
	if p.Location() != "file://"+path {
		t.Errorf("Location = %q", p.Location())
	}
	d, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := d.Find("#x").Text(); got != "hello" {
		t.Errorf("text = %q", got)
	}
}

func TestRemotePage_Load(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`<h2 class="hP">Subject</h2>`))
	}))
	defer srv.Close()

	d, err := RemotePage{URL: srv.URL + "/msg"}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Find("h2.hP").Text() != "Subject" {
		t.Errorf("unexpected document")
	}
	if _, err := (RemotePage{URL: srv.URL + "/missing"}).Load(context.Background()); err == nil {
		t.Error("expected error for 404")
	}
}
