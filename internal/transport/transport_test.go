package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/owlglass/typewritermonkey/internal/chunkstore"
	"github.com/owlglass/typewritermonkey/internal/dictionary"
	"github.com/owlglass/typewritermonkey/internal/docstore"
	"github.com/owlglass/typewritermonkey/internal/engine"
	"github.com/owlglass/typewritermonkey/internal/prng"
	"github.com/owlglass/typewritermonkey/internal/worddetect"
	"github.com/owlglass/typewritermonkey/internal/wordstore"
)

func TestParseCharsQueryRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name  string
		start string
		len   string
		ok    bool
	}{
		{"valid", "0", "10", true},
		{"negative start", "-1", "10", false},
		{"zero len", "0", "0", false},
		{"negative len", "0", "-1", false},
		{"len too large", "0", "131073", false},
		{"len at ceiling", "0", "131072", true},
		{"non numeric start", "abc", "10", false},
		{"non numeric len", "0", "xyz", false},
		{"infinite start", "+Inf", "10", false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, ok := parseCharsQuery(c.start, c.len)
			if ok != c.ok {
				t.Fatalf("parseCharsQuery(%q,%q) ok=%v, want %v", c.start, c.len, ok, c.ok)
			}
		})
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	be := docstore.NewMemory()

	store, err := chunkstore.CreateWithOptions(ctx, be, 64, 4, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	words, err := wordstore.OpenWithOptions(ctx, be, 16, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	dict := dictionary.FromWords([]string{"cat"})
	detector := worddetect.New(dict)
	gen := prng.New(prng.Seed, 0, store)

	e := engine.New(gen, store, detector, words, nil, false)
	return NewServer(e, dict)
}

func TestHandleStatusReturnsExpectedFields(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"cursor", "chunks", "dictionarySize", "users", "charsPerMinute", "uptimeSec"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("expected field %q in status response, got %v", key, body)
		}
	}
}

func TestHandleHealthzReportsHealthy(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if healthy, _ := body["healthy"].(bool); !healthy {
		t.Fatalf("expected healthy=true, got %v", body)
	}
}

func TestHandleCharsRejectsInvalidQuery(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/chars?start=-1&len=10", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCharsReturnsPlainText(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/chars?start=0&len=10", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("expected text/plain content type, got %q", ct)
	}
}
