package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_NoKey(t *testing.T) {
	c := NewClient("")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Complete(ctx, json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestClient_UpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_, _ = w.Write([]byte("oops"))
	}))
	defer srv.Close()
	c := NewClient("key")
	c.BaseURL = srv.URL
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Complete(ctx, json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected error; got nil")
	}
}

func TestClient_CompleteForwardsVerbatim(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("missing bearer auth, got %q", got)
		}
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		received = body
		_, _ = w.Write([]byte(`{"id":"cmpl_1"}`))
	}))
	defer srv.Close()
	c := NewClient("key")
	c.BaseURL = srv.URL

	in := json.RawMessage(`{"model":"custom","messages":[{"role":"user","content":"ping"}]}`)
	out, err := c.Complete(context.Background(), in)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if string(received) != string(in) {
		t.Fatalf("request body altered: %s", received)
	}
	if string(out) != `{"id":"cmpl_1"}` {
		t.Fatalf("unexpected response: %s", out)
	}
}
