package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abegunasekara/openai-realtime-agents/internal/config"
	"github.com/abegunasekara/openai-realtime-agents/internal/llm"
)

func newTestServer(t *testing.T, cfg config.Config, llmBase string) *Server {
	t.Helper()
	if cfg.TasksFile == "" {
		cfg.TasksFile = filepath.Join(t.TempDir(), "tasks.json")
	}
	client := llm.NewClient(cfg.OpenAIAPIKey)
	if llmBase != "" {
		client.BaseURL = llmBase
	}
	return New(cfg, client)
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(t, config.Config{}, "")
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestSession_MissingKey(t *testing.T) {
	srv := newTestServer(t, config.Config{}, "")
	r := httptest.NewRequest(http.MethodGet, "/session", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without api key, got %d", w.Code)
	}
}

func TestSession_MintsAndPassesThrough(t *testing.T) {
	var mintReq struct {
		Model string `json:"model"`
		Voice string `json:"voice"`
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("missing bearer auth, got %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&mintReq)
		_, _ = w.Write([]byte(`{"id":"sess_1","client_secret":{"value":"ek_1"}}`))
	}))
	defer upstream.Close()

	srv := newTestServer(t, config.Config{
		OpenAIAPIKey:  "sk-test",
		RealtimeModel: "gpt-4o-realtime-preview-2025-06-03",
		RealtimeVoice: "sage",
	}, "")
	srv.SessionsURL = upstream.URL

	r := httptest.NewRequest(http.MethodGet, "/session", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if mintReq.Model != "gpt-4o-realtime-preview-2025-06-03" || mintReq.Voice != "sage" {
		t.Fatalf("unexpected mint request %+v", mintReq)
	}
	if !strings.Contains(w.Body.String(), "ek_1") {
		t.Fatalf("expected upstream body passed through, got %s", w.Body.String())
	}
}

func TestResponses_ProxiesVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"cmpl_1"}`))
	}))
	defer upstream.Close()

	srv := newTestServer(t, config.Config{OpenAIAPIKey: "sk-test"}, upstream.URL)
	r := httptest.NewRequest(http.MethodPost, "/api/responses", strings.NewReader(`{"model":"gpt-4o","messages":[]}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "cmpl_1") {
		t.Fatalf("expected upstream body, got %s", w.Body.String())
	}
}

func TestResponses_UpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer upstream.Close()

	srv := newTestServer(t, config.Config{OpenAIAPIKey: "sk-test"}, upstream.URL)
	r := httptest.NewRequest(http.MethodPost, "/api/responses", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestTasks_EmptyUntilWritten(t *testing.T) {
	dir := t.TempDir()
	srv := newTestServer(t, config.Config{TasksFile: filepath.Join(dir, "tasks.json")}, "")

	r := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", w.Code, w.Body.String())
	}

	payload := `[{"id":"t1","text":"water the plants","done":false}]`
	r2 := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(payload))
	w2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(w2, r2)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w2.Code)
	}

	r3 := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	w3 := httptest.NewRecorder()
	srv.Router().ServeHTTP(w3, r3)
	if w3.Body.String() != payload {
		t.Fatalf("expected persisted tasks, got %s", w3.Body.String())
	}

	raw, err := os.ReadFile(filepath.Join(dir, "tasks.json"))
	if err != nil || string(raw) != payload {
		t.Fatalf("expected file persisted, err=%v body=%s", err, raw)
	}
}

func TestTasks_RejectsInvalidJSON(t *testing.T) {
	srv := newTestServer(t, config.Config{}, "")
	r := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader("not-json"))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
