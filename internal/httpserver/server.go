package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/abegunasekara/openai-realtime-agents/internal/config"
	"github.com/abegunasekara/openai-realtime-agents/internal/llm"
)

// DefaultSessionsURL mints ephemeral realtime credentials.
const DefaultSessionsURL = "https://api.openai.com/v1/realtime/sessions"

// Server is the signal server backing the voice console: it mints ephemeral
// realtime credentials, proxies guardrail completions and persists the shared
// task list.
type Server struct {
	echo        *echo.Echo
	cfg         config.Config
	llm         *llm.Client
	httpClient  *http.Client
	SessionsURL string

	tasksMu sync.Mutex
}

// New constructs the server with routes and middleware.
func New(cfg config.Config, llmClient *llm.Client) *Server {
	s := &Server{
		echo:        echo.New(),
		cfg:         cfg,
		llm:         llmClient,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		SessionsURL: DefaultSessionsURL,
	}
	s.echo.HideBanner = true
	s.echo.Use(middleware.Logger())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	s.echo.GET("/session", s.handleSession)
	s.echo.POST("/api/responses", s.handleResponses)
	s.echo.GET("/api/tasks", s.handleGetTasks)
	s.echo.POST("/api/tasks", s.handlePostTasks)
	return s
}

// Router exposes the handler for tests and the outer http.Server.
func (s *Server) Router() http.Handler { return s.echo }

// handleSession mints an ephemeral credential for the configured model and
// voice and passes the upstream JSON through untouched.
func (s *Server) handleSession(c echo.Context) error {
	if s.cfg.OpenAIAPIKey == "" {
		return c.String(http.StatusInternalServerError, "OPENAI_API_KEY not configured")
	}
	body, _ := json.Marshal(map[string]string{
		"model": s.cfg.RealtimeModel,
		"voice": s.cfg.RealtimeVoice,
	})
	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodPost, s.SessionsURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.OpenAIAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return c.String(http.StatusBadGateway, fmt.Sprintf("session mint failed: %v", err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return c.Blob(resp.StatusCode, echo.MIMEApplicationJSON, raw)
}

// handleResponses proxies a completions request so the console never holds
// the long-lived API key.
func (s *Server) handleResponses(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "failed to read request body")
	}
	out, err := s.llm.Complete(c.Request().Context(), body)
	if err != nil {
		return c.String(http.StatusBadGateway, err.Error())
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, out)
}

func (s *Server) handleGetTasks(c echo.Context) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	raw, err := os.ReadFile(s.cfg.TasksFile)
	if err != nil {
		if os.IsNotExist(err) {
			return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, []byte("[]"))
		}
		return err
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, raw)
}

func (s *Server) handlePostTasks(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "failed to read request body")
	}
	if !json.Valid(body) {
		return c.String(http.StatusBadRequest, "tasks payload must be valid JSON")
	}
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	if err := os.WriteFile(s.cfg.TasksFile, body, 0o644); err != nil {
		return err
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, body)
}
