//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/videa/internal/catalog"
	"github.com/ashureev/videa/internal/conversation"
	"github.com/ashureev/videa/internal/domain"
	"github.com/ashureev/videa/internal/identity"
	"github.com/ashureev/videa/internal/llm/llmtest"
	"github.com/ashureev/videa/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{fmt.Errorf("%w: empty", conversation.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{domain.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
		{&domain.InvalidStateError{State: domain.StateCollecting, Op: "confirm"}, http.StatusConflict, "invalid_state"},
		{fmt.Errorf("save: %w", domain.ErrVersionConflict), http.StatusConflict, "conflict"},
		{&domain.CatalogIntegrityError{Reason: "missing bundle"}, http.StatusInternalServerError, "catalog_integrity"},
		{fmt.Errorf("lock: %w", context.DeadlineExceeded), http.StatusServiceUnavailable, "busy"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		if status != tt.wantStatus || code != tt.wantCode {
			t.Errorf("classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.wantStatus, tt.wantCode)
		}
	}
}

type testServer struct {
	*httptest.Server
	fake    *llmtest.Fake
	repo    *store.SQLiteStore
	monitor *conversation.HealthMonitor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "videa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	cat, err := catalog.Default()
	require.NoError(t, err)

	fake := llmtest.New()
	cfg := conversation.DefaultConfig()
	cfg.LLMTimeout = 100 * time.Millisecond
	engine := conversation.NewEngine(conversation.Deps{Repo: repo, Catalog: cat, Gateway: fake}, cfg)

	monitor := conversation.NewHealthMonitor(fake, time.Hour, nil)
	monitor.Check(context.Background())

	base := NewHandler(engine, nil)
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewChatHandler(base).RegisterRoutes(r)
	NewWebSocketHandler(base, "*", true).RegisterRoutes(r)
	NewHealthHandler(repo, monitor).RegisterHealth(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, fake: fake, repo: repo, monitor: monitor}
}

func (s *testServer) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(s.URL+path, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (s *testServer) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(s.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}
