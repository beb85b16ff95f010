package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/ashureev/videa/internal/llm/llmtest"
	"github.com/stretchr/testify/require"
)

func (s *testServer) scriptMatch() {
	s.fake.Push(
		llmtest.Reply{Text: `{"role": "team lead"}`}, llmtest.Reply{Text: "How long have you led the team?"},
		llmtest.Reply{Text: `{"experience_months": 10}`}, llmtest.Reply{Text: "What's hardest right now?"},
		llmtest.Reply{Text: `{"primary_challenges": ["difficult conversations"]}`},
	)
}

func TestChatFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	srv.scriptMatch()

	code, started := srv.post(t, "/api/chat/start", map[string]string{"user_id": "u-1"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "u-1", started["user_id"])
	id := started["session_id"].(string)

	for i, msg := range []string{"I'm a team lead", "Ten months", "Difficult conversations mostly"} {
		code, res := srv.post(t, "/api/chat/message", map[string]string{"session_id": id, "message": msg})
		require.Equal(t, http.StatusOK, code, "turn %d: %v", i+1, res)
		require.EqualValues(t, i+1, res["exchange_count"])
	}

	code, view := srv.get(t, "/api/chat/sessions/"+id)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "recommendation_made", view["status"])
	rec := view["recommendation"].(map[string]any)
	require.Equal(t, "collection_001", rec["bundle_id"])

	code, res := srv.post(t, "/api/chat/confirm", map[string]any{"session_id": id, "confirmed": true})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, res["success"])
	require.Equal(t, false, res["duplicate"])
	require.Equal(t, "confirmed", res["outcome"])

	code, res = srv.post(t, "/api/chat/confirm", map[string]any{"session_id": id, "confirmed": true})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, res["duplicate"])

	code, res = srv.post(t, "/api/chat/confirm", map[string]any{"session_id": id, "confirmed": false})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "invalid_state", res["code"])

	code, res = srv.post(t, "/api/chat/message", map[string]string{"session_id": id, "message": "hello?"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "invalid_state", res["code"])

	code, view = srv.get(t, "/api/chat/sessions/"+id)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "completed", view["status"])
	require.EqualValues(t, 100, view["completion_percentage"])
}

func TestStartUsesIdentityCookie(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/chat/start", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cookie string
	for _, c := range resp.Cookies() {
		if c.Name == "videa_anon_id" {
			cookie = c.Value
		}
	}
	require.True(t, strings.HasPrefix(cookie, "anon_"))

	code, started := srv.post(t, "/api/chat/start", map[string]string{})
	require.Equal(t, http.StatusOK, code)
	require.True(t, strings.HasPrefix(started["user_id"].(string), "anon_"))
}

func TestChatErrors(t *testing.T) {
	srv := newTestServer(t)
	_, started := srv.post(t, "/api/chat/start", map[string]string{})
	id := started["session_id"].(string)

	tests := []struct {
		name     string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"missing session id", "/api/chat/message", map[string]string{"message": "hi"}, http.StatusBadRequest, "invalid_input"},
		{"empty message", "/api/chat/message", map[string]string{"session_id": id, "message": "  "}, http.StatusBadRequest, "invalid_input"},
		{"unknown session", "/api/chat/message", map[string]string{"session_id": "nope", "message": "hi"}, http.StatusNotFound, "session_not_found"},
		{"confirm without decision", "/api/chat/confirm", map[string]string{"session_id": id}, http.StatusBadRequest, "invalid_input"},
		{"confirm while collecting", "/api/chat/confirm", map[string]any{"session_id": id, "confirmed": true}, http.StatusConflict, "invalid_state"},
		{"confirm unknown session", "/api/chat/confirm", map[string]any{"session_id": "nope", "confirmed": false}, http.StatusNotFound, "session_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, res := srv.post(t, tt.path, tt.body)
			require.Equal(t, tt.wantCode, code, res)
			require.Equal(t, tt.wantErr, res["code"])
		})
	}

	code, res := srv.get(t, "/api/chat/sessions/nope")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "session_not_found", res["code"])

	resp, err := http.Post(srv.URL+"/api/chat/message", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGatewayFailureIsRetryable(t *testing.T) {
	srv := newTestServer(t)
	_, started := srv.post(t, "/api/chat/start", map[string]string{})
	id := started["session_id"].(string)

	srv.fake.Push(llmtest.Reply{Err: errors.New("upstream 503")})
	code, res := srv.post(t, "/api/chat/message", map[string]string{"session_id": id, "message": "I'm a team lead"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, res["retryable"])
	require.EqualValues(t, 0, res["exchange_count"])
	require.Equal(t, "collecting", res["status"])
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	code, res := srv.get(t, "/api/health")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "healthy", res["status"])
	require.Equal(t, "connected", res["database"])
	require.Equal(t, "available", res["ai_service"])

	srv.fake.SetHealth(errors.New("model offline"))
	srv.monitor.Check(context.Background())
	code, res = srv.get(t, "/api/health")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "degraded", res["status"])
	require.Equal(t, "unavailable", res["ai_service"])

	require.NoError(t, srv.repo.Close())
	code, res = srv.get(t, "/api/health")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "unhealthy", res["status"])
}
