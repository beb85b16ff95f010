package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/videa/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestGeminiGatewayGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-test:generateContent"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), "I lead a team of five")
		require.Contains(t, string(body), "Return JSON")

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"How long have you led them?"}]}}]}`)
	}))
	defer srv.Close()

	gw, err := NewGeminiGateway(context.Background(), GeminiConfig{APIKey: "k", Model: "gemini-test", BaseURL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, "gemini:gemini-test", gw.Name())

	out, err := gw.Generate(context.Background(), Request{
		System:   "Return JSON",
		Messages: []Message{{Role: RoleUser, Content: "I lead a team of five"}},
	})
	require.NoError(t, err)
	require.Equal(t, "How long have you led them?", out)
}

func TestGeminiGatewayErrors(t *testing.T) {
	_, err := NewGeminiGateway(context.Background(), GeminiConfig{})
	require.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":400,"message":"bad model"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	gw, err := NewGeminiGateway(context.Background(), GeminiConfig{APIKey: "k", Model: "gemini-test", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = gw.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}
