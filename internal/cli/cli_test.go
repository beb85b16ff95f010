package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/videa/internal/domain"
	"github.com/ashureev/videa/internal/store"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "videa.db")
	repo, err := store.NewSQLite(path)
	require.NoError(t, err)
	defer repo.Close()

	now := time.Now()
	s := &domain.Session{ID: "s-1", UserID: "anon_0a1b2c3d", State: domain.StateStarted, CreatedAt: now, UpdatedAt: now}
	s.AppendTurn(domain.RoleSystem, "Hi! What brings you here?", now)
	require.NoError(t, repo.CreateSession(context.Background(), s))

	require.NoError(t, s.Transition(domain.StateCollecting, now))
	human := s.AppendTurn(domain.RoleHuman, "I'm a team lead", now)
	human.Extracted = `{"role":"team lead"}`
	s.Transcript[len(s.Transcript)-1] = human
	reply := s.AppendTurn(domain.RoleSystem, "How long have you been leading?", now)
	s.Profile.Merge(domain.Profile{Role: "team lead"})
	s.ExchangeCount = 1
	s.RecomputeCompletion()
	require.NoError(t, repo.SaveTurn(context.Background(), s, []domain.Turn{human, reply}))
	return path
}

func TestCatalogCheck(t *testing.T) {
	out, err := run(t, "catalog", "check")
	require.NoError(t, err)
	require.Contains(t, out, "catalog OK (embedded default): 5 personas, 5 bundles")
	require.Contains(t, out, "persona_001")

	broken := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(broken, []byte(`
profiles:
  - id: p1
    name: Orphan
    bundle_id: nowhere
    predicates:
      - {field: role, kind: contains_any, values: [manager], weight: 10}
bundles:
  - id: b1
    name: Lonely
    items:
      - {id: v1, title: Intro, duration_minutes: 5}
`), 0o600))
	_, err = run(t, "catalog", "check", "--path", broken)
	require.ErrorIs(t, err, domain.ErrCatalogIntegrity)

	_, err = run(t, "catalog", "check", "--path", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSessionList(t *testing.T) {
	db := seedDB(t)

	out, err := run(t, "--db", db, "session", "list")
	require.NoError(t, err)
	require.Contains(t, out, "s-1")
	require.Contains(t, out, "COLLECTING")
	require.Contains(t, out, "25%")

	out, err = run(t, "--db", db, "session", "list", "--state", "confirmed")
	require.NoError(t, err)
	require.Contains(t, out, "no sessions")

	_, err = run(t, "--db", db, "session", "list", "--state", "sleeping")
	require.Error(t, err)
}

func TestSessionShow(t *testing.T) {
	db := seedDB(t)

	out, err := run(t, "--db", db, "session", "show", "s-1")
	require.NoError(t, err)
	require.Contains(t, out, "State     COLLECTING (25% complete, 1 exchanges)")
	require.Contains(t, out, "team lead")
	require.Contains(t, out, `extracted: {"role":"team lead"}`)

	out, err = run(t, "--db", db, "session", "show", "s-1", "--format", "json")
	require.NoError(t, err)
	var dump struct {
		Session domain.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &dump))
	require.Len(t, dump.Session.Transcript, 3)

	out, err = run(t, "--db", db, "session", "show", "s-1", "-f", "yaml")
	require.NoError(t, err)
	var generic map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &generic))
	require.Contains(t, generic, "session")

	_, err = run(t, "--db", db, "session", "show", "nope")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = run(t, "--db", db, "session", "show")
	require.Error(t, err)

	_, err = run(t, "--db", filepath.Join(t.TempDir(), "absent.db"), "session", "show", "s-1")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestGatewayCheckWithoutProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "none")
	_, err := run(t, "gateway", "check")
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}
