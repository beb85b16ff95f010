package conversation

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/videa/internal/catalog"
	"github.com/ashureev/videa/internal/domain"
	"github.com/ashureev/videa/internal/llm/llmtest"
	"github.com/ashureev/videa/internal/locks"
	"github.com/ashureev/videa/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type testEnv struct {
	engine *Engine
	repo   *store.SQLiteStore
	fake   *llmtest.Fake
}

func newTestEnv(t *testing.T, cfg Config, replies ...llmtest.Reply) *testEnv {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "videa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	cat, err := catalog.Default()
	require.NoError(t, err)

	fake := llmtest.New(replies...)
	engine := NewEngine(Deps{
		Repo:    repo,
		Catalog: cat,
		Gateway: fake,
		Locker:  locks.NewKeyedMutex(),
	}, cfg)
	return &testEnv{engine: engine, repo: repo, fake: fake}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LLMTimeout = 50 * time.Millisecond
	return cfg
}

// Replies for a new manager reaching a match on the third turn.
var (
	turn1 = []llmtest.Reply{{Text: `{"role": "engineering manager"}`}, {Text: "How long have you been managing?"}}
	turn2 = []llmtest.Reply{{Text: `{"experience_months": 8}`}, {Text: "What's been hardest so far?"}}
	turn3 = []llmtest.Reply{{Text: `{"primary_challenges": ["delegation"]}`}}
)

func replies(turns ...[]llmtest.Reply) []llmtest.Reply {
	var out []llmtest.Reply
	for _, t := range turns {
		out = append(out, t...)
	}
	return out
}

func TestStartCreatesGreetedSession(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	res, err := env.engine.Start(ctx, "")
	require.NoError(t, err)
	require.Regexp(t, `^anon_[0-9a-f]{8}$`, res.UserID)
	require.Equal(t, greeting, res.Message)

	s, err := env.engine.Get(ctx, res.SessionID)
	require.NoError(t, err)
	require.Equal(t, domain.StateStarted, s.State)
	require.True(t, s.Profile.IsEmpty())
	require.Len(t, s.Transcript, 1)
	require.Equal(t, domain.RoleSystem, s.Transcript[0].Role)

	hinted, err := env.engine.Start(ctx, "  user-42 ")
	require.NoError(t, err)
	require.Equal(t, "user-42", hinted.UserID)
}

func TestConversationReachesRecommendation(t *testing.T) {
	env := newTestEnv(t, testConfig(), replies(turn1, turn2, turn3)...)
	ctx := context.Background()

	start, err := env.engine.Start(ctx, "")
	require.NoError(t, err)
	id := start.SessionID

	r1, err := env.engine.PostTurn(ctx, id, "I just became an engineering manager")
	require.NoError(t, err)
	require.Equal(t, StatusCollecting, r1.Status)
	require.Equal(t, domain.StateCollecting, r1.State)
	require.Equal(t, "How long have you been managing?", r1.Message)
	require.Equal(t, 25, r1.Completion)
	require.Equal(t, 1, r1.ExchangeCount)

	r2, err := env.engine.PostTurn(ctx, id, "About eight months now")
	require.NoError(t, err)
	require.Equal(t, 50, r2.Completion)
	require.Nil(t, r2.Recommendation)

	r3, err := env.engine.PostTurn(ctx, id, "Mostly delegation")
	require.NoError(t, err)
	require.Equal(t, StatusRecommendationMade, r3.Status)
	require.Equal(t, domain.StateAwaitingConfirmation, r3.State)
	require.NotNil(t, r3.Recommendation)
	require.Equal(t, "persona_001", r3.Recommendation.ProfileID)
	require.Equal(t, "collection_001", r3.Recommendation.BundleID)
	require.Equal(t, 162, r3.Recommendation.TotalMinutes)
	require.Contains(t, r3.Message, "162 minutes total")
	require.Contains(t, r3.Message, "Would you like to enroll")
	require.Equal(t, 75, r3.Completion)

	s, err := env.engine.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, s.Transcript, 7)
	require.Equal(t, `{"primary_challenges":["delegation"]}`, s.Transcript[5].Extracted)
	require.Equal(t, "persona_001", s.MatchedProfileID)
}

func TestGatewayTimeoutLeavesPriorState(t *testing.T) {
	env := newTestEnv(t, testConfig(), replies(turn1, turn2)...)
	ctx := context.Background()

	start, err := env.engine.Start(ctx, "")
	require.NoError(t, err)
	id := start.SessionID

	_, err = env.engine.PostTurn(ctx, id, "I just became an engineering manager")
	require.NoError(t, err)
	_, err = env.engine.PostTurn(ctx, id, "About eight months now")
	require.NoError(t, err)

	before, err := env.engine.Get(ctx, id)
	require.NoError(t, err)

	env.fake.Push(llmtest.Reply{Text: `{"primary_challenges": ["delegation"]}`, Delay: time.Second})
	res, err := env.engine.PostTurn(ctx, id, "Mostly delegation")
	require.NoError(t, err)
	require.True(t, res.Retryable)
	require.Equal(t, retryMessage, res.Message)
	require.Equal(t, before.Completion, res.Completion)
	require.Equal(t, before.ExchangeCount, res.ExchangeCount)

	after, err := env.engine.Get(ctx, id)
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("session changed by aborted turn (-before +after):\n%s", diff)
	}

	env.fake.Push(turn3...)
	res, err = env.engine.PostTurn(ctx, id, "Mostly delegation")
	require.NoError(t, err)
	require.False(t, res.Retryable)
	require.Equal(t, domain.StateAwaitingConfirmation, res.State)
	require.Equal(t, 3, res.ExchangeCount)
}

type recordingLog struct {
	mu     sync.Mutex
	events []ConversationLogEvent
}

func (r *recordingLog) Log(ev ConversationLogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingLog) Close() error { return nil }

func (r *recordingLog) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func TestAbortedTurnIsLoggedAsAborted(t *testing.T) {
	env := newTestEnv(t, testConfig())
	cat, err := catalog.Default()
	require.NoError(t, err)
	convLog := &recordingLog{}
	env.engine = NewEngine(Deps{
		Repo:    env.repo,
		Catalog: cat,
		Gateway: env.fake,
		Locker:  locks.NewKeyedMutex(),
		ConvLog: convLog,
	}, testConfig())
	ctx := context.Background()

	start, err := env.engine.Start(ctx, "")
	require.NoError(t, err)

	env.fake.Push(llmtest.Reply{Text: `{"role": "engineering manager"}`, Delay: time.Second})
	res, err := env.engine.PostTurn(ctx, start.SessionID, "I just became an engineering manager")
	require.NoError(t, err)
	require.True(t, res.Retryable)
	require.Equal(t, []string{"greeting", "user_message_aborted", "retry_prompt"}, convLog.types())

	aborted := convLog.events[1]
	require.Equal(t, "inbound", aborted.Direction)
	require.Equal(t, "I just became an engineering manager", aborted.ContentRaw)
	require.NotEmpty(t, aborted.Error)
	require.Equal(t, string(domain.StateStarted), aborted.State)

	env.fake.Push(turn1...)
	_, err = env.engine.PostTurn(ctx, start.SessionID, "I just became an engineering manager")
	require.NoError(t, err)
	require.Equal(t, []string{"greeting", "user_message_aborted", "retry_prompt", "user_message", "question"}, convLog.types())
}

func TestParseFailureStillRecordsTurn(t *testing.T) {
	env := newTestEnv(t, testConfig(), llmtest.Reply{Text: "I could not find anything"}, llmtest.Reply{Text: "What's your role?"})
	ctx := context.Background()

	start, err := env.engine.Start(ctx, "")
	require.NoError(t, err)

	res, err := env.engine.PostTurn(ctx, start.SessionID, "hello there")
	require.NoError(t, err)
	require.False(t, res.Retryable)
	require.Equal(t, 0, res.Completion)
	require.Equal(t, 1, res.ExchangeCount)

	s, err := env.engine.Get(ctx, start.SessionID)
	require.NoError(t, err)
	require.Len(t, s.Transcript, 3)
	require.Empty(t, s.Transcript[1].Extracted)
}

func TestRecommendationIsNotRecomputed(t *testing.T) {
	env := newTestEnv(t, testConfig(), replies(turn1, turn2, turn3)...)
	ctx := context.Background()

	start, err := env.engine.Start(ctx, "")
	require.NoError(t, err)
	id := start.SessionID
	for _, msg := range []string{"I just became an engineering manager", "About eight months now", "Mostly delegation"} {
		_, err := env.engine.PostTurn(ctx, id, msg)
		require.NoError(t, err)
	}

	before, err := env.engine.Get(ctx, id)
	require.NoError(t, err)
	calls := len(env.fake.Calls())

	res, err := env.engine.PostTurn(ctx, id, "Actually I'm a senior architect with 10 years")
	require.NoError(t, err)
	require.Equal(t, StatusRecommendationMade, res.Status)
	require.Equal(t, "persona_001", res.Recommendation.ProfileID)
	require.Equal(t, before.Transcript[len(before.Transcript)-1].Text, res.Message)
	require.Len(t, env.fake.Calls(), calls)

	after, err := env.engine.Get(ctx, id)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(before, after))
}

func TestMaxExchangesForcesBestEffort(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExchanges = 2
	env := newTestEnv(t, cfg,
		llmtest.Reply{Text: `{"role": "engineering manager"}`}, llmtest.Reply{Text: "How long?"},
		llmtest.Reply{Text: `{}`},
	)
	ctx := context.Background()

	start, err := env.engine.Start(ctx, "")
	require.NoError(t, err)

	_, err = env.engine.PostTurn(ctx, start.SessionID, "I manage engineers")
	require.NoError(t, err)
	res, err := env.engine.PostTurn(ctx, start.SessionID, "not sure")
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingConfirmation, res.State)
	require.Equal(t, "persona_001", res.Recommendation.ProfileID)
}

func awaitingSession(t *testing.T, env *testEnv) string {
	t.Helper()
	env.fake.Push(replies(turn1, turn2, turn3)...)
	ctx := context.Background()
	start, err := env.engine.Start(ctx, "")
	require.NoError(t, err)
	for _, msg := range []string{"I just became an engineering manager", "About eight months now", "Mostly delegation"} {
		_, err := env.engine.PostTurn(ctx, start.SessionID, msg)
		require.NoError(t, err)
	}
	return start.SessionID
}

func TestConfirmEnrollsOnce(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	id := awaitingSession(t, env)

	res, err := env.engine.Confirm(ctx, id, true)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.False(t, res.Duplicate)
	require.Equal(t, domain.OutcomeConfirmed, res.Outcome)
	require.True(t, strings.HasPrefix(res.Message, "Perfect!"))

	s, err := env.engine.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StateConfirmed, s.State)
	require.Equal(t, 100, s.Completion)

	items, err := env.repo.ListEnrollmentItems(ctx, id)
	require.NoError(t, err)
	require.Len(t, items, 5)

	again, err := env.engine.Confirm(ctx, id, true)
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, res.Message, again.Message)

	_, err = env.engine.Confirm(ctx, id, false)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = env.engine.PostTurn(ctx, id, "thanks!")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	final, err := env.engine.Get(ctx, id)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(s, final))
}

func TestDeclineWritesNoItems(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	id := awaitingSession(t, env)

	res, err := env.engine.Confirm(ctx, id, false)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDeclined, res.Outcome)
	require.Equal(t, domain.StateDeclined, res.State)

	rec, err := env.repo.GetEnrollment(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDeclined, rec.Outcome)
	items, err := env.repo.ListEnrollmentItems(ctx, id)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestConfirmWhileCollectingFails(t *testing.T) {
	env := newTestEnv(t, testConfig(), turn1...)
	ctx := context.Background()

	start, err := env.engine.Start(ctx, "")
	require.NoError(t, err)
	_, err = env.engine.Confirm(ctx, start.SessionID, true)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = env.engine.PostTurn(ctx, start.SessionID, "I just became an engineering manager")
	require.NoError(t, err)
	_, err = env.engine.Confirm(ctx, start.SessionID, true)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	rec, err := env.repo.GetEnrollment(ctx, start.SessionID)
	require.NoError(t, err)
	require.Nil(t, rec)

	_, err = env.engine.Confirm(ctx, "missing", true)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestConcurrentConfirmsRecordOnce(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id := awaitingSession(t, env)

	var fresh, dup int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			res, err := env.engine.Confirm(ctx, id, true)
			if err != nil {
				return err
			}
			if res.Duplicate {
				atomic.AddInt32(&dup, 1)
			} else {
				atomic.AddInt32(&fresh, 1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, fresh)
	require.EqualValues(t, 1, dup)

	items, err := env.repo.ListEnrollmentItems(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, items, 5)
}

func TestCompletionNeverDecreases(t *testing.T) {
	env := newTestEnv(t, testConfig(),
		llmtest.Reply{Text: `{"role": "manager", "experience_months": 6}`}, llmtest.Reply{Text: "q"},
		llmtest.Reply{Text: `{"role": ""}`}, llmtest.Reply{Text: "q"},
		llmtest.Reply{Text: `not json`}, llmtest.Reply{Text: "q"},
	)
	ctx := context.Background()
	start, err := env.engine.Start(ctx, "")
	require.NoError(t, err)

	last := 0
	for _, msg := range []string{"manager for six months", "hmm", "???"} {
		res, err := env.engine.PostTurn(ctx, start.SessionID, msg)
		require.NoError(t, err)
		require.GreaterOrEqual(t, res.Completion, last)
		last = res.Completion
	}
	require.Equal(t, 50, last)
}

func TestPostTurnRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	_, err := env.engine.PostTurn(ctx, "any", "   ")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.engine.PostTurn(ctx, "any", strings.Repeat("a", MaxMessageLength+1))
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.engine.PostTurn(ctx, "missing", "hello")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestViewIncludesRecommendation(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	id := awaitingSession(t, env)

	v, err := env.engine.View(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusRecommendationMade, v.Status)
	require.Equal(t, "collection_001", v.Recommendation.BundleID)
	require.Len(t, v.Transcript, 7)

	start, err := env.engine.Start(ctx, "")
	require.NoError(t, err)
	v, err = env.engine.View(ctx, start.SessionID)
	require.NoError(t, err)
	require.Nil(t, v.Recommendation)
	require.Equal(t, StatusCollecting, v.Status)
}
