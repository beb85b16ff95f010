// Package conversation orchestrates advisor sessions: turn processing, matching and enrollment.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/videa/internal/catalog"
	"github.com/ashureev/videa/internal/domain"
	"github.com/ashureev/videa/internal/llm"
	"github.com/ashureev/videa/internal/locks"
	"github.com/ashureev/videa/internal/persona"
	"github.com/ashureev/videa/internal/profile"
	"github.com/ashureev/videa/internal/store"
	"github.com/google/uuid"
)

// MaxMessageLength caps a single inbound message, in runes.
const MaxMessageLength = 4000

// ErrInvalidInput is returned for empty or oversized messages.
var ErrInvalidInput = errors.New("invalid input")

// Status is the client-facing summary of a session state.
type Status string

const (
	StatusCollecting         Status = "collecting"
	StatusRecommendationMade Status = "recommendation_made"
	StatusCompleted          Status = "completed"
	StatusDeclined           Status = "declined"
)

// StatusFor maps a session state to its client status.
func StatusFor(s domain.State) Status {
	switch s {
	case domain.StateMatched, domain.StateAwaitingConfirmation:
		return StatusRecommendationMade
	case domain.StateConfirmed:
		return StatusCompleted
	case domain.StateDeclined:
		return StatusDeclined
	default:
		return StatusCollecting
	}
}

// Config tunes the engine.
type Config struct {
	// MaxExchanges forces a best-effort recommendation once this many human turns were processed.
	MaxExchanges int
	LLMTimeout   time.Duration
	Match        persona.Config
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		MaxExchanges: 10,
		LLMTimeout:   30 * time.Second,
		Match:        persona.DefaultConfig(),
	}
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Repo    store.Repository
	Catalog *catalog.Catalog
	Gateway llm.Gateway
	Locker  locks.Locker
	ConvLog ConversationLogger
	Logger  *slog.Logger
}

// Engine runs the session state machine. All mutating operations hold the
// per-session lock for their whole duration, including gateway calls.
type Engine struct {
	repo      store.Repository
	catalog   *catalog.Catalog
	matcher   *persona.Matcher
	extractor *profile.Extractor
	questions *profile.QuestionGenerator
	locker    locks.Locker
	convLog   ConversationLogger
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

// NewEngine wires an engine from its dependencies.
func NewEngine(deps Deps, cfg Config) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gateway := deps.Gateway
	if gateway == nil {
		gateway = llm.Disabled{}
	}
	locker := deps.Locker
	if locker == nil {
		locker = locks.NewKeyedMutex()
	}
	convLog := deps.ConvLog
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	return &Engine{
		repo:      deps.Repo,
		catalog:   deps.Catalog,
		matcher:   persona.NewMatcher(deps.Catalog.Profiles(), cfg.Match),
		extractor: profile.NewExtractor(gateway, cfg.LLMTimeout, logger),
		questions: profile.NewQuestionGenerator(gateway, cfg.LLMTimeout, cfg.MaxExchanges, logger),
		locker:    locker,
		convLog:   convLog,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Recommendation is the bundle offered to a matched user.
type Recommendation struct {
	ProfileID    string               `json:"profile_id"`
	ProfileName  string               `json:"profile_name"`
	BundleID     string               `json:"bundle_id"`
	BundleName   string               `json:"bundle_name"`
	Description  string               `json:"description,omitempty"`
	PathType     string               `json:"path_type,omitempty"`
	Items        []domain.ContentItem `json:"items"`
	TotalMinutes int                  `json:"total_minutes"`
}

// StartResult is returned by Start.
type StartResult struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

// TurnResult is returned by PostTurn.
type TurnResult struct {
	SessionID      string          `json:"session_id"`
	Message        string          `json:"message"`
	Completion     int             `json:"completion_percentage"`
	Status         Status          `json:"status"`
	State          domain.State    `json:"state"`
	ExchangeCount  int             `json:"exchange_count"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	// Retryable is set when the turn was aborted and nothing was recorded.
	Retryable bool `json:"retryable,omitempty"`
}

// Start opens a new session and returns its greeting.
func (e *Engine) Start(ctx context.Context, userHint string) (StartResult, error) {
	userID := strings.TrimSpace(userHint)
	if userID == "" {
		userID = anonymousUserID()
	}

	now := e.now()
	s := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     domain.StateStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.AppendTurn(domain.RoleSystem, greeting, now)

	if err := e.repo.CreateSession(ctx, s); err != nil {
		return StartResult{}, fmt.Errorf("start session: %w", err)
	}

	e.logger.Info("Session started", "session_id", s.ID, "user_id", s.UserID)
	e.record(ctx, s, "outbound", "greeting", greeting, nil)
	return StartResult{SessionID: s.ID, UserID: s.UserID, Message: greeting}, nil
}

func anonymousUserID() string {
	return "anon_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Get returns the stored session.
func (e *Engine) Get(ctx context.Context, id string) (*domain.Session, error) {
	return e.repo.GetSession(ctx, id)
}

// PostTurn processes one human message.
//
// While collecting, the message is run through extraction and matching and the
// reply is either the next question or a recommendation. A gateway failure
// during extraction aborts the turn without persisting anything and returns a
// retryable result. Once a recommendation is pending it is echoed back without
// changes. Terminal sessions reject turns with an *domain.InvalidStateError.
func (e *Engine) PostTurn(ctx context.Context, id, text string) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return TurnResult{}, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, MaxMessageLength)
	}

	release, err := e.locker.Lock(ctx, id)
	if err != nil {
		return TurnResult{}, fmt.Errorf("lock session %s: %w", id, err)
	}
	defer release()

	loaded, err := e.repo.GetSession(ctx, id)
	if err != nil {
		return TurnResult{}, err
	}

	switch {
	case loaded.State.IsTerminal():
		return TurnResult{}, &domain.InvalidStateError{SessionID: id, State: loaded.State, Op: "post turn"}
	case !loaded.State.AcceptsTurns():
		return e.echoRecommendation(loaded)
	}

	return e.collect(ctx, loaded, text)
}

func (e *Engine) collect(ctx context.Context, loaded *domain.Session, text string) (TurnResult, error) {
	now := e.now()
	s := loaded.Clone()
	if err := s.Transition(domain.StateCollecting, now); err != nil {
		return TurnResult{}, err
	}
	human := s.AppendTurn(domain.RoleHuman, text, now)

	res, err := e.extractor.Extract(ctx, s.Transcript, s.Profile)
	if err != nil && !errors.Is(err, domain.ErrGatewayUnavailable) && !errors.Is(err, domain.ErrExtractionParse) {
		return TurnResult{}, fmt.Errorf("extract profile: %w", err)
	}
	if errors.Is(err, domain.ErrGatewayUnavailable) {
		// The message is not part of the transcript, so it is logged as aborted.
		e.logger.Warn("Extraction failed, turn aborted", "session_id", s.ID, "error", err)
		e.record(ctx, loaded, "inbound", "user_message_aborted", text, err)
		e.record(ctx, loaded, "outbound", "retry_prompt", retryMessage, nil)
		return TurnResult{
			SessionID:     loaded.ID,
			Message:       retryMessage,
			Completion:    loaded.Completion,
			Status:        StatusFor(loaded.State),
			State:         loaded.State,
			ExchangeCount: loaded.ExchangeCount,
			Retryable:     true,
		}, nil
	}
	e.record(ctx, s, "inbound", "user_message", text, nil)
	if err != nil {
		e.record(ctx, s, "internal", "extraction_parse_error", res.Raw, err)
	}

	if !res.Delta.IsEmpty() {
		if raw, err := json.Marshal(res.Delta); err == nil {
			human.Extracted = string(raw)
			s.Transcript[len(s.Transcript)-1] = human
		}
	}
	changed := s.Profile.Merge(res.Delta)
	s.ExchangeCount++
	s.RecomputeCompletion()
	if len(changed) > 0 {
		e.logger.Debug("Profile updated", "session_id", s.ID, "fields", changed, "completion", s.Completion)
	}

	force := s.Profile.RequiredKnown() || (e.cfg.MaxExchanges > 0 && s.ExchangeCount >= e.cfg.MaxExchanges)
	var rec *Recommendation
	var reply domain.Turn
	if match, ok := e.matcher.Match(s.Profile, force); ok {
		bundle, err := e.catalog.BundleFor(match.Profile.ID)
		if err != nil {
			return TurnResult{}, err
		}
		if err := s.Transition(domain.StateMatched, now); err != nil {
			return TurnResult{}, err
		}
		s.MatchedProfileID = match.Profile.ID
		s.BundleID = bundle.ID
		if err := s.Transition(domain.StateAwaitingConfirmation, now); err != nil {
			return TurnResult{}, err
		}
		reply = s.AppendTurn(domain.RoleSystem, recommendationMessage(match.Profile, bundle), now)
		rec = newRecommendation(match.Profile, bundle)

		e.logger.Info("Persona matched",
			"session_id", s.ID,
			"profile_id", match.Profile.ID,
			"score", match.Best.Score,
			"satisfied", match.Best.Satisfied,
			"best_effort", match.BestEffort,
			"exchanges", s.ExchangeCount,
		)
	} else {
		q := e.questions.Next(ctx, s)
		reply = s.AppendTurn(domain.RoleSystem, q.Text, now)
	}

	appended := s.Transcript[len(loaded.Transcript):]
	if err := e.repo.SaveTurn(ctx, s, appended); err != nil {
		return TurnResult{}, fmt.Errorf("save turn: %w", err)
	}

	eventType := "question"
	if rec != nil {
		eventType = "recommendation"
	}
	e.record(ctx, s, "outbound", eventType, reply.Text, nil)

	return TurnResult{
		SessionID:      s.ID,
		Message:        reply.Text,
		Completion:     s.Completion,
		Status:         StatusFor(s.State),
		State:          s.State,
		ExchangeCount:  s.ExchangeCount,
		Recommendation: rec,
	}, nil
}

func (e *Engine) echoRecommendation(s *domain.Session) (TurnResult, error) {
	rec, err := e.RecommendationFor(s)
	if err != nil {
		return TurnResult{}, err
	}
	msg := ""
	if t, ok := s.LastSystemTurn(); ok {
		msg = t.Text
	}
	return TurnResult{
		SessionID:      s.ID,
		Message:        msg,
		Completion:     s.Completion,
		Status:         StatusFor(s.State),
		State:          s.State,
		ExchangeCount:  s.ExchangeCount,
		Recommendation: rec,
	}, nil
}

// RecommendationFor rebuilds the recommendation of a matched session, or nil before matching.
func (e *Engine) RecommendationFor(s *domain.Session) (*Recommendation, error) {
	if s.MatchedProfileID == "" {
		return nil, nil
	}
	def, ok := e.catalog.Profile(s.MatchedProfileID)
	if !ok {
		return nil, &domain.CatalogIntegrityError{Reason: "session references unknown profile " + s.MatchedProfileID}
	}
	bundle, ok := e.catalog.Bundle(s.BundleID)
	if !ok {
		return nil, &domain.CatalogIntegrityError{Reason: "session references unknown bundle " + s.BundleID}
	}
	return newRecommendation(def, bundle), nil
}

func newRecommendation(def domain.ProfileDefinition, bundle domain.ContentBundle) *Recommendation {
	return &Recommendation{
		ProfileID:    def.ID,
		ProfileName:  def.Name,
		BundleID:     bundle.ID,
		BundleName:   bundle.Name,
		Description:  bundle.Description,
		PathType:     bundle.PathType,
		Items:        append([]domain.ContentItem(nil), bundle.Items...),
		TotalMinutes: bundle.TotalMinutes(),
	}
}

type channelKey struct{}

// WithChannel tags ctx with the transport a request arrived on, for the conversation log.
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey{}, channel)
}

func channelFrom(ctx context.Context) string {
	if c, ok := ctx.Value(channelKey{}).(string); ok {
		return c
	}
	return "internal"
}

func (e *Engine) record(ctx context.Context, s *domain.Session, direction, eventType, content string, err error) {
	ev := ConversationLogEvent{
		UserID:     s.UserID,
		SessionID:  s.ID,
		Channel:    channelFrom(ctx),
		Direction:  direction,
		EventType:  eventType,
		State:      string(s.State),
		ContentRaw: content,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.convLog.Log(ev)
}

// View is the externally visible shape of a session.
type View struct {
	SessionID        string          `json:"session_id"`
	UserID           string          `json:"user_id"`
	State            domain.State    `json:"state"`
	Status           Status          `json:"status"`
	Profile          domain.Profile  `json:"profile"`
	Completion       int             `json:"completion_percentage"`
	ExchangeCount    int             `json:"exchange_count"`
	MatchedProfileID string          `json:"matched_profile_id,omitempty"`
	Recommendation   *Recommendation `json:"recommendation,omitempty"`
	Transcript       []domain.Turn   `json:"transcript"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// View loads a session together with its recommendation, if any.
func (e *Engine) View(ctx context.Context, id string) (View, error) {
	s, err := e.repo.GetSession(ctx, id)
	if err != nil {
		return View{}, err
	}
	rec, err := e.RecommendationFor(s)
	if err != nil {
		return View{}, err
	}
	return View{
		SessionID:        s.ID,
		UserID:           s.UserID,
		State:            s.State,
		Status:           StatusFor(s.State),
		Profile:          s.Profile,
		Completion:       s.Completion,
		ExchangeCount:    s.ExchangeCount,
		MatchedProfileID: s.MatchedProfileID,
		Recommendation:   rec,
		Transcript:       s.Transcript,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}, nil
}
