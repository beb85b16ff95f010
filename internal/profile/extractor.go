package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/videa/internal/domain"
	"github.com/ashureev/videa/internal/llm"
)

// historyTurns bounds how much of the transcript is sent with each call.
const historyTurns = 12

const extractionInstruction = `You are a data extraction assistant for a professional training advisor.

Read ONLY the newest user message and return a single JSON object with the profile facts it states or strongly implies.
Omit every field the message does not mention. Never guess and never repeat facts from earlier messages.

Allowed fields:
{
  "role": string,
  "experience_months": integer,
  "team_size": integer,
  "industry": string,
  "primary_challenges": [string],
  "learning_goals": [string],
  "time_available_hours_per_week": integer,
  "emotional_state": string,
  "urgency": "high" | "medium" | "low"
}

Convert years to months. Return JSON only, with no commentary.`

// Result is the outcome of one extraction call.
type Result struct {
	Delta   domain.Profile
	Raw     string
	Dropped []domain.Field
}

// Extractor asks the model for the facts contained in the newest human turn.
type Extractor struct {
	gateway llm.Gateway
	timeout time.Duration
	logger  *slog.Logger
}

// NewExtractor creates an extractor. A non-positive timeout means the caller's deadline applies.
func NewExtractor(gateway llm.Gateway, timeout time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{gateway: gateway, timeout: timeout, logger: logger}
}

// Extract returns the validated delta for the latest human turn in transcript.
//
// A gateway failure is returned as-is and matches domain.ErrGatewayUnavailable.
// Unparseable output yields an empty delta together with an
// *domain.ExtractionParseError, which callers treat as soft.
func (e *Extractor) Extract(ctx context.Context, transcript []domain.Turn, current domain.Profile) (Result, error) {
	known, err := json.Marshal(current)
	if err != nil {
		return Result{}, fmt.Errorf("encode current profile: %w", err)
	}

	req := llm.Request{
		System:    extractionInstruction + "\n\nAlready known (do not repeat):\n" + string(known),
		Messages:  toMessages(transcript),
		MaxTokens: 1024,
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	raw, err := e.gateway.Generate(ctx, req)
	if err != nil {
		if errors.Is(err, llm.ErrDisabled) {
			return Result{}, nil
		}
		return Result{}, err
	}

	delta, dropped, err := ParseDelta(raw)
	if err != nil {
		e.logger.Warn("Discarding unparseable extraction output", "error", err, "raw", truncate(raw, 200))
		return Result{Raw: raw}, err
	}
	if len(dropped) > 0 {
		e.logger.Debug("Dropped invalid extracted fields", "fields", dropped)
	}
	return Result{Delta: delta, Raw: raw, Dropped: dropped}, nil
}

// toMessages maps the tail of a transcript onto gateway messages.
func toMessages(transcript []domain.Turn) []llm.Message {
	if len(transcript) > historyTurns {
		transcript = transcript[len(transcript)-historyTurns:]
	}
	msgs := make([]llm.Message, 0, len(transcript))
	for _, t := range transcript {
		role := llm.RoleUser
		if t.Role == domain.RoleSystem {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return msgs
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
