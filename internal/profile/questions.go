package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/videa/internal/domain"
	"github.com/ashureev/videa/internal/llm"
)

// cannedQuestions are used whenever the model is unavailable or returns nothing.
var cannedQuestions = map[domain.Field]string{
	domain.FieldRole:              "To start, what's your current role?",
	domain.FieldExperienceMonths:  "How long have you been in this role?",
	domain.FieldPrimaryChallenges: "What are the biggest challenges you're facing at work right now?",
	domain.FieldLearningGoals:     "What would you most like to learn or get better at?",
}

const fallbackQuestion = "Could you tell me a bit more about what you're looking for?"

var fieldHints = map[domain.Field]string{
	domain.FieldRole:              "their current job role or title",
	domain.FieldExperienceMonths:  "how long they have been in that role",
	domain.FieldPrimaryChallenges: "the main challenges they face at work",
	domain.FieldLearningGoals:     "what they want to learn or improve",
}

// Question is the next prompt for the user.
type Question struct {
	Text   string
	Field  domain.Field
	Canned bool
}

// QuestionGenerator phrases the question for the highest-priority missing field.
type QuestionGenerator struct {
	gateway      llm.Gateway
	timeout      time.Duration
	maxExchanges int
	logger       *slog.Logger
}

// NewQuestionGenerator creates a generator.
func NewQuestionGenerator(gateway llm.Gateway, timeout time.Duration, maxExchanges int, logger *slog.Logger) *QuestionGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionGenerator{gateway: gateway, timeout: timeout, maxExchanges: maxExchanges, logger: logger}
}

// TargetField returns the first missing required field in priority order.
func TargetField(p domain.Profile) (domain.Field, bool) {
	missing := p.Missing()
	if len(missing) == 0 {
		return "", false
	}
	return missing[0], true
}

// CannedQuestion returns the static question for a field.
func CannedQuestion(f domain.Field) string {
	if q, ok := cannedQuestions[f]; ok {
		return q
	}
	return fallbackQuestion
}

// Next produces the question to append after a turn that did not match.
// It never fails: any gateway problem yields the canned question.
func (g *QuestionGenerator) Next(ctx context.Context, s *domain.Session) Question {
	field, ok := TargetField(s.Profile)
	if !ok {
		return Question{Text: fallbackQuestion, Canned: true}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.gateway.Generate(ctx, llm.Request{
		System:      g.instruction(s, field),
		Messages:    toMessages(s.Transcript),
		Temperature: 0.7,
		MaxTokens:   300,
	})
	if err != nil {
		g.logger.Debug("Using canned question", "session_id", s.ID, "field", field, "error", err)
		return Question{Text: CannedQuestion(field), Field: field, Canned: true}
	}

	text := strings.Trim(strings.TrimSpace(out), `"`)
	if text == "" {
		return Question{Text: CannedQuestion(field), Field: field, Canned: true}
	}
	return Question{Text: text, Field: field}
}

func (g *QuestionGenerator) instruction(s *domain.Session, field domain.Field) string {
	var known []string
	for _, f := range domain.AllFields {
		if vals := s.Profile.Texts(f); len(vals) > 0 {
			known = append(known, fmt.Sprintf("- %s: %s", f, strings.Join(vals, ", ")))
		} else if n, ok := s.Profile.Number(f); ok {
			known = append(known, fmt.Sprintf("- %s: %d", f, n))
		}
	}
	summary := "(nothing yet)"
	if len(known) > 0 {
		summary = strings.Join(known, "\n")
	}

	var b strings.Builder
	b.WriteString("You are Videa, a warm and empathetic training advisor for a professional training company.\n\n")
	b.WriteString("Known about the user:\n")
	b.WriteString(summary)
	b.WriteString("\n\nAsk exactly ONE short, conversational question to learn ")
	b.WriteString(fieldHints[field])
	b.WriteString(". Do not ask about anything already known. If the user sounds stressed, acknowledge it briefly first.")
	if g.maxExchanges > 0 && s.ExchangeCount >= g.maxExchanges-2 {
		b.WriteString(" The conversation needs to wrap up soon, so keep it brief.")
	}
	b.WriteString("\nReply with the question only.")
	return b.String()
}
