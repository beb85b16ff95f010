// Package llm provides the language model gateways used for profile
// extraction and question generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/videa/internal/domain"
)

// Role identifies the author of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior exchange passed to the model.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion call.
type Request struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Gateway is the outbound interface to a language model. Every error it
// returns matches domain.ErrGatewayUnavailable.
type Gateway interface {
	Generate(ctx context.Context, req Request) (string, error)
	Health(ctx context.Context) error
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Addr     string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// New builds the gateway named by cfg.Provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "grpc":
		return NewGRPCGateway(ctx, GRPCConfig{Address: cfg.Addr, Model: cfg.Model}, logger)
	case "openai":
		return NewOpenAIGateway(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	case "gemini":
		return NewGeminiGateway(ctx, GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "none", "":
		logger.Warn("No language model configured, using canned questions only")
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// unavailable wraps a provider failure so callers can match it with errors.Is.
func unavailable(op string, err error) error {
	if errors.Is(err, domain.ErrGatewayUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrGatewayUnavailable, err)
}

// ErrDisabled is returned by the Disabled gateway. Extraction treats it as an
// empty delta rather than an outage.
var ErrDisabled = errors.New("no language model provider configured")

// Disabled is a gateway that always fails. Question generation falls back to
// canned questions.
type Disabled struct{}

func (Disabled) Generate(context.Context, Request) (string, error) {
	return "", unavailable("generate", ErrDisabled)
}

func (Disabled) Health(context.Context) error {
	return unavailable("health", ErrDisabled)
}

func (Disabled) Name() string { return "none" }
