package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/videa/internal/config"
	"github.com/ashureev/videa/internal/llm"
	"github.com/spf13/cobra"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Probe the language model gateway configured in the environment",
	}

	var prompt string
	check := &cobra.Command{
		Use:   "check",
		Short: "Run a health check and optionally one prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			gw, err := llm.New(cmd.Context(), llm.Config{
				Provider: cfg.LLM.Provider,
				Addr:     cfg.LLM.Addr,
				BaseURL:  cfg.LLM.BaseURL,
				APIKey:   cfg.LLM.APIKey,
				Model:    cfg.LLM.Model,
				Timeout:  cfg.LLM.Timeout,
			}, logger)
			if err != nil {
				return err
			}
			if c, ok := gw.(interface{ Close() }); ok {
				defer c.Close()
			}

			out := cmd.OutOrStdout()
			start := time.Now()
			if err := gw.Health(cmd.Context()); err != nil {
				return fmt.Errorf("%s: %w", gw.Name(), err)
			}
			fmt.Fprintf(out, "%s: healthy (%s)\n", gw.Name(), time.Since(start).Round(time.Millisecond))

			if prompt == "" {
				return nil
			}
			reply, err := gw.Generate(cmd.Context(), llm.Request{
				Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
				MaxTokens: 200,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, reply)
			return nil
		},
	}
	check.Flags().StringVar(&prompt, "prompt", "", "Send this prompt after the health check")

	cmd.AddCommand(check)
	return cmd
}
