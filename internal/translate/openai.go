// Package translate translates message text through an OpenAI-compatible
// chat completion API.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/vedran77/courier/internal/config"
)

var ErrNotConfigured = errors.New("translation is not configured")

const systemPrompt = "You translate chat messages. Reply with the translation only, keeping tone, emoji and formatting. Target language: %s."

type Translator struct {
	client  openai.Client
	model   string
	enabled bool
}

func NewTranslator(cfg config.OpenAIConfig, extra ...option.RequestOption) *Translator {
	if cfg.APIKey == "" {
		return &Translator{}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &Translator{
		client:  openai.NewClient(opts...),
		model:   model,
		enabled: true,
	}
}

func (t *Translator) Enabled() bool {
	return t != nil && t.enabled
}

func (t *Translator) Translate(ctx context.Context, text, target string) (string, error) {
	if !t.Enabled() {
		return "", ErrNotConfigured
	}

	start := time.Now()
	resp, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: t.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(systemPrompt, target)),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("openai translate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai translate: no choices in response")
	}

	slog.DebugContext(ctx, "translation completed",
		"model", t.model,
		"target", target,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
