// Package llm asks an OpenAI-compatible chat model to produce a workflow
// graph as JSON.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"github.com/rendis/flowos/pkg/schema"
)

// Generator produces raw graph JSON from a natural-language description.
type Generator interface {
	Generate(ctx context.Context, description string) (json.RawMessage, error)
}

// Config selects the chat model endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Enabled reports whether enough is configured to call a model.
func (c Config) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || c.BaseURL != "")
}

const systemPrompt = `You convert workflow descriptions into directed graphs.
Reply with a single JSON object and nothing else, shaped as
{"nodes":[{"id":"step-1","type":"entry|intermediate|exit","label":"...","position":{"x":0,"y":0}}],
 "edges":[{"id":"edge-step-1-step-2","source":"step-1","target":"step-2"}]}.
Use one node per step. Omit position when unsure.`

// ChatGenerator drives any eino chat model.
type ChatGenerator struct {
	model   model.BaseChatModel
	timeout time.Duration
	logger  *slog.Logger
}

// NewChatGenerator wraps an existing chat model. A nil logger writes to stderr.
func NewChatGenerator(m model.BaseChatModel, timeout time.Duration, logger *slog.Logger) *ChatGenerator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &ChatGenerator{model: m, timeout: timeout, logger: logger}
}

// NewOpenAIGenerator builds a ChatGenerator on the OpenAI-compatible endpoint in cfg.
func NewOpenAIGenerator(ctx context.Context, cfg Config, logger *slog.Logger) (*ChatGenerator, error) {
	mc := &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		mc.MaxTokens = &maxTokens
	}
	temperature := cfg.Temperature
	mc.Temperature = &temperature
	if cfg.Timeout > 0 {
		mc.Timeout = cfg.Timeout
	}

	m, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("llm: create chat model: %w", err)
	}
	return NewChatGenerator(m, cfg.Timeout, logger), nil
}

// Generate sends the description to the model and returns the JSON it replied with.
func (g *ChatGenerator) Generate(ctx context.Context, description string) (json.RawMessage, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, schema.NewError(schema.ErrCodeInputEmpty, "description is empty")
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := g.model.Generate(ctx, []*einoschema.Message{
		einoschema.SystemMessage(systemPrompt),
		einoschema.UserMessage(description),
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeGeneration, "chat model call failed").WithCause(err)
	}
	if out == nil {
		return nil, schema.NewError(schema.ErrCodeGeneration, "chat model returned no message")
	}

	body := ExtractJSON(out.Content)
	if !json.Valid([]byte(body)) {
		return nil, schema.NewError(schema.ErrCodeGeneration, "chat model reply is not JSON").
			WithDetails(map[string]any{"reply": truncate(out.Content, 200)})
	}

	g.logger.DebugContext(ctx, "graph generated",
		slog.Int("reply_bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return json.RawMessage(body), nil
}

// ExtractJSON pulls the outermost JSON object out of a chat reply that may
// wrap it in prose or a markdown fence.
func ExtractJSON(reply string) string {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end < start {
		return strings.TrimSpace(reply)
	}
	return reply[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
