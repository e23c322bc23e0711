// Package generator calls the completion service with a built prompt and
// enforces the strict answer schema, retrying malformed output with a
// JSON reinforcement and transient failures with the prompt unchanged.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"ragqa/internal/domain"
)

// chatAPI is the slice of the OpenAI client this package needs.
// *openai.Client satisfies it; tests substitute fakes.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds the generator parameters.
type Config struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int
	Timeout         time.Duration
	Retries         int
	// JSONRetryDelay scales the wait after a malformed-output attempt;
	// CallRetryDelay scales the wait after a transient call failure.
	JSONRetryDelay time.Duration
	CallRetryDelay time.Duration
}

// Generator produces schema-validated answers.
type Generator struct {
	api   chatAPI
	cfg   Config
	log   *zap.Logger
	sleep func(time.Duration)
}

// New creates a Generator. A nil logger disables logging.
func New(api chatAPI, cfg Config, log *zap.Logger) *Generator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 400
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.JSONRetryDelay <= 0 {
		cfg.JSONRetryDelay = 400 * time.Millisecond
	}
	if cfg.CallRetryDelay <= 0 {
		cfg.CallRetryDelay = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{api: api, cfg: cfg, log: log, sleep: time.Sleep}
}

// Result is a successful generation.
type Result struct {
	Answer   domain.GeneratedAnswer
	Model    string
	Latency  time.Duration
	Usage    *domain.Usage
	Attempts int
}

// jsonReinforcement is appended to the user instruction after the service
// returns output that fails parsing or schema validation.
const jsonReinforcement = "\n\nIMPORTANT: Return ONLY a valid JSON object. " +
	"No markdown, no prose, no code fences, no extra keys."

// outcomeKind classifies one attempt against the completion service.
type outcomeKind int

const (
	outcomeParsed outcomeKind = iota
	outcomeMalformed
	outcomeTransient
)

// callOutcome is the tagged result of one attempt: a parsed answer, a
// malformed raw payload, or a transient call failure.
type callOutcome struct {
	kind   outcomeKind
	parsed domain.GeneratedAnswer
	usage  *domain.Usage
	err    error
}

// Generate submits the messages and returns the first schema-valid answer,
// retrying up to Retries additional attempts. A malformed attempt retries
// with the reinforcement appended; a transient failure retries the prompt
// unchanged. Exhaustion fails with ErrGeneration wrapping the last cause.
func (g *Generator) Generate(ctx context.Context, messages []domain.Message) (*Result, error) {
	start := time.Now()
	current := messages
	var lastErr error

	for attempt := 1; attempt <= g.cfg.Retries+1; attempt++ {
		out := g.attempt(ctx, current)
		switch out.kind {
		case outcomeParsed:
			res := &Result{
				Answer:   out.parsed,
				Model:    g.cfg.Model,
				Latency:  time.Since(start),
				Usage:    out.usage,
				Attempts: attempt,
			}
			g.log.Info("generation ok",
				zap.String("model", res.Model),
				zap.Int("attempt", attempt),
				zap.Duration("latency", res.Latency))
			return res, nil

		case outcomeMalformed:
			lastErr = out.err
			g.log.Warn("generation returned invalid json",
				zap.Int("attempt", attempt), zap.Error(out.err))
			if attempt <= g.cfg.Retries {
				current = reinforce(messages)
				g.sleep(g.cfg.JSONRetryDelay * time.Duration(attempt))
			}

		case outcomeTransient:
			lastErr = out.err
			g.log.Warn("generation call failed",
				zap.Int("attempt", attempt), zap.Error(out.err))
			if attempt <= g.cfg.Retries {
				g.sleep(g.cfg.CallRetryDelay * time.Duration(attempt))
			}
		}
	}

	return nil, fmt.Errorf("%w: after %d attempts: %v", domain.ErrGeneration, g.cfg.Retries+1, lastErr)
}

func (g *Generator) attempt(ctx context.Context, messages []domain.Message) callOutcome {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    toChatMessages(messages),
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxOutputTokens,
	}
	resp, err := g.api.CreateChatCompletion(callCtx, req)
	if err != nil {
		return callOutcome{kind: outcomeTransient, err: err}
	}
	if len(resp.Choices) == 0 {
		return callOutcome{kind: outcomeTransient, err: fmt.Errorf("completion returned no choices")}
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	parsed, err := parseAnswer(raw)
	if err != nil {
		return callOutcome{kind: outcomeMalformed, err: err}
	}
	return callOutcome{kind: outcomeParsed, parsed: parsed, usage: extractUsage(resp.Usage)}
}

// parseAnswer decodes and validates the strict GeneratedAnswer shape.
func parseAnswer(raw string) (domain.GeneratedAnswer, error) {
	var out domain.GeneratedAnswer
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return domain.GeneratedAnswer{}, fmt.Errorf("parse answer json: %w", err)
	}
	if strings.TrimSpace(out.Answer) == "" {
		return domain.GeneratedAnswer{}, fmt.Errorf("answer must be a non-empty string")
	}
	for i, c := range out.Citations {
		if c.DocID == "" {
			return domain.GeneratedAnswer{}, fmt.Errorf("citation %d: doc_id must be non-empty", i)
		}
		if c.ChunkID < 0 {
			return domain.GeneratedAnswer{}, fmt.Errorf("citation %d: chunk_id must be >= 0", i)
		}
		if c.Page != nil && *c.Page < 1 {
			return domain.GeneratedAnswer{}, fmt.Errorf("citation %d: page must be >= 1", i)
		}
	}
	return out, nil
}

// extractUsage distinguishes "service reported nothing" (nil) from a real
// zero-token record.
func extractUsage(u openai.Usage) *domain.Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return nil
	}
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return &domain.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  total,
	}
}

// reinforce rebuilds the prompt with the JSON reinforcement appended to the
// last user message, leaving the original slice untouched.
func reinforce(messages []domain.Message) []domain.Message {
	out := make([]domain.Message, len(messages))
	copy(out, messages)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == domain.RoleUser {
			out[i].Content += jsonReinforcement
			break
		}
	}
	return out
}

func toChatMessages(messages []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}
