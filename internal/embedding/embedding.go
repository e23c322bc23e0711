// Package embedding converts text batches into embedding vectors via an
// OpenAI-compatible service, preserving input order and retrying transient
// failures with linear backoff.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"ragqa/internal/domain"
)

// embeddingAPI is the slice of the OpenAI client this package needs.
// *openai.Client satisfies it; tests substitute fakes.
type embeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Config holds the embedding client parameters.
type Config struct {
	Model           string
	BatchSize       int
	Timeout         time.Duration
	Retries         int
	BaseDelay       time.Duration
	PriceInputPer1M float64
}

// Client batches texts into embedding calls.
type Client struct {
	api   embeddingAPI
	cfg   Config
	log   *zap.Logger
	sleep func(time.Duration)
}

// NewClient creates an embedding client. A nil logger disables logging.
func NewClient(apiClient embeddingAPI, cfg Config, log *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{api: apiClient, cfg: cfg, log: log, sleep: time.Sleep}
}

// Result reports the vectors plus usage and timing for one EmbedTexts call.
type Result struct {
	Vectors     [][]float32
	Model       string
	InputTokens int
	Latency     time.Duration
	Batches     int
}

// EmbedTexts embeds all texts in order. Blank texts are submitted as a
// single space because the service rejects empty inputs. Each batch is
// retried up to Retries additional times with BaseDelay*attempt waits; a
// vector-count mismatch is escalated immediately as an integrity failure
// and never retried. On any failure no partial results are returned.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) (*Result, error) {
	if len(texts) == 0 {
		return &Result{Model: c.cfg.Model}, nil
	}

	normalized := make([]string, len(texts))
	for i, t := range texts {
		s := strings.TrimSpace(t)
		if s == "" {
			s = " "
		}
		normalized[i] = s
	}

	start := time.Now()
	totalBatches := (len(normalized) + c.cfg.BatchSize - 1) / c.cfg.BatchSize
	vectors := make([][]float32, 0, len(normalized))
	inputTokens := 0

	for b := 0; b < totalBatches; b++ {
		lo := b * c.cfg.BatchSize
		hi := lo + c.cfg.BatchSize
		if hi > len(normalized) {
			hi = len(normalized)
		}
		batch := normalized[lo:hi]

		vecs, tokens, err := c.embedBatch(ctx, batch, b+1, totalBatches)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vecs...)
		inputTokens += tokens
	}

	if len(vectors) != len(normalized) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrIntegrity, len(vectors), len(normalized))
	}

	res := &Result{
		Vectors:     vectors,
		Model:       c.cfg.Model,
		InputTokens: inputTokens,
		Latency:     time.Since(start),
		Batches:     totalBatches,
	}
	c.log.Info("embedding done",
		zap.Int("texts", len(normalized)),
		zap.Int("batches", res.Batches),
		zap.String("model", res.Model),
		zap.Duration("latency", res.Latency),
		zap.Int("input_tokens", res.InputTokens),
		zap.Float64("cost_usd", c.Cost(res.InputTokens)),
	)
	return res, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string, num, total int) ([][]float32, int, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.Retries+1; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		resp, err := c.api.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(c.cfg.Model),
		})
		cancel()

		if err == nil {
			if len(resp.Data) != len(batch) {
				return nil, 0, fmt.Errorf("%w: batch %d/%d returned %d vectors for %d texts",
					domain.ErrIntegrity, num, total, len(resp.Data), len(batch))
			}
			vecs := make([][]float32, len(resp.Data))
			for i, d := range resp.Data {
				vecs[i] = d.Embedding
			}
			c.log.Debug("embedding batch ok",
				zap.Int("batch", num), zap.Int("batches", total),
				zap.Int("size", len(batch)), zap.Int("attempt", attempt))
			return vecs, resp.Usage.PromptTokens, nil
		}

		lastErr = err
		c.log.Warn("embedding batch failed",
			zap.Int("batch", num), zap.Int("batches", total),
			zap.Int("attempt", attempt), zap.Error(err))
		if attempt <= c.cfg.Retries {
			c.sleep(c.cfg.BaseDelay * time.Duration(attempt))
		}
	}

	return nil, 0, fmt.Errorf("%w: batch %d/%d failed after %d attempts: %v",
		domain.ErrEmbeddingService, num, total, c.cfg.Retries+1, lastErr)
}

// Cost converts accumulated input tokens into USD using the configured
// per-million-token price. A zero price yields zero cost.
func (c *Client) Cost(inputTokens int) float64 {
	if c.cfg.PriceInputPer1M <= 0 {
		return 0
	}
	return round6(float64(inputTokens) / 1_000_000 * c.cfg.PriceInputPer1M)
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
