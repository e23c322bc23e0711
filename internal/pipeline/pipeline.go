// Package pipeline assembles retrieval, grounding, prompting and
// generation into the single answering entry point. It always returns a
// response; every unrecoverable condition downgrades to the canonical
// refusal instead of surfacing an error to the caller.
package pipeline

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragqa/internal/decider"
	"ragqa/internal/domain"
	"ragqa/internal/generator"
	"ragqa/internal/prompt"
	"ragqa/internal/retriever"
)

// snippetLen bounds the source snippet length in the response, in runes.
const snippetLen = 320

// Retriever is the retrieval capability the pipeline needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.SearchHit, *retriever.Metrics, error)
}

// Generator is the generation capability the pipeline needs.
type Generator interface {
	Generate(ctx context.Context, messages []domain.Message) (*generator.Result, error)
}

// Config holds the assembler parameters.
type Config struct {
	// Decider thresholds applied between retrieval and prompting.
	Decider decider.Config
	// TopN bounds the fallback source list when no citation resolves.
	TopN int
	// Completion token prices per million, for cost accounting.
	PriceLLMInputPer1M  float64
	PriceLLMOutputPer1M float64
}

// Pipeline answers questions strictly from the indexed corpus.
type Pipeline struct {
	retriever Retriever
	generator Generator
	cfg       Config
	log       *zap.Logger
}

// New creates a Pipeline. A nil logger disables logging.
func New(ret Retriever, gen Generator, cfg Config, log *zap.Logger) *Pipeline {
	if cfg.TopN <= 0 {
		cfg.TopN = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{retriever: ret, generator: gen, cfg: cfg, log: log}
}

// Answer runs the full chain: retrieve, decide, build prompt, generate,
// resolve citations. Questions shorter than three characters short-circuit
// to the refusal without touching retrieval or generation.
func (p *Pipeline) Answer(ctx context.Context, question string) domain.AskResponse {
	requestID := uuid.NewString()
	start := time.Now()

	q := strings.TrimSpace(question)
	if utf8.RuneCountInString(q) < retriever.MinQueryLen {
		return p.refusal(requestID, 0)
	}

	hits, _, err := p.retriever.Retrieve(ctx, q)
	if err != nil {
		p.log.Warn("retrieval failed", zap.String("request_id", requestID), zap.Error(err))
		return p.refusal(requestID, time.Since(start))
	}

	d := decider.Decide(hits, p.cfg.Decider)
	if !d.Accepted {
		p.log.Info("refused by decider",
			zap.String("request_id", requestID),
			zap.String("reason", string(d.Reason)))
		return p.refusal(requestID, time.Since(start))
	}

	messages := prompt.Build(q, d.HitsUsed)
	genRes, err := p.generator.Generate(ctx, messages)
	if err != nil {
		p.log.Warn("generation failed", zap.String("request_id", requestID), zap.Error(err))
		return p.refusal(requestID, time.Since(start))
	}

	sources := p.resolveSources(d.HitsUsed, genRes.Answer.Citations)

	return domain.AskResponse{
		OK:        true,
		Answer:    genRes.Answer.Answer,
		Sources:   sources,
		LatencyMS: time.Since(start).Milliseconds(),
		Usage:     genRes.Usage,
		CostUSD:   p.cost(genRes.Usage),
		RequestID: requestID,
	}
}

// sourceKey identifies a hit for citation resolution. hasPage keeps a
// page-less key distinct from page 0.
type sourceKey struct {
	docID   string
	chunkID int
	page    int
	hasPage bool
}

func keyFor(docID string, chunkID int, page *int) sourceKey {
	k := sourceKey{docID: docID, chunkID: chunkID}
	if page != nil {
		k.page = *page
		k.hasPage = true
	}
	return k
}

// resolveSources maps model citations back to accepted hits. Each citation
// is first matched on the exact (doc_id, chunk_id, page) triple, then with
// the page forced absent. The page-insensitive fallback can attach a
// citation to a different page of the same chunk id when pages disagree;
// deliberate leniency, possibly a grounding-accuracy defect, kept as is.
// When nothing resolves, the top-N accepted hits stand in as sources.
func (p *Pipeline) resolveSources(hitsUsed []domain.SearchHit, citations []domain.Citation) []domain.SourceItem {
	lookup := make(map[sourceKey]domain.SourceItem, len(hitsUsed))
	for _, h := range hitsUsed {
		lookup[keyFor(h.Meta.DocID, h.Meta.ChunkID, h.Meta.Page)] = sourceItem(h)
	}

	var sources []domain.SourceItem
	for _, c := range citations {
		if item, ok := lookup[keyFor(c.DocID, c.ChunkID, c.Page)]; ok {
			sources = append(sources, item)
			continue
		}
		if item, ok := lookup[keyFor(c.DocID, c.ChunkID, nil)]; ok {
			sources = append(sources, item)
		}
	}

	if len(sources) == 0 {
		n := p.cfg.TopN
		if n > len(hitsUsed) {
			n = len(hitsUsed)
		}
		for _, h := range hitsUsed[:n] {
			sources = append(sources, sourceItem(h))
		}
	}
	return sources
}

func sourceItem(h domain.SearchHit) domain.SourceItem {
	src := h.Meta.Path
	if src == "" {
		src = h.Meta.DocID
	}
	return domain.SourceItem{
		DocID:   h.Meta.DocID,
		Source:  src,
		ChunkID: h.Meta.ChunkID,
		Page:    h.Meta.Page,
		Score:   h.Score,
		Snippet: snippet(h.Text, snippetLen),
	}
}

func (p *Pipeline) refusal(requestID string, elapsed time.Duration) domain.AskResponse {
	return domain.AskResponse{
		OK:        true,
		Answer:    domain.Refusal,
		Sources:   []domain.SourceItem{},
		LatencyMS: elapsed.Milliseconds(),
		RequestID: requestID,
	}
}

func (p *Pipeline) cost(usage *domain.Usage) float64 {
	if usage == nil {
		return 0
	}
	cost := float64(usage.InputTokens)/1_000_000*p.cfg.PriceLLMInputPer1M +
		float64(usage.OutputTokens)/1_000_000*p.cfg.PriceLLMOutputPer1M
	return math.Round(cost*1e6) / 1e6
}

// snippet collapses whitespace and truncates to n runes with an ellipsis.
func snippet(text string, n int) string {
	t := strings.Join(strings.Fields(text), " ")
	runes := []rune(t)
	if len(runes) <= n {
		return t
	}
	return strings.TrimRight(string(runes[:n]), " ") + "…"
}
