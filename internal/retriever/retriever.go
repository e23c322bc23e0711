// Package retriever maps a question to a ranked, threshold-filtered list
// of chunk hits using the embedding client and the persisted index.
package retriever

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"ragqa/internal/domain"
	"ragqa/internal/embedding"
	"ragqa/internal/vectorstore"
)

// MinQueryLen is the minimum trimmed query length, in runes.
const MinQueryLen = 3

// Embedder is the embedding capability the retriever needs.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) (*embedding.Result, error)
}

// Config holds retrieval parameters.
type Config struct {
	TopK     int
	MinScore float64
}

// Metrics describes one retrieval for observability.
type Metrics struct {
	EmbedLatency  time.Duration
	SearchLatency time.Duration
	TotalLatency  time.Duration
	Candidates    int
	Returned      int
	TopScore      *float64
}

// Retriever holds the loaded artifacts. Both are immutable for the process
// lifetime, so concurrent Retrieve calls need no locking.
type Retriever struct {
	embedder Embedder
	index    *vectorstore.Index
	records  []domain.ChunkRecord
	cfg      Config
	log      *zap.Logger
}

// New builds a Retriever over an already-loaded index and record store.
// An empty record store fails fast: serving against it could never answer.
func New(embedder Embedder, index *vectorstore.Index, records []domain.ChunkRecord, cfg Config, log *zap.Logger) (*Retriever, error) {
	if cfg.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be > 0", domain.ErrConfiguration)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: no vector index", domain.ErrMissingIndex)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: record store is empty", domain.ErrMissingIndex)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if index.Len() != len(records) {
		// Stale artifacts; out-of-range ordinals are skipped at query time.
		log.Warn("index and record store sizes differ",
			zap.Int("vectors", index.Len()), zap.Int("records", len(records)))
	}
	return &Retriever{embedder: embedder, index: index, records: records, cfg: cfg, log: log}, nil
}

// Open loads the index and record-store artifacts from dir and builds a
// Retriever. Missing artifacts fail with ErrMissingIndex.
func Open(embedder Embedder, dir string, cfg Config, log *zap.Logger) (*Retriever, error) {
	index, err := vectorstore.Load(filepath.Join(dir, vectorstore.IndexFilename))
	if err != nil {
		return nil, err
	}
	records, err := vectorstore.LoadRecords(filepath.Join(dir, vectorstore.RecordsFilename))
	if err != nil {
		return nil, err
	}
	return New(embedder, index, records, cfg, log)
}

// Retrieve embeds the query, searches the index for TopK neighbors, drops
// candidates below MinScore and resolves the survivors to chunk records.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]domain.SearchHit, *Metrics, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil, fmt.Errorf("%w: empty query", domain.ErrInvalidQuery)
	}
	if utf8.RuneCountInString(q) < MinQueryLen {
		return nil, nil, fmt.Errorf("%w: query shorter than %d characters", domain.ErrInvalidQuery, MinQueryLen)
	}

	start := time.Now()

	embStart := time.Now()
	embRes, err := r.embedder.EmbedTexts(ctx, []string{q})
	if err != nil {
		return nil, nil, err
	}
	embedLatency := time.Since(embStart)
	if len(embRes.Vectors) != 1 {
		return nil, nil, fmt.Errorf("%w: query embedding returned %d vectors", domain.ErrIntegrity, len(embRes.Vectors))
	}

	searchStart := time.Now()
	candidates, err := r.index.Search(embRes.Vectors[0], r.cfg.TopK)
	if err != nil {
		return nil, nil, err
	}
	searchLatency := time.Since(searchStart)

	kept := candidates[:0:0]
	for _, c := range candidates {
		if c.Score >= r.cfg.MinScore {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	hits := make([]domain.SearchHit, 0, len(kept))
	var topScore *float64
	for _, c := range kept {
		if c.Ordinal < 0 || c.Ordinal >= len(r.records) {
			continue
		}
		rec := r.records[c.Ordinal]
		if topScore == nil {
			s := c.Score
			topScore = &s
		}
		hits = append(hits, domain.SearchHit{Score: c.Score, Text: rec.Text, Meta: rec.Meta})
	}

	m := &Metrics{
		EmbedLatency:  embedLatency,
		SearchLatency: searchLatency,
		TotalLatency:  time.Since(start),
		Candidates:    len(candidates),
		Returned:      len(hits),
		TopScore:      topScore,
	}
	r.log.Debug("retrieved",
		zap.Int("candidates", m.Candidates),
		zap.Int("returned", m.Returned),
		zap.Duration("embed_latency", m.EmbedLatency),
		zap.Duration("search_latency", m.SearchLatency))
	return hits, m, nil
}
