// Package indexer builds the persisted index artifacts from a document
// directory: ingest, chunk, embed, then write the vector index, the chunk
// record store and a build report. Building is an offline, exclusive
// operation; serving processes load the finished artifacts read-only.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragqa/internal/chunker"
	"ragqa/internal/domain"
	"ragqa/internal/embedding"
	"ragqa/internal/ingest"
	"ragqa/internal/vectorstore"
)

// Embedder is the embedding capability the indexer needs.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) (*embedding.Result, error)
	Cost(inputTokens int) float64
}

// Config holds the build parameters.
type Config struct {
	DocsDir        string
	ArtifactDir    string
	ChunkSizeChars int
	OverlapChars   int
}

// Stats is the build report written next to the artifacts.
type Stats struct {
	Documents        int     `json:"documents"`
	Chunks           int     `json:"chunks"`
	BuildTimeSec     float64 `json:"build_time_sec"`
	ChunkSizeChars   int     `json:"chunk_size_chars"`
	OverlapChars     int     `json:"overlap_chars"`
	EmbedModel       string  `json:"embed_model"`
	EmbedBatches     int     `json:"embed_batches"`
	EmbedLatencyMS   int64   `json:"embed_latency_ms"`
	EmbedInputTokens int     `json:"embed_input_tokens"`
	EmbedCostUSD     float64 `json:"embed_cost_usd"`
	IndexPath        string  `json:"index_path"`
	ChunksPath       string  `json:"chunks_path"`
}

// Build runs the full offline pipeline and writes index.gob, chunks.jsonl
// and stats.json into the artifact directory.
func Build(ctx context.Context, cfg Config, emb Embedder, log *zap.Logger) (*Stats, error) {
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()

	ch, err := chunker.New(cfg.ChunkSizeChars, cfg.OverlapChars)
	if err != nil {
		return nil, err
	}

	docs, err := ingest.Walk(cfg.DocsDir)
	if err != nil {
		return nil, err
	}

	var records []domain.ChunkRecord
	seenFiles := map[string]struct{}{}
	nextChunkID := map[string]int{}

	for _, doc := range docs {
		seenFiles[doc.Path] = struct{}{}
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		chunks := ch.Split(doc.Text, chunker.Source{
			DocID: doc.DocID,
			Kind:  doc.Kind,
			Path:  doc.Path,
			Page:  doc.Page,
		})
		// Chunk ids restart per Split call; shift them so they stay
		// sequential across the pages of one document.
		base := nextChunkID[doc.DocID]
		for i := range chunks {
			chunks[i].Meta.ChunkID += base
		}
		nextChunkID[doc.DocID] = base + len(chunks)
		records = append(records, chunks...)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no chunks produced from %s (all documents empty?)", cfg.DocsDir)
	}
	log.Info("chunked corpus",
		zap.Int("documents", len(seenFiles)), zap.Int("chunks", len(records)))

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Text
	}
	embRes, err := emb.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embRes.Vectors) != len(records) {
		return nil, fmt.Errorf("%w: %d vectors for %d chunks", domain.ErrIntegrity, len(embRes.Vectors), len(records))
	}

	index, err := vectorstore.Build(embRes.Vectors)
	if err != nil {
		return nil, err
	}

	indexPath := filepath.Join(cfg.ArtifactDir, vectorstore.IndexFilename)
	chunksPath := filepath.Join(cfg.ArtifactDir, vectorstore.RecordsFilename)
	if err := index.Save(indexPath); err != nil {
		return nil, err
	}
	if err := vectorstore.WriteRecords(chunksPath, records); err != nil {
		return nil, err
	}

	stats := &Stats{
		Documents:        len(seenFiles),
		Chunks:           len(records),
		BuildTimeSec:     time.Since(start).Seconds(),
		ChunkSizeChars:   cfg.ChunkSizeChars,
		OverlapChars:     cfg.OverlapChars,
		EmbedModel:       embRes.Model,
		EmbedBatches:     embRes.Batches,
		EmbedLatencyMS:   embRes.Latency.Milliseconds(),
		EmbedInputTokens: embRes.InputTokens,
		EmbedCostUSD:     emb.Cost(embRes.InputTokens),
		IndexPath:        indexPath,
		ChunksPath:       chunksPath,
	}
	if err := writeStats(filepath.Join(cfg.ArtifactDir, vectorstore.StatsFilename), stats); err != nil {
		return nil, err
	}

	log.Info("index built",
		zap.Int("chunks", stats.Chunks),
		zap.Float64("build_time_sec", stats.BuildTimeSec),
		zap.String("index_path", stats.IndexPath))
	return stats, nil
}

func writeStats(path string, stats *Stats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
