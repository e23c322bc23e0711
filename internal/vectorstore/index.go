package vectorstore

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"ragqa/internal/domain"
)

// Artifact filenames inside an index directory. The index and the record
// store are rebuilt together; record i in chunks.jsonl corresponds to
// vector i in the index.
const (
	IndexFilename   = "index.gob"
	RecordsFilename = "chunks.jsonl"
	StatsFilename   = "stats.json"
)

// normEpsilon guards L2 normalization against division by zero.
const normEpsilon = 1e-12

// Index is a flat, exact inner-product nearest-neighbor structure. Vectors
// are L2-normalized on insert, so inner-product ranking equals cosine
// similarity. An Index is immutable once built.
type Index struct {
	dim     int
	vectors [][]float32
}

// Build normalizes the given vectors and inserts them in input order.
// All vectors must share one dimension.
func Build(vectors [][]float32) (*Index, error) {
	ix := &Index{}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: vector %d is empty", domain.ErrIntegrity, i)
		}
		if ix.dim == 0 {
			ix.dim = len(v)
		}
		if len(v) != ix.dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", domain.ErrIntegrity, i, len(v), ix.dim)
		}
		ix.vectors = append(ix.vectors, normalize(v))
	}
	return ix, nil
}

// Len reports the number of stored vectors.
func (ix *Index) Len() int { return len(ix.vectors) }

// Dimension reports the vector dimensionality, 0 for an empty index.
func (ix *Index) Dimension() int { return ix.dim }

// Hit is one nearest-neighbor candidate. Ordinal is the insertion position,
// resolved positionally against the parallel chunk-record store.
type Hit struct {
	Score   float64
	Ordinal int
}

// Search normalizes the query identically to the stored vectors and returns
// up to k hits ordered by descending score, ties broken by ordinal. An
// empty index yields an empty result, not an error.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(ix.vectors) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", domain.ErrIntegrity, len(query), ix.dim)
	}

	q := normalize(query)
	hits := make([]Hit, len(ix.vectors))
	for i, v := range ix.vectors {
		hits[i] = Hit{Score: dot(v, q), Ordinal: i}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// indexSnapshot is the serialized form of an Index.
type indexSnapshot struct {
	Dimension int
	Vectors   [][]float32
}

// Save writes the index as a single opaque binary artifact.
func (ix *Index) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(indexSnapshot{Dimension: ix.dim, Vectors: ix.vectors}); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return f.Sync()
}

// Load reads an index artifact written by Save.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMissingIndex, path)
		}
		return nil, err
	}
	defer f.Close()

	var snap indexSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrIntegrity, path, err)
	}
	for i, v := range snap.Vectors {
		if len(v) != snap.Dimension {
			return nil, fmt.Errorf("%w: vector %d dimension %d, want %d", domain.ErrIntegrity, i, len(v), snap.Dimension)
		}
	}
	return &Index{dim: snap.Dimension, vectors: snap.Vectors}, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum) + normEpsilon
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
