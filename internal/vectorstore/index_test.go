package vectorstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
)

func TestSearchRankingOrder(t *testing.T) {
	// A is nearly parallel to the query, B is close, C is orthogonal.
	ix, err := Build([][]float32{
		{0, 1, 0},     // C
		{1, 0.1, 0},   // A
		{0.8, 0.5, 0}, // B
	})
	require.NoError(t, err)

	hits, err := ix.Search([]float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, 1, hits[0].Ordinal)
	assert.Equal(t, 2, hits[1].Ordinal)
	assert.Equal(t, 0, hits[2].Ordinal)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Greater(t, hits[1].Score, hits[2].Score)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-6)
}

func TestSearchEmptyIndex(t *testing.T) {
	ix, err := Build(nil)
	require.NoError(t, err)

	hits, err := ix.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchReturnsAllWhenKExceedsSize(t *testing.T) {
	ix, err := Build([][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)

	hits, err := ix.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestBuildRejectsMixedDimensions(t *testing.T) {
	_, err := Build([][]float32{{1, 0}, {1, 0, 0}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIntegrity))
}

func TestSearchRejectsDimensionMismatch(t *testing.T) {
	ix, err := Build([][]float32{{1, 0, 0}})
	require.NoError(t, err)

	_, err = ix.Search([]float32{1, 0}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIntegrity))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ix, err := Build([][]float32{
		{0.9, 0.1, 0.2},
		{0.1, 0.9, 0.1},
		{0.2, 0.2, 0.9},
		{0.5, 0.5, 0.5},
	})
	require.NoError(t, err)

	query := []float32{1, 0.2, 0.1}
	before, err := ix.Search(query, 4)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), IndexFilename)
	require.NoError(t, ix.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ix.Len(), loaded.Len())
	assert.Equal(t, ix.Dimension(), loaded.Dimension())

	after, err := loaded.Search(query, 4)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Ordinal, after[i].Ordinal)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-9)
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope", IndexFilename))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMissingIndex))
}

func TestRecordsRoundTripPreservesOrder(t *testing.T) {
	page := 2
	records := []domain.ChunkRecord{
		{Text: "first", Meta: domain.ChunkMeta{DocID: "A", Source: domain.SourceTXT, ChunkID: 0, StartChar: 0, EndChar: 5}},
		{Text: "second", Meta: domain.ChunkMeta{DocID: "A", Source: domain.SourceTXT, ChunkID: 1, StartChar: 3, EndChar: 9}},
		{Text: "third", Meta: domain.ChunkMeta{DocID: "B", Source: domain.SourcePDF, ChunkID: 0, StartChar: 0, EndChar: 5, Page: &page, Path: "docs/B.pdf"}},
	}

	path := filepath.Join(t.TempDir(), RecordsFilename)
	require.NoError(t, WriteRecords(path, records))

	loaded, err := LoadRecords(path)
	require.NoError(t, err)
	require.Equal(t, records, loaded)
}

func TestLoadRecordsMissing(t *testing.T) {
	_, err := LoadRecords(filepath.Join(t.TempDir(), RecordsFilename))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMissingIndex))
}
