package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/decider"
	"ragqa/internal/domain"
	"ragqa/internal/generator"
	"ragqa/internal/retriever"
)

type fakeRetriever struct {
	hits  []domain.SearchHit
	err   error
	calls int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string) ([]domain.SearchHit, *retriever.Metrics, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.hits, &retriever.Metrics{Candidates: len(f.hits), Returned: len(f.hits)}, nil
}

type fakeGenerator struct {
	result *generator.Result
	err    error
	calls  int
	last   []domain.Message
}

func (f *fakeGenerator) Generate(_ context.Context, messages []domain.Message) (*generator.Result, error) {
	f.calls++
	f.last = messages
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func hit(doc string, chunkID int, page *int, score float64, text string) domain.SearchHit {
	return domain.SearchHit{
		Score: score,
		Text:  text,
		Meta:  domain.ChunkMeta{DocID: doc, Source: domain.SourceTXT, ChunkID: chunkID, Page: page, EndChar: len(text)},
	}
}

func defaultConfig() Config {
	return Config{
		Decider: decider.Config{MinScore: 0.4, MinHits: 1, MaxContextHits: 5},
		TopN:    3,
	}
}

func TestAnswerGroundedQuestion(t *testing.T) {
	ret := &fakeRetriever{hits: []domain.SearchHit{hit("DOC-001", 0, nil, 0.82, "use Arial for notes")}}
	gen := &fakeGenerator{result: &generator.Result{
		Answer: domain.GeneratedAnswer{
			Answer:    "Drawings must use Arial for notes.",
			Citations: []domain.Citation{{DocID: "DOC-001", ChunkID: 0}},
		},
		Usage:    &domain.Usage{InputTokens: 200, OutputTokens: 30, TotalTokens: 230},
		Attempts: 1,
	}}
	p := New(ret, gen, defaultConfig(), nil)

	res := p.Answer(context.Background(), "What font is required on drawings?")

	assert.True(t, res.OK)
	assert.Equal(t, "Drawings must use Arial for notes.", res.Answer)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "DOC-001", res.Sources[0].DocID)
	assert.NotEmpty(t, res.RequestID)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 230, res.Usage.TotalTokens)
}

func TestAnswerLowScoreRefusal(t *testing.T) {
	ret := &fakeRetriever{hits: []domain.SearchHit{hit("DOC-001", 0, nil, 0.12, "unrelated")}}
	gen := &fakeGenerator{}
	p := New(ret, gen, defaultConfig(), nil)

	res := p.Answer(context.Background(), "Who won the world cup?")

	assert.True(t, res.OK)
	assert.Equal(t, domain.Refusal, res.Answer)
	assert.Empty(t, res.Sources)
	assert.Zero(t, gen.calls, "no generation on decider reject")
}

func TestAnswerShortQuestionShortCircuits(t *testing.T) {
	ret := &fakeRetriever{}
	gen := &fakeGenerator{}
	p := New(ret, gen, defaultConfig(), nil)

	res := p.Answer(context.Background(), "hi")

	assert.Equal(t, domain.Refusal, res.Answer)
	assert.Empty(t, res.Sources)
	assert.Zero(t, res.LatencyMS)
	assert.Zero(t, ret.calls, "no retrieval")
	assert.Zero(t, gen.calls, "no generation")
}

func TestAnswerRetrievalFailureDowngrades(t *testing.T) {
	ret := &fakeRetriever{err: errors.New("embedding service down")}
	p := New(ret, &fakeGenerator{}, defaultConfig(), nil)

	res := p.Answer(context.Background(), "a valid question")
	assert.True(t, res.OK)
	assert.Equal(t, domain.Refusal, res.Answer)
}

func TestAnswerGenerationFailureDowngrades(t *testing.T) {
	ret := &fakeRetriever{hits: []domain.SearchHit{hit("D", 0, nil, 0.9, "text")}}
	gen := &fakeGenerator{err: domain.ErrGeneration}
	p := New(ret, gen, defaultConfig(), nil)

	res := p.Answer(context.Background(), "a valid question")
	assert.True(t, res.OK)
	assert.Equal(t, domain.Refusal, res.Answer)
	assert.Equal(t, 1, gen.calls)
}

func TestCitationResolutionPageInsensitiveFallback(t *testing.T) {
	page := 7
	ret := &fakeRetriever{hits: []domain.SearchHit{
		hit("DOC-001", 2, nil, 0.9, "pageless chunk"),
		hit("DOC-002", 0, &page, 0.8, "paged chunk"),
	}}
	wrongPage := 99
	gen := &fakeGenerator{result: &generator.Result{
		Answer: domain.GeneratedAnswer{
			Answer: "answer",
			Citations: []domain.Citation{
				// Exact match on the paged hit.
				{DocID: "DOC-002", ChunkID: 0, Page: &page},
				// Page disagrees; resolves via the page-insensitive retry.
				{DocID: "DOC-001", ChunkID: 2, Page: &wrongPage},
			},
		},
	}}
	p := New(ret, gen, defaultConfig(), nil)

	res := p.Answer(context.Background(), "which chunks?")
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "DOC-002", res.Sources[0].DocID, "citation order preserved")
	assert.Equal(t, "DOC-001", res.Sources[1].DocID)
}

func TestCitationFallbackToTopHits(t *testing.T) {
	ret := &fakeRetriever{hits: []domain.SearchHit{
		hit("A", 0, nil, 0.9, "first"),
		hit("B", 0, nil, 0.8, "second"),
		hit("C", 0, nil, 0.7, "third"),
		hit("D", 0, nil, 0.6, "fourth"),
	}}
	gen := &fakeGenerator{result: &generator.Result{
		Answer: domain.GeneratedAnswer{
			Answer:    "answer",
			Citations: []domain.Citation{{DocID: "UNKNOWN", ChunkID: 42}},
		},
	}}
	cfg := defaultConfig()
	cfg.TopN = 2
	p := New(ret, gen, cfg, nil)

	res := p.Answer(context.Background(), "which chunks?")
	require.Len(t, res.Sources, 2, "unresolvable citations fall back to top-N hits")
	assert.Equal(t, "A", res.Sources[0].DocID)
	assert.Equal(t, "B", res.Sources[1].DocID)
}

func TestCostAccounting(t *testing.T) {
	ret := &fakeRetriever{hits: []domain.SearchHit{hit("D", 0, nil, 0.9, "text")}}
	gen := &fakeGenerator{result: &generator.Result{
		Answer: domain.GeneratedAnswer{Answer: "a", Citations: []domain.Citation{{DocID: "D", ChunkID: 0}}},
		Usage:  &domain.Usage{InputTokens: 1_000_000, OutputTokens: 500_000, TotalTokens: 1_500_000},
	}}
	cfg := defaultConfig()
	cfg.PriceLLMInputPer1M = 0.15
	cfg.PriceLLMOutputPer1M = 0.60
	p := New(ret, gen, cfg, nil)

	res := p.Answer(context.Background(), "cost question")
	assert.InDelta(t, 0.15+0.30, res.CostUSD, 1e-9)

	// Absent usage means zero cost, not an error.
	gen.result.Usage = nil
	res = p.Answer(context.Background(), "cost question")
	assert.Zero(t, res.CostUSD)
	assert.Nil(t, res.Usage)
}

func TestSnippetTruncation(t *testing.T) {
	long := strings.Repeat("word ", 100)
	s := snippet(long, 20)
	assert.LessOrEqual(t, len([]rune(s)), 21)
	assert.True(t, strings.HasSuffix(s, "…"))

	assert.Equal(t, "short text", snippet("  short\n\ntext ", 320))
}
