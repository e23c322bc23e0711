package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
)

type fakeChat struct {
	calls   []openai.ChatCompletionRequest
	results []func(req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls = append(f.calls, req)
	next := f.results[0]
	f.results = f.results[1:]
	return next(req)
}

func textResponse(content string, usage openai.Usage) func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		return openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}},
			Usage:   usage,
		}, nil
	}
}

func failResponse(err error) func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		return openai.ChatCompletionResponse{}, err
	}
}

func newTestGenerator(api chatAPI, retries int) (*Generator, *[]time.Duration) {
	g := New(api, Config{Retries: retries}, nil)
	var delays []time.Duration
	g.sleep = func(d time.Duration) { delays = append(delays, d) }
	return g, &delays
}

func messages() []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "rules"},
		{Role: domain.RoleUser, Content: "QUESTION: q"},
	}
}

const validJSON = `{"answer":"Arial is required.","citations":[{"doc_id":"DOC-001","chunk_id":0,"page":1}]}`

func TestGenerateParsesValidAnswer(t *testing.T) {
	api := &fakeChat{results: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		textResponse(validJSON, openai.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}),
	}}
	g, _ := newTestGenerator(api, 2)

	res, err := g.Generate(context.Background(), messages())
	require.NoError(t, err)
	assert.Equal(t, "Arial is required.", res.Answer.Answer)
	require.Len(t, res.Answer.Citations, 1)
	assert.Equal(t, "DOC-001", res.Answer.Citations[0].DocID)
	assert.Equal(t, 1, res.Attempts)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 120, res.Usage.TotalTokens)
}

func TestGenerateMalformedThenRecovered(t *testing.T) {
	api := &fakeChat{results: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		textResponse("```json not actually json```", openai.Usage{}),
		textResponse(validJSON, openai.Usage{PromptTokens: 90, CompletionTokens: 15, TotalTokens: 105}),
	}}
	g, delays := newTestGenerator(api, 2)

	res, err := g.Generate(context.Background(), messages())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)

	// Second call carries the reinforcement appended to the user message.
	require.Len(t, api.calls, 2)
	first := api.calls[0].Messages[1].Content
	second := api.calls[1].Messages[1].Content
	assert.NotContains(t, first, "Return ONLY a valid JSON object")
	assert.Contains(t, second, "Return ONLY a valid JSON object")
	assert.Equal(t, []time.Duration{400 * time.Millisecond}, *delays)
}

func TestGenerateTransientRetryKeepsPromptUnchanged(t *testing.T) {
	api := &fakeChat{results: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		failResponse(errors.New("timeout")),
		textResponse(validJSON, openai.Usage{}),
	}}
	g, delays := newTestGenerator(api, 1)

	res, err := g.Generate(context.Background(), messages())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, api.calls[0].Messages, api.calls[1].Messages)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, *delays)
}

func TestGenerateExhaustedAttempts(t *testing.T) {
	api := &fakeChat{results: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		textResponse("nope", openai.Usage{}),
		textResponse(`{"answer":""}`, openai.Usage{}),
	}}
	g, _ := newTestGenerator(api, 1)

	_, err := g.Generate(context.Background(), messages())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGeneration))
	assert.Len(t, api.calls, 2)
}

func TestGenerateUsageAbsentWhenServiceReportsNothing(t *testing.T) {
	api := &fakeChat{results: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		textResponse(`{"answer":"yes","citations":[]}`, openai.Usage{}),
	}}
	g, _ := newTestGenerator(api, 0)

	res, err := g.Generate(context.Background(), messages())
	require.NoError(t, err)
	assert.Nil(t, res.Usage, "absent usage stays nil, not zero")
}

func TestParseAnswerValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"valid with empty citations", `{"answer":"a","citations":[]}`, true},
		{"valid without citations key", `{"answer":"a"}`, true},
		{"not json", "plain text", false},
		{"empty answer", `{"answer":"","citations":[]}`, false},
		{"blank answer", `{"answer":"   "}`, false},
		{"empty doc id", `{"answer":"a","citations":[{"doc_id":"","chunk_id":0}]}`, false},
		{"negative chunk id", `{"answer":"a","citations":[{"doc_id":"D","chunk_id":-1}]}`, false},
		{"zero page", `{"answer":"a","citations":[{"doc_id":"D","chunk_id":0,"page":0}]}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseAnswer(tc.raw)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
