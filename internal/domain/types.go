package domain

// SourceKind identifies the format a document was extracted from.
type SourceKind string

const (
	SourcePDF     SourceKind = "pdf"
	SourceTXT     SourceKind = "txt"
	SourceMD      SourceKind = "md"
	SourceDOCX    SourceKind = "docx"
	SourceHTML    SourceKind = "html"
	SourceUnknown SourceKind = "unknown"
)

// Refusal is the canonical answer returned whenever the corpus does not
// support a confident, citable answer.
const Refusal = "I don't know based on the provided documents."

// ChunkMeta locates a chunk inside its source document. StartChar and
// EndChar are offsets into the normalized document text, counted in runes,
// with the trailing/leading whitespace of the window already trimmed away.
type ChunkMeta struct {
	DocID     string     `json:"doc_id"`
	Source    SourceKind `json:"source"`
	ChunkID   int        `json:"chunk_id"`
	StartChar int        `json:"start_char"`
	EndChar   int        `json:"end_char"`
	Page      *int       `json:"page,omitempty"`
	Path      string     `json:"path,omitempty"`
}

// ChunkRecord is one line of the persisted chunk record store. Line order
// in chunks.jsonl defines the ordinal index shared with the vector index:
// record i corresponds to vector i.
type ChunkRecord struct {
	Text string    `json:"text"`
	Meta ChunkMeta `json:"meta"`
}

// SearchHit is a retrieved chunk with its similarity score. Higher is better.
type SearchHit struct {
	Score float64
	Text  string
	Meta  ChunkMeta
}

// Reason explains a grounding decision.
type Reason string

const (
	ReasonNoHits        Reason = "no_hits"
	ReasonLowScore      Reason = "low_score"
	ReasonTooFewHits    Reason = "too_few_hits"
	ReasonEnoughContext Reason = "enough_context"
)

// Decision is the grounding-sufficiency verdict for one query. When
// Accepted is true, HitsUsed holds the bounded context admitted into the
// prompt, in rank order.
type Decision struct {
	Accepted bool
	Reason   Reason
	TopScore *float64
	HitsUsed []SearchHit
}

// Citation is a model-returned reference into the rendered context.
type Citation struct {
	DocID   string `json:"doc_id"`
	ChunkID int    `json:"chunk_id"`
	Page    *int   `json:"page,omitempty"`
}

// GeneratedAnswer is the strict output schema the completion service must
// produce: a non-empty answer plus zero or more citations.
type GeneratedAnswer struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// Message is one instruction in the ordered prompt sequence.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Usage is a token-usage record from an external service. A nil *Usage
// means the service reported nothing, which is distinct from zero tokens.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// SourceItem is one resolved source in an answer response.
type SourceItem struct {
	DocID   string  `json:"doc_id"`
	Source  string  `json:"source"`
	ChunkID int     `json:"chunk_id"`
	Page    *int    `json:"page,omitempty"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// AskResponse is the answer envelope handed to the serving layer. OK stays
// true even for refusals; answering failures are never surfaced as errors.
type AskResponse struct {
	OK        bool         `json:"ok"`
	Answer    string       `json:"answer"`
	Sources   []SourceItem `json:"sources"`
	LatencyMS int64        `json:"latency_ms"`
	Usage     *Usage       `json:"usage,omitempty"`
	CostUSD   float64      `json:"cost_usd"`
	RequestID string       `json:"request_id"`
}
