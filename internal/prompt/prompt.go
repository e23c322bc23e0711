// Package prompt renders the accepted context and question into the
// ordered instruction sequence consumed by the generator.
package prompt

import (
	"fmt"
	"strings"

	"ragqa/internal/domain"
)

const systemRules = `You are a strict RAG assistant.

You MUST return ONLY valid JSON (no markdown, no prose, no code fences).
The JSON must have exactly two keys: answer, citations.

Rules:
1) Use ONLY the provided context snippets.
2) If the context does not contain the answer, return:
   {"answer":"I don't know based on the provided documents.","citations":[]}
3) Do NOT use general knowledge. Do NOT guess. Do NOT invent.
4) If you answer, you MUST include at least 1 citation that directly supports the answer.
5) citations may reference ONLY the provided snippets by (doc_id, chunk_id, page).
6) For questions about order/which comes first, answer explicitly using the snippet wording (e.g. "Justification for Change appears before Description of Change").
`

const userTemplate = `QUESTION:
%s

CONTEXT SNIPPETS:
%s

Return ONLY valid JSON in exactly this shape:
{
  "answer": "string",
  "citations": [{"doc_id": "string", "chunk_id": 0, "page": 1}]
}

Rules for citations:
- cite ONLY snippets that support the answer
- if unsure / not found in context -> answer must be:
  "I don't know based on the provided documents."
  and citations must be []
`

// Build renders the system rules plus the question and context into two
// messages. Rendering is deterministic for identical inputs.
func Build(question string, hits []domain.SearchHit) []domain.Message {
	context := formatContext(hits)
	if context == "" {
		context = "(no context snippets)"
	}
	return []domain.Message{
		{Role: domain.RoleSystem, Content: systemRules},
		{Role: domain.RoleUser, Content: fmt.Sprintf(userTemplate, strings.TrimSpace(question), context)},
	}
}

// formatContext renders each hit as a numbered block exposing its identity
// triple, source locator and verbatim text, in hit order.
func formatContext(hits []domain.SearchHit) string {
	if len(hits) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(hits))
	for i, h := range hits {
		m := h.Meta
		pageStr := ""
		if m.Page != nil {
			pageStr = fmt.Sprintf(", page=%d", *m.Page)
		}
		src := m.Path
		if src == "" {
			src = m.DocID
		}
		blocks = append(blocks, fmt.Sprintf("[%d] doc_id=%s, chunk_id=%d%s, source=%s\nsnippet:\n%s\n",
			i+1, m.DocID, m.ChunkID, pageStr, src, h.Text))
	}
	return strings.Join(blocks, "\n---\n")
}
