package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"ragqa/internal/domain"
)

// Chunker splits normalized document text into overlapping fixed-size
// windows with exact rune offsets.
type Chunker struct {
	size    int
	overlap int
}

// MinChunkSize is the smallest usable window, in runes.
const MinChunkSize = 50

// New validates the window parameters and returns a Chunker.
func New(size, overlap int) (*Chunker, error) {
	if size < MinChunkSize {
		return nil, fmt.Errorf("%w: chunk size %d is below the minimum of %d", domain.ErrConfiguration, size, MinChunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap %d must be >= 0", domain.ErrConfiguration, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", domain.ErrConfiguration, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

var (
	trailingWSRe  = regexp.MustCompile(`[ \t]+\n`)
	blankRunsRe   = regexp.MustCompile(`\n{3,}`)
	horizontalWRe = regexp.MustCompile(`[ \t]{2,}`)
)

// Normalize cleans raw document text before windowing: line endings become
// \n, runs of blank lines collapse to one blank line, runs of horizontal
// whitespace collapse to one space, trailing whitespace before line breaks
// is dropped and the whole text is trimmed. Normalize is idempotent.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	t := strings.ReplaceAll(text, "\r\n", "\n")
	t = strings.ReplaceAll(t, "\r", "\n")
	t = trailingWSRe.ReplaceAllString(t, "\n")
	t = blankRunsRe.ReplaceAllString(t, "\n\n")
	t = horizontalWRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// Source carries per-document metadata attached to every emitted chunk.
type Source struct {
	DocID string
	Kind  domain.SourceKind
	Path  string
	Page  *int
}

// Split normalizes text and walks it in windows of the configured size,
// advancing by size-overlap each step. Window boundaries are trimmed, the
// recorded offsets describe the trimmed span, and a window that trims to
// nothing is dropped without consuming a chunk id.
func (c *Chunker) Split(text string, src Source) []domain.ChunkRecord {
	cleaned := []rune(Normalize(text))
	n := len(cleaned)
	if n == 0 {
		return nil
	}

	kind := src.Kind
	if kind == "" {
		kind = domain.SourceUnknown
	}

	step := c.size - c.overlap
	var out []domain.ChunkRecord
	chunkID := 0

	for start := 0; start < n; start += step {
		end := start + c.size
		if end > n {
			end = n
		}

		left, right := start, end
		for left < right && unicode.IsSpace(cleaned[left]) {
			left++
		}
		for right > left && unicode.IsSpace(cleaned[right-1]) {
			right--
		}

		if left < right {
			out = append(out, domain.ChunkRecord{
				Text: string(cleaned[left:right]),
				Meta: domain.ChunkMeta{
					DocID:     src.DocID,
					Source:    kind,
					ChunkID:   chunkID,
					StartChar: left,
					EndChar:   right,
					Page:      src.Page,
					Path:      src.Path,
				},
			})
			chunkID++
		}

		if end >= n {
			break
		}
	}

	return out
}
