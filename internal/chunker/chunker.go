// Package chunker splits extracted document text into token-budgeted,
// page-tagged chunks with overlap between neighbours.
//
// Chunks are exact substrings of the source text: each chunk is the overlap
// carried from its predecessor followed by a fresh segment, and segments
// partition the source exactly. Stripping the overlap prefix from every chunk
// after the first and concatenating reconstructs the original text.
package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/DTeam-Top/docpilot/internal/token"
)

// Config controls chunking behavior.
type Config struct {
	MaxTokensPerChunk int     // Per-chunk token budget, overlap included.
	OverlapRatio      float64 // Fraction of the previous chunk repeated, in [0,1).
	SentenceBoundary  bool    // Prefer sentence ends when no paragraph break fits.
	ParagraphBoundary bool    // Prefer paragraph breaks.
}

const (
	// Headroom reserved out of the model ceiling for prompt scaffolding and
	// the response.
	promptHeadroomTokens = 1024

	// Fraction of the model's input ceiling handed to document content.
	ceilingFraction = 0.6

	minChunkTokens      = 256
	defaultOverlapRatio = 0.1
)

// DefaultConfig derives a chunking config from the model's advertised input
// token ceiling. The budget is never zero or negative.
func DefaultConfig(modelMaxInputTokens int) Config {
	budget := int(float64(modelMaxInputTokens)*ceilingFraction) - promptHeadroomTokens
	if budget < minChunkTokens {
		budget = minChunkTokens
	}
	return Config{
		MaxTokensPerChunk: budget,
		OverlapRatio:      defaultOverlapRatio,
		SentenceBoundary:  true,
		ParagraphBoundary: true,
	}
}

// Chunk is one bounded slice of the source text. Immutable once created;
// Index matches the chunk's position in the returned slice.
type Chunk struct {
	Content   string
	Index     int
	StartPage int
	EndPage   int
	Tokens    int
}

// ValidationError reports a chunk whose estimated tokens exceed the budget.
// This is a sizing bug, not a model failure, and must not be retried.
type ValidationError struct {
	Index  int
	Tokens int
	Max    int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chunk %d estimated at %d tokens exceeds budget of %d", e.Index, e.Tokens, e.Max)
}

// SemanticChunks walks the text preferring paragraph breaks, falling back to
// sentence ends, then to the nearest whitespace before the budget. Words are
// never split: an unbroken run longer than the budget is emitted oversized
// and left for Validate to flag.
//
// Empty (or whitespace-only) input yields no chunks.
func SemanticChunks(text string, cfg Config) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if cfg.MaxTokensPerChunk <= 0 {
		cfg.MaxTokensPerChunk = minChunkTokens
	}
	marks := pageMarks(text)

	var chunks []Chunk
	start := 0
	overlap := "" // suffix of the previous chunk, contiguous with text[start:]
	for start < len(text) {
		budget := cfg.MaxTokensPerChunk - token.Estimate(overlap)
		if budget < 1 {
			budget = 1
		}
		end := cut(text, start, budget, cfg)
		content := overlap + text[start:end]
		chunks = append(chunks, Chunk{
			Content:   content,
			Index:     len(chunks),
			StartPage: pageAt(marks, start),
			EndPage:   pageAt(marks, end-1),
			Tokens:    token.Estimate(content),
		})
		overlap = overlapSuffix(content, cfg.OverlapRatio)
		start = end
	}
	return chunks
}

// Validate fails if any chunk's estimated tokens exceed the configured
// budget. Callers must treat a failure as fatal for the run.
func Validate(chunks []Chunk, cfg Config) error {
	for _, c := range chunks {
		if c.Tokens > cfg.MaxTokensPerChunk {
			return &ValidationError{Index: c.Index, Tokens: c.Tokens, Max: cfg.MaxTokensPerChunk}
		}
	}
	return nil
}

// cut picks the end offset for the segment starting at start, spending at
// most budgetTokens. The returned offset is always greater than start.
func cut(text string, start, budgetTokens int, cfg Config) int {
	maxChars := int(float64(budgetTokens) * token.CharsPerToken)
	if maxChars < 1 {
		maxChars = 1
	}
	if start+maxChars >= len(text) {
		return len(text)
	}
	limit := start + maxChars

	if cfg.ParagraphBoundary {
		if idx := strings.LastIndex(text[start:limit], "\n\n"); idx >= 0 {
			return start + idx + 2
		}
	}
	if cfg.SentenceBoundary {
		if b := lastSentenceBreak(text, start, limit); b > start {
			return b
		}
	}
	if b := lastWhitespace(text, start, limit); b > start {
		return b
	}
	// No whitespace inside the window: run on to the next whitespace instead
	// of splitting the word. Validate flags the oversized chunk.
	return nextWhitespace(text, limit)
}

// lastSentenceBreak finds the latest ".!?"-plus-whitespace boundary within
// (start, limit]. The punctuation and one whitespace byte stay with the
// earlier segment.
func lastSentenceBreak(text string, start, limit int) int {
	for i := limit - 1; i > start; i-- {
		if !isSpace(text[i]) {
			continue
		}
		switch text[i-1] {
		case '.', '!', '?':
			return i + 1
		}
	}
	return -1
}

func lastWhitespace(text string, start, limit int) int {
	for i := limit - 1; i >= start; i-- {
		if isSpace(text[i]) {
			return i + 1
		}
	}
	return -1
}

func nextWhitespace(text string, from int) int {
	for i := from; i < len(text); i++ {
		if isSpace(text[i]) {
			return i + 1
		}
	}
	return len(text)
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

// overlapSuffix returns the trailing portion of content to repeat at the head
// of the next chunk, snapped forward to a word start.
func overlapSuffix(content string, ratio float64) string {
	if ratio <= 0 || ratio >= 1 {
		return ""
	}
	n := int(float64(len(content)) * ratio)
	if n <= 0 {
		return ""
	}
	i := len(content) - n
	for i > 0 && i < len(content) && !isSpace(content[i-1]) {
		i++
	}
	if i <= 0 || i >= len(content) {
		return ""
	}
	return content[i:]
}

// Page-delimiter markers inserted by the upstream extractor.
var pageMarkerRe = regexp.MustCompile(`--- Page (\d+) ---`)

type pageMark struct {
	offset int
	page   int
}

func pageMarks(text string) []pageMark {
	locs := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	marks := make([]pageMark, 0, len(locs))
	for _, loc := range locs {
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil || n < 1 {
			continue
		}
		marks = append(marks, pageMark{offset: loc[0], page: n})
	}
	return marks
}

// pageAt returns the page a byte offset belongs to; text before the first
// marker is page 1.
func pageAt(marks []pageMark, offset int) int {
	page := 1
	for _, m := range marks {
		if m.offset > offset {
			break
		}
		page = m.page
	}
	return page
}

// PageCount returns the highest page marker present, or 1 when the text
// carries no markers.
func PageCount(text string) int {
	marks := pageMarks(text)
	if len(marks) == 0 {
		return 1
	}
	max := 1
	for _, m := range marks {
		if m.page > max {
			max = m.page
		}
	}
	return max
}
