package pipeline

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

// Kind names an artifact kind. Artifacts of different kinds are cached
// independently even for the same source.
type Kind string

const (
	KindSummary Kind = "summary"
	KindOutline Kind = "outline"
)

// Stage identifies which pipeline step a prompt is built for.
type Stage int

const (
	StageSingle Stage = iota
	StageChunk
	StageConsolidate
	StageFallback
)

// PromptInput carries everything prompt construction may need. Fields are
// populated per stage; unused ones are zero.
type PromptInput struct {
	DisplayName string
	Text        string

	ChunkIndex int
	ChunkCount int
	StartPage  int
	EndPage    int

	TotalPages   int
	ChunkOutputs []string
}

// Strategy supplies the prompt for each stage and turns raw model output into
// the final artifact text. The processor is variant-agnostic; only prompt
// construction and output formatting differ between variants.
type Strategy interface {
	Kind() Kind
	Prompt(stage Stage, in PromptInput) string
	Format(raw string) string
}

// StrategyFor returns the strategy for an artifact kind.
func StrategyFor(kind Kind) (Strategy, error) {
	switch kind {
	case KindSummary:
		return SummaryStrategy{}, nil
	case KindOutline:
		return OutlineStrategy{}, nil
	}
	return nil, fmt.Errorf("unknown artifact kind: %q", kind)
}

// SummaryStrategy produces a narrative summary.
type SummaryStrategy struct{}

func (SummaryStrategy) Kind() Kind { return KindSummary }

func (SummaryStrategy) Prompt(stage Stage, in PromptInput) string {
	var sb strings.Builder
	switch stage {
	case StageSingle:
		sb.WriteString("Summarize the following document. Cover the main points, key arguments, and conclusions in flowing prose.\n\n")
		writeDocHeader(&sb, in.DisplayName)
		sb.WriteString(in.Text)
	case StageChunk:
		fmt.Fprintf(&sb, "Summarize part %d of %d of a longer document (pages %d-%d). Capture every substantive point; this summary will be merged with the other parts later.\n\n",
			in.ChunkIndex+1, in.ChunkCount, in.StartPage, in.EndPage)
		writeDocHeader(&sb, in.DisplayName)
		sb.WriteString(in.Text)
	case StageConsolidate:
		fmt.Fprintf(&sb, "The following are section summaries of a %d-page document, in order. Merge them into one coherent summary of the whole document. Remove repetition introduced by overlapping sections.\n\n",
			in.TotalPages)
		writeDocHeader(&sb, in.DisplayName)
		writeSections(&sb, in.ChunkOutputs)
	case StageFallback:
		sb.WriteString("Summarize this document excerpt. Note that only the opening portion is available.\n\n")
		writeDocHeader(&sb, in.DisplayName)
		sb.WriteString(in.Text)
	}
	return sb.String()
}

// Format for summaries is an identity trim.
func (SummaryStrategy) Format(raw string) string {
	return strings.TrimSpace(raw)
}

// OutlineStrategy produces a hierarchical mermaid mindmap of the document's
// concepts.
type OutlineStrategy struct{}

func (OutlineStrategy) Kind() Kind { return KindOutline }

const mindmapRules = `Output a mermaid mindmap. Rules:
- Wrap the diagram in a fenced code block tagged mermaid
- First line inside the fence is "mindmap"
- One root node named after the document, then nested branches by indentation
- Keep node labels short; no punctuation that breaks mermaid syntax

`

func (OutlineStrategy) Prompt(stage Stage, in PromptInput) string {
	var sb strings.Builder
	switch stage {
	case StageSingle:
		sb.WriteString("Build a concept outline of the following document as a mermaid mindmap: root topic, major themes as branches, supporting ideas nested beneath them.\n\n")
		sb.WriteString(mindmapRules)
		writeDocHeader(&sb, in.DisplayName)
		sb.WriteString(in.Text)
	case StageChunk:
		fmt.Fprintf(&sb, "List the key concepts and sub-concepts in part %d of %d of a longer document (pages %d-%d), as an indented text outline. These outlines will be merged into one mindmap later.\n\n",
			in.ChunkIndex+1, in.ChunkCount, in.StartPage, in.EndPage)
		writeDocHeader(&sb, in.DisplayName)
		sb.WriteString(in.Text)
	case StageConsolidate:
		fmt.Fprintf(&sb, "The following are concept outlines of the sections of a %d-page document, in order. Merge them into a single mermaid mindmap for the whole document.\n\n", in.TotalPages)
		sb.WriteString(mindmapRules)
		writeDocHeader(&sb, in.DisplayName)
		writeSections(&sb, in.ChunkOutputs)
	case StageFallback:
		sb.WriteString("Build a mermaid mindmap from this document excerpt. Note that only the opening portion is available.\n\n")
		sb.WriteString(mindmapRules)
		writeDocHeader(&sb, in.DisplayName)
		sb.WriteString(in.Text)
	}
	return sb.String()
}

// Format extracts the fenced code block carrying the mindmap. The model is
// prompted to fence the diagram for unambiguous extraction; when no fence is
// present the trimmed raw output is returned as-is.
func (OutlineStrategy) Format(raw string) string {
	if block, ok := extractFencedBlock(raw); ok {
		return block
	}
	return strings.TrimSpace(raw)
}

// extractFencedBlock walks the markdown AST of the model output and returns
// the contents of the first fenced code block.
func extractFencedBlock(raw string) (string, bool) {
	src := []byte(raw)
	doc := goldmark.New().Parser().Parse(gtext.NewReader(src))

	var block string
	found := false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || found {
			return ast.WalkContinue, nil
		}
		fc, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		lines := fc.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(src))
		}
		block = strings.TrimRight(sb.String(), "\n")
		found = true
		return ast.WalkStop, nil
	})
	return block, found
}

func writeDocHeader(sb *strings.Builder, displayName string) {
	fmt.Fprintf(sb, "Document: %q\n---\n", displayName)
}

func writeSections(sb *strings.Builder, outputs []string) {
	for i, out := range outputs {
		fmt.Fprintf(sb, "[Section %d]\n%s\n\n", i+1, out)
	}
}
