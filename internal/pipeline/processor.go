package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/DTeam-Top/docpilot/internal/chunker"
	"github.com/DTeam-Top/docpilot/internal/llm"
	"github.com/DTeam-Top/docpilot/internal/token"
)

const (
	// DefaultBatchSize bounds how many chunks run concurrently. Batches run
	// strictly in order.
	DefaultBatchSize = 3

	// fallbackExcerptChars is how much of the document the excerpt-only tier
	// sends.
	fallbackExcerptChars = 1000
)

// Processor runs the three-tier analysis pipeline: single-pass, chunked with
// consolidation fallback, and excerpt-only. Every tier yields a result rather
// than propagating failure, except the last.
type Processor struct {
	log         *slog.Logger
	batchSize   int
	maxAttempts int
	retryBase   time.Duration
}

// Option tunes a Processor.
type Option func(*Processor)

// WithBatchSize overrides the per-batch concurrency bound.
func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithMaxAttempts overrides the per-call attempt budget.
func WithMaxAttempts(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithRetryBase overrides the first backoff delay. Tests use this to avoid
// real waits.
func WithRetryBase(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.retryBase = d
		}
	}
}

func NewProcessor(log *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		log:         log,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process analyzes text and returns an artifact. The returned error is
// non-nil only when every tier, including the excerpt-only fallback, failed.
// Cancellation is reported through the outcome, not the error.
func (p *Processor) Process(ctx context.Context, text, displayName string, client llm.Client, sink Sink, strat Strategy) (Outcome, error) {
	if sink == nil {
		sink = NopSink{}
	}
	if strings.TrimSpace(text) == "" {
		sink.Write("Nothing to process: the document contains no text.\n")
		return Outcome{
			Kind:         OutcomeSuccess,
			Text:         "*Nothing to process: the document contains no text.*",
			StrategyUsed: StrategyEnhanced,
		}, nil
	}

	log := p.log.With("doc", displayName, "kind", strat.Kind())
	cfg := chunker.DefaultConfig(client.MaxInputTokens())
	estimated := token.Estimate(text)

	var (
		artifact string
		err      error
	)
	if estimated <= cfg.MaxTokensPerChunk {
		log.Info("single-pass processing", "tokens", estimated, "budget", cfg.MaxTokensPerChunk)
		artifact, err = p.singlePass(ctx, text, displayName, client, sink, strat)
		if err == nil {
			return enhanced(OutcomeSuccess, artifact, text), nil
		}
	} else {
		log.Info("chunked processing", "tokens", estimated, "budget", cfg.MaxTokensPerChunk)
		var out Outcome
		out, err = p.chunked(ctx, text, displayName, cfg, client, sink, strat)
		if err == nil {
			return out, nil
		}
	}

	if isCancellation(err) {
		return p.cancelled(sink), nil
	}
	log.Warn("enhanced processing failed, degrading to excerpt tier", "error", err)
	sink.Write(fmt.Sprintf("Processing failed (%s); generating an excerpt-only result.\n", truncateReason(err)))
	return p.excerptFallback(ctx, text, displayName, client, sink, strat)
}

// singlePass issues one retried model call over the whole document, streaming
// fragments to the sink as they arrive.
func (p *Processor) singlePass(ctx context.Context, text, displayName string, client llm.Client, sink Sink, strat Strategy) (string, error) {
	prompt := strat.Prompt(StageSingle, PromptInput{DisplayName: displayName, Text: text})
	raw, err := WithRetry(ctx, p.retryOpts(), func() (string, error) {
		return p.invoke(ctx, client, prompt, sink)
	})
	if err != nil {
		return "", err
	}
	return strat.Format(raw), nil
}

// chunked runs the chunk-batch-consolidate path. The returned error is either
// a cancellation or a reason to drop to the excerpt tier.
func (p *Processor) chunked(ctx context.Context, text, displayName string, cfg chunker.Config, client llm.Client, sink Sink, strat Strategy) (Outcome, error) {
	chunks := chunker.SemanticChunks(text, cfg)
	if len(chunks) == 0 {
		return Outcome{
			Kind:         OutcomeSuccess,
			Text:         "*Nothing to process: the document contains no text.*",
			StrategyUsed: StrategyEnhanced,
		}, nil
	}
	if err := chunker.Validate(chunks, cfg); err != nil {
		// Sizing bug, not a model failure: fatal for this tier, never retried.
		return Outcome{}, err
	}

	outputs, err := p.processBatches(ctx, chunks, displayName, client, sink, strat)
	if err != nil {
		return Outcome{}, err
	}

	totalPages := chunks[len(chunks)-1].EndPage
	sink.Write("Consolidating section results...\n")
	consolidated, err := p.consolidate(ctx, displayName, totalPages, outputs, client, strat)
	if err == nil {
		return enhanced(OutcomeSuccess, consolidated, text), nil
	}
	if isCancellation(err) {
		return Outcome{}, err
	}

	// Consolidation exhausted its retries: assemble locally so the caller
	// still receives document-ordered content.
	p.log.Warn("consolidation failed, assembling sections locally", "error", err)
	sink.Write("Consolidation failed; returning section summaries in document order.\n")
	return enhanced(OutcomeDegraded, assembleSections(chunks, outputs), text), nil
}

// processBatches runs chunks in fixed-size batches, concurrent within a
// batch and sequential across batches. Outputs are collected in chunk order
// regardless of completion order. The only error returned is cancellation.
func (p *Processor) processBatches(ctx context.Context, chunks []chunker.Chunk, displayName string, client llm.Client, sink Sink, strat Strategy) ([]string, error) {
	outputs := make([]string, len(chunks))
	batches := (len(chunks) + p.batchSize - 1) / p.batchSize
	sink.Write(fmt.Sprintf("Processing %d chunks in %d batches of up to %d.\n", len(chunks), batches, p.batchSize))

	for start := 0; start < len(chunks); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+p.batchSize, len(chunks))

		g := new(errgroup.Group)
		for _, c := range chunks[start:end] {
			g.Go(func() error {
				outputs[c.Index] = p.processChunk(ctx, c, len(chunks), displayName, client, strat)
				return nil
			})
		}
		_ = g.Wait()

		// In-flight calls settle above; results are discarded on cancellation.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sink.Write(fmt.Sprintf("Batch %d/%d complete (%d/%d chunks).\n", start/p.batchSize+1, batches, end, len(chunks)))
	}
	return outputs, nil
}

// processChunk summarizes one chunk. Failures degrade to an inline
// placeholder so one bad chunk never sinks the run.
func (p *Processor) processChunk(ctx context.Context, c chunker.Chunk, total int, displayName string, client llm.Client, strat Strategy) string {
	prompt := strat.Prompt(StageChunk, PromptInput{
		DisplayName: displayName,
		Text:        c.Content,
		ChunkIndex:  c.Index,
		ChunkCount:  total,
		StartPage:   c.StartPage,
		EndPage:     c.EndPage,
	})
	out, err := WithRetry(ctx, p.retryOpts(), func() (string, error) {
		res, err := client.Stream(ctx, userMessage(prompt), nil)
		if err != nil {
			return "", err
		}
		if phrase, refused := llm.DetectRefusal(res); refused {
			return "", &llm.RefusalError{Reason: "response opens with " + strconv.Quote(phrase)}
		}
		return res, nil
	})
	if err != nil {
		p.log.Warn("chunk processing failed", "chunk", c.Index, "pages", fmt.Sprintf("%d-%d", c.StartPage, c.EndPage), "error", err)
		return fmt.Sprintf("[Error summarizing pages %d-%d: %s]", c.StartPage, c.EndPage, truncateReason(err))
	}
	return strings.TrimSpace(out)
}

func (p *Processor) consolidate(ctx context.Context, displayName string, totalPages int, outputs []string, client llm.Client, strat Strategy) (string, error) {
	prompt := strat.Prompt(StageConsolidate, PromptInput{
		DisplayName:  displayName,
		TotalPages:   totalPages,
		ChunkOutputs: outputs,
	})
	raw, err := WithRetry(ctx, p.retryOpts(), func() (string, error) {
		res, err := client.Stream(ctx, userMessage(prompt), nil)
		if err != nil {
			return "", err
		}
		if phrase, refused := llm.DetectRefusal(res); refused {
			return "", &llm.RefusalError{Reason: "response opens with " + strconv.Quote(phrase)}
		}
		return res, nil
	})
	if err != nil {
		return "", err
	}
	return strat.Format(raw), nil
}

// excerptFallback is the last tier: one unretried call over the document's
// opening excerpt. Its failure is the only terminal processing error.
func (p *Processor) excerptFallback(ctx context.Context, text, displayName string, client llm.Client, sink Sink, strat Strategy) (Outcome, error) {
	if ctx.Err() != nil {
		return p.cancelled(sink), nil
	}
	prompt := strat.Prompt(StageFallback, PromptInput{DisplayName: displayName, Text: excerpt(text, fallbackExcerptChars)})
	raw, err := client.Stream(ctx, userMessage(prompt), nil)
	if err != nil {
		if isCancellation(err) {
			return p.cancelled(sink), nil
		}
		sink.Write("Excerpt-only processing failed; no result is available.\n")
		return Outcome{}, &TerminalError{Err: err}
	}
	body := fmt.Sprintf("> Excerpt-only result: generated from the first %d characters of the document.\n\n%s",
		fallbackExcerptChars, strat.Format(raw))
	return Outcome{
		Kind:         OutcomeExcerpt,
		Text:         body,
		StrategyUsed: StrategyFallback,
		TextLength:   len(text),
	}, nil
}

// invoke issues a single streaming call, forwarding fragments to the sink.
func (p *Processor) invoke(ctx context.Context, client llm.Client, prompt string, sink Sink) (string, error) {
	res, err := client.Stream(ctx, userMessage(prompt), func(delta string) {
		sink.Write(delta)
	})
	if err != nil {
		return "", err
	}
	if phrase, refused := llm.DetectRefusal(res); refused {
		return "", &llm.RefusalError{Reason: "response opens with " + strconv.Quote(phrase)}
	}
	return res, nil
}

func (p *Processor) retryOpts() RetryOptions {
	return RetryOptions{
		MaxAttempts: p.maxAttempts,
		ShouldRetry: RetryModel,
		BaseDelay:   p.retryBase,
	}
}

func (p *Processor) cancelled(sink Sink) Outcome {
	sink.Write("Processing cancelled; partial results discarded.\n")
	return Outcome{Kind: OutcomeCancelled, StrategyUsed: StrategyEnhanced}
}

func enhanced(kind OutcomeKind, artifact, source string) Outcome {
	return Outcome{
		Kind:         kind,
		Text:         artifact,
		StrategyUsed: StrategyEnhanced,
		TextLength:   len(source),
	}
}

// assembleSections concatenates chunk outputs under page-ranged headings,
// annotated as degraded.
func assembleSections(chunks []chunker.Chunk, outputs []string) string {
	var sb strings.Builder
	sb.WriteString("> Degraded result: consolidation failed, so section summaries are shown in document order.\n\n")
	for i, out := range outputs {
		fmt.Fprintf(&sb, "## Part %d (pages %d-%d)\n\n%s\n\n", i+1, chunks[i].StartPage, chunks[i].EndPage, out)
	}
	return strings.TrimSpace(sb.String())
}

// excerpt truncates text to at most n bytes without splitting a rune.
func excerpt(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}

func userMessage(prompt string) []llm.Message {
	return []llm.Message{{Role: "user", Content: prompt}}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func truncateReason(err error) string {
	msg := err.Error()
	if len(msg) > 160 {
		msg = msg[:160] + "..."
	}
	return msg
}
