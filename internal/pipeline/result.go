package pipeline

// OutcomeKind discriminates the closed set of run results.
type OutcomeKind string

const (
	// OutcomeSuccess is a full-quality artifact from the enhanced path.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeDegraded is a locally assembled artifact after consolidation
	// exhausted its retries.
	OutcomeDegraded OutcomeKind = "degraded"
	// OutcomeExcerpt is the last-tier artifact built from the document's
	// opening excerpt only.
	OutcomeExcerpt OutcomeKind = "excerpt"
	// OutcomeCancelled means the run was cancelled; no artifact is produced
	// or cached.
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Names for the processing strategy recorded in cache metadata.
const (
	StrategyEnhanced = "enhanced"
	StrategyFallback = "fallback"
)

// Outcome is the result of one processing run.
type Outcome struct {
	Kind         OutcomeKind `json:"kind"`
	Text         string      `json:"text"`
	StrategyUsed string      `json:"strategy_used"`
	TextLength   int         `json:"text_length"`
}

// TerminalError is raised only when the excerpt-only tier itself fails; it is
// the sole processing failure that propagates to the caller.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return "document processing failed: " + e.Err.Error()
}

func (e *TerminalError) Unwrap() error { return e.Err }
