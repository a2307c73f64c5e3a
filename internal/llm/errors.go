package llm

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError indicates a failure worth retrying: rate limits, upstream
// unavailability, timeouts.
type TransientError struct {
	StatusCode int
	Message    string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient model error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// RefusalError indicates the model declined the content. Retrying a refusal
// wastes a call and will not change the outcome.
type RefusalError struct {
	Reason string
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("model refused: %s", truncate(e.Reason, 200))
}

// IsTransient reports whether err is a retryable model or transport failure.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

// IsRefusal reports whether err is a content-policy rejection.
func IsRefusal(err error) bool {
	var re *RefusalError
	return errors.As(err, &re)
}

// Phrases the models open refusals with. Matched case-insensitively against
// the start of a response.
var refusalPhrases = []string{
	"i cannot assist",
	"i can't assist",
	"i cannot help with",
	"i can't help with",
	"i'm unable to",
	"i am unable to",
	"i'm not able to",
	"i cannot provide",
	"i can't provide",
	"i must decline",
}

// DetectRefusal checks whether a response text reads as a refusal rather than
// an answer. Returns the matched phrase when it does.
func DetectRefusal(text string) (string, bool) {
	head := strings.ToLower(strings.TrimSpace(text))
	if len(head) > 120 {
		head = head[:120]
	}
	for _, p := range refusalPhrases {
		if strings.HasPrefix(head, p) {
			return p, true
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
