package scraper

import (
	"fmt"
	"unicode/utf8"
)

// FetchError is a page retrieval that failed for good: retries exhausted,
// a non-retryable status, or a body that is not an HTML document.
type FetchError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError means the embedded page-state JSON was missing or could
// not be recovered. Excerpt holds the text that failed to parse.
type ExtractionError struct {
	Reason  string
	Excerpt string
	Err     error
}

func (e *ExtractionError) Error() string {
	msg := "extract embedded data: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Excerpt != "" {
		msg += fmt.Sprintf(" (excerpt: %q)", e.Excerpt)
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// SchemaError means no ad object with an identifier was found on any known
// path of the extracted tree.
type SchemaError struct {
	Reason   string
	TopLevel []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("ad schema: %s (top-level keys: %v)", e.Reason, e.TopLevel)
}

// excerpt returns at most n bytes of s without splitting a UTF-8 sequence.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
