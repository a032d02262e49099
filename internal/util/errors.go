package util

import (
	"fmt"
	"strings"
)

// maxSummaryLength caps the text returned by LastLine.
const maxSummaryLength = 200

// WrapError wraps an error with a descriptive operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// LastLine returns the last non-blank line of text, truncated for log output.
// Service error bodies usually end with the useful message.
func LastLine(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[i+1:])
	}
	if len(text) > maxSummaryLength {
		return text[:maxSummaryLength] + "..."
	}
	return text
}
