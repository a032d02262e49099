package util

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// IsConfigured reports whether all provided values are non-empty.
func IsConfigured(values ...string) bool {
	return !slices.Contains(values, "")
}

// ValidatePath rejects empty paths and paths with parent-directory components.
func ValidatePath(field, path string) error {
	if path == "" {
		return fmt.Errorf("%s: is required", field)
	}
	if slices.Contains(strings.Split(filepath.ToSlash(path), "/"), "..") {
		return fmt.Errorf("%s: path cannot contain '..'", field)
	}
	return nil
}

// CheckFileAppendable verifies that path can be opened for appending,
// creating its directory when needed. An existing file is left untouched.
func CheckFileAppendable(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WrapError("create log directory", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", path, err)
	}
	return f.Close()
}
