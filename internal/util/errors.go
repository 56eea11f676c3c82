// Package util provides small shared helpers for error wrapping and retry timing.
package util

import (
	"fmt"
	"io"
	"log/slog"
)

// WrapError wraps an error with a descriptive operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// SafeClose closes c and logs a debug message if closing fails.
// Use for cleanup paths where the close error does not affect the caller.
func SafeClose(c io.Closer, name string) {
	if err := c.Close(); err != nil {
		slog.Debug("close failed", "resource", name, "error", err)
	}
}
