package sinks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/elastic-logger/internal/progress"
)

// clearLine erases the current terminal line and returns the cursor to column 0.
const clearLine = "\033[1K\r"

// ConsoleSink rewrites a single terminal line with each transient report and
// ends the line on the final one.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink writes to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Report prints r in place.
func (s *ConsoleSink) Report(_ context.Context, r progress.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if r.Final {
		_, err = fmt.Fprintf(s.w, "%s%s\nTaskEngine stopped.\n", clearLine, r)
	} else {
		_, err = fmt.Fprintf(s.w, "%s%s", clearLine, r)
	}
	if err != nil {
		return fmt.Errorf("write progress line: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *ConsoleSink) Close(context.Context) error {
	return nil
}
