// Package memory provides an in-process source client for local runs and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/elastic-logger/internal/source"
)

// ErrClosed is returned by FetchBatch after Close.
var ErrClosed = errors.New("memory source closed")

// Source hands out queued records in batches of at most BatchSize.
type Source struct {
	mu        sync.Mutex
	pending   []source.Record
	batchSize int
	closed    bool
	fetches   int
}

// New creates a Source. A non-positive batchSize returns everything queued.
func New(batchSize int) *Source {
	return &Source{batchSize: batchSize}
}

// Add queues records for later fetches.
func (s *Source) Add(records ...source.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, records...)
}

// AddValues queues records carrying only a payload.
func (s *Source) AddValues(values ...[]byte) {
	records := make([]source.Record, 0, len(values))
	for _, v := range values {
		records = append(records, source.Record{Value: append([]byte(nil), v...)})
	}
	s.Add(records...)
}

// FetchBatch returns the next batch without blocking.
func (s *Source) FetchBatch(_ context.Context) ([]source.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.fetches++
	n := len(s.pending)
	if s.batchSize > 0 && n > s.batchSize {
		n = s.batchSize
	}
	batch := append([]source.Record(nil), s.pending[:n]...)
	s.pending = s.pending[n:]
	return batch, nil
}

// Fetches reports how many times FetchBatch ran.
func (s *Source) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// Close marks the source closed. It is safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
