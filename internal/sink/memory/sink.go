// Package memory stores trip documents in-memory for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/elastic-logger/internal/event"
	"github.com/JakeFAU/elastic-logger/internal/sink"
)

// Sink keeps every persisted trip and counts Close calls.
type Sink struct {
	mu     sync.RWMutex
	trips  []event.Trip
	closes int
	// PersistErr, when set, makes every Persist fail.
	PersistErr error
	// CloseErr is returned from Close.
	CloseErr error
}

// New creates an empty Sink.
func New() *Sink {
	return &Sink{}
}

// Persist stores a copy of trip.
func (s *Sink) Persist(_ context.Context, trip *event.Trip) error {
	if trip == nil {
		return sink.NewPersistError("memory", nil, fmt.Errorf("trip is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PersistErr != nil {
		return sink.NewPersistError("memory", trip, s.PersistErr)
	}
	s.trips = append(s.trips, *trip)
	return nil
}

// Close records the call.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.CloseErr
}

// Trips returns the stored trips in persist order.
func (s *Sink) Trips() []event.Trip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]event.Trip(nil), s.trips...)
}

// Closes reports how many times Close ran.
func (s *Sink) Closes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closes
}

// InitSchema is a no-op; memory storage has no schema.
func (s *Sink) InitSchema(context.Context) error { return nil }

// DeleteIndex drops every stored trip.
func (s *Sink) DeleteIndex(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips = nil
	return nil
}

// Describe writes the mapping and the document count.
func (s *Sink) Describe(_ context.Context, w io.Writer) error {
	s.mu.RLock()
	count := len(s.trips)
	s.mu.RUnlock()
	out := map[string]any{"documents": count, "schema": event.Schema}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode description: %w", err)
	}
	return nil
}

// Query is not supported in memory.
func (s *Sink) Query(context.Context, json.RawMessage, io.Writer) error {
	return sink.ErrUnsupported
}
