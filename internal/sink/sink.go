// Package sink defines the persistence target for trip documents. Backends
// live in the elastic, gcs, postgres and memory subpackages.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/JakeFAU/elastic-logger/internal/event"
)

// Sink stores trip documents. Persist may be called from many goroutines at
// once; Close is called exactly once after the last Persist returns.
type Sink interface {
	Persist(ctx context.Context, trip *event.Trip) error
	Close(ctx context.Context) error
}

// Admin is implemented by backends that manage an index or table.
type Admin interface {
	InitSchema(ctx context.Context) error
	DeleteIndex(ctx context.Context) error
	Describe(ctx context.Context, w io.Writer) error
	Query(ctx context.Context, query json.RawMessage, w io.Writer) error
}

// Backend is a sink that also manages its own index or table.
type Backend interface {
	Sink
	Admin
}

// ErrPersist marks failures raised while storing a document.
var ErrPersist = errors.New("persist failed")

// ErrUnsupported is returned by admin operations a backend cannot perform.
var ErrUnsupported = errors.New("operation not supported by sink")

// PersistError describes a failed Persist call.
type PersistError struct {
	Backend    string
	DocumentID string
	Err        error
}

func (e *PersistError) Error() string {
	if e.DocumentID == "" {
		return fmt.Sprintf("%s persist: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s persist %s: %v", e.Backend, e.DocumentID, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *PersistError) Unwrap() []error {
	return []error{ErrPersist, e.Err}
}

// NewPersistError wraps err for backend and trip.
func NewPersistError(backend string, trip *event.Trip, err error) error {
	e := &PersistError{Backend: backend, Err: err}
	if trip != nil {
		e.DocumentID = trip.ID
	}
	return e
}
