// Package gcs writes trip documents as JSON objects to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/elastic-logger/internal/event"
	"github.com/JakeFAU/elastic-logger/internal/sink"
)

const (
	backend     = "gcs"
	contentType = "application/json"
)

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Sink stores one object per trip at <prefix>/<id>.json.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
}

// New wraps an existing storage client. The sink owns the client and closes it.
func New(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object path used for trip.
func (s *Sink) ObjectName(trip *event.Trip) string {
	name := trip.ID + ".json"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Persist uploads trip as a JSON object. Trips must carry an ID.
func (s *Sink) Persist(ctx context.Context, trip *event.Trip) error {
	if trip == nil || trip.ID == "" {
		return sink.NewPersistError(backend, trip, fmt.Errorf("trip id is required"))
	}
	// Cancelling the writer's context abandons the upload; Close would commit
	// whatever had been written.
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer := s.client.Bucket(s.bucket).Object(s.ObjectName(trip)).NewWriter(writeCtx)
	writer.ContentType = contentType
	if err := json.NewEncoder(writer).Encode(trip); err != nil {
		cancel()
		return sink.NewPersistError(backend, trip, fmt.Errorf("write object: %w", err))
	}
	if err := writer.Close(); err != nil {
		return sink.NewPersistError(backend, trip, fmt.Errorf("close writer: %w", err))
	}
	return nil
}

// Close closes the storage client.
func (s *Sink) Close(context.Context) error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

// InitSchema verifies the bucket is reachable; objects need no schema.
func (s *Sink) InitSchema(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", s.bucket, err)
	}
	return nil
}

// DeleteIndex is unsupported; buckets are managed outside this tool.
func (s *Sink) DeleteIndex(context.Context) error {
	return sink.ErrUnsupported
}

// Describe writes the bucket location and the document schema.
func (s *Sink) Describe(_ context.Context, w io.Writer) error {
	out := map[string]any{
		"bucket": s.bucket,
		"prefix": s.prefix,
		"schema": event.Schema,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode description: %w", err)
	}
	return nil
}

// Query is unsupported for object storage.
func (s *Sink) Query(context.Context, json.RawMessage, io.Writer) error {
	return sink.ErrUnsupported
}
