// Package elastic persists trip documents to an Elasticsearch index and
// exposes the index administration used by the CLI.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/JakeFAU/elastic-logger/internal/event"
	"github.com/JakeFAU/elastic-logger/internal/sink"
)

const backend = "elastic"

// Config captures the cluster addresses and target index.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
}

// Sink indexes one document per trip.
type Sink struct {
	client    *elasticsearch.Client
	transport *http.Transport
	index     string
}

// New builds a client for cfg. No request is sent until first use.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Index) == "" {
		return nil, fmt.Errorf("elastic index is required")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Sink{client: client, transport: transport, index: cfg.Index}, nil
}

// Persist indexes trip, using its ID as the document id when present.
func (s *Sink) Persist(ctx context.Context, trip *event.Trip) error {
	if trip == nil {
		return sink.NewPersistError(backend, nil, fmt.Errorf("trip is required"))
	}
	body, err := json.Marshal(trip)
	if err != nil {
		return sink.NewPersistError(backend, trip, fmt.Errorf("marshal trip: %w", err))
	}
	opts := []func(*esapi.IndexRequest){s.client.Index.WithContext(ctx)}
	if trip.ID != "" {
		opts = append(opts, s.client.Index.WithDocumentID(trip.ID))
	}
	res, err := s.client.Index(s.index, bytes.NewReader(body), opts...)
	if err != nil {
		return sink.NewPersistError(backend, trip, fmt.Errorf("index request: %w", err))
	}
	defer res.Body.Close() //nolint:errcheck
	if res.IsError() {
		return sink.NewPersistError(backend, trip, responseError(res))
	}
	return nil
}

// Close releases idle connections held by the client.
func (s *Sink) Close(context.Context) error {
	s.transport.CloseIdleConnections()
	return nil
}

// InitSchema creates the index with the trip mapping.
func (s *Sink) InitSchema(ctx context.Context) error {
	body, err := json.Marshal(event.Schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	res, err := s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	defer res.Body.Close() //nolint:errcheck
	if res.IsError() {
		return fmt.Errorf("create index %s: %w", s.index, responseError(res))
	}
	return nil
}

// DeleteIndex removes the index and every document in it.
func (s *Sink) DeleteIndex(ctx context.Context) error {
	res, err := s.client.Indices.Delete([]string{s.index},
		s.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", s.index, err)
	}
	defer res.Body.Close() //nolint:errcheck
	if res.IsError() {
		return fmt.Errorf("delete index %s: %w", s.index, responseError(res))
	}
	return nil
}

// Describe writes the index mapping to w.
func (s *Sink) Describe(ctx context.Context, w io.Writer) error {
	res, err := s.client.Indices.GetMapping(
		s.client.Indices.GetMapping.WithContext(ctx),
		s.client.Indices.GetMapping.WithIndex(s.index),
	)
	if err != nil {
		return fmt.Errorf("get mapping %s: %w", s.index, err)
	}
	defer res.Body.Close() //nolint:errcheck
	if res.IsError() {
		return fmt.Errorf("get mapping %s: %w", s.index, responseError(res))
	}
	return copyIndented(w, res.Body)
}

// Query runs a search request body against the index and writes the response.
func (s *Sink) Query(ctx context.Context, query json.RawMessage, w io.Writer) error {
	if !json.Valid(query) {
		return fmt.Errorf("query is not valid json")
	}
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(query)),
	)
	if err != nil {
		return fmt.Errorf("search %s: %w", s.index, err)
	}
	defer res.Body.Close() //nolint:errcheck
	if res.IsError() {
		return fmt.Errorf("search %s: %w", s.index, responseError(res))
	}
	return copyIndented(w, res.Body)
}

func responseError(res *esapi.Response) error {
	var payload struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(res.Body)
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Type != "" {
		return fmt.Errorf("status %d: %s: %s", res.StatusCode, payload.Error.Type, payload.Error.Reason)
	}
	return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
}

func copyIndented(w io.Writer, r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		out.Reset()
		out.Write(raw)
	}
	out.WriteByte('\n')
	if _, err := out.WriteTo(w); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
