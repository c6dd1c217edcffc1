// Package ingest drains the relay, turns raw records into trips, and submits
// one persistence task per trip to the engine.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/elastic-logger/internal/engine"
	"github.com/JakeFAU/elastic-logger/internal/event"
	"github.com/JakeFAU/elastic-logger/internal/metrics"
	"github.com/JakeFAU/elastic-logger/internal/relay"
	"github.com/JakeFAU/elastic-logger/internal/sink"
	"github.com/JakeFAU/elastic-logger/internal/source"
)

// DefaultPollInterval is the pause after finding the relay empty.
const DefaultPollInterval = 10 * time.Millisecond

// Converter turns a raw record into a trip.
type Converter interface {
	FromRaw(rec source.Record) (*event.Trip, error)
}

// Option tunes a Consumer.
type Option func(*Consumer)

// WithPollInterval sets the pause after an empty relay poll.
func WithPollInterval(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithMaxRecords makes Drive return after n records have been drained.
// Zero means no limit.
func WithMaxRecords(n int64) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.maxRecords = n
		}
	}
}

// Stats counts consumer activity.
type Stats struct {
	Received  int64 `json:"received"`
	Malformed int64 `json:"malformed"`
	Submitted int64 `json:"submitted"`
	Rejected  int64 `json:"rejected"`
	Persisted int64 `json:"persisted"`
	Failed    int64 `json:"failed"`
}

// Consumer is the engine driver for stream ingestion.
type Consumer struct {
	relay        *relay.Relay[source.Record]
	converter    Converter
	sink         sink.Sink
	logger       *zap.Logger
	pollInterval time.Duration
	maxRecords   int64

	malformedLog rate.Sometimes
	persistLog   rate.Sometimes

	received  atomic.Int64
	malformed atomic.Int64
	submitted atomic.Int64
	rejected  atomic.Int64
	persisted atomic.Int64
	failed    atomic.Int64
}

// NewConsumer builds a Consumer reading r and persisting to s.
func NewConsumer(r *relay.Relay[source.Record], converter Converter, s sink.Sink, logger *zap.Logger, opts ...Option) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Consumer{
		relay:        r,
		converter:    converter,
		sink:         s,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		malformedLog: rate.Sometimes{First: 3, Interval: time.Second},
		persistLog:   rate.Sometimes{First: 3, Interval: time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Received:  c.received.Load(),
		Malformed: c.malformed.Load(),
		Submitted: c.submitted.Load(),
		Rejected:  c.rejected.Load(),
		Persisted: c.persisted.Load(),
		Failed:    c.failed.Load(),
	}
}

// Drive is an engine.Driver. It polls the relay without blocking, pausing
// PollInterval whenever it is empty, and returns when ctx ends or the record
// limit is reached.
func (c *Consumer) Drive(ctx context.Context, e *engine.Engine) error {
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()
	for {
		if c.maxRecords > 0 && c.received.Load() >= c.maxRecords {
			return nil
		}
		rec, ok := c.relay.TryPop()
		if !ok {
			timer.Reset(c.pollInterval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}
		metrics.SetRelayDepth(c.relay.Len())
		c.received.Add(1)
		c.handle(ctx, e, rec)
	}
}

func (c *Consumer) handle(ctx context.Context, e *engine.Engine, rec source.Record) {
	trip, err := c.converter.FromRaw(rec)
	if err != nil {
		c.malformed.Add(1)
		metrics.ObserveRecord(metrics.ResultMalformed)
		c.malformedLog.Do(func() {
			fields := []zap.Field{zap.Error(err), zap.String("topic", rec.Topic), zap.Int64("offset", rec.Offset)}
			var mre *event.MalformedRecordError
			if errors.As(err, &mre) && mre.Field != "" {
				fields = append(fields, zap.String("field", mre.Field))
			}
			c.logger.Warn("dropping malformed record", fields...)
		})
		return
	}
	if !e.Submit(ctx, c.persistTask(trip)) {
		c.rejected.Add(1)
		metrics.ObserveRecord(metrics.ResultRejected)
		return
	}
	c.submitted.Add(1)
	metrics.ObserveRecord(metrics.ResultSubmitted)
}

func (c *Consumer) persistTask(trip *event.Trip) engine.Task {
	return func(ctx context.Context) error {
		start := time.Now()
		err := c.sink.Persist(ctx, trip)
		metrics.ObservePersist(err, time.Since(start))
		if err != nil {
			c.failed.Add(1)
			c.persistLog.Do(func() {
				c.logger.Warn("persist failed", zap.Error(err), zap.String("id", trip.ID))
			})
			return err
		}
		c.persisted.Add(1)
		return nil
	}
}
