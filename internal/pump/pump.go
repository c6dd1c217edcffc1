// Package pump moves records from a stream client into the relay on a
// dedicated goroutine. Pushing into a full relay blocks the pump, which is
// the only backpressure the source sees.
package pump

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/elastic-logger/internal/metrics"
	"github.com/JakeFAU/elastic-logger/internal/relay"
	"github.com/JakeFAU/elastic-logger/internal/source"
)

const (
	// DefaultIdleInterval is the pause after an empty batch.
	DefaultIdleInterval = 10 * time.Millisecond
	// DefaultErrorInterval is the pause after a failed fetch.
	DefaultErrorInterval = time.Second
)

// Option tunes a Pump.
type Option func(*Pump)

// WithIdleInterval sets the pause after an empty batch.
func WithIdleInterval(d time.Duration) Option {
	return func(p *Pump) {
		if d > 0 {
			p.idleInterval = d
		}
	}
}

// WithErrorInterval sets the pause after a failed fetch.
func WithErrorInterval(d time.Duration) Option {
	return func(p *Pump) {
		if d > 0 {
			p.errorInterval = d
		}
	}
}

// Stats counts pump activity since construction.
type Stats struct {
	Batches int64 `json:"batches"`
	Records int64 `json:"records"`
	Errors  int64 `json:"errors"`
}

// Pump copies every fetched record into the relay.
type Pump struct {
	client        source.Client
	relay         *relay.Relay[source.Record]
	logger        *zap.Logger
	idleInterval  time.Duration
	errorInterval time.Duration

	batches atomic.Int64
	records atomic.Int64
	errors  atomic.Int64
}

// New builds a Pump reading from client into r.
func New(client source.Client, r *relay.Relay[source.Record], logger *zap.Logger, opts ...Option) *Pump {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pump{
		client:        client,
		relay:         r,
		logger:        logger,
		idleInterval:  DefaultIdleInterval,
		errorInterval: DefaultErrorInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stats returns a snapshot of the pump counters.
func (p *Pump) Stats() Stats {
	return Stats{
		Batches: p.batches.Load(),
		Records: p.records.Load(),
		Errors:  p.errors.Load(),
	}
}

// Start runs the pump on its own goroutine. The returned channel yields the
// result of Run once ctx ends and is then closed.
func (p *Pump) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- p.Run(ctx)
	}()
	return done
}

// Run fetches and forwards records until ctx ends. Fetch errors are logged
// and followed by a pause; records returned alongside an error are still
// forwarded. Run only returns ctx's error.
func (p *Pump) Run(ctx context.Context) error {
	p.logger.Info("pump started")
	defer p.logger.Info("pump stopped")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := p.client.FetchBatch(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if pushErr := p.forward(ctx, batch); pushErr != nil {
			return ctx.Err()
		}
		pause := time.Duration(0)
		switch {
		case err != nil:
			p.errors.Add(1)
			metrics.ObserveFetchError()
			p.logger.Warn("fetch batch failed", zap.Error(err), zap.Int("records", len(batch)))
			pause = p.errorInterval
		case len(batch) == 0:
			pause = p.idleInterval
		}
		if pause > 0 && !sleep(ctx, pause) {
			return ctx.Err()
		}
	}
}

func (p *Pump) forward(ctx context.Context, batch []source.Record) error {
	if len(batch) == 0 {
		return nil
	}
	p.batches.Add(1)
	metrics.ObserveFetch(len(batch))
	for _, rec := range batch {
		if err := p.relay.PushContext(ctx, rec); err != nil {
			return err
		}
		p.records.Add(1)
		metrics.SetRelayDepth(p.relay.Len())
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
