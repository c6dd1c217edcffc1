package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls how the Hub calls its sinks.
//   - SinkTimeout: per-sink timeout for each report (default 2s).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultSinkTimeout = 2 * time.Second
	failLogInterval    = 5 * time.Second
)

// Hub fans reports out to registered sinks. It satisfies Sink itself so it
// can be handed to the engine as a single destination.
type Hub struct {
	cfg         Config
	sinks       []Sink
	logger      *zap.Logger
	failLog     rate.Sometimes
	failures    atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// NewHub builds a Hub over sinks. Nil sinks are skipped.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		logger:      logger,
		failLog:     rate.Sometimes{First: 1, Interval: failLogInterval},
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	return h
}

// Report delivers r to every sink. Sink failures are logged, rate limited,
// and never returned; a slow sink cannot stall the monitor past SinkTimeout.
func (h *Hub) Report(ctx context.Context, r Report) error {
	if h == nil {
		return nil
	}
	for _, s := range h.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, h.cfg.SinkTimeout)
		err := s.Report(sinkCtx, r)
		cancel()
		if err == nil {
			continue
		}
		h.failures.Add(1)
		logFailure := func() {
			h.logger.Warn("progress sink report failed", zap.Error(err), zap.Int64("failures", h.failures.Swap(0)))
		}
		if r.Final {
			logFailure()
		} else {
			h.failLog.Do(logFailure)
		}
	}
	return nil
}

// Close closes every sink once and returns their joined errors. Later calls
// return the first result.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		var errs []error
		for _, s := range h.sinks {
			if err := s.Close(ctx); err != nil {
				h.logger.Warn("progress sink close failed", zap.Error(err))
				errs = append(errs, err)
			}
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}
