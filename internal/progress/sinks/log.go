package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/elastic-logger/internal/progress"
)

// LogSink emits structured logs for progress reports. It is useful when the
// process runs without a terminal.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Report logs transient reports at debug and the final report at info.
func (s *LogSink) Report(_ context.Context, r progress.Report) error {
	fields := []zap.Field{
		zap.Int64("started", r.Started),
		zap.Int64("pending", r.Pending),
		zap.Int64("completed", r.Completed),
		zap.Int64("failed", r.Failed),
		zap.Int64("rejected", r.Rejected),
		zap.Duration("elapsed", r.Elapsed),
	}
	if r.Final {
		s.logger.Info("task engine stopped", fields...)
		return nil
	}
	s.logger.Debug("task engine progress", fields...)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
