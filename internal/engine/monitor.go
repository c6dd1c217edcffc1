package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/elastic-logger/internal/progress"
)

// monitor publishes a transient report every MonitorInterval until the engine
// leaves Running, then publishes one final report and signals RequestStop.
func (e *Engine) monitor() {
	defer close(e.monitorDone)

	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()

	e.report(false)
	for {
		select {
		case <-e.stopCtx.Done():
			e.report(true)
			return
		case <-ticker.C:
			e.report(false)
		}
	}
}

func (e *Engine) report(final bool) {
	c := e.Counters()
	r := progress.Report{
		Started:   c.Started,
		Pending:   c.Pending,
		Completed: c.Completed,
		Failed:    c.Failed,
		Rejected:  c.Rejected,
		Elapsed:   e.clock.Now().Sub(e.startedAt),
		Final:     final,
	}
	if err := e.progress.Report(context.Background(), r); err != nil {
		e.logger.Warn("progress report failed", zap.Error(err))
	}
}
