package progress

import "context"

// Sink consumes progress reports. Report is called from the monitor goroutine
// only; Close is called once after the final report.
type Sink interface {
	Report(ctx context.Context, r Report) error
	Close(ctx context.Context) error
}
