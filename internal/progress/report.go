package progress

import (
	"fmt"
	"time"
)

// Report is a snapshot of engine counters taken by the task monitor.
type Report struct {
	// Started counts admitted tasks.
	Started int64
	// Pending counts admitted tasks that have not finished.
	Pending int64
	// Completed counts finished tasks, successful or not.
	Completed int64
	// Failed counts completed tasks that returned an error or panicked.
	Failed int64
	// Rejected counts submissions discarded because the engine was stopping.
	Rejected int64
	// Elapsed is the time since the engine started.
	Elapsed time.Duration
	// Final marks the single summary report sent once the engine stops.
	Final bool
}

// String renders the counters as the one-line monitor summary.
func (r Report) String() string {
	return fmt.Sprintf("Task Monitor: Started: %d : Pending: %d : Completed: %d",
		r.Started, r.Pending, r.Completed)
}
