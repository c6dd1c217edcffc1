// Package source defines the contract for message-stream clients feeding the
// pump. Concrete clients live in the kafka, pubsub and memory subpackages.
package source

import (
	"context"
	"time"
)

// Record is one raw message as delivered by a stream client.
type Record struct {
	Key        []byte
	Value      []byte
	Topic      string
	Partition  int
	Offset     int64
	Timestamp  time.Time
	Attributes map[string]string
}

// Client fetches records from an external stream. FetchBatch may block and
// may return an empty batch when nothing is currently available.
type Client interface {
	FetchBatch(ctx context.Context) ([]Record, error)
	Close() error
}
