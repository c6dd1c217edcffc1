// Package kafka implements source.Client on top of a kafka-go consumer-group reader.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/JakeFAU/elastic-logger/internal/source"
)

// Config captures the consumer settings.
type Config struct {
	Brokers     []string
	Topic       string
	GroupID     string
	BatchSize   int
	PollTimeout time.Duration
}

const (
	defaultBatchSize   = 100
	defaultPollTimeout = 250 * time.Millisecond
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// Source reads from one topic as part of a consumer group, starting at the
// latest offset. Offsets are committed by the reader as messages are read.
type Source struct {
	reader      messageReader
	batchSize   int
	pollTimeout time.Duration
}

// New dials nothing up front; kafka-go connects lazily on the first read.
func New(cfg Config) (*Source, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	cfg = withDefaults(cfg)
	return newWithReader(kafkago.NewReader(readerConfig(cfg)), cfg), nil
}

func withDefaults(cfg Config) Config {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return cfg
}

// readerConfig bounds each broker fetch by the batch deadline.
func readerConfig(cfg Config) kafkago.ReaderConfig {
	return kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafkago.LastOffset,
		MaxWait:     cfg.PollTimeout,
	}
}

func newWithReader(reader messageReader, cfg Config) *Source {
	cfg = withDefaults(cfg)
	return &Source{
		reader:      reader,
		batchSize:   cfg.BatchSize,
		pollTimeout: cfg.PollTimeout,
	}
}

// FetchBatch collects up to BatchSize messages, waiting at most PollTimeout
// overall. An empty batch with a nil error means the topic was idle.
func (s *Source) FetchBatch(ctx context.Context) ([]source.Record, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	batch := make([]source.Record, 0, s.batchSize)
	for len(batch) < s.batchSize {
		msg, err := s.reader.ReadMessage(pollCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return batch, nil
			}
			if len(batch) > 0 {
				return batch, nil
			}
			return nil, fmt.Errorf("read kafka message: %w", err)
		}
		batch = append(batch, toRecord(msg))
	}
	return batch, nil
}

// Close leaves the consumer group and closes connections.
func (s *Source) Close() error {
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("close kafka reader: %w", err)
	}
	return nil
}

func toRecord(msg kafkago.Message) source.Record {
	var attrs map[string]string
	if len(msg.Headers) > 0 {
		attrs = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			attrs[h.Key] = string(h.Value)
		}
	}
	return source.Record{
		Key:        msg.Key,
		Value:      msg.Value,
		Topic:      msg.Topic,
		Partition:  msg.Partition,
		Offset:     msg.Offset,
		Timestamp:  msg.Time,
		Attributes: attrs,
	}
}
