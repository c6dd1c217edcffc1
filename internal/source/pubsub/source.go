// Package pubsub implements source.Client with synchronous Pub/Sub pulls.
package pubsub

import (
	"context"
	"fmt"
	"time"

	vkit "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/elastic-logger/internal/source"
)

// Config identifies the subscription to pull from.
type Config struct {
	ProjectID      string
	SubscriptionID string
	BatchSize      int
	PollTimeout    time.Duration
}

const (
	defaultBatchSize   = 100
	defaultPollTimeout = 2 * time.Second
)

type subscriber interface {
	Pull(ctx context.Context, req *pubsubpb.PullRequest, opts ...gax.CallOption) (*pubsubpb.PullResponse, error)
	Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest, opts ...gax.CallOption) error
	Close() error
}

// Source pulls batches and acknowledges them once handed to the caller.
type Source struct {
	client       subscriber
	subscription string
	batchSize    int32
	pollTimeout  time.Duration
}

func fullSubscriptionName(projectID, subscriptionID string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscriptionID)
}

// New creates a subscriber client using Application Default Credentials
// unless opts override them.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Source, error) {
	if cfg.ProjectID == "" || cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("pubsub project_id and subscription are required")
	}
	client, err := vkit.NewSubscriberClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub subscriber client: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing subscriber client.
func NewWithClient(client subscriber, cfg Config) *Source {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return &Source{
		client:       client,
		subscription: fullSubscriptionName(cfg.ProjectID, cfg.SubscriptionID),
		batchSize:    int32(cfg.BatchSize), //nolint:gosec // bounded by config
		pollTimeout:  cfg.PollTimeout,
	}
}

// FetchBatch pulls up to BatchSize messages and acks them immediately;
// delivery is at-most-once past this point.
func (s *Source) FetchBatch(ctx context.Context) ([]source.Record, error) {
	pullCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	resp, err := s.client.Pull(pullCtx, &pubsubpb.PullRequest{
		Subscription: s.subscription,
		MaxMessages:  s.batchSize,
	})
	if err != nil {
		if status.Code(err) == codes.DeadlineExceeded && ctx.Err() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("pull messages: %w", err)
	}
	received := resp.GetReceivedMessages()
	if len(received) == 0 {
		return nil, nil
	}

	batch := make([]source.Record, 0, len(received))
	ackIDs := make([]string, 0, len(received))
	for _, rm := range received {
		msg := rm.GetMessage()
		rec := source.Record{
			Key:        []byte(msg.GetOrderingKey()),
			Value:      msg.GetData(),
			Topic:      s.subscription,
			Attributes: msg.GetAttributes(),
		}
		if ts := msg.GetPublishTime(); ts != nil {
			rec.Timestamp = ts.AsTime()
		}
		batch = append(batch, rec)
		ackIDs = append(ackIDs, rm.GetAckId())
	}

	if err := s.client.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: s.subscription,
		AckIds:       ackIDs,
	}); err != nil {
		return batch, fmt.Errorf("acknowledge messages: %w", err)
	}
	return batch, nil
}

// Close closes the underlying client connection.
func (s *Source) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub subscriber client: %w", err)
	}
	return nil
}
