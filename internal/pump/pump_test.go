package pump

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/elastic-logger/internal/relay"
	"github.com/JakeFAU/elastic-logger/internal/source"
	"github.com/JakeFAU/elastic-logger/internal/source/memory"
)

// TestPumpForwardsInOrder verifies fetched records reach the relay in FIFO order.
func TestPumpForwardsInOrder(t *testing.T) {
	t.Parallel()

	src := memory.New(2)
	src.AddValues([]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e"))
	r := relay.New[source.Record](10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(src, r, nil, WithIdleInterval(time.Millisecond))
	done := p.Start(ctx)

	require.Eventually(t, func() bool { return r.Len() == 5 }, time.Second, time.Millisecond)
	for _, want := range []string{"a", "b", "c", "d", "e"} {
		rec, ok := r.TryPop()
		require.True(t, ok)
		require.Equal(t, want, string(rec.Value))
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	stats := p.Stats()
	require.Equal(t, int64(5), stats.Records)
	require.Equal(t, int64(3), stats.Batches)
}

// TestPumpBlocksOnFullRelay verifies a full relay holds the pump back without dropping records.
func TestPumpBlocksOnFullRelay(t *testing.T) {
	t.Parallel()

	src := memory.New(0)
	src.AddValues([]byte("1"), []byte("2"), []byte("3"), []byte("4"))
	r := relay.New[source.Record](2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New(src, r, nil)
	done := p.Start(ctx)

	require.Eventually(t, func() bool { return p.Stats().Records == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(2), p.Stats().Records)
	require.LessOrEqual(t, r.Len(), r.Cap())

	var got []string
	require.Eventually(t, func() bool {
		if rec, ok := r.TryPop(); ok {
			got = append(got, string(rec.Value))
		}
		return len(got) == 4
	}, time.Second, time.Millisecond)
	require.Equal(t, []string{"1", "2", "3", "4"}, got)

	cancel()
	<-done
}

// TestPumpIdlePause verifies an empty source is polled at the idle interval rather than spun.
func TestPumpIdlePause(t *testing.T) {
	t.Parallel()

	src := memory.New(0)
	r := relay.New[source.Record](1)
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	p := New(src, r, nil, WithIdleInterval(10*time.Millisecond))
	require.ErrorIs(t, p.Run(ctx), context.DeadlineExceeded)
	require.GreaterOrEqual(t, src.Fetches(), 2)
	require.LessOrEqual(t, src.Fetches(), 8)
}

// TestPumpKeepsRunningAfterFetchError verifies errors are counted, paused on, and partial batches kept.
func TestPumpKeepsRunningAfterFetchError(t *testing.T) {
	t.Parallel()

	client := &flakyClient{
		results: []fetchResult{
			{records: []source.Record{{Value: []byte("partial")}}, err: errors.New("broker went away")},
			{err: errors.New("still down")},
			{records: []source.Record{{Value: []byte("ok")}}},
		},
	}
	r := relay.New[source.Record](10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(client, r, nil, WithErrorInterval(5*time.Millisecond), WithIdleInterval(time.Millisecond))
	done := p.Start(ctx)

	require.Eventually(t, func() bool { return r.Len() == 2 }, time.Second, time.Millisecond)
	first, _ := r.TryPop()
	second, _ := r.TryPop()
	require.Equal(t, "partial", string(first.Value))
	require.Equal(t, "ok", string(second.Value))
	require.Equal(t, int64(2), p.Stats().Errors)

	cancel()
	<-done
}

// TestPumpUnblocksOnCancel verifies a pump stuck on a full relay exits when its context ends.
func TestPumpUnblocksOnCancel(t *testing.T) {
	t.Parallel()

	src := memory.New(0)
	src.AddValues([]byte("1"), []byte("2"))
	r := relay.New[source.Record](1)
	ctx, cancel := context.WithCancel(context.Background())

	done := New(src, r, nil).Start(ctx)
	require.Eventually(t, func() bool { return r.Len() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pump did not exit after cancel")
	}
}

type fetchResult struct {
	records []source.Record
	err     error
}

type flakyClient struct {
	mu      sync.Mutex
	results []fetchResult
}

func (c *flakyClient) FetchBatch(context.Context) ([]source.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.results) == 0 {
		return nil, nil
	}
	next := c.results[0]
	c.results = c.results[1:]
	return next.records, next.err
}

func (c *flakyClient) Close() error {
	return nil
}
