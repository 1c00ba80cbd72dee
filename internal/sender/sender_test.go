package sender

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchlane/benchcore/internal/component"
	"github.com/benchlane/benchcore/internal/log"
	"github.com/benchlane/benchcore/internal/metrics"
	"github.com/benchlane/benchcore/internal/queue"
)

// blockingQueue holds publishes until released.
type blockingQueue struct {
	queue.Queue

	entered chan struct{}
	release chan struct{}
}

func (b *blockingQueue) Publish(ctx context.Context, body []byte) error {
	b.entered <- struct{}{}
	<-b.release
	return b.Queue.Publish(ctx, body)
}

func readAll(t testing.TB, q queue.Queue, n int) []string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := q.Consume(ctx, 0)
	require.NoError(t, err)

	var bodies []string
	for len(bodies) < n {
		select {
		case d := <-deliveries:
			bodies = append(bodies, string(d.Body))
			require.NoError(t, d.Ack())
		case <-time.After(time.Second * 5):
			t.Fatalf("timed out after %v messages", len(bodies))
		}
	}
	return bodies
}

func TestSenderOrder(t *testing.T) {
	ctx := context.Background()
	broker := queue.NewMemoryBroker()

	out, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	m := metrics.Noop()
	s := New(out, log.Noop(), OptMetrics(m))
	assert.Equal(t, "foo", s.Name())

	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, s.Send(ctx, []byte(v)))
	}
	require.NoError(t, s.CloseWhenFinished(ctx))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Queue("foo").Sent))

	in, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, readAll(t, in, 3))
}

func TestSenderCloseWhenFinishedWaitsForPending(t *testing.T) {
	ctx := context.Background()
	broker := queue.NewMemoryBroker()

	out, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	bq := &blockingQueue{
		Queue:   out,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := New(bq, nil)

	sent := make(chan error)
	go func() {
		sent <- s.Send(ctx, []byte("pending"))
	}()
	<-bq.entered

	closed := make(chan error)
	go func() {
		closed <- s.CloseWhenFinished(ctx)
	}()

	select {
	case err := <-closed:
		t.Fatalf("closed before pending send was confirmed: %v", err)
	case <-time.After(time.Millisecond * 100):
	}

	// New sends are rejected while closing.
	assert.ErrorIs(t, s.Send(ctx, []byte("late")), component.ErrTypeClosed)

	close(bq.release)
	require.NoError(t, <-sent)
	require.NoError(t, <-closed)

	in, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"pending"}, readAll(t, in, 1))
}

func TestSenderCloseWhenFinishedTimeout(t *testing.T) {
	broker := queue.NewMemoryBroker()
	out, err := broker.CreateQueue(context.Background(), "foo")
	require.NoError(t, err)

	bq := &blockingQueue{
		Queue:   out,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := New(bq, log.Noop())

	go func() {
		_ = s.Send(context.Background(), []byte("stuck"))
	}()
	<-bq.entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()

	err = s.CloseWhenFinished(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, component.ErrTermination))

	require.NoError(t, s.Close())
	close(bq.release)
}

func TestSenderCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	broker := queue.NewMemoryBroker()

	out, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	s := New(out, log.Noop())

	require.NoError(t, s.CloseWhenFinished(ctx))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Send(ctx, []byte("nope")), component.ErrTypeClosed)
}

func TestSenderConcurrentSends(t *testing.T) {
	ctx := context.Background()
	broker := queue.NewMemoryBroker()

	out, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	s := New(out, log.Noop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Send(ctx, []byte("hello")))
		}()
	}
	wg.Wait()

	in, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	n, err := in.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	require.NoError(t, s.CloseWhenFinished(ctx))
}
