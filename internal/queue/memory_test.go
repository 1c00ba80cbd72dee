package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchlane/benchcore/internal/component"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)
	return ctx
}

func readDelivery(t *testing.T, c <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, open := <-c:
		require.True(t, open, "delivery channel closed")
		return d
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for delivery")
	}
	return Delivery{}
}

func TestMemoryQueueOrder(t *testing.T) {
	ctx := testCtx(t)
	broker := NewMemoryBroker()

	pub, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	sub, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "foo", sub.Name())

	for i := 0; i < 5; i++ {
		require.NoError(t, pub.Publish(ctx, []byte(fmt.Sprintf("msg%v", i))))
	}
	n, err := sub.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	deliveries, err := sub.Consume(ctx, 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		d := readDelivery(t, deliveries)
		assert.Equal(t, fmt.Sprintf("msg%v", i), string(d.Body))
		require.NoError(t, d.Ack())
	}

	n, err = sub.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	require.NoError(t, pub.Close())
}

func TestMemoryQueuePrefetch(t *testing.T) {
	ctx := testCtx(t)
	broker := NewMemoryBroker()

	q, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Publish(ctx, []byte{byte(i)}))
	}

	deliveries, err := q.Consume(ctx, 1)
	require.NoError(t, err)

	first := readDelivery(t, deliveries)
	select {
	case <-deliveries:
		t.Fatal("received a second delivery beyond the prefetch limit")
	case <-time.After(time.Millisecond * 100):
	}

	n, err := q.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, first.Ack())
	second := readDelivery(t, deliveries)
	assert.Equal(t, []byte{1}, second.Body)
	require.NoError(t, q.Close())
}

func TestMemoryQueueCloseRequeues(t *testing.T) {
	ctx := testCtx(t)
	broker := NewMemoryBroker()

	q, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, []byte("a")))
	require.NoError(t, q.Publish(ctx, []byte("b")))

	deliveries, err := q.Consume(ctx, 0)
	require.NoError(t, err)
	d := readDelivery(t, deliveries)
	assert.Equal(t, "a", string(d.Body))

	require.NoError(t, q.Close())
	assert.True(t, errors.Is(d.Ack(), ErrClosed))

	_, err = q.MessageCount(ctx)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(err, component.ErrResource))
	assert.True(t, errors.Is(q.Publish(ctx, nil), ErrClosed))

	other, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	deliveries, err = other.Consume(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", string(readDelivery(t, deliveries).Body))
	assert.Equal(t, "b", string(readDelivery(t, deliveries).Body))
	require.NoError(t, other.Close())
}

func TestMemoryQueueCancelConsume(t *testing.T) {
	ctx := testCtx(t)
	broker := NewMemoryBroker()

	q, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	deliveries, err := q.Consume(cctx, 0)
	require.NoError(t, err)
	cancel()

	select {
	case _, open := <-deliveries:
		assert.False(t, open)
	case <-time.After(time.Second * 5):
		t.Fatal("consumer did not stop")
	}

	require.NoError(t, q.Publish(ctx, []byte("kept")))
	n, err := q.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, q.Close())
}

func TestMemoryBrokerClose(t *testing.T) {
	ctx := testCtx(t)
	broker := NewMemoryBroker()

	q, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	broker.Close()
	broker.Close()

	_, err = q.MessageCount(ctx)
	assert.True(t, errors.Is(err, ErrClosed))

	_, err = broker.CreateQueue(ctx, "bar")
	assert.True(t, errors.Is(err, ErrClosed))
	require.NoError(t, q.Close())
}

func TestCompetingConsumers(t *testing.T) {
	ctx := testCtx(t)
	broker := NewMemoryBroker()

	pub, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	a, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	b, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)

	da, err := a.Consume(ctx, 1)
	require.NoError(t, err)
	db, err := b.Consume(ctx, 1)
	require.NoError(t, err)

	const total = 50
	for i := 0; i < total; i++ {
		require.NoError(t, pub.Publish(ctx, []byte(fmt.Sprintf("%v", i))))
	}

	seen := map[string]int{}
	for len(seen) < total {
		var d Delivery
		select {
		case d = <-da:
		case d = <-db:
		case <-time.After(time.Second * 5):
			t.Fatalf("timed out after %v messages", len(seen))
		}
		seen[string(d.Body)]++
		require.NoError(t, d.Ack())
	}
	for k, v := range seen {
		assert.Equal(t, 1, v, k)
	}

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	require.NoError(t, pub.Close())
}

func TestDeliveryWithoutAck(t *testing.T) {
	assert.NoError(t, NewDelivery([]byte("x"), 1, nil).Ack())
}

func TestMemoryQueueCancelFlushesClaimed(t *testing.T) {
	ctx := testCtx(t)
	broker := NewMemoryBroker()

	q, err := broker.CreateQueue(ctx, "foo")
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, []byte("claimed")))

	cctx, cancel := context.WithCancel(ctx)
	deliveries, err := q.Consume(cctx, 1)
	require.NoError(t, err)

	// Wait for the message to be claimed by the consumer before cancelling.
	require.Eventually(t, func() bool {
		n, err := q.MessageCount(ctx)
		return err == nil && n == 0
	}, time.Second*5, time.Millisecond*5)
	cancel()

	var bodies []string
	for d := range deliveries {
		bodies = append(bodies, string(d.Body))
		require.NoError(t, d.Ack())
	}
	assert.Equal(t, []string{"claimed"}, bodies)
	require.NoError(t, q.Close())
}
