package queue

import (
	"context"
	"sort"
	"sync"
)

// MemoryBroker is an in-process broker holding named queues. Handles created
// for the same name share the same messages, so several consumers compete for
// them as they would on a real broker.
type MemoryBroker struct {
	mut    sync.Mutex
	stores map[string]*memoryStore
	closed bool
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{stores: map[string]*memoryStore{}}
}

// CreateQueue returns a new handle to the queue of the given name, declaring
// the queue if it does not yet exist.
func (b *MemoryBroker) CreateQueue(_ context.Context, name string) (Queue, error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s, exists := b.stores[name]
	if !exists {
		s = &memoryStore{name: name, changed: make(chan struct{})}
		b.stores[name] = s
	}
	return &MemoryQueue{
		store:   s,
		closed:  make(chan struct{}),
		unacked: map[uint64][]byte{},
	}, nil
}

// Close shuts the broker down. Every handle created from it fails with
// ErrClosed afterwards and active consumers are stopped.
func (b *MemoryBroker) Close() {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.stores {
		s.mut.Lock()
		s.closed = true
		s.notifyLocked()
		s.mut.Unlock()
	}
}

//------------------------------------------------------------------------------

type memoryStore struct {
	name string

	mut     sync.Mutex
	ready   [][]byte
	nextTag uint64
	closed  bool
	changed chan struct{}
}

// notifyLocked wakes every goroutine waiting for a change of the store.
func (s *memoryStore) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// MemoryQueue is a handle to a queue of a MemoryBroker.
type MemoryQueue struct {
	store *memoryStore

	closeOnce sync.Once
	closed    chan struct{}
	consumers sync.WaitGroup

	// Guarded by store.mut
	unacked map[uint64][]byte
}

// Name returns the queue name.
func (q *MemoryQueue) Name() string {
	return q.store.name
}

func (q *MemoryQueue) isClosedLocked() bool {
	if q.store.closed {
		return true
	}
	select {
	case <-q.closed:
		return true
	default:
	}
	return false
}

// MessageCount returns the number of ready messages.
func (q *MemoryQueue) MessageCount(context.Context) (int, error) {
	q.store.mut.Lock()
	defer q.store.mut.Unlock()
	if q.isClosedLocked() {
		return 0, ErrClosed
	}
	return len(q.store.ready), nil
}

// Publish appends a message to the queue.
func (q *MemoryQueue) Publish(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.store.mut.Lock()
	defer q.store.mut.Unlock()
	if q.isClosedLocked() {
		return ErrClosed
	}
	q.store.ready = append(q.store.ready, append([]byte(nil), body...))
	q.store.notifyLocked()
	return nil
}

// Consume starts a consumer goroutine, see Queue.Consume.
func (q *MemoryQueue) Consume(ctx context.Context, prefetch int) (<-chan Delivery, error) {
	q.store.mut.Lock()
	closed := q.isClosedLocked()
	q.store.mut.Unlock()
	if closed {
		return nil, ErrClosed
	}

	out := make(chan Delivery)
	q.consumers.Add(1)
	go func() {
		defer q.consumers.Done()
		defer close(out)

		outstanding := 0
		for {
			tag, body, wait, ok, stop := q.claim(prefetch, &outstanding)
			if stop {
				return
			}
			if !ok {
				select {
				case <-wait:
					continue
				case <-ctx.Done():
					return
				case <-q.closed:
					return
				}
			}

			d := NewDelivery(body, tag, func() error {
				return q.ack(tag, &outstanding)
			})
			// A claimed delivery counts as buffered, it is still handed out
			// after ctx is cancelled.
			select {
			case out <- d:
			case <-q.closed:
				q.requeue(tag, body, &outstanding)
				return
			}
		}
	}()
	return out, nil
}

// claim takes the head of the queue for a consumer when the consumer is below
// its prefetch limit. When nothing can be claimed the returned channel is
// closed on the next change of the store.
func (q *MemoryQueue) claim(prefetch int, outstanding *int) (tag uint64, body []byte, wait <-chan struct{}, ok, stop bool) {
	q.store.mut.Lock()
	defer q.store.mut.Unlock()

	if q.isClosedLocked() {
		return 0, nil, nil, false, true
	}
	if len(q.store.ready) == 0 || (prefetch > 0 && *outstanding >= prefetch) {
		return 0, nil, q.store.changed, false, false
	}

	body = q.store.ready[0]
	q.store.ready = q.store.ready[1:]
	q.store.nextTag++
	tag = q.store.nextTag
	q.unacked[tag] = body
	*outstanding++
	return tag, body, nil, true, false
}

func (q *MemoryQueue) ack(tag uint64, outstanding *int) error {
	q.store.mut.Lock()
	defer q.store.mut.Unlock()
	if _, exists := q.unacked[tag]; !exists {
		if q.isClosedLocked() {
			return ErrClosed
		}
		return nil
	}
	delete(q.unacked, tag)
	*outstanding--
	q.store.notifyLocked()
	return nil
}

func (q *MemoryQueue) requeue(tag uint64, body []byte, outstanding *int) {
	q.store.mut.Lock()
	defer q.store.mut.Unlock()
	if _, exists := q.unacked[tag]; !exists {
		return
	}
	delete(q.unacked, tag)
	*outstanding--
	q.store.ready = append([][]byte{body}, q.store.ready...)
	q.store.notifyLocked()
}

// Close stops the consumers of this handle and returns any unacknowledged
// deliveries to the front of the queue in their original order.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.closed)

		q.store.mut.Lock()
		tags := make([]uint64, 0, len(q.unacked))
		for tag := range q.unacked {
			tags = append(tags, tag)
		}
		sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

		requeued := make([][]byte, 0, len(tags))
		for _, tag := range tags {
			requeued = append(requeued, q.unacked[tag])
			delete(q.unacked, tag)
		}
		if len(requeued) > 0 {
			q.store.ready = append(requeued, q.store.ready...)
		}
		q.store.notifyLocked()
		q.store.mut.Unlock()

		q.consumers.Wait()
	})
	return nil
}
