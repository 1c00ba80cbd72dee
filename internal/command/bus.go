package command

import (
	"context"
	"sync"

	"github.com/benchlane/benchcore/internal/component"
)

// Bus is an in-process fanout of commands. Every subscriber receives every
// command in send order on its own goroutine, mirroring a broker fanout
// exchange with one queue per subscriber.
type Bus struct {
	mut    sync.Mutex
	subs   []*busSub
	closed bool
	wg     sync.WaitGroup
}

type busSub struct {
	rcv Receiver
	ch  chan Command
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a receiver.
func (b *Bus) Subscribe(r Receiver) {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.closed {
		return
	}

	s := &busSub{rcv: r, ch: make(chan Command, 64)}
	b.subs = append(b.subs, s)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for cmd := range s.ch {
			s.rcv.ReceiveCommand(cmd)
		}
	}()
}

// SendCommand delivers cmd to every subscriber.
func (b *Bus) SendCommand(ctx context.Context, cmd Command) error {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.closed {
		return component.ErrTypeClosed
	}
	for _, s := range b.subs {
		select {
		case s.ch <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops delivery once every queued command has been handed to its
// subscriber. It is safe to call more than once.
func (b *Bus) Close() {
	b.mut.Lock()
	if !b.closed {
		b.closed = true
		for _, s := range b.subs {
			close(s.ch)
		}
	}
	b.mut.Unlock()
	b.wg.Wait()
}
