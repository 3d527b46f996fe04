package core

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrMailboxClosed is returned when sending to a closed mailbox
	ErrMailboxClosed = errors.New("mailbox closed")

	// ErrNilSender is returned when sending through a zero Sender
	ErrNilSender = errors.New("sender not connected")
)

// Mailbox is an unbounded multi-producer single-consumer queue.
// Senders never wait on a slow consumer: a pump goroutine moves values from
// the inbound channel into an internal queue and offers the queue head to
// the receiver. Order from one sender to the receiver is preserved.
type Mailbox[T any] struct {
	in   chan T
	out  chan T
	done chan struct{}

	closeOnce sync.Once

	// queued values not yet taken by the receiver
	depth atomic.Int64
}

// NewMailbox creates a mailbox and starts its pump.
func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		in:   make(chan T),
		out:  make(chan T),
		done: make(chan struct{}),
	}
	go m.pump()
	return m
}

// Sender returns a sending endpoint. Copies of a Sender are clones that all
// feed the same receiver.
func (m *Mailbox[T]) Sender() Sender[T] {
	return Sender[T]{m: m}
}

// Receiver returns the single receiving endpoint.
func (m *Mailbox[T]) Receiver() Receiver[T] {
	return Receiver[T]{m: m}
}

// Close stops the pump. Queued values are discarded and further sends fail.
func (m *Mailbox[T]) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Mailbox[T]) pump() {
	defer close(m.out)

	var (
		queue []T
		zero  T
	)
	for {
		var (
			out  chan T
			head T
		)
		if len(queue) > 0 {
			out = m.out
			head = queue[0]
		}

		select {
		case v := <-m.in:
			queue = append(queue, v)
		case out <- head:
			queue[0] = zero
			queue = queue[1:]
			m.depth.Add(-1)
		case <-m.done:
			return
		}
	}
}

// Sender is the producing side of a Mailbox.
type Sender[T any] struct {
	m *Mailbox[T]
}

// Send enqueues v. It fails only if the mailbox is closed.
func (s Sender[T]) Send(v T) error {
	if s.m == nil {
		return ErrNilSender
	}
	select {
	case <-s.m.done:
		return ErrMailboxClosed
	default:
	}
	s.m.depth.Add(1)
	select {
	case s.m.in <- v:
		return nil
	case <-s.m.done:
		s.m.depth.Add(-1)
		return ErrMailboxClosed
	}
}

// Connected reports whether the sender is bound to a mailbox.
func (s Sender[T]) Connected() bool {
	return s.m != nil
}

// Len returns the number of values queued in the mailbox.
func (s Sender[T]) Len() int {
	if s.m == nil {
		return 0
	}
	return int(s.m.depth.Load())
}

// Same reports whether both senders feed the same mailbox.
func (s Sender[T]) Same(other Sender[T]) bool {
	return s.m == other.m
}

// Receiver is the consuming side of a Mailbox.
type Receiver[T any] struct {
	m *Mailbox[T]
}

// C returns the channel values are delivered on. It is closed when the
// mailbox is closed.
func (r Receiver[T]) C() <-chan T {
	if r.m == nil {
		return nil
	}
	return r.m.out
}

// TryRecv returns the next value if one is ready.
func (r Receiver[T]) TryRecv() (T, bool) {
	var zero T
	if r.m == nil {
		return zero, false
	}
	select {
	case v, ok := <-r.m.out:
		return v, ok
	default:
		return zero, false
	}
}

// Len returns the number of values waiting for this receiver.
func (r Receiver[T]) Len() int {
	if r.m == nil {
		return 0
	}
	return int(r.m.depth.Load())
}

// Close closes the underlying mailbox.
func (r Receiver[T]) Close() {
	if r.m != nil {
		r.m.Close()
	}
}

// Connected reports whether the receiver is bound to a mailbox.
func (r Receiver[T]) Connected() bool {
	return r.m != nil
}
