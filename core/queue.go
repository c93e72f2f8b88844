package core

import (
	"context"
	"sync"
	"time"
)

// DefaultQueueBuffer is the bounded buffer size used when none is configured.
// Large enough to absorb bursts of tool chunks, small enough that a stalled
// consumer suspends the producer instead of hiding unbounded memory growth.
const DefaultQueueBuffer = 32

// DefaultCloseGrace bounds final-chunk delivery against a consumer that holds
// the connection open but stops reading. Once it elapses the final chunk is
// dropped and the channel closes anyway, so the invocation goroutine can
// always reach its disposal path.
const DefaultCloseGrace = 5 * time.Second

// StreamQueue is the ordered, bounded, single-producer/single-consumer channel
// that decouples the blocking reasoning loop from the response transport.
//
// Producer side: obtain the unique handle via Producer(), then Push chunks and
// Close with exactly one terminal/error chunk. Pushing into a full buffer
// suspends the producer (backpressure) until the consumer drains, the consumer
// cancels, or the invocation context expires. Chunks are never dropped or
// reordered.
//
// Consumer side: range over Chunks(); call Cancel() to disconnect. After
// Cancel the producer observes ErrQueueCancelled on the next Push and must
// abandon the invocation promptly.
type StreamQueue struct {
	buf chan StreamChunk

	done       chan struct{} // closed on consumer cancel
	cancelOnce sync.Once

	mu    sync.Mutex
	bound bool

	closeGrace time.Duration

	// Owned by the single producer after Producer(); no locking needed.
	seq    uint64
	closed bool
}

// NewStreamQueue creates a queue with the given buffer size (values < 1 fall
// back to DefaultQueueBuffer).
func NewStreamQueue(buffer int) *StreamQueue {
	if buffer < 1 {
		buffer = DefaultQueueBuffer
	}
	return &StreamQueue{
		buf:        make(chan StreamChunk, buffer),
		done:       make(chan struct{}),
		closeGrace: DefaultCloseGrace,
	}
}

// Producer returns the queue's single producer handle. A second call is a
// programming error and returns ErrProducerBound.
func (q *StreamQueue) Producer() (*StreamProducer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.bound {
		return nil, ErrProducerBound
	}

	q.bound = true

	return &StreamProducer{q: q}, nil
}

// Chunks returns the consumer side of the queue. The channel is closed after
// the terminal or error chunk has been delivered.
func (q *StreamQueue) Chunks() <-chan StreamChunk { return q.buf }

// Cancel marks the consumer as disconnected. Idempotent.
func (q *StreamQueue) Cancel() {
	q.cancelOnce.Do(func() { close(q.done) })
}

// Done returns a channel closed once the consumer cancelled.
func (q *StreamQueue) Done() <-chan struct{} { return q.done }

// Cancelled reports whether the consumer disconnected.
func (q *StreamQueue) Cancelled() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// StreamProducer is the exclusive write handle for one StreamQueue. Not safe
// for concurrent use; one goroutine (the invocation's orchestrator) owns it.
type StreamProducer struct {
	q *StreamQueue
}

// Push assigns the next sequence number to c and delivers it. It blocks under
// backpressure and unblocks with an error if the consumer cancels or ctx ends.
func (p *StreamProducer) Push(ctx context.Context, c StreamChunk) error {
	if p.q.closed {
		return ErrQueueClosed
	}

	// A disconnected consumer wins over remaining buffer space; the producer
	// must learn about the disconnect at the next push, not once the buffer
	// fills up.
	select {
	case <-p.q.done:
		return ErrQueueCancelled
	default:
	}

	p.q.seq++
	c.Seq = p.q.seq

	select {
	case p.q.buf <- c:
		return nil
	case <-p.q.done:
		// The chunk was never delivered; return its number so the stream a
		// connected consumer observes stays gapless.
		p.q.seq--
		return ErrQueueCancelled
	case <-ctx.Done():
		p.q.seq--
		return ctx.Err()
	}
}

// Close delivers the final chunk and closes the stream. Exactly one terminal
// or error chunk ends a stream; further Push or Close calls return
// ErrQueueClosed. If the consumer already cancelled, or fails to drain within
// the grace period, the final chunk is discarded but the channel still closes.
func (p *StreamProducer) Close(final StreamChunk) error {
	if p.q.closed {
		return ErrQueueClosed
	}
	if !final.IsFinal() {
		return ErrQueueClosed
	}

	p.q.closed = true
	p.q.seq++
	final.Seq = p.q.seq

	// A consumer that neither reads nor cancels must not pin the invocation
	// goroutine; after the grace period the final chunk is dropped and the
	// channel closes regardless.
	timer := time.NewTimer(p.q.closeGrace)
	defer timer.Stop()

	select {
	case p.q.buf <- final:
	case <-p.q.done:
	case <-timer.C:
	}

	close(p.q.buf)

	return nil
}

// Closed reports whether the terminal chunk has been delivered.
func (p *StreamProducer) Closed() bool { return p.q.closed }
