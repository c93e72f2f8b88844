package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStreamQueue_OrderingAndSingleTerminal(t *testing.T) {
	q := NewStreamQueue(8)

	prod, err := q.Producer()
	if err != nil {
		t.Fatalf("Producer returned error: %v", err)
	}

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := prod.Push(ctx, NewTextChunk("part")); err != nil {
			t.Fatalf("Push %d failed: %v", i, err)
		}
	}

	if err := prod.Close(NewTerminalChunk(TerminalCompleted)); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var (
		chunks    []StreamChunk
		terminals int
	)
	for c := range q.Chunks() {
		chunks = append(chunks, c)
		if c.IsFinal() {
			terminals++
		}
	}

	if len(chunks) != 6 {
		t.Fatalf("expected 6 chunks, got %d", len(chunks))
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal chunk, got %d", terminals)
	}
	if !chunks[len(chunks)-1].IsFinal() {
		t.Fatal("terminal chunk must be last")
	}

	// Seq is strictly increasing with no gaps.
	for i, c := range chunks {
		if c.Seq != uint64(i+1) {
			t.Fatalf("chunk %d has seq %d, expected %d", i, c.Seq, i+1)
		}
	}
}

func TestStreamQueue_SecondProducerRejected(t *testing.T) {
	q := NewStreamQueue(1)

	if _, err := q.Producer(); err != nil {
		t.Fatalf("first Producer failed: %v", err)
	}

	_, err := q.Producer()
	if !errors.Is(err, ErrProducerBound) {
		t.Fatalf("expected ErrProducerBound, got %v", err)
	}
}

func TestStreamQueue_BackpressureBlocksUntilDrain(t *testing.T) {
	q := NewStreamQueue(1)
	prod, _ := q.Producer()

	ctx := context.Background()

	if err := prod.Push(ctx, NewTextChunk("a")); err != nil {
		t.Fatalf("first Push failed: %v", err)
	}

	pushed := make(chan error, 1)
	go func() {
		// Buffer is full; this push suspends until the consumer drains.
		pushed <- prod.Push(ctx, NewTextChunk("b"))
	}()

	select {
	case err := <-pushed:
		t.Fatalf("push completed against a full buffer: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	<-q.Chunks()

	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("push failed after drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("push never unblocked after consumer drained")
	}
}

func TestStreamQueue_ConsumerCancelUnblocksProducer(t *testing.T) {
	q := NewStreamQueue(1)
	prod, _ := q.Producer()

	ctx := context.Background()

	if err := prod.Push(ctx, NewTextChunk("a")); err != nil {
		t.Fatalf("first Push failed: %v", err)
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- prod.Push(ctx, NewTextChunk("b"))
	}()

	q.Cancel()

	select {
	case err := <-pushed:
		if !errors.Is(err, ErrQueueCancelled) {
			t.Fatalf("expected ErrQueueCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("push never unblocked after consumer cancel")
	}

	if !q.Cancelled() {
		t.Fatal("Cancelled should report true after Cancel")
	}

	// Cancel is idempotent.
	q.Cancel()
}

func TestStreamQueue_ContextExpiryUnblocksProducer(t *testing.T) {
	q := NewStreamQueue(1)
	prod, _ := q.Producer()

	if err := prod.Push(context.Background(), NewTextChunk("a")); err != nil {
		t.Fatalf("first Push failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := prod.Push(ctx, NewTextChunk("b"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestStreamQueue_PushAfterCloseFails(t *testing.T) {
	q := NewStreamQueue(4)
	prod, _ := q.Producer()

	if err := prod.Close(NewTerminalChunk(TerminalCompleted)); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := prod.Push(context.Background(), NewTextChunk("late")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed on push after close, got %v", err)
	}

	if err := prod.Close(NewTerminalChunk(TerminalCompleted)); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed on double close, got %v", err)
	}

	if !prod.Closed() {
		t.Fatal("Closed should report true after Close")
	}
}

func TestStreamQueue_CloseRejectsNonFinalChunk(t *testing.T) {
	q := NewStreamQueue(4)
	prod, _ := q.Producer()

	if err := prod.Close(NewTextChunk("not terminal")); err == nil {
		t.Fatal("Close must reject a non-final chunk")
	}
	if prod.Closed() {
		t.Fatal("queue must stay open after a rejected Close")
	}
}

func TestStreamQueue_AbortedPushLeavesNoSeqGap(t *testing.T) {
	q := NewStreamQueue(2)
	prod, _ := q.Producer()

	if err := prod.Push(context.Background(), NewTextChunk("a")); err != nil {
		t.Fatalf("first Push failed: %v", err)
	}
	if err := prod.Push(context.Background(), NewTextChunk("b")); err != nil {
		t.Fatalf("second Push failed: %v", err)
	}

	// Buffer full, consumer still connected: this push dies on its deadline
	// and its chunk is never delivered.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := prod.Push(ctx, NewTextChunk("c")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	// Drain concurrently so Close can deliver the final chunk into the
	// full buffer.
	drained := make(chan []uint64, 1)
	go func() {
		var got []uint64
		for c := range q.Chunks() {
			got = append(got, c.Seq)
		}
		drained <- got
	}()

	if err := prod.Close(NewErrorChunk(context.DeadlineExceeded)); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	seqs := <-drained

	if len(seqs) != 3 {
		t.Fatalf("expected 3 delivered chunks, got %d (%v)", len(seqs), seqs)
	}
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("sequence gap: delivered seqs %v", seqs)
		}
	}
}

func TestStreamQueue_CloseReturnsAgainstWedgedConsumer(t *testing.T) {
	q := NewStreamQueue(1)
	q.closeGrace = 20 * time.Millisecond
	prod, _ := q.Producer()

	// Fill the buffer; the consumer neither reads nor cancels.
	if err := prod.Push(context.Background(), NewTextChunk("a")); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	closed := make(chan error, 1)
	go func() {
		closed <- prod.Close(NewTerminalChunk(TerminalCompleted))
	}()

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close never returned against a non-reading consumer")
	}

	// Buffered chunks remain readable, then the channel is closed; the final
	// chunk was dropped.
	var chunks []StreamChunk
	for c := range q.Chunks() {
		chunks = append(chunks, c)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected only the buffered chunk, got %d", len(chunks))
	}
	if chunks[0].IsFinal() {
		t.Fatal("dropped final chunk must not be delivered")
	}
}

func TestStreamQueue_CloseAfterConsumerCancelStillClosesChannel(t *testing.T) {
	q := NewStreamQueue(1)
	prod, _ := q.Producer()

	q.Cancel()

	if err := prod.Close(NewTerminalChunk(TerminalCompleted)); err != nil {
		t.Fatalf("Close failed after cancel: %v", err)
	}

	// Nobody is listening; the final chunk is discarded but the channel closes.
	for range q.Chunks() {
	}
}
