package session

import (
	"strings"
	"sync"
)

// textBuffer hands reply chunks from the generation worker to the
// synthesis worker. Chunks are consumed in arrival order through the
// Chunks iterator, which blocks until more text arrives, the producer
// marks completion, or the buffer is cleared by cancellation.
type textBuffer struct {
	mu             sync.Mutex
	chunks         []string
	chunksConsumed int
	complete       bool
	cleared        bool

	updateSignal chan struct{}
}

func newTextBuffer() *textBuffer {
	return &textBuffer{updateSignal: make(chan struct{}, 1)}
}

func (b *textBuffer) AddChunk(chunk string) {
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	b.signalUpdate()
}

// Complete marks the end of generation; Chunks returns once the remaining
// chunks are consumed.
func (b *textBuffer) Complete() {
	b.mu.Lock()
	b.complete = true
	b.mu.Unlock()
	b.signalUpdate()
}

// Clear terminates the iterator without draining. Buffered-but-unconsumed
// chunks are dropped, which is the cancellation cutoff for reply text.
func (b *textBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *textBuffer) Chunks(yield func(string) bool) {
	for {
		b.mu.Lock()
		if b.cleared {
			b.mu.Unlock()
			return
		}

		if b.chunksConsumed < len(b.chunks) {
			chunk := b.chunks[b.chunksConsumed]
			b.chunksConsumed++
			b.mu.Unlock()
			if !yield(chunk) {
				return
			}
			continue
		}

		if b.complete {
			b.mu.Unlock()
			return
		}

		b.mu.Unlock()
		<-b.updateSignal
	}
}

// String returns all text added so far, consumed or not.
func (b *textBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.chunks, "")
}

func (b *textBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}
