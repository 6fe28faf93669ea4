package session

import (
	"testing"
	"time"
)

func TestTextBufferYieldsChunksInOrder(t *testing.T) {
	buffer := newTextBuffer()
	buffer.AddChunk("Hello, ")
	buffer.AddChunk("world")
	buffer.AddChunk("!")
	buffer.Complete()

	collected := []string{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range buffer.Chunks {
			collected = append(collected, chunk)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunks to drain")
	}

	want := []string{"Hello, ", "world", "!"}
	if len(collected) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(collected))
	}
	for i, chunk := range want {
		if collected[i] != chunk {
			t.Fatalf("expected chunk %d to be %q, got %q", i, chunk, collected[i])
		}
	}
}

func TestTextBufferBlocksUntilMoreTextArrives(t *testing.T) {
	buffer := newTextBuffer()
	buffer.AddChunk("first")

	chunks := make(chan string, 2)
	go func() {
		for chunk := range buffer.Chunks {
			chunks <- chunk
		}
		close(chunks)
	}()

	select {
	case chunk := <-chunks:
		if chunk != "first" {
			t.Fatalf("expected %q, got %q", "first", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first chunk")
	}

	buffer.AddChunk("second")
	buffer.Complete()

	select {
	case chunk := <-chunks:
		if chunk != "second" {
			t.Fatalf("expected %q, got %q", "second", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second chunk")
	}

	select {
	case _, open := <-chunks:
		if open {
			t.Fatal("expected iterator to finish after completion")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for iterator to finish")
	}
}

func TestTextBufferClearDropsUnconsumedChunks(t *testing.T) {
	buffer := newTextBuffer()
	buffer.AddChunk("never")
	buffer.AddChunk("spoken")
	buffer.Clear()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range buffer.Chunks {
			t.Error("expected no chunks after clear")
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cleared iterator to finish")
	}
}

func TestTextBufferStringIncludesUnconsumedText(t *testing.T) {
	buffer := newTextBuffer()
	buffer.AddChunk("Hello, ")
	buffer.AddChunk("world!")

	if got := buffer.String(); got != "Hello, world!" {
		t.Fatalf("expected full text, got %q", got)
	}
}
