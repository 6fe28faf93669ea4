package llms

import (
	"context"
	"iter"
)

// Stream is an in-flight generation whose chunks are consumed exactly once.
// Cancelling the context stops upstream generation, not just consumption.
type Stream interface {
	Chunks(context.Context) iter.Seq2[StreamChunk, error]
}

type StreamChunk interface {
	FinishReason() *string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

type StreamToolCallChunk interface {
	StreamChunk
	ToolCall() ToolCall
}

type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}
