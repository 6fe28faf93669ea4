// Package deepgram transcribes audio through Deepgram's live-listen
// websocket API.
package deepgram

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type TranscriptionClient struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	model    string
	language string

	// lastMsgTs holds the unix nanos of the last outbound audio write. It
	// is read by the silence generator goroutine without the connection
	// lock, hence atomic.
	lastMsgTs             atomic.Int64
	accumulatedTranscript string
	unendedSegment        bool
}

func (c *TranscriptionClient) markMessageSent() {
	c.lastMsgTs.Store(time.Now().UnixNano())
}

func (c *TranscriptionClient) sinceLastMessage() time.Duration {
	return time.Since(time.Unix(0, c.lastMsgTs.Load()))
}

type ClientOption func(*TranscriptionClient)

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) { c.model = model }
}

func WithLanguage(language string) ClientOption {
	return func(c *TranscriptionClient) { c.language = language }
}

func NewTranscriptionClient(opts ...ClientOption) *TranscriptionClient {
	client := &TranscriptionClient{
		model:    "nova-3",
		language: "en-US",
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}
