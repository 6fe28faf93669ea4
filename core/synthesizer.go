package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matlowai/local-voice-ai/core/audio"
	"github.com/matlowai/local-voice-ai/core/metrics"
	"github.com/matlowai/local-voice-ai/core/texttospeech"
)

// synthesizer wraps the text-to-speech client. Each turn opens its own
// speech generation whose audio lands in the turn's audio buffer; metrics
// cover time to first byte, synthesized duration and cancellation.
type synthesizer struct {
	client TextToSpeech
	bus    *metrics.Bus

	encodingInfo audio.EncodingInfo

	// fullReply buffers the whole generated reply before sending any text,
	// trading first-audio latency for backends without usable incremental
	// input.
	fullReply bool
}

func (s *synthesizer) isConfigured() bool {
	return s != nil && s.client != nil
}

// synthesis is the per-turn synthesis state.
type synthesis struct {
	generator texttospeech.SpeechGenerator

	speechID  string
	streamed  bool
	startedAt time.Time

	mu          sync.Mutex
	firstByteAt time.Time
	audioBytes  int
	characters  int
	failure     error

	// initialized closes when init finished, so the speech worker knows
	// whether a generator is available.
	initialized chan struct{}
	connected   bool

	reportOnce sync.Once
}

func newSynthesis(speechID string, streamed bool) *synthesis {
	return &synthesis{
		speechID:    speechID,
		streamed:    streamed,
		initialized: make(chan struct{}),
	}
}

// init opens the speech generator wired into the turn's audio buffer.
func (s *synthesizer) init(ctx context.Context, syn *synthesis, buffer *audioBuffer) error {
	defer close(syn.initialized)

	if !s.isConfigured() {
		return nil
	}

	syn.startedAt = time.Now()
	generator, err := s.client.NewSpeechGenerator(ctx,
		texttospeech.WithSpeechAudioCallback(func(chunk []byte) {
			syn.mu.Lock()
			if syn.firstByteAt.IsZero() {
				syn.firstByteAt = time.Now()
			}
			syn.audioBytes += len(chunk)
			syn.mu.Unlock()
			buffer.AddAudio(chunk)
		}),
		texttospeech.WithSpeechMarkCallback(buffer.Mark),
		texttospeech.WithSpeechEndedCallback(buffer.AllLoaded),
		texttospeech.WithErrorCallback(func(err error) {
			syn.mu.Lock()
			syn.failure = err
			syn.mu.Unlock()
			buffer.AllLoaded()
			buffer.Stop()
		}),
		texttospeech.WithEncodingInfo(s.encodingInfo),
	)
	if err != nil {
		return fmt.Errorf("failed to create speech generator: %w", err)
	}

	syn.generator = generator
	syn.connected = true
	return nil
}

// waitUntilInitialized blocks until init finished or ctx is done, and
// reports whether a generator is available.
func (syn *synthesis) waitUntilInitialized(ctx context.Context) bool {
	select {
	case <-syn.initialized:
		return syn.connected
	case <-ctx.Done():
		return false
	}
}

func (syn *synthesis) SendText(text string) error {
	if syn.generator == nil {
		return nil
	}
	syn.mu.Lock()
	syn.characters += len(text)
	syn.mu.Unlock()
	return syn.generator.SendText(text)
}

func (syn *synthesis) Mark() error {
	if syn.generator == nil {
		return nil
	}
	return syn.generator.Mark()
}

// EndOfText marks the tail segment then closes text input, so the buffer
// always receives a final mark confirmation for the remaining audio.
func (syn *synthesis) EndOfText() error {
	if syn.generator == nil {
		return nil
	}
	if err := syn.generator.Mark(); err != nil {
		return fmt.Errorf("failed to mark end of reply: %w", err)
	}
	return syn.generator.EndOfText()
}

func (syn *synthesis) failureSnapshot() error {
	syn.mu.Lock()
	defer syn.mu.Unlock()
	return syn.failure
}

func (syn *synthesis) Cancel() error {
	if syn.generator == nil {
		return nil
	}
	return syn.generator.Cancel()
}

func (syn *synthesis) Close() error {
	if syn.generator == nil {
		return nil
	}
	return syn.generator.Close()
}

// finish reports the turn's synthesis metric exactly once.
func (s *synthesizer) finish(syn *synthesis, cancelled bool) {
	if !syn.connected {
		return
	}

	syn.reportOnce.Do(func() {
		syn.mu.Lock()
		defer syn.mu.Unlock()

		metric := metrics.TTSMetric{
			Label:     "synthesis",
			RequestID: syn.speechID,
			Timestamp: metrics.At(syn.startedAt),
			Duration:  time.Since(syn.startedAt).Seconds(),
			Cancelled: cancelled,
			Streamed:  syn.streamed,
			SpeechID:  syn.speechID,
			Error:     metrics.ErrorString(syn.failure),
		}
		if !syn.firstByteAt.IsZero() {
			ttfb := syn.firstByteAt.Sub(syn.startedAt).Seconds()
			metric.TimeToFirstByte = &ttfb
		}
		if syn.audioBytes > 0 && !s.encodingInfo.IsZero() {
			audioDuration := s.encodingInfo.Duration(syn.audioBytes).Seconds()
			metric.AudioDuration = &audioDuration
		}
		characters := syn.characters
		metric.CharacterCount = &characters

		s.bus.Report(metric)
	})
}
