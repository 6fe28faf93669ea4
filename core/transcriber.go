package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matlowai/local-voice-ai/core/audio"
	"github.com/matlowai/local-voice-ai/core/events"
	"github.com/matlowai/local-voice-ai/core/metrics"
	"github.com/matlowai/local-voice-ai/core/speechtotext"
)

// transcriber wraps the speech-to-text client: it translates backend
// callbacks into serialized session events and reports transcription
// metrics. A nil client leaves the session text-only.
type transcriber struct {
	client SpeechToText
	bus    *metrics.Bus

	emit func(events.Event)

	mu sync.Mutex
	// speechID correlates the metrics of one utterance; renewed when the
	// backend reports speech start.
	speechID        string
	speechStartedAt time.Time
	// partial is the latest superseding partial transcript, kept for
	// best-effort finalization when the backend fails mid-utterance.
	partial string
}

func (t *transcriber) isConfigured() bool {
	return t != nil && t.client != nil
}

func (t *transcriber) start(ctx context.Context, encodingInfo audio.EncodingInfo) error {
	if !t.isConfigured() {
		return nil
	}

	opts := []speechtotext.TranscriptionOption{
		speechtotext.WithSpeechStartedCallback(t.onSpeechStarted),
		speechtotext.WithPartialTranscriptionCallback(t.onPartialTranscription),
		speechtotext.WithTranscriptionCallback(t.onTranscription),
		speechtotext.WithErrorCallback(t.onError),
		speechtotext.WithEncodingInfo(encodingInfo),
	}

	if err := t.client.Transcribe(ctx, opts...); err != nil {
		return fmt.Errorf("failed to start transcribing: %w", err)
	}
	return nil
}

func (t *transcriber) SendAudio(audio []byte) error {
	if !t.isConfigured() {
		return nil
	}
	return t.client.SendAudio(audio)
}

func (t *transcriber) Close(ctx context.Context) error {
	if !t.isConfigured() {
		return nil
	}

	switch c := t.client.(type) {
	case interface{ Close(context.Context) error }:
		if err := c.Close(ctx); err != nil {
			return fmt.Errorf("failed to close speech-to-text client: %w", err)
		}
	case interface{ Close(context.Context) }:
		c.Close(ctx)
	case interface{ Close() error }:
		if err := c.Close(); err != nil {
			return fmt.Errorf("failed to close speech-to-text client: %w", err)
		}
	case interface{ Close() }:
		c.Close()
	}
	return nil
}

func (t *transcriber) onSpeechStarted() {
	t.mu.Lock()
	t.speechID = uuid.NewString()
	t.speechStartedAt = time.Now()
	t.mu.Unlock()
}

func (t *transcriber) onPartialTranscription(transcript string, confidence float64) {
	t.mu.Lock()
	t.partial = transcript
	t.mu.Unlock()

	t.emit(events.NewUserTranscriptPartial("", transcript, confidence))
}

func (t *transcriber) onTranscription(transcript string) {
	speechID, speechStartedAt := t.resetUtterance()

	var audioDuration *float64
	if !speechStartedAt.IsZero() {
		duration := time.Since(speechStartedAt).Seconds()
		audioDuration = &duration
	}
	t.bus.Report(metrics.STTMetric{
		Label:         "transcription",
		RequestID:     uuid.NewString(),
		Timestamp:     metrics.Now(),
		Duration:      durationSinceSeconds(speechStartedAt),
		SpeechID:      speechID,
		Streamed:      true,
		AudioDuration: audioDuration,
	})

	t.emit(events.NewUserTranscriptFinal("", transcript, nil))
}

// onError finalizes the utterance with the best-effort partial text so the
// turn can still proceed to generation.
func (t *transcriber) onError(err error) {
	t.mu.Lock()
	partial := t.partial
	t.mu.Unlock()
	speechID, speechStartedAt := t.resetUtterance()

	t.bus.Report(metrics.STTMetric{
		Label:     "transcription",
		RequestID: uuid.NewString(),
		Timestamp: metrics.Now(),
		Duration:  durationSinceSeconds(speechStartedAt),
		SpeechID:  speechID,
		Error:     metrics.ErrorString(err),
		Streamed:  true,
	})

	t.emit(events.NewUserTranscriptFinal("", partial, err))
}

func (t *transcriber) resetUtterance() (speechID string, speechStartedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	speechID = t.speechID
	speechStartedAt = t.speechStartedAt
	t.speechID = ""
	t.speechStartedAt = time.Time{}
	t.partial = ""
	return speechID, speechStartedAt
}

func durationSinceSeconds(start time.Time) float64 {
	if start.IsZero() {
		return 0
	}
	return time.Since(start).Seconds()
}
