package session

import (
	"context"
	"time"

	"github.com/matlowai/local-voice-ai/core/audio"
	"github.com/matlowai/local-voice-ai/core/events"
	"github.com/matlowai/local-voice-ai/core/llms"
	"github.com/matlowai/local-voice-ai/core/metrics"
	"github.com/matlowai/local-voice-ai/core/speechtotext"
	"github.com/matlowai/local-voice-ai/core/texttospeech"
	"github.com/matlowai/local-voice-ai/core/vad"
)

// AudioSource produces capture frames. The session enforces no pacing of
// its own: frames arrive at whatever cadence the source delivers them.
// onClosed fires at most once, when capture ends without StopCapture
// having been called; the error carries what ended it. It is fatal to the
// session.
type AudioSource interface {
	StartCapture(ctx context.Context, onFrame func(frame audio.Frame), onClosed func(err error)) error
	StopCapture() error
	EncodingInfo() audio.EncodingInfo
}

// AudioOutput consumes synthesized audio. ClearBuffer must drop
// queued-but-unplayed audio immediately; it is the interruption cutoff on
// the playback side. AwaitMark blocks until audio queued so far played out.
type AudioOutput interface {
	SendAudio(audio []byte) error
	ClearBuffer()
	AwaitMark() error
	EncodingInfo() audio.EncodingInfo
}

type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
}

type TextToSpeech interface {
	NewSpeechGenerator(ctx context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechGenerator, error)
}

type DialogueModel interface {
	PromptWithStream(ctx context.Context, opts ...llms.PromptOption) llms.Stream
}

const (
	defaultCancellationGracePeriod = 2 * time.Second
	defaultDrainTimeout            = 10 * time.Second
	// defaultFinalTranscriptGrace bounds how long a turn waits for the
	// backend's final transcript after local silence confirmation before
	// finalizing with the latest partial.
	defaultFinalTranscriptGrace = 2 * time.Second
)

type Option func(*Session)

func WithAudioSource(source AudioSource) Option {
	return func(s *Session) { s.audioSource = source }
}

func WithAudioOutput(output AudioOutput) Option {
	return func(s *Session) { s.audioOutput = output }
}

func WithSpeechToText(client SpeechToText) Option {
	return func(s *Session) { s.transcriber.client = client }
}

func WithTextToSpeech(client TextToSpeech) Option {
	return func(s *Session) { s.synthesizer.client = client }
}

func WithDialogueModel(client DialogueModel) Option {
	return func(s *Session) { s.dialogue.client = client }
}

// WithInstructions sets the system instructions prepended to every
// generation.
func WithInstructions(instructions string) Option {
	return func(s *Session) { s.dialogue.instructions = instructions }
}

func WithTools(tools ...llms.Tool) Option {
	return func(s *Session) { s.dialogue.tools = append(s.dialogue.tools, tools...) }
}

// WithMetricsBus replaces the session-owned bus. The caller keeps ownership
// and must close the bus itself.
func WithMetricsBus(bus *metrics.Bus) Option {
	return func(s *Session) {
		s.bus = bus
		s.ownsBus = false
	}
}

// WithTurnDetector replaces the default energy detector, e.g. to tune
// thresholds or confirmation windows for a noisy environment.
func WithTurnDetector(detector *vad.Detector) Option {
	return func(s *Session) { s.detector = detector }
}

// WithCancellationGracePeriod bounds how long an interrupted reply pipeline
// may take to observe cancellation before the session proceeds without it
// and logs a resource-leak warning.
func WithCancellationGracePeriod(period time.Duration) Option {
	return func(s *Session) {
		if period > 0 {
			s.gracePeriod = period
		}
	}
}

// WithDrainTimeout bounds how long Close waits for the in-flight turn
// before force-cancelling it.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		if timeout > 0 {
			s.drainTimeout = timeout
		}
	}
}

// WithFullReplySynthesis makes the synthesizer wait for the complete reply
// before sending any text, instead of streaming chunks as they generate.
// Higher latency to first audio, but works with backends that mangle
// incremental input.
func WithFullReplySynthesis() Option {
	return func(s *Session) { s.synthesizer.fullReply = true }
}

// StartOptions carries the per-run callbacks. Callbacks are invoked from
// session goroutines and must not block.
type StartOptions struct {
	onPartialTranscript func(transcript string, confidence float64)
	onFinalTranscript   func(transcript string)
	onReplyChunk        func(chunk string)
	onReplyEnd          func(reply string)
	onAudio             func(audio []byte)
	onSpeechEnded       func(spoken string)
	onTurnStateChanged  func(turn Turn)
	onInterruption      func(turn Turn)
	onInputAudio        func(audio []byte)
	onEvent             func(event events.Event)
}

func (o *StartOptions) defaults() {
	if o.onPartialTranscript == nil {
		o.onPartialTranscript = func(string, float64) {}
	}
	if o.onFinalTranscript == nil {
		o.onFinalTranscript = func(string) {}
	}
	if o.onReplyChunk == nil {
		o.onReplyChunk = func(string) {}
	}
	if o.onReplyEnd == nil {
		o.onReplyEnd = func(string) {}
	}
	if o.onAudio == nil {
		o.onAudio = func([]byte) {}
	}
	if o.onSpeechEnded == nil {
		o.onSpeechEnded = func(string) {}
	}
	if o.onTurnStateChanged == nil {
		o.onTurnStateChanged = func(Turn) {}
	}
	if o.onInterruption == nil {
		o.onInterruption = func(Turn) {}
	}
	if o.onInputAudio == nil {
		o.onInputAudio = func([]byte) {}
	}
	if o.onEvent == nil {
		o.onEvent = func(events.Event) {}
	}
}

type StartOption func(*StartOptions)

func WithPartialTranscriptCallback(callback func(transcript string, confidence float64)) StartOption {
	return func(o *StartOptions) { o.onPartialTranscript = callback }
}

func WithFinalTranscriptCallback(callback func(transcript string)) StartOption {
	return func(o *StartOptions) { o.onFinalTranscript = callback }
}

// WithReplyChunkCallback registers a callback for each streamed reply text
// chunk of the active turn.
func WithReplyChunkCallback(callback func(chunk string)) StartOption {
	return func(o *StartOptions) { o.onReplyChunk = callback }
}

func WithReplyEndCallback(callback func(reply string)) StartOption {
	return func(o *StartOptions) { o.onReplyEnd = callback }
}

// WithAudioCallback registers a callback for each synthesized audio chunk
// crossing the output boundary. Chunks of an interrupted turn stop
// immediately after the interruption decision.
func WithAudioCallback(callback func(audio []byte)) StartOption {
	return func(o *StartOptions) { o.onAudio = callback }
}

func WithSpeechEndedCallback(callback func(spoken string)) StartOption {
	return func(o *StartOptions) { o.onSpeechEnded = callback }
}

func WithTurnStateChangedCallback(callback func(turn Turn)) StartOption {
	return func(o *StartOptions) { o.onTurnStateChanged = callback }
}

func WithInterruptionCallback(callback func(turn Turn)) StartOption {
	return func(o *StartOptions) { o.onInterruption = callback }
}

// WithInputAudioCallback registers a tap on raw captured audio before
// transcription.
func WithInputAudioCallback(callback func(audio []byte)) StartOption {
	return func(o *StartOptions) { o.onInputAudio = callback }
}

// WithEventCallback registers a tap on the full session event stream:
// speech boundaries, transcripts, reply and speech chunks, and turn
// lifecycle transitions, in the order the session observed them.
func WithEventCallback(callback func(event events.Event)) StartOption {
	return func(o *StartOptions) { o.onEvent = callback }
}
