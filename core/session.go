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
	"github.com/matlowai/local-voice-ai/core/vad"
)

// State is the session lifecycle state.
type State string

const (
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateDraining   State = "draining"
	StateClosed     State = "closed"
)

const eventQueueSize = 64

type queuedEvent struct {
	event    events.Event
	queuedAt time.Time
}

// Session owns one end-to-end voice conversation: audio capture, turn
// detection, transcription, reply generation, speech synthesis and
// playback. All turn decisions are serialized through a single event
// queue, so concurrent signals (speech onsets, final transcripts,
// pipeline completions) are arbitrated in arrival order.
type Session struct {
	id        string
	createdAt time.Time

	stateMu sync.Mutex
	state   State

	audioSource AudioSource
	audioOutput AudioOutput

	detector    *vad.Detector
	transcriber *transcriber
	dialogue    *dialogue
	synthesizer *synthesizer

	bus *metrics.Bus
	// ownsBus is true when the session created the bus itself and must
	// close it on teardown.
	ownsBus bool

	gracePeriod          time.Duration
	drainTimeout         time.Duration
	finalTranscriptGrace time.Duration

	queue   chan queuedEvent
	closeCh chan struct{}
	done    chan struct{}

	startOnce  sync.Once
	closeOnce  sync.Once
	signalOnce sync.Once
	doneOnce   sync.Once

	arbiterRunning bool

	callbacks StartOptions

	// Turn bookkeeping below is owned by the arbiter goroutine once
	// Start returns; nothing else touches it.
	turns         []Turn
	active        *activeTurn
	nextTurnIndex int

	baseContext context.Context
}

// New creates a session from the given options. The session is inert
// until Start is called.
func New(opts ...Option) (*Session, error) {
	s := &Session{
		id:                   uuid.NewString(),
		createdAt:            time.Now(),
		state:                StateConnecting,
		transcriber:          &transcriber{},
		dialogue:             &dialogue{},
		synthesizer:          &synthesizer{},
		gracePeriod:          defaultCancellationGracePeriod,
		drainTimeout:         defaultDrainTimeout,
		finalTranscriptGrace: defaultFinalTranscriptGrace,
		queue:                make(chan queuedEvent, eventQueueSize),
		closeCh:              make(chan struct{}),
		done:                 make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.bus == nil {
		s.bus = metrics.NewBus(metrics.WithExporter(metrics.NewLogExporter()))
		s.ownsBus = true
	}
	s.transcriber.bus = s.bus
	s.dialogue.bus = s.bus
	s.synthesizer.bus = s.bus

	encodingInfo := audio.GetDefaultEncodingInfo()
	if s.audioSource != nil {
		encodingInfo = s.audioSource.EncodingInfo()
	}
	if s.synthesizer.encodingInfo.IsZero() {
		if s.audioOutput != nil {
			s.synthesizer.encodingInfo = s.audioOutput.EncodingInfo()
		} else {
			s.synthesizer.encodingInfo = encodingInfo
		}
	}
	if s.detector == nil {
		s.detector = vad.NewDetector(vad.WithEncodingInfo(encodingInfo))
	}

	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// History returns a snapshot of all finished turns, oldest first. The
// active turn is not included until it reaches a terminal state.
func (s *Session) History() []Turn {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	history := make([]Turn, len(s.turns))
	copy(history, s.turns)
	return history
}

func (s *Session) appendHistory(turn Turn) {
	s.stateMu.Lock()
	s.turns = append(s.turns, turn)
	s.stateMu.Unlock()
}

// Start begins processing audio. It is an error to start a session
// twice, including after Close.
func (s *Session) Start(ctx context.Context, opts ...StartOption) error {
	started := false
	var startErr error

	s.startOnce.Do(func() {
		started = true

		if s.State() == StateClosed {
			startErr = ErrSessionClosed
			return
		}

		for _, opt := range opts {
			opt(&s.callbacks)
		}
		s.callbacks.defaults()

		s.baseContext = ctx
		s.setState(StateActive)

		s.stateMu.Lock()
		s.arbiterRunning = true
		s.stateMu.Unlock()
		go s.runArbiter()

		if s.transcriber.isConfigured() {
			encodingInfo := audio.GetDefaultEncodingInfo()
			if s.audioSource != nil {
				encodingInfo = s.audioSource.EncodingInfo()
			}
			s.transcriber.emit = s.emit
			if err := s.transcriber.start(ctx, encodingInfo); err != nil {
				startErr = fmt.Errorf("failed to start transcription: %w", err)
				s.signalClose()
				s.teardown()
				return
			}
		}

		if s.audioSource != nil {
			onClosed := func(err error) { s.emit(events.NewSourceClosed(err)) }
			if err := s.audioSource.StartCapture(ctx, s.ProcessFrame, onClosed); err != nil {
				startErr = fmt.Errorf("failed to start audio capture: %w", err)
				s.signalClose()
				s.teardown()
				return
			}
		}

		logger.Info("session started", "session_id", s.id)
	})

	if !started {
		return ErrAlreadyStarted
	}
	return startErr
}

// ProcessFrame feeds one captured audio frame into the pipeline. It is
// safe to call from the audio capture callback; it never blocks on the
// turn arbiter.
func (s *Session) ProcessFrame(frame audio.Frame) {
	if s.State() != StateActive {
		return
	}

	s.callbacks.onInputAudio(frame.PCM)

	if s.transcriber.isConfigured() {
		if err := s.transcriber.SendAudio(frame.PCM); err != nil {
			logger.Error("failed to forward audio to transcription", "error", err)
		}
	}

	if boundary := s.detector.Process(frame); boundary != nil {
		switch boundary.Kind {
		case vad.BoundarySpeechStart:
			s.emit(events.NewUserSpeechStarted(boundary.Seq))
		case vad.BoundarySpeechEnd:
			s.emit(events.NewUserSpeechEnded(boundary.Seq))
		}
	}
}

// SendPrompt injects a text prompt, bypassing capture and transcription.
// The prompt interrupts any in-flight reply, like user speech would.
func (s *Session) SendPrompt(prompt string) error {
	if s.State() != StateActive {
		return ErrSessionNotActive
	}
	s.emit(events.NewUserPrompt(prompt))
	return nil
}

// emit enqueues an event for the arbiter. The queue is bounded; a full
// queue means the arbiter is wedged, and dropping is the only option
// that keeps the audio path non-blocking.
func (s *Session) emit(event events.Event) {
	select {
	case <-s.closeCh:
		return
	default:
	}

	select {
	case s.queue <- queuedEvent{event: event, queuedAt: time.Now()}:
	default:
		logger.Warn("session event queue full, dropping event", "kind", event.Kind())
	}
}

// Close drains the session: capture stops, an in-flight turn gets up to
// the drain timeout to finish naturally, then everything is torn down.
// Close is idempotent; later calls wait for the first to finish.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.setState(StateDraining)
		logger.Info("session draining", "session_id", s.id)

		if s.audioSource != nil {
			if err := s.audioSource.StopCapture(); err != nil {
				logger.Error("failed to stop audio capture", "error", err)
			}
		}

		s.signalClose()

		s.stateMu.Lock()
		arbiterRunning := s.arbiterRunning
		s.stateMu.Unlock()
		if arbiterRunning {
			select {
			case <-s.done:
			case <-time.After(s.drainTimeout):
				logger.Warn("session drain timed out, forcing shutdown", "session_id", s.id)
			case <-ctx.Done():
			}
		}

		s.teardown()
	})

	<-s.done
	return nil
}

func (s *Session) signalClose() {
	s.signalOnce.Do(func() { close(s.closeCh) })
}

func (s *Session) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// teardown releases the session's transport and metrics resources.
func (s *Session) teardown() {
	if s.transcriber.isConfigured() {
		if err := s.transcriber.Close(context.Background()); err != nil {
			logger.Error("failed to close transcription", "error", err)
		}
	}
	if s.ownsBus {
		if err := s.bus.Close(context.Background()); err != nil {
			logger.Error("failed to close metrics bus", "error", err)
		}
	}
	s.setState(StateClosed)
	s.signalDone()
	logger.Info("session closed", "session_id", s.id)
}
