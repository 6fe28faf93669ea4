package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matlowai/local-voice-ai/core/llms"
	"github.com/matlowai/local-voice-ai/core/metrics"
	"github.com/matlowai/local-voice-ai/core/vad"
)

type sessionFixture struct {
	session *Session
	source  *fakeAudioSource
	stt     *fakeSpeechToText
	model   *fakeDialogueModel
	tts     *fakeTextToSpeech
	output  *fakeAudioOutput

	states        chan Turn
	interruptions chan Turn
	audioChunks   chan []byte
	metricEvents  chan metrics.Event
}

func newSessionFixture(t *testing.T, streams ...scriptedStream) *sessionFixture {
	t.Helper()

	fixture := &sessionFixture{
		source:        &fakeAudioSource{},
		stt:           &fakeSpeechToText{},
		model:         &fakeDialogueModel{streams: streams},
		tts:           &fakeTextToSpeech{},
		output:        &fakeAudioOutput{},
		states:        make(chan Turn, 64),
		interruptions: make(chan Turn, 8),
		audioChunks:   make(chan []byte, 64),
		metricEvents:  make(chan metrics.Event, 64),
	}

	bus := metrics.NewBus(metrics.WithExporter(metrics.FuncExporter(
		func(_ context.Context, event metrics.Event) error {
			select {
			case fixture.metricEvents <- event:
			default:
			}
			return nil
		},
	)))
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = bus.Close(closeCtx)
	})

	detector := vad.NewDetector(
		vad.WithSpeechConfirmation(30*time.Millisecond),
		vad.WithSilenceConfirmation(40*time.Millisecond),
	)

	session, err := New(
		WithAudioSource(fixture.source),
		WithAudioOutput(fixture.output),
		WithSpeechToText(fixture.stt),
		WithDialogueModel(fixture.model),
		WithTextToSpeech(fixture.tts),
		WithTurnDetector(detector),
		WithMetricsBus(bus),
	)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	fixture.session = session

	err = session.Start(context.Background(),
		WithTurnStateChangedCallback(func(turn Turn) {
			select {
			case fixture.states <- turn:
			default:
			}
		}),
		WithInterruptionCallback(func(turn Turn) {
			select {
			case fixture.interruptions <- turn:
			default:
			}
		}),
		WithAudioCallback(func(chunk []byte) {
			select {
			case fixture.audioChunks <- chunk:
			default:
			}
		}),
	)
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = session.Close(closeCtx)
	})

	return fixture
}

func (f *sessionFixture) waitForTurnState(t *testing.T, state TurnState) Turn {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case turn := <-f.states:
			if turn.State == state {
				return turn
			}
		case <-deadline:
			t.Fatalf("timed out waiting for turn state %q", state)
		}
	}
}

// waitForMetric consumes metric events until one of the wanted type
// arrives.
func (f *sessionFixture) waitForMetric(t *testing.T, metricType string) metrics.Event {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-f.metricEvents:
			if event.MetricType() == metricType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q metric", metricType)
			return nil
		}
	}
}

func (f *sessionFixture) waitForAudio(t *testing.T) []byte {
	t.Helper()

	select {
	case chunk := <-f.audioChunks:
		return chunk
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for output audio")
		return nil
	}
}

func TestSessionCompletesSpokenTurn(t *testing.T) {
	fixture := newSessionFixture(t, scriptedStream{chunks: []string{"Hello ", "world."}})

	fixture.source.speak(3)
	fixture.stt.partial("hi", 0.9)
	fixture.source.silence(3)
	fixture.stt.final("hi there")

	turn := fixture.waitForTurnState(t, TurnStateCompleted)

	if turn.Transcript != "hi there" {
		t.Fatalf("expected transcript %q, got %q", "hi there", turn.Transcript)
	}
	if turn.Reply != "Hello world." {
		t.Fatalf("expected reply %q, got %q", "Hello world.", turn.Reply)
	}
	if turn.Spoken != "Hello world." {
		t.Fatalf("expected spoken text %q, got %q", "Hello world.", turn.Spoken)
	}
	if played := fixture.output.played(); played != "Hello world." {
		t.Fatalf("expected output %q, got %q", "Hello world.", played)
	}

	history := fixture.session.History()
	if len(history) != 1 || history[0].State != TurnStateCompleted {
		t.Fatalf("expected one completed turn in history, got %+v", history)
	}

	prompt := fixture.model.history(0)
	if len(prompt) == 0 || prompt[0].Role != llms.RoleUser || prompt[0].Content != "hi there" {
		t.Fatalf("expected prompt to open with the user transcript, got %+v", prompt)
	}
}

func TestSessionPassesThroughTurnLifecycleStates(t *testing.T) {
	fixture := newSessionFixture(t, scriptedStream{chunks: []string{"Sure."}})

	fixture.source.speak(3)
	fixture.stt.partial("ok", 0.8)
	fixture.source.silence(3)
	fixture.stt.final("ok")

	for _, state := range []TurnState{
		TurnStateListening,
		TurnStateTranscribing,
		TurnStateFinalized,
		TurnStateReplying,
		TurnStateSpeaking,
		TurnStateCompleted,
	} {
		fixture.waitForTurnState(t, state)
	}
}

func TestSessionBargeInStopsAudioImmediately(t *testing.T) {
	gate := make(chan struct{})
	fixture := newSessionFixture(t,
		scriptedStream{chunks: []string{"One. ", "Two."}, gate: gate},
		scriptedStream{chunks: []string{"Fine."}},
	)

	fixture.source.speak(3)
	fixture.stt.partial("tell me", 0.9)
	fixture.source.silence(3)
	fixture.stt.final("tell me a story")

	// First chunk reached the output; the model is now blocked on the gate.
	fixture.waitForAudio(t)

	fixture.source.speak(3)

	var interrupted Turn
	select {
	case interrupted = <-fixture.interruptions:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for interruption")
	}
	if interrupted.State != TurnStateInterrupted {
		t.Fatalf("expected interrupted turn, got %q", interrupted.State)
	}
	if fixture.output.clearCount() == 0 {
		t.Fatal("expected the output buffer to be cleared on interruption")
	}

	chunksAtCutoff := fixture.output.chunkCount()
	close(gate)
	time.Sleep(100 * time.Millisecond)
	if got := fixture.output.chunkCount(); got != chunksAtCutoff {
		t.Fatalf("expected no output audio after the cutoff, got %d new chunks", got-chunksAtCutoff)
	}

	// The interrupting speech already started turn two; finish it.
	fixture.stt.partial("never mind", 0.9)
	fixture.source.silence(3)
	fixture.stt.final("never mind")

	turn := fixture.waitForTurnState(t, TurnStateCompleted)
	if turn.Transcript != "never mind" {
		t.Fatalf("expected second turn transcript %q, got %q", "never mind", turn.Transcript)
	}
	if !strings.Contains(fixture.output.played(), "Fine.") {
		t.Fatalf("expected second reply to play, got %q", fixture.output.played())
	}
	if fixture.model.promptCount() != 2 {
		t.Fatalf("expected two generations, got %d", fixture.model.promptCount())
	}
}

func TestSessionFinalizesWithPartialOnTranscriptionFailure(t *testing.T) {
	fixture := newSessionFixture(t, scriptedStream{chunks: []string{"Sorry, say again?"}})

	fixture.source.speak(3)
	fixture.stt.partial("half a sent", 0.7)
	fixture.stt.fail(errors.New("backend connection lost"))

	turn := fixture.waitForTurnState(t, TurnStateCompleted)
	if turn.Transcript != "half a sent" {
		t.Fatalf("expected best-effort transcript %q, got %q", "half a sent", turn.Transcript)
	}
	if fixture.model.promptCount() != 1 {
		t.Fatalf("expected the turn to proceed to generation, got %d prompts", fixture.model.promptCount())
	}
}

func TestSessionMarksTurnFailedWhenGenerationFails(t *testing.T) {
	fixture := newSessionFixture(t,
		scriptedStream{err: errors.New("model unavailable")},
		scriptedStream{chunks: []string{"Yes."}},
	)

	fixture.source.speak(3)
	fixture.stt.partial("hello", 0.9)
	fixture.source.silence(3)
	fixture.stt.final("hello?")

	turn := fixture.waitForTurnState(t, TurnStateFailed)
	if turn.Err == nil {
		t.Fatal("expected failed turn to carry its error")
	}
	if fixture.output.chunkCount() != 0 {
		t.Fatalf("expected no audio from the failed turn, got %d chunks", fixture.output.chunkCount())
	}

	// The failure is contained to its turn.
	if err := fixture.session.SendPrompt("are you there?"); err != nil {
		t.Fatalf("failed to send prompt: %v", err)
	}
	next := fixture.waitForTurnState(t, TurnStateCompleted)
	if next.Transcript != "are you there?" {
		t.Fatalf("expected prompt transcript, got %q", next.Transcript)
	}
	if !strings.Contains(fixture.output.played(), "Yes.") {
		t.Fatalf("expected the next reply to play, got %q", fixture.output.played())
	}
}

func TestSessionPromptInterruptsActiveReply(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	fixture := newSessionFixture(t,
		scriptedStream{chunks: []string{"Let me think. ", "More."}, gate: gate},
		scriptedStream{chunks: []string{"Done."}},
	)

	fixture.source.speak(3)
	fixture.stt.partial("question", 0.9)
	fixture.source.silence(3)
	fixture.stt.final("question")
	fixture.waitForAudio(t)

	if err := fixture.session.SendPrompt("stop, new topic"); err != nil {
		t.Fatalf("failed to send prompt: %v", err)
	}

	select {
	case interrupted := <-fixture.interruptions:
		if interrupted.State != TurnStateInterrupted {
			t.Fatalf("expected interrupted turn, got %q", interrupted.State)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for interruption")
	}

	turn := fixture.waitForTurnState(t, TurnStateCompleted)
	if turn.Transcript != "stop, new topic" {
		t.Fatalf("expected prompt transcript, got %q", turn.Transcript)
	}
}

func TestSessionReportsPerStageMetrics(t *testing.T) {
	fixture := newSessionFixture(t, scriptedStream{chunks: []string{"Hi."}})

	fixture.source.speak(3)
	fixture.stt.partial("hey", 0.9)
	fixture.source.silence(3)
	fixture.stt.final("hey")
	fixture.waitForTurnState(t, TurnStateCompleted)

	stt := fixture.waitForMetric(t, metrics.TypeSTT).(metrics.STTMetric)
	if stt.Error != nil {
		t.Fatalf("expected clean transcription metric, got error %q", *stt.Error)
	}
	if !stt.Streamed {
		t.Fatal("expected the transcription metric to be marked streamed")
	}

	eou := fixture.waitForMetric(t, metrics.TypeEndOfUtterance).(metrics.EOUMetric)
	if eou.EndOfUtteranceDelay == nil {
		t.Fatal("expected the end-of-utterance metric to carry its delay")
	}

	llm := fixture.waitForMetric(t, metrics.TypeLLM).(metrics.LLMMetric)
	if llm.Cancelled {
		t.Fatal("expected the generation metric of a completed turn to not be cancelled")
	}

	tts := fixture.waitForMetric(t, metrics.TypeTTS).(metrics.TTSMetric)
	if tts.Cancelled {
		t.Fatal("expected the synthesis metric of a completed turn to not be cancelled")
	}

	if eou.SpeechID == "" || eou.SpeechID != llm.RequestID || eou.SpeechID != tts.SpeechID {
		t.Fatalf("expected metrics to correlate on the turn, got eou=%q llm=%q tts=%q",
			eou.SpeechID, llm.RequestID, tts.SpeechID)
	}
}

func TestSessionFlagsCancelledMetricsOnBargeIn(t *testing.T) {
	gate := make(chan struct{})
	fixture := newSessionFixture(t,
		scriptedStream{chunks: []string{"One. ", "Two."}, gate: gate},
		scriptedStream{chunks: []string{"Fine."}},
	)

	fixture.source.speak(3)
	fixture.stt.partial("tell me", 0.9)
	fixture.source.silence(3)
	fixture.stt.final("tell me a story")
	fixture.waitForAudio(t)

	fixture.source.speak(3)
	select {
	case <-fixture.interruptions:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for interruption")
	}
	close(gate)

	llm := fixture.waitForMetric(t, metrics.TypeLLM).(metrics.LLMMetric)
	if !llm.Cancelled {
		t.Fatal("expected the interrupted generation metric to be cancelled")
	}
	tts := fixture.waitForMetric(t, metrics.TypeTTS).(metrics.TTSMetric)
	if !tts.Cancelled {
		t.Fatal("expected the interrupted synthesis metric to be cancelled")
	}
}

func TestSessionDrainsWhenAudioSourceFails(t *testing.T) {
	fixture := newSessionFixture(t)

	fixture.source.fail(errors.New("capture device stopped unexpectedly"))

	deadline := time.Now().Add(5 * time.Second)
	for fixture.session.State() != StateClosed {
		if time.Now().After(deadline) {
			t.Fatalf("session did not close after source failure, state %q", fixture.session.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := fixture.session.SendPrompt("anyone?"); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive after source failure, got %v", err)
	}
	if !fixture.source.stopped {
		t.Fatal("expected audio capture to be stopped during drain")
	}
}

func TestSessionRejectsSecondStart(t *testing.T) {
	fixture := newSessionFixture(t)

	if err := fixture.session.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestSessionCloseDrainsAndRejectsFurtherInput(t *testing.T) {
	fixture := newSessionFixture(t)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fixture.session.Close(closeCtx); err != nil {
		t.Fatalf("failed to close session: %v", err)
	}

	if got := fixture.session.State(); got != StateClosed {
		t.Fatalf("expected closed state, got %q", got)
	}
	if err := fixture.session.SendPrompt("anyone?"); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	if !fixture.source.stopped {
		t.Fatal("expected audio capture to be stopped")
	}
}
