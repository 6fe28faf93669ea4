package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/matlowai/local-voice-ai/core/events"
	"github.com/matlowai/local-voice-ai/core/llms"
	"github.com/matlowai/local-voice-ai/core/metrics"
	"github.com/matlowai/local-voice-ai/internal/utils"
)

// Internal arbitration events. They ride the same queue as pipeline
// signals so that every turn decision, interruptions included, is made
// in strict arrival order.
const (
	kindPipelineFinished   events.Kind = "session.pipeline_finished"
	kindTranscriptDeadline events.Kind = "session.transcript_deadline"
	kindTurnSpeaking       events.Kind = "session.turn_speaking"
)

type pipelineFinished struct {
	events.Base
	turnID string
	result replyResult
	err    error
}

func newPipelineFinished(turnID string, result replyResult, err error) pipelineFinished {
	return pipelineFinished{Base: events.NewBase(kindPipelineFinished), turnID: turnID, result: result, err: err}
}

type transcriptDeadline struct {
	events.Base
	turnID string
}

func newTranscriptDeadline(turnID string) transcriptDeadline {
	return transcriptDeadline{Base: events.NewBase(kindTranscriptDeadline), turnID: turnID}
}

type turnSpeaking struct {
	events.Base
	turnID string
}

func newTurnSpeaking(turnID string) turnSpeaking {
	return turnSpeaking{Base: events.NewBase(kindTurnSpeaking), turnID: turnID}
}

// runArbiter is the session's single decision point. It consumes the
// event queue one event at a time; a race between natural completion of
// a turn and an incoming interruption is resolved in favor of whichever
// event reached the queue first.
func (s *Session) runArbiter() {
	defer s.signalDone()

	for {
		select {
		case <-s.closeCh:
			s.drainActiveTurn()
			return
		case queued := <-s.queue:
			if wait := time.Since(queued.queuedAt); wait > time.Second {
				logger.Warn("event waited unusually long for arbitration",
					"kind", queued.event.Kind(), "wait", wait)
			}
			s.dispatch(queued.event)
		}
	}
}

func (s *Session) dispatch(event events.Event) {
	switch e := event.(type) {
	case events.UserSpeechStarted:
		s.tap(e)
		s.handleUserSpeechStarted(e)
	case events.UserSpeechEnded:
		s.tap(e)
		s.handleUserSpeechEnded(e)
	case events.UserTranscriptPartial:
		s.handleUserTranscriptPartial(e)
	case events.UserTranscriptFinal:
		s.handleUserTranscriptFinal(e)
	case events.UserPrompt:
		s.tap(e)
		s.handleUserPrompt(e)
	case events.SourceClosed:
		s.tap(e)
		s.handleSourceClosed(e)
	case pipelineFinished:
		s.handlePipelineFinished(e)
	case transcriptDeadline:
		s.handleTranscriptDeadline(e)
	case turnSpeaking:
		s.handleTurnSpeaking(e)
	default:
		logger.Warn("unhandled session event", "kind", event.Kind())
	}
}

// tap forwards an event to the observer callback, if registered.
func (s *Session) tap(event events.Event) {
	s.callbacks.onEvent(event)
}

func (s *Session) startTurn(startedAt time.Time) *activeTurn {
	index := uint64(s.nextTurnIndex)
	s.nextTurnIndex++

	active := newActiveTurn(index, uuid.NewString(), startedAt)
	s.active = active

	s.callbacks.onTurnStateChanged(active.snapshot())
	s.tap(events.NewTurnStarted(active.turn.ID))
	return active
}

func (s *Session) handleUserSpeechStarted(e events.UserSpeechStarted) {
	active := s.active
	if active != nil {
		switch active.state() {
		case TurnStateListening, TurnStateTranscribing:
			// Speech resumed before the turn finalized; the pause was not
			// an end of turn after all.
			active.mu.Lock()
			active.silenceConfirmed = false
			active.mu.Unlock()
			return
		default:
			s.interruptTurn(active)
		}
	}

	s.startTurn(e.Timestamp())
}

// interruptTurn is the barge-in cutoff: it cancels the reply pipeline,
// records what was actually spoken and retires the turn as interrupted.
func (s *Session) interruptTurn(active *activeTurn) {
	pipeline := active.pipeline
	if pipeline != nil {
		pipeline.Cancel()
		s.watchCancellation(active.turn.ID, pipeline)
		active.setReply(pipeline.replySnapshot(), pipeline.spokenSnapshot())
	}

	if err := active.advance(TurnStateInterrupted); err != nil {
		logger.Error("failed to mark turn interrupted", "error", err)
	}

	snapshot := active.snapshot()
	s.appendHistory(snapshot)
	s.active = nil

	s.callbacks.onTurnStateChanged(snapshot)
	s.callbacks.onInterruption(snapshot)
	s.tap(events.NewTurnInterrupted(snapshot.ID))
}

// watchCancellation gives cancelled workers a grace period to wind down
// and logs when they overstay, since a stuck worker leaks its transport.
func (s *Session) watchCancellation(turnID string, pipeline *replyPipeline) {
	go func() {
		select {
		case <-pipeline.done:
		case <-time.After(s.gracePeriod):
			logger.Warn("cancelled turn workers did not stop within grace period, possible resource leak",
				"turn_id", turnID,
				"grace_period", s.gracePeriod,
			)
		}
	}()
}

func (s *Session) handleUserSpeechEnded(e events.UserSpeechEnded) {
	active := s.active
	if active == nil || active.state() != TurnStateListening && active.state() != TurnStateTranscribing {
		return
	}

	active.mu.Lock()
	active.speechEndedAt = e.Timestamp()
	active.silenceConfirmed = true
	finalReceived := active.finalReceived
	active.mu.Unlock()

	if finalReceived {
		s.finalizeTurn(active)
		return
	}

	// The transcription backend usually trails the local silence decision.
	// Give it a bounded window before falling back to the latest partial.
	turnID := active.turn.ID
	time.AfterFunc(s.finalTranscriptGrace, func() {
		s.emit(newTranscriptDeadline(turnID))
	})
}

func (s *Session) handleUserTranscriptPartial(e events.UserTranscriptPartial) {
	active := s.active
	if active == nil {
		// The backend can confirm speech before the local detector does.
		active = s.startTurn(e.Timestamp())
	}
	if active.state().Terminal() || turnStateRank[active.state()] >= turnStateRank[TurnStateFinalized] {
		return
	}

	if active.state() == TurnStateListening {
		if err := active.advance(TurnStateTranscribing); err == nil {
			s.callbacks.onTurnStateChanged(active.snapshot())
		}
	}

	active.setPartial(e.Transcript)

	e.TurnID = active.turn.ID
	s.tap(e)
	s.callbacks.onPartialTranscript(e.Transcript, e.Confidence)
}

func (s *Session) handleUserTranscriptFinal(e events.UserTranscriptFinal) {
	active := s.active
	if active == nil {
		// Trailing final for a turn that was already retired.
		return
	}
	if turnStateRank[active.state()] >= turnStateRank[TurnStateFinalized] || active.state().Terminal() {
		return
	}

	active.mu.Lock()
	active.finalReceived = true
	active.finalReceivedAt = e.Timestamp()
	active.turn.Transcript = e.Transcript
	silenceConfirmed := active.silenceConfirmed
	active.mu.Unlock()

	e.TurnID = active.turn.ID
	s.tap(e)

	// A backend failure finalizes immediately with whatever text was
	// captured; waiting for a silence boundary would stall the turn.
	if silenceConfirmed || e.Err != nil {
		s.finalizeTurn(active)
	}
}

func (s *Session) handleTranscriptDeadline(e transcriptDeadline) {
	active := s.active
	if active == nil || active.turn.ID != e.turnID {
		return
	}
	if turnStateRank[active.state()] >= turnStateRank[TurnStateFinalized] || active.state().Terminal() {
		return
	}

	active.mu.Lock()
	silenceConfirmed := active.silenceConfirmed
	finalReceived := active.finalReceived
	active.mu.Unlock()
	if !silenceConfirmed || finalReceived {
		return
	}

	logger.Warn("final transcript missed its deadline, finalizing with latest partial", "turn_id", e.turnID)
	s.finalizeTurn(active)
}

func (s *Session) handleUserPrompt(e events.UserPrompt) {
	if active := s.active; active != nil {
		s.interruptTurn(active)
	}

	active := s.startTurn(e.Timestamp())
	active.mu.Lock()
	active.turn.Transcript = e.Prompt
	active.silenceConfirmed = true
	active.finalReceived = true
	active.mu.Unlock()

	s.finalizeTurn(active)
}

func (s *Session) handleSourceClosed(e events.SourceClosed) {
	if e.Err != nil {
		logger.Error("audio source closed", "error", e.Err)
	} else {
		logger.Info("audio source closed")
	}
	go func() {
		if err := s.Close(context.Background()); err != nil {
			logger.Error("failed to close session after source closed", "error", err)
		}
	}()
}

// finalizeTurn freezes the transcript, reports the end-of-utterance
// metric and launches the reply pipeline.
func (s *Session) finalizeTurn(active *activeTurn) {
	active.mu.Lock()
	if active.turn.Transcript == "" {
		active.turn.Transcript = active.partial
	}
	transcript := active.turn.Transcript
	speechEndedAt := active.speechEndedAt
	finalReceivedAt := active.finalReceivedAt
	active.mu.Unlock()

	if err := active.advance(TurnStateFinalized); err != nil {
		logger.Error("failed to finalize turn", "error", err)
		return
	}

	snapshot := active.snapshot()
	s.callbacks.onTurnStateChanged(snapshot)
	s.callbacks.onFinalTranscript(transcript)
	s.tap(events.NewTurnFinalized(snapshot.ID, transcript))

	s.reportEndOfUtterance(snapshot.ID, speechEndedAt, finalReceivedAt)

	if transcript == "" {
		// Nothing to reply to; retire the turn without a pipeline.
		if err := active.advance(TurnStateCompleted); err != nil {
			logger.Error("failed to complete empty turn", "error", err)
		}
		snapshot = active.snapshot()
		s.appendHistory(snapshot)
		s.active = nil
		s.callbacks.onTurnStateChanged(snapshot)
		s.tap(events.NewTurnCompleted(snapshot.ID))
		return
	}

	s.startPipeline(active)
}

// reportEndOfUtterance measures how far the end-of-turn decision trailed
// the actual end of speech. Prompt-injected turns have no speech boundary
// and report nothing.
func (s *Session) reportEndOfUtterance(turnID string, speechEndedAt, finalReceivedAt time.Time) {
	if speechEndedAt.IsZero() {
		return
	}

	metric := metrics.EOUMetric{
		Label:               "end_of_utterance",
		Timestamp:           metrics.Now(),
		SpeechID:            turnID,
		EndOfUtteranceDelay: utils.Ptr(time.Since(speechEndedAt).Seconds()),
	}
	if !finalReceivedAt.IsZero() && !finalReceivedAt.Before(speechEndedAt) {
		metric.TranscriptionDelay = utils.Ptr(finalReceivedAt.Sub(speechEndedAt).Seconds())
	}
	s.bus.Report(metric)
}

func (s *Session) startPipeline(active *activeTurn) {
	if err := active.advance(TurnStateReplying); err != nil {
		logger.Error("failed to advance turn to replying", "error", err)
		return
	}
	s.callbacks.onTurnStateChanged(active.snapshot())

	turnID := active.turn.ID
	pipeline := newReplyPipeline(turnID, s.dialogue, s.synthesizer, s.audioOutput, pipelineCallbacks{
		onReplyChunk:  s.callbacks.onReplyChunk,
		onReplyEnd:    s.callbacks.onReplyEnd,
		onAudio:       s.callbacks.onAudio,
		onSpeechEnded: s.callbacks.onSpeechEnded,
		onSpeaking:    func() { s.emit(newTurnSpeaking(turnID)) },
		emitEvent:     s.tap,
	})
	active.pipeline = pipeline

	history := s.promptHistory(active)
	go func() {
		result, err := pipeline.Run(s.baseContext, history)
		s.emit(newPipelineFinished(turnID, result, err))
	}()
}

// promptHistory converts retired turns plus the active transcript into
// the dialogue engine's conversation format. Interrupted assistant turns
// carry only the text that was actually spoken.
func (s *Session) promptHistory(active *activeTurn) []llms.Turn {
	var history []llms.Turn
	for _, turn := range s.History() {
		if turn.Transcript != "" {
			history = append(history, llms.Turn{
				ID:      turn.ID,
				Role:    llms.RoleUser,
				Content: turn.Transcript,
			})
		}

		content := turn.Reply
		interrupted := turn.State == TurnStateInterrupted
		if interrupted {
			content = turn.Spoken
		}
		if content == "" {
			continue
		}
		history = append(history, llms.Turn{
			ID:          turn.ID,
			Role:        llms.RoleAssistant,
			Content:     content,
			Interrupted: interrupted,
		})
	}

	snapshot := active.snapshot()
	history = append(history, llms.Turn{
		ID:      snapshot.ID,
		Role:    llms.RoleUser,
		Content: snapshot.Transcript,
	})
	return history
}

func (s *Session) handleTurnSpeaking(e turnSpeaking) {
	active := s.active
	if active == nil || active.turn.ID != e.turnID || active.state() != TurnStateReplying {
		return
	}

	if err := active.advance(TurnStateSpeaking); err != nil {
		logger.Error("failed to advance turn to speaking", "error", err)
		return
	}
	s.callbacks.onTurnStateChanged(active.snapshot())
}

func (s *Session) handlePipelineFinished(e pipelineFinished) {
	active := s.active
	if active == nil || active.turn.ID != e.turnID {
		// The turn was already interrupted and retired; this is the
		// pipeline's trailing completion signal.
		return
	}

	active.setReply(e.result.reply, e.result.spoken)

	switch {
	case e.err != nil:
		active.setErr(e.err)
		if err := active.advance(TurnStateFailed); err != nil {
			logger.Error("failed to mark turn failed", "error", err)
		}
	case e.result.cancelled:
		if err := active.advance(TurnStateInterrupted); err != nil {
			logger.Error("failed to mark turn interrupted", "error", err)
		}
	default:
		if err := active.advance(TurnStateCompleted); err != nil {
			logger.Error("failed to complete turn", "error", err)
		}
	}

	snapshot := active.snapshot()
	s.appendHistory(snapshot)
	s.active = nil

	s.callbacks.onTurnStateChanged(snapshot)
	switch snapshot.State {
	case TurnStateFailed:
		logger.Error("turn failed", "turn_id", snapshot.ID, "error", snapshot.Err)
		s.tap(events.NewTurnFailed(snapshot.ID, snapshot.Err))
	case TurnStateInterrupted:
		s.tap(events.NewTurnInterrupted(snapshot.ID))
	default:
		s.tap(events.NewTurnCompleted(snapshot.ID))
	}
}

// drainActiveTurn lets an in-flight reply finish within the drain
// timeout, then forces the cutoff and retires the turn.
func (s *Session) drainActiveTurn() {
	active := s.active
	if active == nil {
		return
	}

	if pipeline := active.pipeline; pipeline != nil {
		select {
		case <-pipeline.done:
		case <-time.After(s.drainTimeout):
			pipeline.Cancel()
			select {
			case <-pipeline.done:
			case <-time.After(s.gracePeriod):
				logger.Warn("turn workers did not stop during drain, abandoning them", "turn_id", active.turn.ID)
			}
		}

		// Pick up the pipeline's completion signal if it made it onto
		// the queue before shutdown.
	flush:
		for {
			select {
			case queued := <-s.queue:
				s.dispatch(queued.event)
			default:
				break flush
			}
		}
		if s.active == nil {
			return
		}
	}

	if !active.state().Terminal() {
		if err := active.advance(TurnStateInterrupted); err != nil {
			logger.Error("failed to retire turn during drain", "error", err)
		}
		snapshot := active.snapshot()
		s.appendHistory(snapshot)
		s.active = nil
		s.callbacks.onTurnStateChanged(snapshot)
		s.tap(events.NewTurnInterrupted(snapshot.ID))
	}
}
