package session

import (
	"fmt"
	"sync"
	"time"
)

// TurnState tracks one user-speech-to-agent-reply exchange through the
// pipeline. States only move forward; Interrupted and Failed are reachable
// from any non-terminal state.
type TurnState string

const (
	TurnStateListening    TurnState = "listening"
	TurnStateTranscribing TurnState = "transcribing"
	TurnStateFinalized    TurnState = "finalized"
	TurnStateReplying     TurnState = "replying"
	TurnStateSpeaking     TurnState = "speaking"
	TurnStateCompleted    TurnState = "completed"
	TurnStateInterrupted  TurnState = "interrupted"
	TurnStateFailed       TurnState = "failed"
)

func (s TurnState) Terminal() bool {
	return s == TurnStateCompleted || s == TurnStateInterrupted || s == TurnStateFailed
}

var turnStateRank = map[TurnState]int{
	TurnStateListening:    0,
	TurnStateTranscribing: 1,
	TurnStateFinalized:    2,
	TurnStateReplying:     3,
	TurnStateSpeaking:     4,
	TurnStateCompleted:    5,
}

// Turn is a point-in-time snapshot of one exchange.
type Turn struct {
	ID    string
	Index uint64

	StartedAt time.Time
	EndedAt   time.Time

	// Transcript is the user's text; immutable once the turn is finalized.
	Transcript string
	// Reply is the fully generated assistant text.
	Reply string
	// Spoken is the reply prefix that actually reached the output
	// boundary. It trails Reply when the turn was interrupted mid-speech.
	Spoken string

	State TurnState
	Err   error
}

// activeTurn is the arbiter-owned working state of the in-flight turn.
// State transitions happen only on the arbitration goroutine; the mutex
// exists for snapshots read from other goroutines.
type activeTurn struct {
	mu   sync.RWMutex
	turn Turn

	speechEndedAt time.Time

	// End-of-turn reconciliation: the turn finalizes once both the local
	// silence boundary and the final transcript have arrived, whichever
	// order they come in.
	silenceConfirmed bool
	finalReceived    bool
	finalReceivedAt  time.Time

	// partial holds the latest superseding partial transcript, used as the
	// best-effort final text when the transcription backend fails.
	partial string

	pipeline *replyPipeline
}

func newActiveTurn(index uint64, id string, startedAt time.Time) *activeTurn {
	return &activeTurn{
		turn: Turn{
			ID:        id,
			Index:     index,
			StartedAt: startedAt,
			State:     TurnStateListening,
		},
	}
}

func (t *activeTurn) snapshot() Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.turn
}

func (t *activeTurn) state() TurnState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.turn.State
}

// advance moves the turn forward along the normal pipeline order. Skipping
// states is allowed (a typed prompt goes straight to finalized), moving
// backwards or out of a terminal state is not.
func (t *activeTurn) advance(to TurnState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.turn.State
	if from.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	switch to {
	case TurnStateInterrupted, TurnStateFailed:
	default:
		fromRank, ok := turnStateRank[from]
		toRank, okTo := turnStateRank[to]
		if !ok || !okTo || toRank <= fromRank {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
	}

	t.turn.State = to
	if to.Terminal() {
		t.turn.EndedAt = time.Now()
	}
	return nil
}

func (t *activeTurn) setPartial(transcript string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.partial = transcript
}

func (t *activeTurn) setReply(reply, spoken string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turn.Reply = reply
	t.turn.Spoken = spoken
}

func (t *activeTurn) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turn.Err = err
}
