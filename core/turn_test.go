package session

import (
	"errors"
	"testing"
	"time"
)

func TestActiveTurnAdvancesForward(t *testing.T) {
	turn := newActiveTurn(0, "turn-1", time.Now())

	for _, state := range []TurnState{
		TurnStateTranscribing,
		TurnStateFinalized,
		TurnStateReplying,
		TurnStateSpeaking,
		TurnStateCompleted,
	} {
		if err := turn.advance(state); err != nil {
			t.Fatalf("expected transition to %q to succeed, got %v", state, err)
		}
	}

	if turn.snapshot().EndedAt.IsZero() {
		t.Fatal("expected completed turn to record its end time")
	}
}

func TestActiveTurnAllowsSkippingStates(t *testing.T) {
	turn := newActiveTurn(0, "turn-1", time.Now())

	// A typed prompt needs no transcription phase.
	if err := turn.advance(TurnStateFinalized); err != nil {
		t.Fatalf("expected listening -> finalized to succeed, got %v", err)
	}
}

func TestActiveTurnRejectsBackwardTransition(t *testing.T) {
	turn := newActiveTurn(0, "turn-1", time.Now())

	if err := turn.advance(TurnStateReplying); err != nil {
		t.Fatalf("expected transition to replying to succeed, got %v", err)
	}
	if err := turn.advance(TurnStateTranscribing); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected backward transition to fail, got %v", err)
	}
}

func TestActiveTurnInterruptibleFromAnyNonTerminalState(t *testing.T) {
	for _, state := range []TurnState{
		TurnStateTranscribing,
		TurnStateFinalized,
		TurnStateReplying,
		TurnStateSpeaking,
	} {
		turn := newActiveTurn(0, "turn-1", time.Now())
		if err := turn.advance(state); err != nil {
			t.Fatalf("expected transition to %q to succeed, got %v", state, err)
		}
		if err := turn.advance(TurnStateInterrupted); err != nil {
			t.Fatalf("expected %q -> interrupted to succeed, got %v", state, err)
		}
	}
}

func TestActiveTurnTerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []TurnState{
		TurnStateCompleted,
		TurnStateInterrupted,
		TurnStateFailed,
	} {
		turn := newActiveTurn(0, "turn-1", time.Now())
		if err := turn.advance(terminal); err != nil {
			t.Fatalf("expected transition to %q to succeed, got %v", terminal, err)
		}
		if err := turn.advance(TurnStateInterrupted); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected transition out of %q to fail, got %v", terminal, err)
		}
	}
}
