package events

const (
	KindTurnStarted     Kind = "turn_state.started"
	KindTurnFinalized   Kind = "turn_state.finalized"
	KindTurnCompleted   Kind = "turn_state.completed"
	KindTurnInterrupted Kind = "turn_state.interrupted"
	KindTurnFailed      Kind = "turn_state.failed"
)

type TurnStarted struct {
	Base
	TurnID string
}

func (e TurnStarted) String() string { return "Turn Started" }

func NewTurnStarted(turnID string) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted), TurnID: turnID}
}

// TurnFinalized signals that the turn's transcript is frozen and reply
// generation may begin.
type TurnFinalized struct {
	Base
	TurnID     string
	Transcript string
}

func (e TurnFinalized) String() string { return e.Transcript }

func NewTurnFinalized(turnID, transcript string) TurnFinalized {
	return TurnFinalized{Base: NewBase(KindTurnFinalized), TurnID: turnID, Transcript: transcript}
}

type TurnCompleted struct {
	Base
	TurnID string
}

func (e TurnCompleted) String() string { return "Turn Completed" }

func NewTurnCompleted(turnID string) TurnCompleted {
	return TurnCompleted{Base: NewBase(KindTurnCompleted), TurnID: turnID}
}

type TurnInterrupted struct {
	Base
	TurnID string
}

func (e TurnInterrupted) String() string { return "Turn Interrupted" }

func NewTurnInterrupted(turnID string) TurnInterrupted {
	return TurnInterrupted{Base: NewBase(KindTurnInterrupted), TurnID: turnID}
}

type TurnFailed struct {
	Base
	TurnID string
	Err    error
}

func (e TurnFailed) String() string { return "Turn Failed" }

func NewTurnFailed(turnID string, err error) TurnFailed {
	return TurnFailed{Base: NewBase(KindTurnFailed), TurnID: turnID, Err: err}
}
