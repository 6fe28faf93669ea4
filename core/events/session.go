package events

const (
	KindSourceClosed Kind = "session.source_closed"
	KindUserPrompt   Kind = "session.user_prompt"
)

// SourceClosed reports that the inbound audio stream ended. It is fatal to
// the session: the orchestrator drains the in-flight turn and shuts down.
type SourceClosed struct {
	Base
	Err error
}

func (e SourceClosed) String() string { return "Source Closed" }

func NewSourceClosed(err error) SourceClosed {
	return SourceClosed{Base: NewBase(KindSourceClosed), Err: err}
}

// UserPrompt injects a typed user message, bypassing audio capture and
// transcription. The turn it starts runs the normal reply pipeline.
type UserPrompt struct {
	Base
	Prompt string
}

func (e UserPrompt) String() string { return e.Prompt }

func NewUserPrompt(prompt string) UserPrompt {
	return UserPrompt{Base: NewBase(KindUserPrompt), Prompt: prompt}
}
