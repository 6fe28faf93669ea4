package events

const (
	KindAssistantReplyChunk  Kind = "assistant_reply.chunk"
	KindAssistantReplyFinal  Kind = "assistant_reply.final"
	KindAssistantSpeechChunk Kind = "assistant_speech.chunk"
	KindAssistantSpeechEnded Kind = "assistant_speech.ended"
)

// AssistantReplyChunk is one streamed unit of generated reply text.
type AssistantReplyChunk struct {
	Base
	TurnID string
	Index  int
	Text   string
}

func (e AssistantReplyChunk) String() string { return e.Text }

func NewAssistantReplyChunk(turnID string, index int, text string) AssistantReplyChunk {
	return AssistantReplyChunk{Base: NewBase(KindAssistantReplyChunk), TurnID: turnID, Index: index, Text: text}
}

// AssistantReplyFinal signals that reply generation finished for the turn
// and carries the assembled reply text.
type AssistantReplyFinal struct {
	Base
	TurnID string
	Text   string
}

func (e AssistantReplyFinal) String() string { return e.Text }

func NewAssistantReplyFinal(turnID, text string) AssistantReplyFinal {
	return AssistantReplyFinal{Base: NewBase(KindAssistantReplyFinal), TurnID: turnID, Text: text}
}

// AssistantSpeechChunk is one synthesized audio chunk crossing the output
// boundary. Index ordering matches the reply chunk ordering that produced it.
type AssistantSpeechChunk struct {
	Base
	TurnID string
	Index  int
	Audio  []byte
}

func (e AssistantSpeechChunk) String() string { return "Assistant Speech Chunk" }

func NewAssistantSpeechChunk(turnID string, index int, audio []byte) AssistantSpeechChunk {
	return AssistantSpeechChunk{Base: NewBase(KindAssistantSpeechChunk), TurnID: turnID, Index: index, Audio: audio}
}

// AssistantSpeechEnded signals that no further audio will be emitted for the
// turn. Spoken is the text that actually made it to the output boundary,
// which may be a truncated prefix of the full reply after an interruption.
type AssistantSpeechEnded struct {
	Base
	TurnID string
	Spoken string
}

func (e AssistantSpeechEnded) String() string { return e.Spoken }

func NewAssistantSpeechEnded(turnID, spoken string) AssistantSpeechEnded {
	return AssistantSpeechEnded{Base: NewBase(KindAssistantSpeechEnded), TurnID: turnID, Spoken: spoken}
}
