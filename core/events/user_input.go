package events

const (
	KindUserSpeechStarted     Kind = "user_input.speech_started"
	KindUserSpeechEnded       Kind = "user_input.speech_ended"
	KindUserTranscriptPartial Kind = "user_input.transcript_partial"
	KindUserTranscriptFinal   Kind = "user_input.transcript_final"
)

// UserSpeechStarted reports a confirmed speech-start boundary. Seq is the
// frame sequence number at which the detector confirmed the transition.
type UserSpeechStarted struct {
	Base
	Seq uint64
}

func (e UserSpeechStarted) String() string { return "Speech Started" }

func NewUserSpeechStarted(seq uint64) UserSpeechStarted {
	return UserSpeechStarted{Base: NewBase(KindUserSpeechStarted), Seq: seq}
}

// UserSpeechEnded reports a confirmed end-of-turn silence boundary.
type UserSpeechEnded struct {
	Base
	Seq uint64
}

func (e UserSpeechEnded) String() string { return "Speech Ended" }

func NewUserSpeechEnded(seq uint64) UserSpeechEnded {
	return UserSpeechEnded{Base: NewBase(KindUserSpeechEnded), Seq: seq}
}

// UserTranscriptPartial carries an in-progress transcript for a turn. Later
// partial or final transcripts for the same turn supersede it.
type UserTranscriptPartial struct {
	Base
	TurnID     string
	Transcript string
	Confidence float64
}

func (e UserTranscriptPartial) String() string { return e.Transcript + "..." }

func NewUserTranscriptPartial(turnID, transcript string, confidence float64) UserTranscriptPartial {
	return UserTranscriptPartial{
		Base:       NewBase(KindUserTranscriptPartial),
		TurnID:     turnID,
		Transcript: transcript,
		Confidence: confidence,
	}
}

// UserTranscriptFinal carries the immutable final transcript for a turn.
// Err is set when the backend failed mid-stream and the transcript is the
// best-effort partial text captured before the failure.
type UserTranscriptFinal struct {
	Base
	TurnID     string
	Transcript string
	Err        error
}

func (e UserTranscriptFinal) String() string { return e.Transcript }

func NewUserTranscriptFinal(turnID, transcript string, err error) UserTranscriptFinal {
	return UserTranscriptFinal{
		Base:       NewBase(KindUserTranscriptFinal),
		TurnID:     turnID,
		Transcript: transcript,
		Err:        err,
	}
}
