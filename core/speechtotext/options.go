// Package speechtotext defines the streaming transcription contract the
// session pipeline consumes; backends implement it behind their own wire
// protocols.
package speechtotext

import "github.com/matlowai/local-voice-ai/core/audio"

type TranscriptionOptions struct {
	// PartialTranscriptionCallback receives in-progress transcript text.
	// Later partial or final results supersede it.
	PartialTranscriptionCallback func(transcript string, confidence float64)
	// TranscriptionCallback receives the final transcript for an utterance.
	TranscriptionCallback func(transcript string)

	// SpeechStartedCallback fires on the backend's own voice-activity
	// signal, independent of local turn detection.
	SpeechStartedCallback func()
	// UtteranceEndCallback fires on the backend's end-of-utterance
	// estimate. It is a measurement, not the turn-finalization gate.
	UtteranceEndCallback func()

	// ErrorCallback reports mid-stream backend failures. The session
	// finalizes the turn with best-effort partial text when it fires.
	ErrorCallback func(err error)

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithPartialTranscriptionCallback(callback func(transcript string, confidence float64)) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.PartialTranscriptionCallback = callback }
}

func WithTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.TranscriptionCallback = callback }
}

func WithSpeechStartedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.SpeechStartedCallback = callback }
}

func WithUtteranceEndCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.UtteranceEndCallback = callback }
}

func WithErrorCallback(callback func(err error)) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.ErrorCallback = callback }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.EncodingInfo = encodingInfo }
}
