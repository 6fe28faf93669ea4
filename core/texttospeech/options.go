// Package texttospeech defines the incremental speech-synthesis contract
// the session pipeline consumes.
package texttospeech

import "github.com/matlowai/local-voice-ai/core/audio"

type SynthesisOptions struct {
	// SpeechAudioCallback is called for every chunk of synthesized audio,
	// in the order the corresponding text was sent.
	SpeechAudioCallback func(audio []byte)
	// SpeechMarkCallback is called once speech has been produced up to the
	// marked text. Each mark is reported once, in order.
	SpeechMarkCallback func(mark string)
	// SpeechEndedCallback is called after EndOfText once all speech has
	// been produced. It is not called for cancelled generations.
	SpeechEndedCallback func()
	// ErrorCallback is called when the backend fails mid-generation.
	ErrorCallback func(error)

	EncodingInfo audio.EncodingInfo
}

type SynthesisOption func(*SynthesisOptions)

func WithSpeechAudioCallback(callback func(audio []byte)) SynthesisOption {
	return func(o *SynthesisOptions) { o.SpeechAudioCallback = callback }
}

func WithSpeechMarkCallback(callback func(mark string)) SynthesisOption {
	return func(o *SynthesisOptions) { o.SpeechMarkCallback = callback }
}

func WithSpeechEndedCallback(callback func()) SynthesisOption {
	return func(o *SynthesisOptions) { o.SpeechEndedCallback = callback }
}

func WithErrorCallback(callback func(error)) SynthesisOption {
	return func(o *SynthesisOptions) { o.ErrorCallback = callback }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SynthesisOption {
	return func(o *SynthesisOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}

type SpeechGenerator interface {
	// SendText sends text to the generator. Speech is produced in the
	// order text is sent.
	//
	// SendText errors if EndOfText, Cancel or Close has been called.
	SendText(text string) error
	// Mark marks the current point in the text. The mark is reported
	// through SpeechMarkCallback after the text sent up to it has been
	// synthesized. There is no guarantee the mark lands exactly on a
	// chunk boundary.
	//
	// Mark errors if EndOfText, Cancel or Close has been called.
	Mark() error
	// EndOfText signals that no more text will be sent. The generator
	// closes itself after the remaining speech has been produced.
	//
	// EndOfText errors if Cancel or Close has been called. Repeated
	// calls are ignored.
	EndOfText() error
	// Cancel immediately stops further speech production and discards
	// any text or audio still buffered. It also closes the generator.
	//
	// Cancel errors if Close has been called. Repeated calls are ignored.
	Cancel() error
	// Close immediately closes the generator. No speech is produced
	// after this call. Repeated calls are ignored.
	Close() error
}
