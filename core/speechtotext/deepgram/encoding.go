package deepgram

import (
	"fmt"

	"github.com/matlowai/local-voice-ai/core/audio"
)

// streamParams are the encoding query values of a live-listen connection.
type streamParams struct {
	encoding   string
	sampleRate int
}

// streamParamsFor validates an encoding against what the live-listen API
// accepts. The format names in audio already match Deepgram's wire names,
// so only the sample rate constraints need checking.
func streamParamsFor(encoding audio.EncodingInfo) (streamParams, error) {
	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
	default:
		return streamParams{}, fmt.Errorf("unsupported sample rate %d", encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.EncodingLinear16:
	case audio.EncodingALaw, audio.EncodingMulaw:
		// Companded telephony formats are 8kHz only.
		if encoding.SampleRate != 8000 {
			return streamParams{}, fmt.Errorf("%s requires an 8000Hz sample rate", encoding.Format.Name())
		}
	default:
		return streamParams{}, fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
	}

	return streamParams{
		encoding:   encoding.Format.Name(),
		sampleRate: encoding.SampleRate,
	}, nil
}
