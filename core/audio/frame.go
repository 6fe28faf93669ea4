package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Frame is a single fixed-duration chunk of captured PCM audio.
//
// Frames are immutable once produced: consumers must treat PCM as read-only.
type Frame struct {
	// Seq is a monotonically increasing sequence number within a session.
	Seq uint64
	// PCM is the raw audio payload in the session's encoding.
	PCM []byte
	// CapturedAt is the wall-clock time the frame was captured.
	CapturedAt time.Time
}

// Duration returns the playback duration of the frame under encodingInfo.
func (f Frame) Duration(encodingInfo EncodingInfo) time.Duration {
	return encodingInfo.Duration(len(f.PCM))
}

// RMS computes the root-mean-square energy of the frame, normalized to
// [0, 1]. Only linear16 payloads carry meaningful energy; other encodings
// report zero so detection treats them as silence rather than noise.
func (f Frame) RMS(encodingInfo EncodingInfo) float64 {
	if encodingInfo.Format != EncodingLinear16 || len(f.PCM) < 2 {
		return 0
	}

	sampleCount := len(f.PCM) / 2
	var sum float64
	for i := 0; i < sampleCount*2; i += 2 {
		sample := int16(binary.LittleEndian.Uint16(f.PCM[i:]))
		normalized := float64(sample) / math.MaxInt16
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(sampleCount))
}
