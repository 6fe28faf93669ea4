package vad

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/matlowai/local-voice-ai/core/audio"
)

func pcmFrame(seq uint64, amplitude int16, duration time.Duration) audio.Frame {
	encodingInfo := audio.GetDefaultEncodingInfo()
	samples := encodingInfo.BytesFor(duration) / 2
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(amplitude))
	}
	return audio.Frame{Seq: seq, PCM: pcm, CapturedAt: time.Now()}
}

func loudFrame(seq uint64) audio.Frame  { return pcmFrame(seq, 8000, 20*time.Millisecond) }
func quietFrame(seq uint64) audio.Frame { return pcmFrame(seq, 10, 20*time.Millisecond) }

func TestDetectorConfirmsSpeechStartAfterContiguousSpeech(t *testing.T) {
	d := NewDetector(
		WithSpeechConfirmation(40*time.Millisecond),
		WithSilenceConfirmation(100*time.Millisecond),
	)

	if boundary := d.Process(loudFrame(0)); boundary != nil {
		t.Fatalf("expected no boundary after a single loud frame, got %v", boundary.Kind)
	}
	if got := d.State(); got != StatePossibleSpeech {
		t.Fatalf("expected possible speech state, got %q", got)
	}

	boundary := d.Process(loudFrame(1))
	if boundary == nil || boundary.Kind != BoundarySpeechStart {
		t.Fatalf("expected confirmed speech start, got %v", boundary)
	}
	if boundary.Seq != 1 {
		t.Fatalf("expected boundary confirmed at frame 1, got %d", boundary.Seq)
	}
}

func TestDetectorDebouncesShortNoiseBurst(t *testing.T) {
	d := NewDetector(
		WithSpeechConfirmation(60*time.Millisecond),
		WithSilenceConfirmation(100*time.Millisecond),
	)

	d.Process(loudFrame(0))
	if boundary := d.Process(quietFrame(1)); boundary != nil {
		t.Fatalf("expected noise burst to be debounced, got %v", boundary.Kind)
	}
	if got := d.State(); got != StateSilence {
		t.Fatalf("expected return to silence, got %q", got)
	}
}

func TestDetectorConfirmsSpeechEndAfterContiguousSilence(t *testing.T) {
	d := NewDetector(
		WithSpeechConfirmation(20*time.Millisecond),
		WithSilenceConfirmation(60*time.Millisecond),
	)

	d.Process(loudFrame(0))
	seq := uint64(1)
	for ; d.State() != StateSpeech; seq++ {
		d.Process(loudFrame(seq))
	}

	var boundary *Boundary
	for i := 0; i < 5 && boundary == nil; i++ {
		boundary = d.Process(quietFrame(seq))
		seq++
	}

	if boundary == nil || boundary.Kind != BoundarySpeechEnd {
		t.Fatalf("expected confirmed speech end, got %v", boundary)
	}
	if got := d.State(); got != StateSilence {
		t.Fatalf("expected silence state after speech end, got %q", got)
	}
}

func TestDetectorIgnoresMidSentencePause(t *testing.T) {
	d := NewDetector(
		WithSpeechConfirmation(20*time.Millisecond),
		WithSilenceConfirmation(200*time.Millisecond),
	)

	seq := uint64(0)
	for ; d.State() != StateSpeech; seq++ {
		d.Process(loudFrame(seq))
	}

	// Pause shorter than the silence confirmation window.
	for i := 0; i < 3; i++ {
		if boundary := d.Process(quietFrame(seq)); boundary != nil {
			t.Fatalf("expected no boundary during short pause, got %v", boundary.Kind)
		}
		seq++
	}

	if boundary := d.Process(loudFrame(seq)); boundary != nil {
		t.Fatalf("expected no boundary when speech resumes, got %v", boundary.Kind)
	}
	if got := d.State(); got != StateSpeech {
		t.Fatalf("expected speech state after pause, got %q", got)
	}
}

func TestDetectorResetReturnsToSilence(t *testing.T) {
	d := NewDetector(WithSpeechConfirmation(20 * time.Millisecond))

	d.Process(loudFrame(0))
	d.Process(loudFrame(1))
	d.Reset()

	if got := d.State(); got != StateSilence {
		t.Fatalf("expected silence after reset, got %q", got)
	}
}
