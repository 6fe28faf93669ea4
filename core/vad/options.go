package vad

import (
	"time"

	"github.com/matlowai/local-voice-ai/core/audio"
)

const (
	defaultActivationThreshold   = 0.02
	defaultDeactivationThreshold = 0.01

	defaultSpeechConfirmation  = 80 * time.Millisecond
	defaultSilenceConfirmation = 600 * time.Millisecond
)

type Option func(*Detector)

func WithEncodingInfo(encodingInfo audio.EncodingInfo) Option {
	return func(d *Detector) { d.encodingInfo = encodingInfo }
}

// WithActivationThreshold sets the RMS energy above which a frame counts as
// speech. The deactivation threshold is lowered proportionally to keep the
// hysteresis band unless overridden explicitly.
func WithActivationThreshold(threshold float64) Option {
	return func(d *Detector) {
		d.activationThreshold = threshold
		if d.deactivationThreshold >= threshold {
			d.deactivationThreshold = threshold / 2
		}
	}
}

func WithDeactivationThreshold(threshold float64) Option {
	return func(d *Detector) { d.deactivationThreshold = threshold }
}

// WithSpeechConfirmation sets the minimum contiguous speech duration required
// to confirm a speech start. Debounces short noise bursts.
func WithSpeechConfirmation(duration time.Duration) Option {
	return func(d *Detector) { d.speechConfirmation = duration }
}

// WithSilenceConfirmation sets the minimum contiguous silence duration
// required to confirm end of turn. Debounces mid-sentence pauses.
func WithSilenceConfirmation(duration time.Duration) Option {
	return func(d *Detector) { d.silenceConfirmation = duration }
}
