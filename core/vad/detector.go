// Package vad implements energy-based voice activity detection with
// hysteresis, turning a raw frame stream into confirmed turn boundaries.
package vad

import (
	"time"

	"github.com/matlowai/local-voice-ai/core/audio"
)

type State string

const (
	StateSilence         State = "silence"
	StatePossibleSpeech  State = "possible_speech"
	StateSpeech          State = "speech"
	StatePossibleSilence State = "possible_silence"
)

type BoundaryKind string

const (
	BoundarySpeechStart BoundaryKind = "speech_start"
	BoundarySpeechEnd   BoundaryKind = "speech_end"
)

// Boundary is a confirmed turn boundary. Seq is the sequence number of the
// frame at which the boundary was confirmed, not the frame where the
// underlying activity began; detection stays causal that way.
type Boundary struct {
	Kind BoundaryKind
	Seq  uint64
	At   time.Time
}

type Detector struct {
	encodingInfo audio.EncodingInfo

	activationThreshold   float64
	deactivationThreshold float64
	speechConfirmation    time.Duration
	silenceConfirmation   time.Duration

	state      State
	runStarted time.Time
	run        time.Duration
}

func NewDetector(opts ...Option) *Detector {
	detector := &Detector{
		encodingInfo:          audio.GetDefaultEncodingInfo(),
		activationThreshold:   defaultActivationThreshold,
		deactivationThreshold: defaultDeactivationThreshold,
		speechConfirmation:    defaultSpeechConfirmation,
		silenceConfirmation:   defaultSilenceConfirmation,
		state:                 StateSilence,
	}
	for _, opt := range opts {
		opt(detector)
	}

	return detector
}

func (d *Detector) State() State { return d.state }

func (d *Detector) Reset() {
	d.state = StateSilence
	d.run = 0
	d.runStarted = time.Time{}
}

// Process classifies one frame and returns a confirmed boundary, or nil when
// no state transition was confirmed by this frame.
func (d *Detector) Process(frame audio.Frame) *Boundary {
	energy := frame.RMS(d.encodingInfo)
	frameDuration := frame.Duration(d.encodingInfo)
	if frameDuration <= 0 {
		frameDuration = audio.DefaultFrameDuration
	}

	switch d.state {
	case StateSilence:
		if energy >= d.activationThreshold {
			d.state = StatePossibleSpeech
			d.runStarted = frame.CapturedAt
			d.run = frameDuration
			if d.run >= d.speechConfirmation {
				return d.confirm(StateSpeech, BoundarySpeechStart, frame)
			}
		}

	case StatePossibleSpeech:
		if energy < d.activationThreshold {
			// Short burst, likely noise. Fall back without emitting.
			d.state = StateSilence
			d.run = 0
			return nil
		}
		d.run += frameDuration
		if d.run >= d.speechConfirmation {
			return d.confirm(StateSpeech, BoundarySpeechStart, frame)
		}

	case StateSpeech:
		if energy < d.deactivationThreshold {
			d.state = StatePossibleSilence
			d.runStarted = frame.CapturedAt
			d.run = frameDuration
			if d.run >= d.silenceConfirmation {
				return d.confirm(StateSilence, BoundarySpeechEnd, frame)
			}
		}

	case StatePossibleSilence:
		if energy >= d.activationThreshold {
			// Mid-sentence pause ended, the speaker kept going.
			d.state = StateSpeech
			d.run = 0
			return nil
		}
		d.run += frameDuration
		if d.run >= d.silenceConfirmation {
			return d.confirm(StateSilence, BoundarySpeechEnd, frame)
		}
	}

	return nil
}

func (d *Detector) confirm(next State, kind BoundaryKind, frame audio.Frame) *Boundary {
	d.state = next
	d.run = 0

	at := frame.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}
	return &Boundary{Kind: kind, Seq: frame.Seq, At: at}
}
