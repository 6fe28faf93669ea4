package session

import (
	"context"
	"encoding/binary"
	"iter"
	"sync"
	"time"

	"github.com/matlowai/local-voice-ai/core/audio"
	"github.com/matlowai/local-voice-ai/core/llms"
	"github.com/matlowai/local-voice-ai/core/speechtotext"
	"github.com/matlowai/local-voice-ai/core/texttospeech"
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

// fakeAudioSource hands the capture callback back to the test so it can
// feed frames directly.
type fakeAudioSource struct {
	mu       sync.Mutex
	onFrame  func(frame audio.Frame)
	onClosed func(err error)
	stopped  bool
	nextSeq  uint64
}

func (s *fakeAudioSource) StartCapture(_ context.Context, onFrame func(frame audio.Frame), onClosed func(err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFrame = onFrame
	s.onClosed = onClosed
	return nil
}

func (s *fakeAudioSource) StopCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeAudioSource) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (s *fakeAudioSource) feed(amplitude int16, frames int) {
	s.mu.Lock()
	onFrame := s.onFrame
	s.mu.Unlock()
	if onFrame == nil {
		return
	}
	for i := 0; i < frames; i++ {
		seq := s.nextSeq
		s.nextSeq++
		onFrame(pcmFrame(seq, amplitude, 20*time.Millisecond))
	}
}

func (s *fakeAudioSource) speak(frames int)   { s.feed(8000, frames) }
func (s *fakeAudioSource) silence(frames int) { s.feed(10, frames) }

// fail simulates the capture backend dying underneath the session.
func (s *fakeAudioSource) fail(err error) {
	s.mu.Lock()
	onClosed := s.onClosed
	s.mu.Unlock()
	if onClosed != nil {
		onClosed(err)
	}
}

// fakeSpeechToText records the wired callbacks so the test can script
// backend results.
type fakeSpeechToText struct {
	mu      sync.Mutex
	options speechtotext.TranscriptionOptions
	audio   [][]byte
}

func (s *fakeSpeechToText) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, opt := range opts {
		opt(&s.options)
	}
	return nil
}

func (s *fakeSpeechToText) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, chunk)
	return nil
}

func (s *fakeSpeechToText) partial(transcript string, confidence float64) {
	s.mu.Lock()
	callback := s.options.PartialTranscriptionCallback
	s.mu.Unlock()
	if callback != nil {
		callback(transcript, confidence)
	}
}

func (s *fakeSpeechToText) final(transcript string) {
	s.mu.Lock()
	callback := s.options.TranscriptionCallback
	s.mu.Unlock()
	if callback != nil {
		callback(transcript)
	}
}

func (s *fakeSpeechToText) fail(err error) {
	s.mu.Lock()
	callback := s.options.ErrorCallback
	s.mu.Unlock()
	if callback != nil {
		callback(err)
	}
}

type contentChunk string

func (c contentChunk) FinishReason() *string { return nil }
func (c contentChunk) Content() string       { return string(c) }

type scriptedStream struct {
	chunks []string
	err    error
	// gate, when set, blocks the stream after the first chunk until the
	// test releases it.
	gate <-chan struct{}
}

func (s scriptedStream) Chunks(ctx context.Context) iter.Seq2[llms.StreamChunk, error] {
	return func(yield func(llms.StreamChunk, error) bool) {
		for i, chunk := range s.chunks {
			if i == 1 && s.gate != nil {
				select {
				case <-s.gate:
				case <-ctx.Done():
					return
				}
			}
			if !yield(contentChunk(chunk), nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

// fakeDialogueModel replays one scripted stream per prompt.
type fakeDialogueModel struct {
	mu        sync.Mutex
	streams   []scriptedStream
	calls     int
	histories [][]llms.Turn
}

func (m *fakeDialogueModel) PromptWithStream(_ context.Context, opts ...llms.PromptOption) llms.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	m.histories = append(m.histories, options.Turns)

	stream := scriptedStream{}
	if m.calls < len(m.streams) {
		stream = m.streams[m.calls]
	}
	m.calls++
	return stream
}

func (m *fakeDialogueModel) promptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *fakeDialogueModel) history(call int) []llms.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if call >= len(m.histories) {
		return nil
	}
	return m.histories[call]
}

// fakeTextToSpeech synthesizes text verbatim: every SendText becomes one
// audio chunk of the same bytes, marks flush the accumulated segment.
type fakeTextToSpeech struct {
	mu         sync.Mutex
	generators []*fakeSpeechGenerator
}

func (f *fakeTextToSpeech) NewSpeechGenerator(_ context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechGenerator, error) {
	options := texttospeech.SynthesisOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	generator := &fakeSpeechGenerator{options: options}
	f.mu.Lock()
	f.generators = append(f.generators, generator)
	f.mu.Unlock()
	return generator, nil
}

type fakeSpeechGenerator struct {
	mu        sync.Mutex
	options   texttospeech.SynthesisOptions
	segment   string
	cancelled bool
	closed    bool
}

func (g *fakeSpeechGenerator) SendText(text string) error {
	g.mu.Lock()
	if g.cancelled || g.closed {
		g.mu.Unlock()
		return nil
	}
	g.segment += text
	audioCallback := g.options.SpeechAudioCallback
	g.mu.Unlock()

	if audioCallback != nil {
		audioCallback([]byte(text))
	}
	return nil
}

func (g *fakeSpeechGenerator) Mark() error {
	g.mu.Lock()
	if g.cancelled || g.closed {
		g.mu.Unlock()
		return nil
	}
	segment := g.segment
	g.segment = ""
	markCallback := g.options.SpeechMarkCallback
	g.mu.Unlock()

	if markCallback != nil {
		markCallback(segment)
	}
	return nil
}

func (g *fakeSpeechGenerator) EndOfText() error {
	g.mu.Lock()
	if g.cancelled || g.closed {
		g.mu.Unlock()
		return nil
	}
	endedCallback := g.options.SpeechEndedCallback
	g.mu.Unlock()

	if endedCallback != nil {
		endedCallback()
	}
	return nil
}

func (g *fakeSpeechGenerator) Cancel() error {
	g.mu.Lock()
	g.cancelled = true
	g.mu.Unlock()
	return nil
}

func (g *fakeSpeechGenerator) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}

// fakeAudioOutput records played chunks and confirms marks immediately.
type fakeAudioOutput struct {
	mu      sync.Mutex
	chunks  [][]byte
	cleared int
}

func (o *fakeAudioOutput) SendAudio(chunk []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chunks = append(o.chunks, chunk)
	return nil
}

func (o *fakeAudioOutput) ClearBuffer() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleared++
}

func (o *fakeAudioOutput) AwaitMark() error { return nil }

func (o *fakeAudioOutput) Mark(mark string, callback func(mark string)) error {
	callback(mark)
	return nil
}

func (o *fakeAudioOutput) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (o *fakeAudioOutput) played() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var played []byte
	for _, chunk := range o.chunks {
		played = append(played, chunk...)
	}
	return string(played)
}

func (o *fakeAudioOutput) chunkCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.chunks)
}

func (o *fakeAudioOutput) clearCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cleared
}
