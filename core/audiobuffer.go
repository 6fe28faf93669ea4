package session

import (
	"sync"

	"github.com/google/uuid"
)

// audioBuffer hands synthesized audio from the synthesis callbacks to the
// output worker, preserving chunk order. Marks travel through the buffer
// with the audio: a mark added after chunk N is yielded only after chunk N,
// and confirming a played mark advances the external playhead so the buffer
// knows how much audio actually reached the listener.
type audioBuffer struct {
	mu sync.Mutex

	audio     [][]byte
	allLoaded bool

	// internalPlayhead tracks chunks handed to the output worker;
	// externalPlayhead tracks chunks confirmed played by the sink.
	internalPlayhead int
	externalPlayhead int

	marks []audioBufferMark

	stopped bool

	updateSignal chan struct{}
}

type audioBufferMark struct {
	ID          string
	transcript  string
	position    int
	broadcasted bool
	confirmed   bool
}

type audioOrMark struct {
	Type  string
	Audio []byte
	Mark  string
}

func newAudioBuffer() *audioBuffer {
	return &audioBuffer{updateSignal: make(chan struct{}, 1)}
}

func (b *audioBuffer) AddAudio(audio []byte) {
	b.mu.Lock()
	b.audio = append(b.audio, audio)
	b.mu.Unlock()
	b.signalUpdate()
}

// Mark records that all audio added so far corresponds to transcript.
func (b *audioBuffer) Mark(transcript string) {
	b.mu.Lock()
	b.marks = append(b.marks, audioBufferMark{
		ID:         uuid.NewString(),
		transcript: transcript,
		position:   len(b.audio),
	})
	b.mu.Unlock()
	b.signalUpdate()
}

// AllLoaded marks the end of synthesis; Audio returns once everything was
// consumed and confirmed.
func (b *audioBuffer) AllLoaded() {
	b.mu.Lock()
	b.allLoaded = true
	b.mu.Unlock()
	b.signalUpdate()
}

// Stop terminates the iterator without draining, dropping buffered but
// unconsumed audio. This is the cancellation cutoff for synthesized audio.
func (b *audioBuffer) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()
	b.signalUpdate()
}

// Audio yields audio chunks and mark ids in order. It blocks waiting for
// more audio until Stop is called or all loaded audio is played out.
func (b *audioBuffer) Audio(yield func(audioOrMark) bool) {
	for {
		for {
			chunk, ok := b.consumeNextChunk()
			if !ok {
				break
			}

			if !yield(audioOrMark{Type: "audio", Audio: chunk}) {
				return
			}
			if ok := b.broadcastMarks(yield); !ok {
				return
			}
		}
		if ok := b.waitForNextAudio(yield); !ok {
			return
		}
	}
}

func (b *audioBuffer) consumeNextChunk() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped || len(b.audio) <= b.internalPlayhead {
		return nil, false
	}

	chunk := b.audio[b.internalPlayhead]
	b.internalPlayhead++
	return chunk, true
}

func (b *audioBuffer) broadcastMarks(yield func(audioOrMark) bool) (ok bool) {
	b.mu.Lock()
	marksToBroadcast := []string{}
	for i, mark := range b.marks {
		if mark.confirmed || mark.broadcasted {
			continue
		} else if mark.position > b.internalPlayhead {
			break
		}

		b.marks[i].broadcasted = true
		marksToBroadcast = append(marksToBroadcast, mark.ID)
	}
	b.mu.Unlock()

	for _, markID := range marksToBroadcast {
		if !yield(audioOrMark{Type: "mark", Mark: markID}) {
			return false
		}
	}

	return true
}

func (b *audioBuffer) waitForNextAudio(yield func(audioOrMark) bool) (ok bool) {
	for {
		b.mu.Lock()
		noAudioAvailable := len(b.audio) == b.internalPlayhead
		stopped := b.stopped
		audioDone := b.audioDoneLocked()
		b.mu.Unlock()

		if !noAudioAvailable {
			return !(stopped || audioDone)
		}

		if stopped || audioDone {
			return false
		}

		<-b.updateSignal
		// A mark confirmation can arrive after the last audio chunk was
		// consumed; broadcast here so the loop does not wait forever.
		if ok := b.broadcastMarks(yield); !ok {
			return false
		}
	}
}

func (b *audioBuffer) audioDoneLocked() bool {
	return b.allLoaded && b.externalPlayhead == len(b.audio)
}

// MarkText returns the transcript segment a mark covers.
func (b *audioBuffer) MarkText(id string) *string {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.marks {
		if b.marks[i].ID == id {
			transcript := b.marks[i].transcript
			return &transcript
		}
	}
	return nil
}

// ConfirmMark records that the sink played all audio up to the mark.
func (b *audioBuffer) ConfirmMark(id string) {
	b.mu.Lock()
	shouldSignal := false
	for i, mark := range b.marks {
		if mark.confirmed {
			continue
		} else if !mark.broadcasted {
			break
		}
		if mark.ID == id {
			b.marks[i].confirmed = true
			b.externalPlayhead = mark.position
			if b.allLoaded && b.externalPlayhead == len(b.audio) {
				shouldSignal = true
			}
			break
		}
	}
	b.mu.Unlock()

	if shouldSignal {
		b.signalUpdate()
	}
}

func (b *audioBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}
