package session

import (
	"bytes"
	"testing"
	"time"
)

func drainAudioBuffer(t *testing.T, buffer *audioBuffer) []audioOrMark {
	t.Helper()

	collected := []audioOrMark{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for item := range buffer.Audio {
			collected = append(collected, item)
			if item.Type == "mark" {
				buffer.ConfirmMark(item.Mark)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out draining audio buffer")
	}
	return collected
}

func TestAudioBufferYieldsAudioThenMarksInOrder(t *testing.T) {
	buffer := newAudioBuffer()
	buffer.AddAudio([]byte{1})
	buffer.AddAudio([]byte{2})
	buffer.Mark("one two")
	buffer.AddAudio([]byte{3})
	buffer.Mark("three")
	buffer.AllLoaded()

	collected := drainAudioBuffer(t, buffer)

	wantTypes := []string{"audio", "audio", "mark", "audio", "mark"}
	if len(collected) != len(wantTypes) {
		t.Fatalf("expected %d items, got %d", len(wantTypes), len(collected))
	}
	for i, wantType := range wantTypes {
		if collected[i].Type != wantType {
			t.Fatalf("expected item %d to be %q, got %q", i, wantType, collected[i].Type)
		}
	}
	if !bytes.Equal(collected[0].Audio, []byte{1}) || !bytes.Equal(collected[3].Audio, []byte{3}) {
		t.Fatal("expected audio chunks in arrival order")
	}
}

func TestAudioBufferMarkTextResolvesTranscriptSegments(t *testing.T) {
	buffer := newAudioBuffer()
	buffer.AddAudio([]byte{1})
	buffer.Mark("first segment")
	buffer.AllLoaded()

	collected := drainAudioBuffer(t, buffer)

	var markID string
	for _, item := range collected {
		if item.Type == "mark" {
			markID = item.Mark
		}
	}
	if markID == "" {
		t.Fatal("expected a mark to be yielded")
	}

	transcript := buffer.MarkText(markID)
	if transcript == nil || *transcript != "first segment" {
		t.Fatalf("expected mark transcript %q, got %v", "first segment", transcript)
	}
	if unknown := buffer.MarkText("no-such-mark"); unknown != nil {
		t.Fatalf("expected unknown mark to resolve to nil, got %q", *unknown)
	}
}

func TestAudioBufferStopDropsBufferedAudio(t *testing.T) {
	buffer := newAudioBuffer()
	buffer.AddAudio([]byte{1})
	buffer.AddAudio([]byte{2})
	buffer.Stop()

	collected := drainAudioBuffer(t, buffer)
	if len(collected) != 0 {
		t.Fatalf("expected no audio after stop, got %d items", len(collected))
	}
}

func TestAudioBufferBlocksUntilAudioArrives(t *testing.T) {
	buffer := newAudioBuffer()

	items := make(chan audioOrMark, 4)
	go func() {
		for item := range buffer.Audio {
			items <- item
			if item.Type == "mark" {
				buffer.ConfirmMark(item.Mark)
			}
		}
		close(items)
	}()

	select {
	case item := <-items:
		t.Fatalf("expected no items before audio arrives, got %q", item.Type)
	case <-time.After(50 * time.Millisecond):
	}

	buffer.AddAudio([]byte{9})
	buffer.Mark("late")
	buffer.AllLoaded()

	select {
	case item := <-items:
		if item.Type != "audio" || !bytes.Equal(item.Audio, []byte{9}) {
			t.Fatalf("expected the late audio chunk, got %+v", item)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for late audio")
	}

	select {
	case item, open := <-items:
		if !open {
			t.Fatal("expected the mark before the iterator finishes")
		}
		if item.Type != "mark" {
			t.Fatalf("expected mark, got %q", item.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mark")
	}

	select {
	case _, open := <-items:
		if open {
			t.Fatal("expected iterator to finish after final confirmation")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for iterator to finish")
	}
}
