package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/matlowai/local-voice-ai/core/events"
	"github.com/matlowai/local-voice-ai/core/llms"
	"go.opentelemetry.io/otel/codes"
)

// AudioOutputWithMarks is an optional capability: outputs that can confirm
// marks through a callback avoid the blocking AwaitMark fallback.
type AudioOutputWithMarks interface {
	Mark(mark string, callback func(mark string)) error
}

type pipelineCallbacks struct {
	onReplyChunk  func(chunk string)
	onReplyEnd    func(reply string)
	onAudio       func(audio []byte)
	onSpeechEnded func(spoken string)
	// onSpeaking fires once, when the first audio chunk crosses the
	// output boundary.
	onSpeaking func()
	emitEvent  func(event events.Event)
}

func (c *pipelineCallbacks) defaults() *pipelineCallbacks {
	if c.onReplyChunk == nil {
		c.onReplyChunk = func(string) {}
	}
	if c.onReplyEnd == nil {
		c.onReplyEnd = func(string) {}
	}
	if c.onAudio == nil {
		c.onAudio = func([]byte) {}
	}
	if c.onSpeechEnded == nil {
		c.onSpeechEnded = func(string) {}
	}
	if c.onSpeaking == nil {
		c.onSpeaking = func() {}
	}
	if c.emitEvent == nil {
		c.emitEvent = func(events.Event) {}
	}
	return c
}

type replyResult struct {
	reply     string
	spoken    string
	cancelled bool
}

// replyPipeline runs one turn's generation, synthesis and playback as three
// workers joined by the text and audio buffers. Cancellation is a one-way
// latch: once Cancel wins the arbitration race, no further reply text or
// audio crosses the output boundary, buffered output included.
type replyPipeline struct {
	turnID string

	dialogue    *dialogue
	synthesizer *synthesizer
	syn         *synthesis
	output      AudioOutput

	textBuffer  *textBuffer
	audioBuffer *audioBuffer

	callbacks pipelineCallbacks

	cancelled atomic.Bool
	cancelMu  sync.Mutex
	cancelCtx context.CancelFunc
	// done closes when Run returned; the cancellation watchdog uses it to
	// detect workers that ignored the cancel.
	done chan struct{}

	spokenMu sync.Mutex
	spoken   strings.Builder

	replyMu sync.Mutex
	reply   string
}

func newReplyPipeline(turnID string, dialogue *dialogue, synthesizer *synthesizer, output AudioOutput, callbacks pipelineCallbacks) *replyPipeline {
	return &replyPipeline{
		turnID:      turnID,
		dialogue:    dialogue,
		synthesizer: synthesizer,
		syn:         newSynthesis(turnID, !synthesizer.fullReply),
		output:      output,
		textBuffer:  newTextBuffer(),
		audioBuffer: newAudioBuffer(),
		callbacks:   *callbacks.defaults(),
		done:        make(chan struct{}),
	}
}

func (p *replyPipeline) Run(ctx context.Context, history []llms.Turn) (replyResult, error) {
	defer close(p.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancelMu.Lock()
	p.cancelCtx = cancel
	p.cancelMu.Unlock()

	var workerErr error
	workerErrMu := sync.Mutex{}
	addWorkerErr := func(err error) {
		if err == nil {
			return
		}
		workerErrMu.Lock()
		workerErr = errors.Join(workerErr, err)
		workerErrMu.Unlock()
	}

	run := func(name string, f func(context.Context) error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				addWorkerErr(fmt.Errorf("%s worker panicked: %v", name, recovered))
				cancel()
			}
		}()

		if err := f(ctx); err != nil {
			addWorkerErr(fmt.Errorf("%s worker failed: %w", name, err))
			cancel()
		}
	}

	wg := &sync.WaitGroup{}
	wg.Add(3)
	go func() {
		defer wg.Done()
		run("reply generation", func(ctx context.Context) error {
			return p.generateReply(ctx, history)
		})
	}()
	go func() {
		defer wg.Done()
		run("reply synthesis", p.synthesizeReply)
	}()
	go func() {
		defer wg.Done()
		run("speech output", p.playSpeech)
	}()

	wg.Wait()

	// A backend failure mid-synthesis leaves the turn partially spoken;
	// surface it so the turn carries the error flag.
	if failure := p.syn.failureSnapshot(); failure != nil && !p.IsCancelled() {
		addWorkerErr(fmt.Errorf("speech synthesis failed: %w", failure))
	}

	if err := p.syn.Close(); err != nil {
		logger.Error("failed to close speech generator", "error", err)
	}
	p.synthesizer.finish(p.syn, p.IsCancelled())

	result := replyResult{
		reply:     p.replySnapshot(),
		spoken:    p.spokenSnapshot(),
		cancelled: p.IsCancelled(),
	}

	if workerErr != nil {
		return result, fmt.Errorf("one or more turn workers failed: %w", workerErr)
	}
	return result, nil
}

func (p *replyPipeline) generateReply(ctx context.Context, history []llms.Turn) error {
	ctx, span := tracer.Start(ctx, "reply generation")
	defer span.End()

	chunkIndex := 0
	response, err := p.dialogue.generate(ctx, p.turnID, history,
		func(chunk string) {
			p.textBuffer.AddChunk(chunk)
			p.callbacks.onReplyChunk(chunk)
			p.callbacks.emitEvent(events.NewAssistantReplyChunk(p.turnID, chunkIndex, chunk))
			chunkIndex++
		},
		p.IsCancelled,
	)
	p.textBuffer.Complete()
	if err != nil {
		err := fmt.Errorf("failed to generate reply: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	reply := p.textBuffer.String()
	if response != nil {
		reply = response.Content
	}
	p.replyMu.Lock()
	p.reply = reply
	p.replyMu.Unlock()

	if response != nil && !p.IsCancelled() {
		p.callbacks.onReplyEnd(reply)
		p.callbacks.emitEvent(events.NewAssistantReplyFinal(p.turnID, reply))
	}
	return nil
}

func (p *replyPipeline) synthesizeReply(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.textBuffer.Clear()
		case <-done:
		}
	}()

	_, span := tracer.Start(ctx, "reply synthesis")
	defer span.End()

	if err := p.synthesizer.init(ctx, p.syn, p.audioBuffer); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if p.synthesizer.fullReply {
		return p.synthesizeFullReply(func(err error) { span.RecordError(err) })
	}

	for chunk := range p.textBuffer.Chunks {
		if p.IsCancelled() {
			break
		}

		if err := p.syn.SendText(chunk); err != nil {
			span.RecordError(fmt.Errorf("failed to send text to synthesis: %w", err))
		}
		if strings.ContainsAny(chunk, ".?!") {
			if err := p.syn.Mark(); err != nil {
				span.RecordError(fmt.Errorf("failed to mark synthesis position: %w", err))
			}
		}
	}

	if err := p.syn.EndOfText(); err != nil {
		span.RecordError(fmt.Errorf("failed to close synthesis input: %w", err))
	}
	return nil
}

// synthesizeFullReply drains the whole reply before sending any text.
func (p *replyPipeline) synthesizeFullReply(recordError func(error)) error {
	var reply strings.Builder
	for chunk := range p.textBuffer.Chunks {
		reply.WriteString(chunk)
	}

	if !p.IsCancelled() && reply.Len() > 0 {
		if err := p.syn.SendText(reply.String()); err != nil {
			recordError(fmt.Errorf("failed to send text to synthesis: %w", err))
		}
	}
	if err := p.syn.EndOfText(); err != nil {
		recordError(fmt.Errorf("failed to close synthesis input: %w", err))
	}
	return nil
}

func (p *replyPipeline) playSpeech(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.audioBuffer.Stop()
		case <-done:
		}
	}()

	if ok := p.syn.waitUntilInitialized(ctx); !ok {
		p.callbacks.onSpeechEnded("")
		return nil
	}

	_, span := tracer.Start(ctx, "speech output")
	defer span.End()

	firstChunk := true
	chunkIndex := 0
	for item := range p.audioBuffer.Audio {
		switch item.Type {
		case "audio":
			chunk := item.Audio

			if p.IsCancelled() {
				p.clearOutput()
				continue
			}

			if firstChunk {
				firstChunk = false
				p.callbacks.onSpeaking()
			}
			p.callbacks.onAudio(chunk)
			p.callbacks.emitEvent(events.NewAssistantSpeechChunk(p.turnID, chunkIndex, chunk))
			chunkIndex++
			if p.output != nil {
				if err := p.output.SendAudio(chunk); err != nil {
					span.RecordError(fmt.Errorf("failed to send audio to output: %w", err))
				}
			}

		case "mark":
			p.confirmOutputMark(item.Mark)
		}
	}

	spoken := p.spokenSnapshot()
	p.callbacks.onSpeechEnded(spoken)
	p.callbacks.emitEvent(events.NewAssistantSpeechEnded(p.turnID, spoken))
	return nil
}

// confirmOutputMark asks the sink to report when audio up to the mark
// played, then advances the spoken transcript and the buffer playhead.
func (p *replyPipeline) confirmOutputMark(mark string) {
	confirm := func(mark string) {
		if transcript := p.audioBuffer.MarkText(mark); transcript != nil {
			p.spokenMu.Lock()
			p.spoken.WriteString(*transcript)
			p.spokenMu.Unlock()
		}
		p.audioBuffer.ConfirmMark(mark)
	}

	switch output := p.output.(type) {
	case AudioOutputWithMarks:
		if err := output.Mark(mark, confirm); err != nil {
			confirm(mark)
		}
	case nil:
		confirm(mark)
	default:
		go func() {
			_ = p.output.AwaitMark()
			confirm(mark)
		}()
	}
}

// Cancel latches the interruption cutoff: it stops generation at the next
// chunk boundary, discards buffered text and audio, and clears the sink's
// queue. Safe to call repeatedly; only the first call acts.
func (p *replyPipeline) Cancel() {
	if p == nil || !p.cancelled.CompareAndSwap(false, true) {
		return
	}

	if err := p.syn.Cancel(); err != nil {
		logger.Error("failed to cancel speech generator", "error", err)
	}
	p.textBuffer.Clear()
	p.audioBuffer.Stop()
	p.clearOutput()

	p.cancelMu.Lock()
	if p.cancelCtx != nil {
		p.cancelCtx()
	}
	p.cancelMu.Unlock()
}

func (p *replyPipeline) IsCancelled() bool {
	if p == nil {
		return false
	}
	return p.cancelled.Load()
}

func (p *replyPipeline) clearOutput() {
	if p.output != nil {
		p.output.ClearBuffer()
	}
}

func (p *replyPipeline) spokenSnapshot() string {
	p.spokenMu.Lock()
	defer p.spokenMu.Unlock()
	return p.spoken.String()
}

func (p *replyPipeline) replySnapshot() string {
	p.replyMu.Lock()
	defer p.replyMu.Unlock()
	if p.reply == "" {
		return p.textBuffer.String()
	}
	return p.reply
}
