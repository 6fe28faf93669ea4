package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/matlowai/local-voice-ai/core/audio"
	"github.com/matlowai/local-voice-ai/core/texttospeech"
)

type speechGenerator struct {
	ws *websocket.Conn
	mu sync.Mutex

	// textBuffer holds one entry per mark-delimited segment; the head is
	// the segment currently being synthesized.
	textBuffer   []string
	textBufferMu sync.Mutex

	options texttospeech.SynthesisOptions

	textComplete bool
	cancelled    bool
	closed       bool
}

func (c *TextToSpeechClient) NewSpeechGenerator(ctx context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechGenerator, error) {
	generator := &speechGenerator{
		options: texttospeech.SynthesisOptions{
			SpeechAudioCallback: func([]byte) {},
			SpeechMarkCallback:  func(string) {},
			SpeechEndedCallback: func() {},
			ErrorCallback:       func(error) {},
			EncodingInfo:        audio.GetDefaultEncodingInfo(),
		},
	}
	for _, opt := range opts {
		opt(&generator.options)
	}

	var err error
	if generator.ws, err = connectWebsocket(c.voice, generator.options.EncodingInfo); err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	go generator.processIncomingMessages(ctx)

	return generator, nil
}

func connectWebsocket(voice Voice, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	if !ok {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(voice))
	urlValues.Set("container", "none")

	conn, _, err := websocket.DefaultDialer.Dial(
		(&url.URL{
			Scheme: "wss",
			Host:   "api.deepgram.com", Path: "/v1/speak",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (g *speechGenerator) processIncomingMessages(ctx context.Context) {
	for {
		msgType, msg, err := g.ws.ReadMessage()
		if err != nil {
			if !g.closed && !g.cancelled && err.Error() != "websocket: close 1000 (normal)" {
				logger.Error("failed to read deepgram websocket message", "error", err)
				g.options.ErrorCallback(fmt.Errorf("speech generation failed: %w", err))
			}
			_ = g.Close()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if g.cancelled || g.closed {
				continue
			}
			if len(msg) > 0 {
				g.options.SpeechAudioCallback(msg)
			}
		case websocket.TextMessage:
			var parsedMsg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Error("failed to unmarshal deepgram message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				g.onSegmentFlushed()
			}
		}
	}
}

func (g *speechGenerator) onSegmentFlushed() {
	g.textBufferMu.Lock()
	defer g.textBufferMu.Unlock()

	if g.cancelled || g.closed {
		return
	}

	if len(g.textBuffer) > 0 {
		g.options.SpeechMarkCallback(g.textBuffer[0])
		g.textBuffer = g.textBuffer[1:]
	}

	if len(g.textBuffer) == 0 {
		if g.textComplete {
			g.options.SpeechEndedCallback()
			_ = g.Close()
		}
		return
	}

	if err := g.sendWebsocketMessage(sendTextMsg(g.textBuffer[0])); err != nil {
		logger.Error("failed to send deepgram text", "error", err)
	}
	if len(g.textBuffer) > 1 || g.textComplete {
		if err := g.sendWebsocketMessage(flushMsg); err != nil {
			logger.Error("failed to flush deepgram buffer", "error", err)
		}
	}
}

func (g *speechGenerator) SendText(text string) error {
	if g.closed {
		return fmt.Errorf("speech generator closed")
	} else if g.cancelled {
		return fmt.Errorf("speech generator cancelled")
	} else if g.textComplete {
		return fmt.Errorf("speech generator text already completed")
	}

	g.textBufferMu.Lock()
	defer g.textBufferMu.Unlock()

	if len(g.textBuffer) == 0 {
		g.textBuffer = append(g.textBuffer, "")
	}

	if len(g.textBuffer) == 1 {
		if err := g.sendWebsocketMessage(sendTextMsg(text)); err != nil {
			return fmt.Errorf("failed to send websocket send text message: %w", err)
		}
	}
	g.textBuffer[len(g.textBuffer)-1] += text
	return nil
}

func (g *speechGenerator) Mark() error {
	if g.closed {
		return fmt.Errorf("speech generator closed")
	} else if g.cancelled {
		return fmt.Errorf("speech generator cancelled")
	} else if g.textComplete {
		return fmt.Errorf("speech generator text already completed")
	}

	g.textBufferMu.Lock()
	defer g.textBufferMu.Unlock()

	if len(g.textBuffer) == 1 {
		if err := g.sendWebsocketMessage(flushMsg); err != nil {
			return fmt.Errorf("failed to send websocket flush message: %w", err)
		}
	}

	// Deepgram sometimes drops text sent right after a flush; starting a
	// fresh segment holds it back until the flush confirmation arrives.
	g.textBuffer = append(g.textBuffer, "")

	return nil
}

func (g *speechGenerator) EndOfText() error {
	if g.closed {
		return fmt.Errorf("speech generator closed")
	} else if g.cancelled {
		return fmt.Errorf("speech generator cancelled")
	} else if g.textComplete {
		return nil
	}

	g.textBufferMu.Lock()
	defer g.textBufferMu.Unlock()

	g.textComplete = true
	if len(g.textBuffer) == 0 || (len(g.textBuffer) == 1 && g.textBuffer[0] == "") {
		g.textBuffer = nil
		g.options.SpeechEndedCallback()
		_ = g.Close()
		return nil
	}

	if len(g.textBuffer) == 1 {
		if err := g.sendWebsocketMessage(flushMsg); err != nil {
			return fmt.Errorf("failed to send websocket flush message: %w", err)
		}
	}

	return nil
}

func (g *speechGenerator) Cancel() error {
	if g.closed {
		return fmt.Errorf("speech generator closed")
	} else if g.cancelled {
		return nil
	}

	g.textBufferMu.Lock()
	g.cancelled = true
	g.textBuffer = nil
	g.textBufferMu.Unlock()

	if err := g.sendWebsocketMessage(clearMsg); err != nil {
		_ = g.Close()
		return fmt.Errorf("failed to send websocket clear message: %w", err)
	}

	return g.Close()
}

func (g *speechGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	if err := g.ws.WriteJSON(closeMsg); err != nil {
		if aggressiveCloseErr := g.ws.Close(); aggressiveCloseErr != nil {
			return fmt.Errorf("failed to close websocket: %w", errors.Join(err, aggressiveCloseErr))
		}
	}
	return nil
}

type websocketMessage struct {
	Type string `json:"type"`
}

type websocketTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func sendTextMsg(text string) websocketTextMessage {
	return websocketTextMessage{Type: "Speak", Text: text}
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

func (g *speechGenerator) sendWebsocketMessage(msg any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.ws == nil {
		return fmt.Errorf("websocket connection closed")
	}

	if err := g.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}
