// Package deepgram synthesizes speech through Deepgram's speak
// websocket API.
package deepgram

import (
	"fmt"
	"slices"
)

type Voice string

const (
	VoiceThalia  Voice = "aura-2-thalia-en"
	VoiceAsteria Voice = "aura-2-asteria-en"
	VoiceOrion   Voice = "aura-2-orion-en"
	VoiceArcas   Voice = "aura-2-arcas-en"

	defaultVoice = VoiceThalia
)

func AvailableVoices() []Voice {
	return []Voice{VoiceThalia, VoiceAsteria, VoiceOrion, VoiceArcas}
}

type TextToSpeechClient struct {
	voice Voice
}

type ClientOption func(*TextToSpeechClient) error

func WithVoice(voice Voice) ClientOption {
	return func(c *TextToSpeechClient) error {
		if !slices.Contains(AvailableVoices(), voice) {
			return fmt.Errorf("unknown voice %q", voice)
		}
		c.voice = voice
		return nil
	}
}

func NewTextToSpeechClient(opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{voice: defaultVoice}
	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}
	return client, nil
}
