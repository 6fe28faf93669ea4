package deepgram

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/matlowai/local-voice-ai/core/texttospeech/deepgram"

var logger = otelslog.NewLogger(scopeName)
