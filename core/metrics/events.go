package metrics

import "encoding/json"

const (
	TypeLLM            = "llm_metrics"
	TypeSTT            = "stt_metrics"
	TypeEndOfUtterance = "eou_metrics"
	TypeTTS            = "tts_metrics"
	TypeOverflow       = "metrics_overflow"
)

// Event is a write-once metric record. Events never block their producer
// and may arrive after the turn they describe reached a terminal state.
type Event interface {
	// MetricType is the stage discriminator used in the export schema.
	MetricType() string
	// Correlation ties the event to a request/turn; may be empty for
	// bus-internal events.
	Correlation() string
}

// LLMMetric describes one completed or cancelled dialogue generation.
// Durations are in seconds, matching the export schema.
type LLMMetric struct {
	Label                string    `json:"label"`
	RequestID            string    `json:"request_id"`
	Timestamp            Timestamp `json:"timestamp"`
	Duration             float64   `json:"duration"`
	TimeToFirstToken     *float64  `json:"time_to_first_token"`
	Cancelled            bool      `json:"cancelled"`
	CompletionTokenCount *int      `json:"completion_token_count"`
	PromptTokenCount     *int      `json:"prompt_token_count"`
	TotalTokenCount      *int      `json:"total_token_count"`
	TokensPerSecond      *float64  `json:"tokens_per_second"`
}

func (m LLMMetric) MetricType() string  { return TypeLLM }
func (m LLMMetric) Correlation() string { return m.RequestID }

func (m LLMMetric) MarshalJSON() ([]byte, error) {
	type plain LLMMetric
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{Type: m.MetricType(), plain: plain(m)})
}

// STTMetric describes one transcription request.
type STTMetric struct {
	Label         string    `json:"label"`
	RequestID     string    `json:"request_id"`
	Timestamp     Timestamp `json:"timestamp"`
	Duration      float64   `json:"duration"`
	SpeechID      string    `json:"speech_id"`
	Error         *string   `json:"error"`
	Streamed      bool      `json:"streamed"`
	AudioDuration *float64  `json:"audio_duration"`
}

func (m STTMetric) MetricType() string  { return TypeSTT }
func (m STTMetric) Correlation() string { return m.SpeechID }

func (m STTMetric) MarshalJSON() ([]byte, error) {
	type plain STTMetric
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{Type: m.MetricType(), plain: plain(m)})
}

// EOUMetric separates the two independent "turn finished" measurements:
// how long after actual end of speech the boundary was confirmed, and how
// long after that the final transcript arrived.
type EOUMetric struct {
	Label               string    `json:"label"`
	Timestamp           Timestamp `json:"timestamp"`
	EndOfUtteranceDelay *float64  `json:"end_of_utterance_delay"`
	TranscriptionDelay  *float64  `json:"transcription_delay"`
	SpeechID            string    `json:"speech_id"`
	Error               *string   `json:"error"`
}

func (m EOUMetric) MetricType() string  { return TypeEndOfUtterance }
func (m EOUMetric) Correlation() string { return m.SpeechID }

func (m EOUMetric) MarshalJSON() ([]byte, error) {
	type plain EOUMetric
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{Type: m.MetricType(), plain: plain(m)})
}

// TTSMetric describes one completed or cancelled synthesis.
type TTSMetric struct {
	Label           string    `json:"label"`
	RequestID       string    `json:"request_id"`
	Timestamp       Timestamp `json:"timestamp"`
	TimeToFirstByte *float64  `json:"time_to_first_byte"`
	Duration        float64   `json:"duration"`
	AudioDuration   *float64  `json:"audio_duration"`
	Cancelled       bool      `json:"cancelled"`
	CharacterCount  *int      `json:"character_count"`
	Streamed        bool      `json:"streamed"`
	SpeechID        string    `json:"speech_id"`
	Error           *string   `json:"error"`
}

func (m TTSMetric) MetricType() string  { return TypeTTS }
func (m TTSMetric) Correlation() string { return m.SpeechID }

func (m TTSMetric) MarshalJSON() ([]byte, error) {
	type plain TTSMetric
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{Type: m.MetricType(), plain: plain(m)})
}

// OverflowMetric surfaces events dropped under sustained overload. The bus
// emits it itself once queue space frees up; drops are never silent.
type OverflowMetric struct {
	Label        string    `json:"label"`
	Timestamp    Timestamp `json:"timestamp"`
	DroppedCount uint64    `json:"dropped_count"`
}

func (m OverflowMetric) MetricType() string  { return TypeOverflow }
func (m OverflowMetric) Correlation() string { return "" }

func (m OverflowMetric) MarshalJSON() ([]byte, error) {
	type plain OverflowMetric
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{Type: m.MetricType(), plain: plain(m)})
}

// ErrorString converts an error into the nullable export representation.
func ErrorString(err error) *string {
	if err == nil {
		return nil
	}
	message := err.Error()
	return &message
}
