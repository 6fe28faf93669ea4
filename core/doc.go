// Package session wires audio capture, turn detection, transcription,
// dialogue generation and speech synthesis into one real-time voice
// conversation.
//
// A Session owns the conversation lifecycle. Audio frames flow through the
// turn detector and transcriber; a confirmed end of speech freezes the
// user's transcript and starts the reply pipeline, which streams generated
// text into synthesis and synthesized audio to the output. All turn-state
// decisions, including interruption arbitration, pass through one
// serialized queue: when the user starts speaking over a reply, the active
// turn is cancelled and its buffered output dropped before the new turn
// proceeds.
package session
