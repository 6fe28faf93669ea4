// Package events defines the typed session event contract.
//
// Event kinds are grouped by namespace:
//
//   - user_input.*: inbound speech activity and transcription progress.
//   - assistant_reply.*: streamed reply text from dialogue generation.
//   - assistant_speech.*: synthesized audio leaving the session boundary.
//   - turn_state.*: turn lifecycle transitions.
//   - session.*: session-level lifecycle signals.
//
// Semantics used across the package:
//
//   - Partial: a mutable snapshot that later partial or final payloads for
//     the same turn may supersede.
//   - Final: terminal immutable payload for the turn; never superseded.
//   - Chunk: an ordered streaming unit carrying a monotonically increasing
//     index within its turn.
package events
