// Package transfer implements both sides of the file transfer protocol:
// an outbound session that hashes, connects, and streams manifest plus
// raw file bytes, and an inbound server that receives, verifies, and
// stores them.
//
// Sessions cooperate with a shared Signal polled at chunk boundaries, so
// pause holds the connection open mid-stream and cancel ends the session
// cleanly. Progress flows through throttled callbacks backed by a rolling
// speed meter, and every session, successful or not, emits exactly one
// HistoryRecord per side.
//
// The receiver never trusts incoming names beyond their base component,
// resolves name collisions through a single sticky OverwriteDecider
// answer per session, and drains skipped files from the stream so the
// remaining files stay aligned with the manifest.
package transfer
