// Package events consumes the server's Server-Sent Events channel.
//
// The server multiplexes progress for URL downloads and encode queues over a
// single /api/sse connection. Each message carries an event name and a JSON
// envelope whose "data" field is itself JSON, usually encoded as a string.
// Decode unwraps both layers into the Event union and rejects anything
// malformed.
//
// A Dispatcher owns one connection for its lifetime, reconnects after
// transport errors, and schedules a single coalesced resync callback so
// consumers can re-read state they may have missed while disconnected.
package events
