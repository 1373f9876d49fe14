// Package preflight provides the readiness checks behind "tafkit doctor".
//
// Checks cover the local state and log directories, the server (queue
// listing, settings and the event stream) and, when local encoding is
// enabled, the encoder binary. Each check returns a Result instead of an
// error so the CLI can print every failure in one pass.
package preflight
