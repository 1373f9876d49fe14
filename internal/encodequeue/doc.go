// Package encodequeue mirrors the server's encode queues and the per-item
// progress reported over the event stream.
//
// The queue list is a cache: Refresh replaces it from the server, and every
// mutating call re-validates the target queue first. Item progress is keyed
// by (queue ID, index). Events for queues or indices the cache does not know
// are dropped, and removing an entry discards the states at and after its
// index so they are never attributed to the entries that shift into place.
package encodequeue
