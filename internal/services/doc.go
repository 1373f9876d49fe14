// Package services defines shared utilities consumed by the orchestration
// components and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp fetch IDs, queue IDs, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that sort failures into
//     the validation / remote / transport / stale buckets the components use to
//     decide between a user-visible notification, an item error status, or a
//     silent drop.
//
// Use these helpers when wiring new calls to the server so failure reporting
// stays uniform across the URL import, encode queue, and encode paths.
package services
