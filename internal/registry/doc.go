// Package registry holds the ordered list of audio sources that make up one
// encode batch, plus the batch output name.
//
// Sources come from three origins: local files uploaded by the client,
// files already on the server, and completed URL imports. Registry order is
// encode order. All access goes through the Registry methods, which copy
// sources in and out, and every mutation is published to subscribers as a
// Snapshot.
package registry
