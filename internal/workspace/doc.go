// Package workspace wires the tafkit components into one working session.
//
// A Workspace owns the server client, the persisted session, the source
// registry, the URL import pipeline, the encode queue orchestrator and the
// encode invoker. It is also the only owner of the server event stream:
// Listen starts one dispatcher that feeds URL download progress to the
// pipeline and queue progress to the orchestrator.
package workspace
