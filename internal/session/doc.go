// Package session persists the working state of the CLI between invocations.
//
// The source registry, the batch output name, the URL import list and the
// selected download quality live in a small SQLite database under the state
// directory. A file lock next to the database keeps concurrent tafkit
// processes from interleaving their read-modify-write cycles: Open blocks
// until the lock is free or the context ends.
package session
