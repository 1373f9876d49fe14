// Package logs reads the tafkit log file for `tafkit logs`.
//
// Last returns the final lines of the file with bounded memory, and Follow
// polls from an offset and hands each new line to a callback until the
// context ends. A missing file reads as empty so the command works before the
// first logged run.
package logs
