// Command tafkit assembles audio sources into .taf containers on a
// TeddyCloud server.
//
// The working state (sources, URL imports, selected quality) persists under
// the state directory, so each invocation continues where the last one left
// off:
//
//	tafkit sources add chapter1.mp3 chapter2.mp3
//	tafkit sources name "Bedtime Stories"
//	tafkit encode --dir audiobooks
//
// Remote media goes through the url commands, server-side encode queues
// through the queue commands, and "tafkit watch" follows the live event
// stream.
package main
