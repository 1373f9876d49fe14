// Package encoding turns the source registry into a .taf container on the
// server.
//
// The Invoker picks one of two paths. The server path uploads local sources
// with a single multipart request, then asks the server to encode the
// ordered list of uploaded and server-resident files. The local path runs an
// encoder binary on this machine and uploads the finished container. Both
// paths clear the registry only after the server confirms success, and a
// second invocation while one is in flight fails with ErrBusy.
package encoding
