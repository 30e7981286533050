// Package stream owns the frame bridge session runtime.
//
// Ownership boundary:
// - Listener: sequential accept loop, one active session at a time
// - Session: receive -> decode -> decide -> respond cycle and its state machine
// - Sink fan-out of answered frames to preview/capture consumers
//
// Cancellation is cooperative. The context is consulted before every frame
// and while accepting; an in-flight read or write is never interrupted.
package stream
