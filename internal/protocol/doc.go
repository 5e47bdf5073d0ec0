// Package protocol implements the datagram format remote capture agents
// use to stream PCM frames: an 8-byte header followed by either a control
// payload (start, stop, pause, resume) or an audio payload.
package protocol
