// Package audio provides the PCM plumbing for the telephone leg of a call:
// the G.711 µ-law codec the carrier speaks, a chunk-aware [StreamResampler]
// for moving between provider sample rates and the 8 kHz wire, and small
// helpers shared by the engine's audio channels.
//
// Everything here operates on mono 16-bit little-endian PCM. The carrier
// side is always 8 kHz µ-law in 20 ms frames; synthesis providers produce
// 16-48 kHz linear PCM that the engine resamples down before encoding.
package audio

import "time"

// Frame is a single chunk of mono 16-bit little-endian PCM flowing through
// the call pipeline.
type Frame struct {
	// Data is raw PCM. Always an even number of bytes.
	Data []byte

	// SampleRate in Hz (8000 on the carrier leg, provider-native elsewhere).
	SampleRate int

	// Timestamp marks when this frame was produced.
	Timestamp time.Time
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when tearing down a call while a
// producer is still streaming (e.g. a synthesis channel mid-utterance).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
