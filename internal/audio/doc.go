// Package audio turns a continuous PCM16LE mono stream into overlapping
// fixed-duration chunks. It owns the bounded accumulation buffer, runs the
// DSP chain and the voice activity decision on each chunk, retains recent
// chunks for lookup and encodes PCM to WAV for the transcription engines.
package audio
