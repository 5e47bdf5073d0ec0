// Package vad provides voice activity detection over PCM chunks.
// In advanced mode a chunk is speech when its RMS level exceeds the energy
// threshold and its zero-crossing rate sits inside the speech band; in
// simple mode only the silence threshold is consulted.
package vad
