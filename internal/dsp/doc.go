// Package dsp contains the signal processing kernel: level measurement,
// dB conversion, high-pass filtering, normalization, automatic gain control,
// zero-crossing rate and pitch detection over PCM16LE mono buffers.
//
// Every function is deterministic and never fails. Empty or silent input
// yields neutral values (0 amplitude, SilenceFloorDb). AGC is the one
// stateful operation and its state is threaded explicitly by the caller.
package dsp
