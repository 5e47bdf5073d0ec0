// Package postprocess enriches transcription results after the engine
// call. Stages run in a fixed order: punctuation, vocabulary, grammar,
// language detection, speaker diarization and emotion analysis. Each can
// be toggled at runtime. Vocabulary tables and speaker profiles are
// mutated under a lock so parallel chunk processing stays consistent.
package postprocess
