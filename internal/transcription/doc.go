// Package transcription turns audio chunks into text. It writes each chunk
// to a temporary WAV file, calls a speech-to-text engine under a timeout,
// retry policy and circuit breaker, and scores the confidence of the output.
//
// Three engines are provided: an external command (whisper.cpp style CLI),
// an HTTP multipart endpoint and the OpenAI transcription API.
package transcription
