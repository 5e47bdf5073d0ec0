// Package session runs one transcription session: it reads frames from a
// capture source, chunks them, schedules transcription, enriches the
// results and emits them to the event hub.
package session
