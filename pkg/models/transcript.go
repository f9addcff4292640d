package models

import "time"

// Transcript is one append-only utterance of recognized speech from a
// teacher, in the session's source language. Transcripts are
// never updated or deleted once written.
type Transcript struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Language  string    `json:"language"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
