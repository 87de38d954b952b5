package models

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// ConversionRecord is one row of the audio conversion queue.
type ConversionRecord struct {
	ID            int64     `json:"id"`
	AudioLocation string    `json:"audioLocation"`
	OwnerID       string    `json:"ownerId"`
	Status        Status    `json:"status"`
	ArtifactURL   string    `json:"artifactUrl,omitempty"`
	DocumentID    string    `json:"documentId,omitempty"`
	AttemptCount  int       `json:"attemptCount"`
	LastError     string    `json:"lastError,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
