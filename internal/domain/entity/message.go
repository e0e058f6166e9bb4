package entity

import "github.com/google/uuid"

// ReconstructionRequestMessage is the inbound message from the reconstruction.request queue.
type ReconstructionRequestMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	UserID    string    `json:"user_id"`
	VideoKey  string    `json:"video_key"`
	UserEmail string    `json:"user_email"`
	// FrameRate overrides the configured sampling rate when positive.
	FrameRate float64 `json:"frame_rate,omitempty"`
}

// ReconstructionStatusMessage is the outbound message published to the reconstruction.status queue.
type ReconstructionStatusMessage struct {
	JobID        uuid.UUID `json:"job_id"`
	UserID       string    `json:"user_id"`
	Status       JobStatus `json:"status"`
	Stage        Stage     `json:"stage"`
	VideoKey     string    `json:"video_key"`
	ArchiveKey   string    `json:"archive_key,omitempty"`
	FrameCount   int       `json:"frame_count,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempt      int       `json:"attempt"`
	MaxAttempts  int       `json:"max_attempts"`
}
