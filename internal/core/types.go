package core

import "time"

// JobRequest is a single text-to-speech job decoded from an inbound broker
// message. It is immutable once received.
type JobRequest struct {
	JobID       string    `json:"job_id"`
	Text        string    `json:"text"`
	VoiceID     string    `json:"voice_id,omitempty"`
	Room        string    `json:"room,omitempty"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
}

// JobStatus is the terminal status of a job.
type JobStatus string

// Terminal job statuses.
const (
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// JobOutcome is the terminal result of a job, published exactly once per job.
// Succeeded outcomes carry the object reference of the uploaded audio; failed
// outcomes carry the error kind and a human-readable message.
type JobOutcome struct {
	JobID           string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	ObjectReference string    `json:"object_reference,omitempty"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	Message         string    `json:"message,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// SucceededOutcome builds the terminal outcome for a completed job.
func SucceededOutcome(jobID, objectReference string) JobOutcome {
	return JobOutcome{
		JobID:           jobID,
		Status:          StatusSucceeded,
		ObjectReference: objectReference,
		ErrorKind:       "",
		Message:         "",
		CompletedAt:     time.Now().UTC(),
	}
}

// FailedOutcome builds the terminal outcome for a failed job from the error
// that terminated it.
func FailedOutcome(jobID string, err error) JobOutcome {
	return JobOutcome{
		JobID:           jobID,
		Status:          StatusFailed,
		ObjectReference: "",
		ErrorKind:       KindOf(err),
		Message:         err.Error(),
		CompletedAt:     time.Now().UTC(),
	}
}

// ModelHandle is a ready-to-use reference to a locally cached voice model.
// The sample rate is read from the model's voice configuration during
// verification.
type ModelHandle struct {
	VoiceID    string
	ModelPath  string
	ConfigPath string
	SampleRate int
	Size       int64
}

// SynthesisResult holds finished audio between synthesis and publication. It
// is never persisted locally and never sent to the broker directly.
type SynthesisResult struct {
	JobID    string
	Audio    []byte
	Format   string
	Duration time.Duration
}
