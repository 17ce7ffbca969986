package models

import "time"

// JobKind enumerates the work item types the queue accepts.
type JobKind string

const (
	JobKindTranslate    JobKind = "translate"
	JobKindBatch        JobKind = "batch"
	JobKindWantedSearch JobKind = "wanted-search"
)

// JobState is the lifecycle state of a queued job. Terminal states are final.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// Job is a persisted work item. Identity is assigned by the queue and owned
// by the store; callers receive value copies.
type Job struct {
	ID             string     `json:"id"`
	Kind           JobKind    `json:"kind"`
	State          JobState   `json:"state"`
	FilePath       string     `json:"filePath"`
	BatchPaths     []string   `json:"batchPaths,omitempty"`
	TargetLanguage string     `json:"targetLanguage"`
	WantedID       int64      `json:"wantedId,omitempty"`
	Progress       float64    `json:"progress"`
	Phase          string     `json:"phase,omitempty"`
	Error          string     `json:"error,omitempty"`
	ConfigDigest   string     `json:"configDigest,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	LeaseExpiresAt *time.Time `json:"-"`
}

// Job phases reported through progress events.
const (
	PhaseProbe            = "probe"
	PhaseProviderSearch   = "provider_search"
	PhaseProviderDownload = "provider_download"
	PhaseTranslate        = "translate"
	PhaseTranscribe       = "transcribe"
	PhaseWrite            = "write"
)
