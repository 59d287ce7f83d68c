package jobs

import (
	"time"
)

// State represents the lifecycle state of a meeting processing job.
type State string

const (
	StateQueued        State = "queued"
	StatePreprocessing State = "preprocessing"
	StateTranscribing  State = "transcribing"
	StateDiarizing     State = "diarizing"
	StateMerging       State = "merging"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Terminal reports whether a job in this state admits no further mutation.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ValidTransition enforces the allowed job state machine edges. Any active
// state may fail; terminal states admit nothing.
func ValidTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	switch from {
	case StateQueued:
		return to == StatePreprocessing
	case StatePreprocessing:
		return to == StateTranscribing
	case StateTranscribing:
		return to == StateDiarizing
	case StateDiarizing:
		return to == StateMerging
	case StateMerging:
		return to == StateCompleted
	default:
		return false
	}
}

// Outputs holds artifact paths, each populated only once its producing stage
// succeeds. Artifacts of completed stages are retained even when a later
// stage fails, so intermediate outputs of a failed job stay inspectable.
type Outputs struct {
	CompressedPath string `json:"compressed_path,omitempty"` // transport-codec audio for the ASR upload
	ResampledPath  string `json:"resampled_path,omitempty"`  // mono 16 kHz wav for diarization
	SubtitlePath   string `json:"subtitle_path,omitempty"`   // raw SRT from the ASR engine
	TurnPath       string `json:"turn_path,omitempty"`       // raw RTTM from the diarization engine
	AnnotatedPath  string `json:"annotated_path,omitempty"`  // speaker-annotated SRT
}

// Job describes one audio file's processing lifecycle. A job is mutated only
// by its own pipeline worker; every read through a Store returns a snapshot.
type Job struct {
	ID               string     `json:"job_id"`
	State            State      `json:"state"`
	SourcePath       string     `json:"source_path"`
	OriginalFilename string     `json:"original_filename"`
	DurationSeconds  float64    `json:"duration_seconds"`
	SpeakerCountHint *int       `json:"speaker_count_hint,omitempty"`
	Outputs          Outputs    `json:"outputs"`
	NumSpeakers      int        `json:"num_speakers"`
	ErrorDetail      *string    `json:"error_detail,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

// StageResult is the enumerated outcome of one pipeline stage, persisted
// together with the state transition it causes. The sealed set of concrete
// types replaces field-by-name update dispatch.
type StageResult interface {
	stageResult()
}

// PreprocessingResult carries the measured duration and the transcoded
// artifacts produced by the media transform stage.
type PreprocessingResult struct {
	DurationSeconds float64
	CompressedPath  string
	ResampledPath   string
}

// TranscriptionResult carries the raw subtitle document path.
type TranscriptionResult struct {
	SubtitlePath string
}

// DiarizationResult carries the raw speaker-turn document path.
type DiarizationResult struct {
	TurnPath string
}

// MergeResult carries the annotated document path and the observed speaker
// cardinality (distinct resolved labels, not the requested count).
type MergeResult struct {
	AnnotatedPath string
	NumSpeakers   int
}

// FailureResult carries the human-readable cause of a terminal failure.
type FailureResult struct {
	Detail string
}

func (PreprocessingResult) stageResult() {}
func (TranscriptionResult) stageResult() {}
func (DiarizationResult) stageResult()   {}
func (MergeResult) stageResult()         {}
func (FailureResult) stageResult()       {}

// Store defines persistence for Jobs and their lifecycle.
type Store interface {
	CreateJob(job *Job) error
	// Advance validates the transition from the job's current state to
	// next, applies the stage result's fields, and persists both.
	// A nil result is allowed for transitions that carry no new fields.
	Advance(id string, next State, result StageResult) error
	GetJob(id string) (*Job, error)
	ListJobs() ([]*Job, error)
	DeleteJob(id string) error
	Close() error
}

// apply folds a stage result into a job. Shared by all store drivers so the
// transition semantics cannot drift between them.
func apply(job *Job, next State, result StageResult) {
	job.State = next
	switch r := result.(type) {
	case PreprocessingResult:
		job.DurationSeconds = r.DurationSeconds
		job.Outputs.CompressedPath = r.CompressedPath
		job.Outputs.ResampledPath = r.ResampledPath
	case TranscriptionResult:
		job.Outputs.SubtitlePath = r.SubtitlePath
	case DiarizationResult:
		job.Outputs.TurnPath = r.TurnPath
	case MergeResult:
		job.Outputs.AnnotatedPath = r.AnnotatedPath
		job.NumSpeakers = r.NumSpeakers
	case FailureResult:
		detail := r.Detail
		job.ErrorDetail = &detail
	}
	if next.Terminal() {
		now := time.Now().UTC()
		job.ProcessedAt = &now
	}
}
