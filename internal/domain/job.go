package domain

import "time"

// Queue names. The pipeline topology is fixed; these are the only queues.
const (
	QueueScan      = "scan"
	QueuePhash     = "phash"
	QueueEmbedding = "embedding"
)

// JobStatus represents the lifecycle state of a queued job.
// Values include JobStatusWaiting, JobStatusActive, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is a durable unit of queued work. The ID doubles as the dedup key:
// enqueueing an ID that is already waiting or active is a no-op.
type Job struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	Queue       string    `gorm:"type:text;not null;index:idx_jobs_queue" json:"queue"`
	Payload     string    `gorm:"type:text" json:"payload,omitempty"`
	Status      JobStatus `gorm:"type:text;index:idx_jobs_status;default:waiting" json:"status"`
	Attempts    int       `gorm:"default:0" json:"attempts"`
	MaxAttempts int       `gorm:"default:3" json:"max_attempts"`
	RunAfter    time.Time `gorm:"index:idx_jobs_run_after" json:"run_after"`
	LastError   string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// Event types published on the job event stream.
const (
	EventJobActive    = "active"
	EventJobProgress  = "progress"
	EventJobCompleted = "completed"
	EventJobFailed    = "failed"
)

// JobEvent is a single lifecycle notification for a job.
type JobEvent struct {
	Type      string      `json:"type"`
	Queue     string      `json:"queue"`
	JobID     string      `json:"job_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// JobCounts summarizes the jobs of one queue by state.
type JobCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
