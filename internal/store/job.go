package store

import (
	"time"

	"github.com/crmkit/pacer/internal/channel"
	"github.com/crmkit/pacer/internal/content"
	"github.com/crmkit/pacer/internal/planner"
	"github.com/crmkit/pacer/internal/schedule"
)

// JobStatus represents the status of a campaign dispatch job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusPaused    JobStatus = "paused"
	StatusCompleted JobStatus = "completed"
	StatusCancelled JobStatus = "cancelled"
	StatusFailed    JobStatus = "failed"
)

// Recipient is one deliverable target of a campaign. Phones are
// already normalized and deduplicated by the segment resolver.
type Recipient struct {
	ContactID int    `json:"contact_id"`
	Phone     string `json:"phone"`
	Name      string `json:"name,omitempty"`
}

// Job is a campaign dispatch job: the audience, the content, the
// computed rate plan and the anti-ban settings the dispatcher must
// honor while pacing the send.
type Job struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Channel     channel.Type             `json:"channel"`
	MessageType content.MessageType      `json:"message_type"`
	Content     string                   `json:"content"`
	Recipients  []Recipient              `json:"recipients"`
	AccountIDs  []string                 `json:"account_ids"`
	Plan        planner.Calculation      `json:"plan"`
	AntiBan     schedule.AntiBanSettings `json:"anti_ban"`

	// Fingerprint of the inputs the plan was computed from. The
	// dispatcher refuses to run a job whose current inputs no longer
	// match it; the caller must recompute the plan.
	Fingerprint string `json:"fingerprint"`

	Status      JobStatus  `json:"status"`
	SentCount   int        `json:"sent_count"`
	FailedCount int        `json:"failed_count"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Remaining returns the recipients not yet attempted.
func (j *Job) Remaining() []Recipient {
	done := j.SentCount + j.FailedCount
	if done >= len(j.Recipients) {
		return nil
	}
	return j.Recipients[done:]
}

// JobStats represents job statistics
type JobStats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Paused    int64 `json:"paused"`
	Completed int64 `json:"completed"`
	Cancelled int64 `json:"cancelled"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

// ListFilter represents filter options for listing jobs
type ListFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}
