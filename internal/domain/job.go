package domain

import "time"

// JobState is the lifecycle state of an asynchronous chat turn.
type JobState string

// Job states. Completed and Failed are terminal.
const (
	JobPending   JobState = "pending"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transition can happen from s.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobPayload is the augmented prompt handed to a background worker.
type JobPayload struct {
	ChatID   string      `json:"chat_id"`
	System   string      `json:"system"`
	Messages []Message   `json:"messages"`
	Sources  []SourceRef `json:"sources,omitempty"`
}

// JobResult is the payload of a Completed job.
type JobResult struct {
	Response string      `json:"response"`
	ChatID   string      `json:"chat_id,omitempty"`
	Sources  []SourceRef `json:"sources,omitempty"`
}

// Clone returns a deep copy of r, nil for nil.
func (r *JobResult) Clone() *JobResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Sources != nil {
		c.Sources = append([]SourceRef(nil), r.Sources...)
	}
	return &c
}

// Job is one in-flight or resolved asynchronous chat turn.
type Job struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	ChatID      string     `json:"chat_id,omitempty"`
	State       JobState   `json:"state"`
	Result      *JobResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ResolvedAt  time.Time  `json:"resolved_at,omitzero"`
}

// Status projects the job onto what a poller is allowed to see. The result
// is copied, so callers cannot alter the stored outcome.
func (j Job) Status() JobStatus {
	st := JobStatus{
		ID:          j.ID,
		State:       j.State,
		SubmittedAt: j.SubmittedAt,
	}
	switch j.State {
	case JobCompleted:
		st.Result = j.Result.Clone()
		st.ResolvedAt = j.ResolvedAt
	case JobFailed:
		st.Error = j.Error
		st.ResolvedAt = j.ResolvedAt
	}
	return st
}

// JobHandle is returned by submission; its ID is a capability token.
type JobHandle struct {
	ID string `json:"job_id"`
}

// JobStatus is the poll view of a Job.
type JobStatus struct {
	ID          string     `json:"id"`
	State       JobState   `json:"state"`
	Result      *JobResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ResolvedAt  time.Time  `json:"resolved_at,omitzero"`
}
