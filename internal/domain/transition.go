package domain

import "time"

// Transition is the persisted form of a notification.
type Transition struct {
	JobID       JobID     `json:"job_id"`
	Engine      string    `json:"engine"`
	Description string    `json:"description"`
	State       JobState  `json:"state"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// TransitionOf converts a notification for storage.
func TransitionOf(n Notification) Transition {
	return Transition{
		JobID:       n.JobID,
		Engine:      n.Engine,
		Description: n.Description,
		State:       n.State,
		Error:       n.ErrorMessage(),
		OccurredAt:  n.Time,
	}
}
