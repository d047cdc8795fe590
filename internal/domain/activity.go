package domain

import "time"

// Activity is a follow-up task scheduled for staff, e.g. checking on damaged equipment.
type Activity struct {
	ID         int32             `json:"id"`
	ProjectID  *int32            `json:"project_id,omitempty"`
	Subject    string            `json:"subject"`
	Summary    string            `json:"summary"`
	Note       string            `json:"note"`
	Assignee   string            `json:"assignee"`
	Done       bool              `json:"done"`
	Attributes map[string]string `json:"attributes"`
	CreatedOn  time.Time         `json:"created_on"`
}
