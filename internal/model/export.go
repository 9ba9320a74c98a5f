package model

import "time"

// EventExport is the top-level JSON structure written by the export command.
type EventExport struct {
	Task        string             `json:"task"`
	RubricHash  string             `json:"rubric_hash"`
	ExportedAt  time.Time          `json:"exported_at"`
	NumEvents   int                `json:"num_events"`
	Submissions []SubmissionExport `json:"submissions"`
}

// SubmissionExport groups the events recorded for one submission record.
type SubmissionExport struct {
	SubmissionID string  `json:"submission_id"`
	Group        string  `json:"group"`
	Students     string  `json:"students"`
	Mark         string  `json:"mark"`
	Events       []Event `json:"events"`
}
