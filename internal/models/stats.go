package models

import "time"

// ProcessingStats holds all-time totals and resettable session counters.
type ProcessingStats struct {
	ID                 string     `json:"id,omitempty"`
	TotalProcessed     int64      `json:"totalProcessed"`
	TotalFailed        int64      `json:"totalFailed"`
	SessionProcessed   int64      `json:"sessionProcessed"`
	SessionFailed      int64      `json:"sessionFailed"`
	LastProcessingTime *time.Time `json:"lastProcessingTime"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type StatsDelta struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}
