package models

import "time"

// EmailCounter is the daily usage ledger of one sender identity.
// TotalCount always equals DirectSendCount + ScheduledSendCount.
type EmailCounter struct {
	SenderID           string     `json:"senderId"`
	DirectSendCount    int        `json:"directSendCount"`
	ScheduledSendCount int        `json:"scheduledSendCount"`
	TotalCount         int        `json:"totalCount"`
	DailyLimit         int        `json:"dailyLimit"`
	LastResetAt        time.Time  `json:"lastResetAt"`
	IsBlocked          bool       `json:"isBlocked"`
	BlockedUntil       *time.Time `json:"blockedUntil,omitempty"`
}
