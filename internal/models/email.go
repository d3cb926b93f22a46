package models

import "time"

type EmailStatus string

const (
	StatusPending   EmailStatus = "pending"
	StatusSent      EmailStatus = "sent"
	StatusProcessed EmailStatus = "processed"
	StatusScheduled EmailStatus = "scheduled"
	StatusFailed    EmailStatus = "failed"
)

// Terminal reports whether the processor must leave an entry in this status alone.
func (s EmailStatus) Terminal() bool {
	return s == StatusSent || s == StatusProcessed || s == StatusFailed
}

type SendMode string

const (
	SendImmediate SendMode = "immediate"
	SendScheduled SendMode = "scheduled"
)

// QueueEntry is one requested send. Status moves one way:
// pending -> sent | processed | failed.
type QueueEntry struct {
	ID             string `json:"id"`
	RecipientEmail string `json:"recipientEmail"`
	RecipientName  string `json:"recipientName,omitempty"`
	TemplateID     string `json:"templateId"`

	SenderEmail    string `json:"senderEmail"`
	SenderName     string `json:"senderName,omitempty"`
	CredentialsRef string `json:"credentialsRef,omitempty"`

	SendMode      SendMode          `json:"sendMode"`
	ScheduledTime *time.Time        `json:"scheduledTime,omitempty"`
	EntryData     map[string]string `json:"entryData,omitempty"`

	Status      EmailStatus `json:"status"`
	RetryCount  int         `json:"retryCount"`
	ErrorMsg    *string     `json:"errorMessage,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	ProcessedAt *time.Time  `json:"processedAt,omitempty"`
}

// EmailData is the payload a ScheduledEmail carries until its fire time.
type EmailData struct {
	RecipientEmail string            `json:"recipientEmail"`
	RecipientName  string            `json:"recipientName,omitempty"`
	TemplateID     string            `json:"templateId"`
	SenderEmail    string            `json:"senderEmail"`
	SenderName     string            `json:"senderName,omitempty"`
	CredentialsRef string            `json:"credentialsRef,omitempty"`
	EntryData      map[string]string `json:"entryData,omitempty"`
	RetryCount     int               `json:"retryCount,omitempty"`
}

type ScheduledEmail struct {
	ID            string      `json:"id"`
	EmailData     EmailData   `json:"emailData"`
	ScheduledDate time.Time   `json:"scheduledDate"`
	Status        EmailStatus `json:"status"`
	ErrorMsg      *string     `json:"errorMessage,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	ProcessedAt   *time.Time  `json:"processedAt,omitempty"`
}

// Due reports whether the email may fire at now.
func (s *ScheduledEmail) Due(now time.Time) bool {
	return !now.Before(s.ScheduledDate)
}

// Data returns the entry as the payload shape shared with scheduled sends.
func (e *QueueEntry) Data() EmailData {
	return EmailData{
		RecipientEmail: e.RecipientEmail,
		RecipientName:  e.RecipientName,
		TemplateID:     e.TemplateID,
		SenderEmail:    e.SenderEmail,
		SenderName:     e.SenderName,
		CredentialsRef: e.CredentialsRef,
		EntryData:      e.EntryData,
		RetryCount:     e.RetryCount,
	}
}

type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// OutgoingEmail is what the mail transport delivers.
type OutgoingEmail struct {
	From           string
	FromName       string
	To             string
	ToName         string
	Subject        string
	Body           string
	CredentialsRef string
}
