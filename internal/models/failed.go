package models

import "time"

type FailureOrigin string

const (
	OriginQueue     FailureOrigin = "queue"
	OriginScheduled FailureOrigin = "scheduled"
)

// FailedMetadata keeps what is needed to rebuild the send on retry.
type FailedMetadata struct {
	TemplateID     string            `json:"templateId"`
	TemplateName   string            `json:"templateName,omitempty"`
	SenderEmail    string            `json:"senderEmail"`
	SenderName     string            `json:"senderName,omitempty"`
	CredentialsRef string            `json:"credentialsRef,omitempty"`
	RecipientName  string            `json:"recipientName,omitempty"`
	EntryData      map[string]string `json:"entryData,omitempty"`
	Origin         FailureOrigin     `json:"origin"`
}

type FailedEmail struct {
	ID             string         `json:"id"`
	RecipientEmail string         `json:"recipientEmail"`
	ErrorMsg       string         `json:"errorMessage"`
	FailedAt       time.Time      `json:"failedAt"`
	RetryCount     int            `json:"retryCount"`
	Metadata       FailedMetadata `json:"metadata"`
	CanRetry       bool           `json:"canRetry"`
}
