package db

import (
	"context"
	"errors"
	"time"

	"CampaignMailer/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

type QueueRepository interface {
	InsertEntries(ctx context.Context, entries ...*models.QueueEntry) error
	GetEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	ListEntries(ctx context.Context) ([]models.QueueEntry, error)
	// ListPending returns pending entries oldest first, insertion order breaking ties.
	ListPending(ctx context.Context) ([]models.QueueEntry, error)
	UpdateEntry(ctx context.Context, entry *models.QueueEntry) error
}

type ScheduledRepository interface {
	InsertScheduled(ctx context.Context, email *models.ScheduledEmail) error
	ListScheduled(ctx context.Context) ([]models.ScheduledEmail, error)
	// ListDue returns emails still in status scheduled whose fire time is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]models.ScheduledEmail, error)
	UpdateScheduled(ctx context.Context, email *models.ScheduledEmail) error
}

// CounterRepository stores per-sender daily counters. UpdateCounter runs fn with the row
// locked and writes the row back even when fn returns an error, so fn must only leave
// changes that should stick. fn's error is returned unchanged.
type CounterRepository interface {
	GetCounter(ctx context.Context, senderID string) (*models.EmailCounter, error)
	ListCounters(ctx context.Context) ([]models.EmailCounter, error)
	EnsureCounter(ctx context.Context, counter *models.EmailCounter) error
	UpdateCounter(ctx context.Context, senderID string, fn func(c *models.EmailCounter) error) (*models.EmailCounter, error)
}

// StatsRepository keeps the current processing stats row. UpdateStats creates the row
// when none exists, starting fn from zero values.
type StatsRepository interface {
	CurrentStats(ctx context.Context) (*models.ProcessingStats, error)
	UpdateStats(ctx context.Context, fn func(s *models.ProcessingStats)) (*models.ProcessingStats, error)
}

type FailedRepository interface {
	GetFailed(ctx context.Context, id string) (*models.FailedEmail, error)
	// ListFailed returns newest failures first.
	ListFailed(ctx context.Context) ([]models.FailedEmail, error)
	SaveFailed(ctx context.Context, failed *models.FailedEmail) error
	DeleteFailed(ctx context.Context, id string) error
	DeleteAllFailed(ctx context.Context) (int64, error)
}

type TemplateRepository interface {
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
}

// Repositories bundles every table the processor touches.
type Repositories struct {
	Queue     QueueRepository
	Scheduled ScheduledRepository
	Counters  CounterRepository
	Stats     StatsRepository
	Failed    FailedRepository
	Templates TemplateRepository
}
